package master

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/internal/scheduler"
	"github.com/treemover/treemover/internal/store"
	"github.com/treemover/treemover/pkg/model"
	"github.com/treemover/treemover/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *Hub, *scheduler.Master) {
	t.Helper()
	hub := NewHub()
	m := scheduler.NewMaster(scheduler.DefaultRegistry(), store.NewMemory(), testLogger())
	return NewService(m, hub, testLogger()), hub, m
}

func writeTree(t *testing.T, files, size int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < files; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%02d.bin", i)), make([]byte, size), 0o644))
	}
	return dir
}

func TestSubmitSyncRequiresAgents(t *testing.T) {
	svc, hub, _ := newTestService(t)
	root := writeTree(t, 1, 10)

	_, err := svc.SubmitSync(model.SyncRequest{SourcePath: root})
	require.Error(t, err)
	assert.True(t, faults.IsConfiguration(err), "no source agents")

	sink := &envelopeSink{}
	defer hub.Add(testAgent("src-1", true), sink.send)()

	_, err = svc.SubmitSync(model.SyncRequest{SourcePath: root})
	require.Error(t, err)
	assert.True(t, faults.IsConfiguration(err), "no destination agents")
}

func TestSubmitSyncDispatchesBatches(t *testing.T) {
	svc, hub, _ := newTestService(t)
	root := writeTree(t, 4, 100)

	srcA := &envelopeSink{}
	srcB := &envelopeSink{}
	dst := &envelopeSink{}
	defer hub.Add(testAgent("src-a", true), srcA.send)()
	defer hub.Add(testAgent("src-b", true), srcB.send)()
	defer hub.Add(testAgent("dst-1", false), dst.send)()

	plan, err := svc.SubmitSync(model.SyncRequest{
		SourcePath: root,
		ChunkSize:  64,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.RequestID, "request id is minted when absent")

	for _, sink := range []*envelopeSink{srcA, srcB} {
		envs := sink.wait(t, 1)
		require.Equal(t, protocol.TypeAssignBatch, envs[0].Type)

		var batch protocol.AssignBatch
		require.NoError(t, envs[0].DecodePayload(&batch))
		assert.Equal(t, plan.RequestID, batch.RequestID)
		assert.Equal(t, root, batch.SourceRoot)
		assert.Equal(t, int64(64), batch.ChunkSize)
		assert.Equal(t, model.ModeTCP, batch.TransferMode, "tcp is the default mode")
		assert.NotEmpty(t, batch.Assignments)
		for _, a := range batch.Assignments {
			assert.Equal(t, "dst-1", a.DestAgentID)
		}
	}

	dst.mu.Lock()
	defer dst.mu.Unlock()
	assert.Empty(t, dst.envs, "destination agents receive no batches")
}

func TestSubmitSyncAppliesDefaults(t *testing.T) {
	svc, hub, m := newTestService(t)
	root := writeTree(t, 1, 10)

	sink := &envelopeSink{}
	defer hub.Add(testAgent("src-1", true), sink.send)()
	defer hub.Add(testAgent("dst-1", false), sink.send)()

	plan, err := svc.SubmitSync(model.SyncRequest{SourcePath: root})
	require.NoError(t, err)

	envs := sink.wait(t, 1)
	var batch protocol.AssignBatch
	require.NoError(t, envs[0].DecodePayload(&batch))
	assert.Equal(t, model.DefaultChunkSize, batch.ChunkSize)

	_, ok := m.Progress(plan.RequestID)
	assert.True(t, ok)
}

func TestHandleEnvelopeRoutesResults(t *testing.T) {
	svc, hub, m := newTestService(t)
	root := writeTree(t, 1, 100)

	sink := &envelopeSink{}
	defer hub.Add(testAgent("src-1", true), sink.send)()
	defer hub.Add(testAgent("dst-1", false), sink.send)()

	plan, err := svc.SubmitSync(model.SyncRequest{SourcePath: root, ChunkSize: 1024})
	require.NoError(t, err)

	for agentID, batch := range plan.Assignments {
		for _, a := range batch {
			env, err := protocol.NewEnvelope(protocol.TypeChunkResult, protocol.NewMsgID(), protocol.ChunkResult{
				RequestID:    a.RequestID,
				AgentID:      agentID,
				RelativePath: a.RelativePath,
				Offset:       a.Offset,
				Length:       a.Length,
			})
			require.NoError(t, err)
			svc.HandleEnvelope(env)
		}
	}

	progress, ok := m.Progress(plan.RequestID)
	require.True(t, ok)
	assert.Equal(t, model.StateCompleted, progress.State)
	assert.Equal(t, int64(100), progress.BytesTransferred)
}

func TestHandleEnvelopeJobFailure(t *testing.T) {
	svc, hub, m := newTestService(t)
	root := writeTree(t, 1, 100)

	sink := &envelopeSink{}
	defer hub.Add(testAgent("src-1", true), sink.send)()
	defer hub.Add(testAgent("dst-1", false), sink.send)()

	plan, err := svc.SubmitSync(model.SyncRequest{SourcePath: root, ChunkSize: 1024})
	require.NoError(t, err)

	env, err := protocol.NewEnvelope(protocol.TypeJobResult, protocol.NewMsgID(), protocol.JobResult{
		RequestID: plan.RequestID,
		AgentID:   "src-1",
		Success:   false,
		Detail:    "destination unreachable",
	})
	require.NoError(t, err)
	svc.HandleEnvelope(env)

	progress, ok := m.Progress(plan.RequestID)
	require.True(t, ok)
	assert.Equal(t, model.StateFailed, progress.State)
	assert.Equal(t, "destination unreachable", progress.ErrorDetail)
}
