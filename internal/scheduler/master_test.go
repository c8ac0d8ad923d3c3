package scheduler

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/internal/store"
	"github.com/treemover/treemover/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMaster(t *testing.T) (*Master, store.Store) {
	t.Helper()
	st := store.NewMemory()
	return NewMaster(DefaultRegistry(), st, testLogger()), st
}

func submitRequest(t *testing.T, m *Master, id string, files, size int) model.TransferPlan {
	t.Helper()
	root := makeTree(t, files, size)
	plan, err := m.Submit(model.SyncRequest{
		RequestID:  id,
		SourcePath: root,
		ChunkSize:  1024,
	}, makeAgents(2, "src", true), makeAgents(2, "dst", false))
	require.NoError(t, err)
	return plan
}

func reportAll(t *testing.T, m *Master, plan model.TransferPlan) {
	t.Helper()
	for agent, batch := range plan.Assignments {
		for _, a := range batch {
			require.NoError(t, m.ReportChunk(ChunkReport{
				RequestID:    a.RequestID,
				AgentID:      agent,
				RelativePath: a.RelativePath,
				Offset:       a.Offset,
				Length:       a.Length,
			}))
		}
	}
}

func TestMasterSubmitValidation(t *testing.T) {
	m, _ := newTestMaster(t)
	srcs := makeAgents(1, "src", true)
	dsts := makeAgents(1, "dst", false)
	root := makeTree(t, 1, 10)

	_, err := m.Submit(model.SyncRequest{SourcePath: root, ChunkSize: 64}, srcs, dsts)
	assert.True(t, faults.IsConfiguration(err), "missing request id")

	_, err = m.Submit(model.SyncRequest{RequestID: "r", SourcePath: root}, srcs, dsts)
	assert.True(t, faults.IsConfiguration(err), "zero chunk size")

	_, err = m.Submit(model.SyncRequest{RequestID: "r", SourcePath: root, ChunkSize: 64, Policy: "nope"}, srcs, dsts)
	assert.True(t, faults.IsConfiguration(err), "unknown policy")
}

func TestMasterDuplicateRequestID(t *testing.T) {
	m, _ := newTestMaster(t)
	submitRequest(t, m, "req-dup", 2, 100)

	root := makeTree(t, 1, 10)
	_, err := m.Submit(model.SyncRequest{
		RequestID:  "req-dup",
		SourcePath: root,
		ChunkSize:  64,
	}, makeAgents(1, "src", true), makeAgents(1, "dst", false))
	require.Error(t, err)
	assert.True(t, faults.IsConfiguration(err))
}

func TestMasterLifecycle(t *testing.T) {
	m, st := newTestMaster(t)
	plan := submitRequest(t, m, "req-ok", 3, 2000)

	progress, ok := m.Progress("req-ok")
	require.True(t, ok)
	assert.Equal(t, model.StatePending, progress.State)
	assert.Equal(t, int64(3*2000), progress.TotalBytes)

	// First report moves the request out of PENDING.
	first := plan.Assignments["src-0"][0]
	require.NoError(t, m.ReportChunk(ChunkReport{
		RequestID:    "req-ok",
		AgentID:      "src-0",
		RelativePath: first.RelativePath,
		Offset:       first.Offset,
		Length:       first.Length,
	}))
	progress, _ = m.Progress("req-ok")
	assert.Equal(t, model.StateInProgress, progress.State)
	assert.Equal(t, first.Length, progress.BytesTransferred)

	for agent, batch := range plan.Assignments {
		for _, a := range batch {
			if agent == "src-0" && a == first {
				continue
			}
			require.NoError(t, m.ReportChunk(ChunkReport{
				RequestID:    "req-ok",
				AgentID:      agent,
				RelativePath: a.RelativePath,
				Offset:       a.Offset,
				Length:       a.Length,
			}))
		}
	}

	progress, _ = m.Progress("req-ok")
	assert.Equal(t, model.StateCompleted, progress.State)
	assert.Equal(t, progress.TotalBytes, progress.BytesTransferred)
	assert.Empty(t, progress.ErrorDetail)

	persisted, found, err := st.Get("req-ok")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StateCompleted, persisted.State)
}

func TestMasterFailureIsolation(t *testing.T) {
	m, _ := newTestMaster(t)
	planA := submitRequest(t, m, "req-a", 2, 500)
	planB := submitRequest(t, m, "req-b", 2, 500)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = m.ReportChunk(ChunkReport{
			RequestID:    "req-a",
			AgentID:      "src-0",
			RelativePath: planA.Assignments["src-0"][0].RelativePath,
			Error:        "read chunk: permission denied",
		})
	}()
	go func() {
		defer wg.Done()
		reportAll(t, m, planB)
	}()
	wg.Wait()

	a, _ := m.Progress("req-a")
	assert.Equal(t, model.StateFailed, a.State)
	assert.Equal(t, "read chunk: permission denied", a.ErrorDetail)

	b, _ := m.Progress("req-b")
	assert.Equal(t, model.StateCompleted, b.State)
	assert.Equal(t, b.TotalBytes, b.BytesTransferred)
	assert.Empty(t, b.ErrorDetail)
}

func TestMasterTerminalStateIsSticky(t *testing.T) {
	m, _ := newTestMaster(t)
	plan := submitRequest(t, m, "req-sticky", 1, 100)

	first := plan.Assignments["src-0"][0]
	require.NoError(t, m.ReportChunk(ChunkReport{
		RequestID: "req-sticky",
		AgentID:   "src-0",
		Error:     "disk full",
	}))
	progress, _ := m.Progress("req-sticky")
	require.Equal(t, model.StateFailed, progress.State)

	// Late success for the same chunk must not resurrect the request.
	require.NoError(t, m.ReportChunk(ChunkReport{
		RequestID:    "req-sticky",
		AgentID:      "src-0",
		RelativePath: first.RelativePath,
		Length:       first.Length,
	}))
	progress, _ = m.Progress("req-sticky")
	assert.Equal(t, model.StateFailed, progress.State)
	assert.Equal(t, "disk full", progress.ErrorDetail)
	assert.Zero(t, progress.BytesTransferred)
}

func TestMasterFirstFailureWins(t *testing.T) {
	m, _ := newTestMaster(t)
	submitRequest(t, m, "req-first", 4, 100)

	require.NoError(t, m.ReportChunk(ChunkReport{RequestID: "req-first", AgentID: "src-0", Error: "first"}))
	require.NoError(t, m.ReportChunk(ChunkReport{RequestID: "req-first", AgentID: "src-1", Error: "second"}))

	progress, _ := m.Progress("req-first")
	assert.Equal(t, "first", progress.ErrorDetail)
}

func TestMasterEmptyPlanCompletesImmediately(t *testing.T) {
	m, st := newTestMaster(t)

	plan, err := m.Submit(model.SyncRequest{
		RequestID:  "req-empty",
		SourcePath: t.TempDir(),
		ChunkSize:  64,
	}, makeAgents(1, "src", true), makeAgents(1, "dst", false))
	require.NoError(t, err)
	require.Zero(t, plan.ChunkCount())

	progress, ok := m.Progress("req-empty")
	require.True(t, ok)
	assert.Equal(t, model.StateCompleted, progress.State)
	assert.Zero(t, progress.TotalBytes)
	assert.Zero(t, progress.BytesTransferred)

	// A late batch verdict must not disturb the completed request.
	require.NoError(t, m.ReportJob(JobReport{RequestID: "req-empty", AgentID: "src-0", Success: true}))
	progress, _ = m.Progress("req-empty")
	assert.Equal(t, model.StateCompleted, progress.State)

	persisted, found, err := st.Get("req-empty")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StateCompleted, persisted.State)
}

func TestMasterUnknownRequest(t *testing.T) {
	m, _ := newTestMaster(t)
	err := m.ReportChunk(ChunkReport{RequestID: "ghost"})
	require.Error(t, err)
	assert.True(t, faults.IsConfiguration(err))
}

func TestMasterReportJob(t *testing.T) {
	m, _ := newTestMaster(t)
	submitRequest(t, m, "req-job", 2, 100)

	require.NoError(t, m.ReportJob(JobReport{RequestID: "req-job", AgentID: "src-1", Success: true}))
	progress, _ := m.Progress("req-job")
	assert.Equal(t, model.StatePending, progress.State)

	require.NoError(t, m.ReportJob(JobReport{
		RequestID: "req-job",
		AgentID:   "src-1",
		Detail:    "agent disconnected",
	}))
	progress, _ = m.Progress("req-job")
	assert.Equal(t, model.StateFailed, progress.State)
	assert.Equal(t, "agent disconnected", progress.ErrorDetail)
}

func TestMasterList(t *testing.T) {
	m, _ := newTestMaster(t)
	for i := 0; i < 3; i++ {
		submitRequest(t, m, fmt.Sprintf("req-%d", i), 1, 50)
	}
	assert.Len(t, m.List(), 3)
}
