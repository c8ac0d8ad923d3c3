package master

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treemover/treemover/pkg/model"
	"github.com/treemover/treemover/pkg/protocol"
)

// envelopeSink collects envelopes delivered through a hub send func.
type envelopeSink struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (s *envelopeSink) send(env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func (s *envelopeSink) wait(t *testing.T, n int) []protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.envs) >= n {
			out := append([]protocol.Envelope(nil), s.envs...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d envelopes", n)
	return nil
}

func testAgent(id string, isSource bool) Agent {
	return Agent{
		Endpoint: model.AgentEndpoint{
			AgentID:     id,
			DataAddress: "127.0.0.1",
			DataPort:    50051,
			IsSource:    isSource,
		},
		ConnID: protocol.NewMsgID(),
	}
}

func TestHubAddAndRemove(t *testing.T) {
	hub := NewHub()
	sink := &envelopeSink{}

	remove := hub.Add(testAgent("agent-1", true), sink.send)
	assert.Len(t, hub.Agents(true), 1)
	assert.Empty(t, hub.Agents(false))

	remove()
	assert.Empty(t, hub.Agents(true))
}

func TestHubRoleFilter(t *testing.T) {
	hub := NewHub()
	sink := &envelopeSink{}
	defer hub.Add(testAgent("src-1", true), sink.send)()
	defer hub.Add(testAgent("src-2", true), sink.send)()
	defer hub.Add(testAgent("dst-1", false), sink.send)()

	assert.Len(t, hub.Agents(true), 2)
	assert.Len(t, hub.Agents(false), 1)
}

func TestHubSendTo(t *testing.T) {
	hub := NewHub()
	sink := &envelopeSink{}
	defer hub.Add(testAgent("agent-1", true), sink.send)()

	env, err := protocol.NewEnvelope(protocol.TypeHelloAck, protocol.NewMsgID(), nil)
	require.NoError(t, err)

	assert.True(t, hub.SendTo("agent-1", env))
	assert.False(t, hub.SendTo("missing", env))

	got := sink.wait(t, 1)
	assert.Equal(t, protocol.TypeHelloAck, got[0].Type)
}

func TestHubLastWriteWins(t *testing.T) {
	hub := NewHub()
	oldSink := &envelopeSink{}
	newSink := &envelopeSink{}

	hub.Add(testAgent("agent-1", true), oldSink.send)
	removeNew := hub.Add(testAgent("agent-1", true), newSink.send)
	defer removeNew()

	assert.Len(t, hub.Agents(true), 1, "replacement must not duplicate the agent")

	env, err := protocol.NewEnvelope(protocol.TypeHelloAck, protocol.NewMsgID(), nil)
	require.NoError(t, err)
	require.True(t, hub.SendTo("agent-1", env))

	got := newSink.wait(t, 1)
	assert.Equal(t, protocol.TypeHelloAck, got[0].Type)

	oldSink.mu.Lock()
	defer oldSink.mu.Unlock()
	assert.Empty(t, oldSink.envs, "stale connection must not receive messages")
}

func TestHubStaleRemoveIsNoop(t *testing.T) {
	hub := NewHub()
	sink := &envelopeSink{}

	removeOld := hub.Add(testAgent("agent-1", true), sink.send)
	removeNew := hub.Add(testAgent("agent-1", true), sink.send)
	defer removeNew()

	// Removing the replaced connection must not evict the active one.
	removeOld()
	assert.Len(t, hub.Agents(true), 1)
}

func TestHubSendToFullQueueReportsFailure(t *testing.T) {
	hub := NewHub()
	block := make(chan struct{})

	// The writer stalls on the first envelope, so the buffered queue
	// behind it eventually fills up.
	remove := hub.Add(testAgent("agent-1", true), func(protocol.Envelope) error {
		<-block
		return nil
	})
	defer remove()
	defer close(block) // unblock the writer before remove waits on it

	env, err := protocol.NewEnvelope(protocol.TypeAssignBatch, protocol.NewMsgID(), nil)
	require.NoError(t, err)

	dropped := false
	for i := 0; i < 300; i++ {
		if !hub.SendTo("agent-1", env) {
			dropped = true
			break
		}
	}
	assert.True(t, dropped, "a full send queue must surface as a failed send")
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	a := &envelopeSink{}
	b := &envelopeSink{}
	defer hub.Add(testAgent("agent-a", true), a.send)()
	defer hub.Add(testAgent("agent-b", false), b.send)()

	env, err := protocol.NewEnvelope(protocol.TypeError, protocol.NewMsgID(), protocol.Error{Code: "shutdown"})
	require.NoError(t, err)
	hub.Broadcast(env)

	a.wait(t, 1)
	b.wait(t, 1)
}
