package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/internal/store"
	"github.com/treemover/treemover/pkg/model"
)

// ChunkReport is one agent's verdict on one chunk assignment.
type ChunkReport struct {
	RequestID    string
	AgentID      string
	RelativePath string
	Offset       int64
	Length       int64
	Error        string
}

// JobReport is one agent's verdict on its whole assignment batch.
type JobReport struct {
	RequestID string
	AgentID   string
	Success   bool
	Detail    string
}

// requestState carries everything the master tracks for one request.
// Each request has its own lock so concurrent reports for unrelated
// requests never serialize behind each other.
type requestState struct {
	mu        sync.Mutex
	request   model.SyncRequest
	plan      model.TransferPlan
	progress  model.SyncProgress
	remaining int
}

// Master accepts sync requests, resolves their scheduling policy,
// computes plans, and owns the per-request progress records. Failures are
// request-scoped: a failed request never disturbs the progress or
// planning of any other request.
type Master struct {
	registry *Registry
	store    store.Store
	logger   *slog.Logger

	mu       sync.RWMutex
	requests map[string]*requestState
}

// NewMaster creates a master backed by the given policy registry and
// progress store.
func NewMaster(registry *Registry, st store.Store, logger *slog.Logger) *Master {
	return &Master{
		registry: registry,
		store:    st,
		logger:   logger,
		requests: make(map[string]*requestState),
	}
}

// Submit validates the request, computes its plan under the named policy,
// and records SyncProgress(PENDING). The returned plan is ready for
// distribution to agents.
func (m *Master) Submit(req model.SyncRequest, sources, destinations []model.AgentEndpoint) (model.TransferPlan, error) {
	if req.RequestID == "" {
		return model.TransferPlan{}, faults.Config("request id is required")
	}
	if req.ChunkSize <= 0 {
		return model.TransferPlan{}, faults.Configf("chunk size must be positive, got %d", req.ChunkSize)
	}
	policyName := req.Policy
	if policyName == "" {
		policyName = model.DefaultPolicy
	}
	policy, err := m.registry.Lookup(policyName)
	if err != nil {
		return model.TransferPlan{}, err
	}

	m.mu.Lock()
	if _, exists := m.requests[req.RequestID]; exists {
		m.mu.Unlock()
		return model.TransferPlan{}, faults.Configf("duplicate request id %q", req.RequestID)
	}
	m.mu.Unlock()

	plan, err := policy.Plan(req, sources, destinations)
	if err != nil {
		return model.TransferPlan{}, err
	}

	st := &requestState{
		request:   req,
		plan:      plan,
		remaining: plan.ChunkCount(),
		progress: model.SyncProgress{
			RequestID:  req.RequestID,
			State:      model.StatePending,
			TotalBytes: plan.TotalBytes(),
			UpdatedAt:  time.Now().UTC(),
		},
	}
	if st.remaining == 0 {
		// An empty plan has no assignments to wait for; the request is
		// complete the moment it is accepted.
		st.progress.State = model.StateCompleted
	}

	m.mu.Lock()
	if _, exists := m.requests[req.RequestID]; exists {
		m.mu.Unlock()
		return model.TransferPlan{}, faults.Configf("duplicate request id %q", req.RequestID)
	}
	m.requests[req.RequestID] = st
	m.mu.Unlock()

	m.persist(st.progress)
	m.logger.Info("request planned",
		"request_id", req.RequestID,
		"policy", policyName,
		"chunks", st.remaining,
		"total_bytes", st.progress.TotalBytes,
	)
	return plan, nil
}

// Plan returns the stored plan for a request.
func (m *Master) Plan(requestID string) (model.TransferPlan, bool) {
	m.mu.RLock()
	st, ok := m.requests[requestID]
	m.mu.RUnlock()
	if !ok {
		return model.TransferPlan{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.plan, true
}

// Progress returns the current progress record for a request.
func (m *Master) Progress(requestID string) (model.SyncProgress, bool) {
	m.mu.RLock()
	st, ok := m.requests[requestID]
	m.mu.RUnlock()
	if !ok {
		return model.SyncProgress{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.progress, true
}

// List returns the progress of every known request.
func (m *Master) List() []model.SyncProgress {
	m.mu.RLock()
	states := make([]*requestState, 0, len(m.requests))
	for _, st := range m.requests {
		states = append(states, st)
	}
	m.mu.RUnlock()

	out := make([]model.SyncProgress, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.progress)
		st.mu.Unlock()
	}
	return out
}

// ReportChunk folds one chunk result into the owning request's progress.
// Success accumulates bytes and, once every assignment has succeeded,
// promotes the request to COMPLETED. The first failure moves the request
// to FAILED and records its reason; later reports cannot leave a
// terminal state.
func (m *Master) ReportChunk(report ChunkReport) error {
	m.mu.RLock()
	st, ok := m.requests[report.RequestID]
	m.mu.RUnlock()
	if !ok {
		return faults.Configf("unknown request id %q", report.RequestID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.progress.State.Terminal() {
		return nil
	}
	if st.progress.State == model.StatePending {
		st.progress.State = model.StateInProgress
	}

	if report.Error != "" {
		st.progress.State = model.StateFailed
		st.progress.ErrorDetail = report.Error
		st.progress.UpdatedAt = time.Now().UTC()
		m.logger.Warn("request failed",
			"request_id", report.RequestID,
			"agent_id", report.AgentID,
			"path", report.RelativePath,
			"detail", report.Error,
		)
		m.persist(st.progress)
		return nil
	}

	st.progress.BytesTransferred += report.Length
	st.remaining--
	if st.remaining == 0 {
		st.progress.State = model.StateCompleted
		m.logger.Info("request completed",
			"request_id", report.RequestID,
			"bytes", st.progress.BytesTransferred,
		)
	}
	st.progress.UpdatedAt = time.Now().UTC()
	m.persist(st.progress)
	return nil
}

// ReportJob folds an agent's batch-level verdict into the request. A
// failed batch fails the request if no chunk-level failure already did.
func (m *Master) ReportJob(report JobReport) error {
	if report.Success {
		return nil
	}
	return m.ReportChunk(ChunkReport{
		RequestID: report.RequestID,
		AgentID:   report.AgentID,
		Error:     report.Detail,
	})
}

// persist writes through to the durable store. Store failures are logged
// but never fail the in-memory update: the master stays authoritative and
// a broken collaborator must not take down unrelated requests.
func (m *Master) persist(progress model.SyncProgress) {
	if m.store == nil {
		return
	}
	if err := m.store.Put(progress); err != nil {
		m.logger.Error("progress store write failed",
			"request_id", progress.RequestID,
			"err", err,
		)
	}
}
