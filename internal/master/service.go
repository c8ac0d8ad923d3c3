package master

import (
	"log/slog"
	"sort"

	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/internal/scheduler"
	"github.com/treemover/treemover/pkg/model"
	"github.com/treemover/treemover/pkg/protocol"
)

// Service ties the scheduler to the agent hub: it plans submitted
// requests over the currently connected agents and pushes each agent its
// assignment batch.
type Service struct {
	master *scheduler.Master
	hub    *Hub
	logger *slog.Logger
}

// NewService creates the control-plane service.
func NewService(m *scheduler.Master, hub *Hub, logger *slog.Logger) *Service {
	return &Service{master: m, hub: hub, logger: logger}
}

// SubmitSync accepts a sync request, plans it over the connected agents,
// and dispatches the per-agent batches. Defaults are applied before
// validation so a minimal request is usable as-is.
func (s *Service) SubmitSync(req model.SyncRequest) (model.TransferPlan, error) {
	if req.RequestID == "" {
		req.RequestID = model.NewRequestID()
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = model.DefaultChunkSize
	}
	if req.Policy == "" {
		req.Policy = model.DefaultPolicy
	}
	if req.TransferMode == "" {
		req.TransferMode = model.ModeTCP
	}
	if req.Parallelism <= 0 {
		req.Parallelism = model.DefaultParallelism
	}

	sources := sortedAgents(s.hub.Agents(true))
	destinations := sortedAgents(s.hub.Agents(false))
	if len(sources) == 0 {
		return model.TransferPlan{}, faults.Config("no source agents connected")
	}
	if len(destinations) == 0 {
		return model.TransferPlan{}, faults.Config("no destination agents connected")
	}

	plan, err := s.master.Submit(req, sources, destinations)
	if err != nil {
		return model.TransferPlan{}, err
	}
	s.dispatch(req, plan)
	return plan, nil
}

// dispatch pushes each non-empty batch to its agent. An agent that
// dropped off between planning and dispatch fails the request the same
// way a batch-level agent error would.
func (s *Service) dispatch(req model.SyncRequest, plan model.TransferPlan) {
	for agentID, batch := range plan.Assignments {
		if len(batch) == 0 {
			continue
		}
		payload := protocol.AssignBatch{
			RequestID:    req.RequestID,
			SourceRoot:   req.SourcePath,
			ChunkSize:    req.ChunkSize,
			TransferMode: req.TransferMode,
			Assignments:  batch,
		}
		env, err := protocol.NewEnvelope(protocol.TypeAssignBatch, protocol.NewMsgID(), payload)
		if err != nil {
			s.logger.Error("encode assign batch", "request_id", req.RequestID, "err", err)
			continue
		}
		env.From = "master"
		env.To = agentID

		if !s.hub.SendTo(agentID, env) {
			s.logger.Warn("agent unreachable at dispatch",
				"request_id", req.RequestID,
				"agent_id", agentID,
			)
			_ = s.master.ReportJob(scheduler.JobReport{
				RequestID: req.RequestID,
				AgentID:   agentID,
				Detail:    "agent unreachable at dispatch",
			})
		}
	}
}

// HandleEnvelope routes a result envelope from an agent into the
// scheduler. Unknown types are logged and dropped.
func (s *Service) HandleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeChunkResult:
		var result protocol.ChunkResult
		if err := env.DecodePayload(&result); err != nil {
			s.logger.Warn("bad chunk result payload", "from", env.From, "err", err)
			return
		}
		if err := s.master.ReportChunk(scheduler.ChunkReport{
			RequestID:    result.RequestID,
			AgentID:      result.AgentID,
			RelativePath: result.RelativePath,
			Offset:       result.Offset,
			Length:       result.Length,
			Error:        result.Error,
		}); err != nil {
			s.logger.Warn("chunk result rejected", "from", env.From, "err", err)
		}
	case protocol.TypeJobResult:
		var result protocol.JobResult
		if err := env.DecodePayload(&result); err != nil {
			s.logger.Warn("bad job result payload", "from", env.From, "err", err)
			return
		}
		if err := s.master.ReportJob(scheduler.JobReport{
			RequestID: result.RequestID,
			AgentID:   result.AgentID,
			Success:   result.Success,
			Detail:    result.Detail,
		}); err != nil {
			s.logger.Warn("job result rejected", "from", env.From, "err", err)
		}
	default:
		s.logger.Warn("unexpected envelope type", "type", env.Type, "from", env.From)
	}
}

// Progress exposes the scheduler's progress record for one request.
func (s *Service) Progress(requestID string) (model.SyncProgress, bool) {
	return s.master.Progress(requestID)
}

// List exposes the progress of every known request.
func (s *Service) List() []model.SyncProgress {
	return s.master.List()
}

func sortedAgents(agents []model.AgentEndpoint) []model.AgentEndpoint {
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents
}
