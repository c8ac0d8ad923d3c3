package scheduler

import (
	"github.com/treemover/treemover/internal/chunker"
	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/pkg/model"
)

// RoundRobin assigns whole files round-robin across the source pool, and
// pairs each file with a destination agent by cycling the destination
// pool independently: file i goes to source i mod M and destination
// i mod L. With L files and M source agents every agent owns between
// floor(L/M) and ceil(L/M) files, so both workloads stay balanced.
type RoundRobin struct{}

// NewRoundRobin creates the reference policy.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (*RoundRobin) Name() string { return model.DefaultPolicy }

func (*RoundRobin) Plan(req model.SyncRequest, sources, destinations []model.AgentEndpoint) (model.TransferPlan, error) {
	if len(sources) == 0 {
		return model.TransferPlan{}, faults.Config("at least one source agent is required")
	}
	if len(destinations) == 0 {
		return model.TransferPlan{}, faults.Config("at least one destination agent is required")
	}

	files, err := chunker.EnumerateFiles(req.SourcePath)
	if err != nil {
		return model.TransferPlan{}, err
	}

	plan := model.TransferPlan{
		RequestID:   req.RequestID,
		Assignments: make(map[string][]model.ChunkAssignment, len(sources)),
	}
	for _, src := range sources {
		plan.Assignments[src.AgentID] = nil
	}

	for i, file := range files {
		src := sources[i%len(sources)]
		dst := destinations[i%len(destinations)]

		rel, err := chunker.RelativePath(req.SourcePath, file)
		if err != nil {
			return model.TransferPlan{}, err
		}
		chunks, err := chunker.ChunkFile(file, req.ChunkSize)
		if err != nil {
			return model.TransferPlan{}, err
		}
		for _, c := range chunks {
			plan.Assignments[src.AgentID] = append(plan.Assignments[src.AgentID], model.ChunkAssignment{
				RequestID:    req.RequestID,
				AgentID:      src.AgentID,
				RelativePath: rel,
				Offset:       c.Offset,
				Length:       c.Size,
				DestAgentID:  dst.AgentID,
				DestHost:     dst.DataAddress,
				DestPort:     dst.DataPort,
			})
		}
	}
	return plan, nil
}
