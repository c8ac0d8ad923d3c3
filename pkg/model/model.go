// Package model holds the shared data model of the transfer system:
// sync requests, agent endpoints, transfer plans, and progress records.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Defaults carried over from the production deployment profile.
const (
	DefaultChunkSize   int64 = 64 << 20 // 64 MiB
	DefaultDataPort          = 50051
	DefaultPolicy            = "round_robin"
	DefaultParallelism       = 4
)

// TransferMode selects the chunk transport implementation.
type TransferMode string

const (
	ModeTCP  TransferMode = "tcp"
	ModeQUIC TransferMode = "quic"
)

// Direction tells whether the submitting cluster pushes to or pulls from
// the remote cluster.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// SyncRequest is one directory-synchronization task. Immutable once
// accepted by the master scheduler.
type SyncRequest struct {
	RequestID       string       `json:"request_id"`
	SourcePath      string       `json:"source_path"`
	DestinationPath string       `json:"destination_path"`
	ChunkSize       int64        `json:"chunk_size"`
	Direction       Direction    `json:"direction"`
	Parallelism     int          `json:"parallelism"`
	Policy          string       `json:"policy"`
	TransferMode    TransferMode `json:"transfer_mode"`
}

// NewRequestID mints a unique request identifier.
func NewRequestID() string { return uuid.NewString() }

// AgentEndpoint describes a transfer agent reachable by the master.
// Supplied by the agent registry; the core only reads it.
type AgentEndpoint struct {
	AgentID        string `json:"agent_id"`
	ControlAddress string `json:"control_address"`
	ControlPort    int    `json:"control_port"`
	DataAddress    string `json:"data_address"`
	DataPort       int    `json:"data_port"`
	IsSource       bool   `json:"is_source"`
}

// ChunkAssignment binds one chunk of one file to the agent that must
// transfer it and the destination endpoint it must reach.
type ChunkAssignment struct {
	RequestID    string `json:"request_id"`
	AgentID      string `json:"agent_id"`
	RelativePath string `json:"relative_path"`
	Offset       int64  `json:"offset"`
	Length       int64  `json:"length"`
	DestAgentID  string `json:"dest_agent_id"`
	DestHost     string `json:"dest_host"`
	DestPort     int    `json:"dest_port"`
}

// TransferPlan is the per-agent chunk-assignment output of scheduling for
// one request. The union of assignments across agents covers the chunked
// file list exactly once.
type TransferPlan struct {
	RequestID   string                       `json:"request_id"`
	Assignments map[string][]ChunkAssignment `json:"assignments"`
}

// TotalBytes sums the lengths of every assignment in the plan.
func (p TransferPlan) TotalBytes() int64 {
	var total int64
	for _, batch := range p.Assignments {
		for _, a := range batch {
			total += a.Length
		}
	}
	return total
}

// ChunkCount counts every assignment in the plan.
func (p TransferPlan) ChunkCount() int {
	var n int
	for _, batch := range p.Assignments {
		n += len(batch)
	}
	return n
}

// SyncState is the lifecycle state of a request. Transitions are monotone:
// PENDING -> IN_PROGRESS -> {COMPLETED, FAILED}; terminal states are final.
type SyncState string

const (
	StatePending    SyncState = "PENDING"
	StateInProgress SyncState = "IN_PROGRESS"
	StateCompleted  SyncState = "COMPLETED"
	StateFailed     SyncState = "FAILED"
)

// Terminal reports whether no further transition may leave the state.
func (s SyncState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SyncProgress is the externally visible progress record of one request.
// The master scheduler exclusively owns the record for each request.
type SyncProgress struct {
	RequestID        string    `json:"request_id"`
	State            SyncState `json:"state"`
	BytesTransferred int64     `json:"bytes_transferred"`
	TotalBytes       int64     `json:"total_bytes"`
	ErrorDetail      string    `json:"error_detail,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}
