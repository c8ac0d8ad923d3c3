package protocol

import "github.com/treemover/treemover/pkg/model"

// Hello is sent by an agent when it first connects to the master.
type Hello struct {
	AgentID     string `json:"agent_id"`
	Role        string `json:"role"`
	DataAddress string `json:"data_address"`
	DataPort    int    `json:"data_port"`
}

// Agent roles announced in the hello handshake.
const (
	RoleSource      = "source"
	RoleDestination = "destination"
)

// HelloAck confirms registration with the master.
type HelloAck struct {
	AgentID string `json:"agent_id"`
}

// Error represents an error message in the protocol.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AssignBatch hands an agent its slice of a transfer plan. SourceRoot is
// the root the relative paths in the assignments resolve against on the
// agent's filesystem.
type AssignBatch struct {
	RequestID    string                  `json:"request_id"`
	SourceRoot   string                  `json:"source_root"`
	ChunkSize    int64                   `json:"chunk_size"`
	TransferMode model.TransferMode      `json:"transfer_mode"`
	Assignments  []model.ChunkAssignment `json:"assignments"`
}

// ChunkResult reports the outcome of one chunk assignment. An empty
// Error means the chunk reached its destination.
type ChunkResult struct {
	RequestID    string `json:"request_id"`
	AgentID      string `json:"agent_id"`
	RelativePath string `json:"relative_path"`
	Offset       int64  `json:"offset"`
	Length       int64  `json:"length"`
	Checksum     string `json:"checksum,omitempty"`
	Error        string `json:"error,omitempty"`
}

// JobResult reports the outcome of a whole assignment batch.
type JobResult struct {
	RequestID        string `json:"request_id"`
	AgentID          string `json:"agent_id"`
	BytesTransferred int64  `json:"bytes_transferred"`
	TotalBytes       int64  `json:"total_bytes"`
	Success          bool   `json:"success"`
	Detail           string `json:"detail,omitempty"`
}
