package protocol

// Message type constants for protocol envelopes.
const (
	TypeHello       = "hello"
	TypeHelloAck    = "hello_ack"
	TypeError       = "error"
	TypeAssignBatch = "assign_batch"
	TypeChunkResult = "chunk_result"
	TypeJobResult   = "job_result"
)
