// Package transport delivers chunk payloads to destination endpoints.
// The reference implementation speaks a framed protocol over TCP with one
// connection per chunk; a QUIC variant speaks the same frame over one
// bidirectional stream per chunk. Implementations are safe for concurrent
// use by multiple transfer workers.
package transport

import (
	"context"
	"io"
	"net"
	"strconv"
)

// Endpoint is a destination for chunk payloads.
type Endpoint struct {
	Host string
	Port int
}

// Addr renders the endpoint as host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Payload is one chunk in flight: the relative destination path, the byte
// range it occupies, and a reader positioned at the start of that range.
// Checksum is the lowercase hex CRC32 of the whole source file; it is
// recorded for verification and does not travel on the wire.
type Payload struct {
	RelativePath string
	Offset       int64
	Length       int64
	Data         io.Reader
	Checksum     string
}

// Transport sends one chunk payload to one destination endpoint.
// SendChunk never retries; failures propagate to the caller as a failed
// chunk. Implementations must tolerate concurrent calls targeting
// different endpoints.
type Transport interface {
	SendChunk(ctx context.Context, ep Endpoint, p Payload) error
}
