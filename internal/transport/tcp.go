package transport

import (
	"context"
	"log/slog"
	"net"

	"github.com/treemover/treemover/internal/faults"
)

// TCPTransport sends each chunk over its own TCP connection. It holds no
// shared socket state, so concurrent SendChunk calls need no extra
// synchronization. Socket operations are blocking with no configured
// timeout; an in-flight chunk runs to completion or failure.
type TCPTransport struct {
	logger *slog.Logger
}

// NewTCP creates the reference TCP transport.
func NewTCP(logger *slog.Logger) *TCPTransport {
	return &TCPTransport{logger: logger}
}

// SendChunk resolves the endpoint, connects using the first address that
// succeeds, writes the frame, and closes the connection.
func (t *TCPTransport) SendChunk(ctx context.Context, ep Endpoint, p Payload) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return faultsConnect(err, ep)
	}
	defer conn.Close()

	t.logger.Debug("sending chunk",
		"endpoint", ep.Addr(),
		"path", p.RelativePath,
		"offset", p.Offset,
		"length", p.Length,
		"file_crc32", p.Checksum,
	)
	return writeFrame(conn, p)
}

func faultsConnect(err error, ep Endpoint) error {
	return faults.WrapConnection(err, "connect to "+ep.Addr())
}
