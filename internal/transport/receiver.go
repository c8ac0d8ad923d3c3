package transport

import (
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/treemover/treemover/internal/faults"
)

// Receiver accepts framed chunks over TCP and writes them under a
// destination root. Binding to port 0 requests an OS-assigned ephemeral
// port; BoundPort reports the actual port once Listen has returned, which
// callers use as the handshake to discover where to connect.
type Receiver struct {
	destRoot string
	logger   *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	port   int
	closed bool
}

// NewReceiver creates a receiver that reconstructs files under destRoot.
func NewReceiver(destRoot string, logger *slog.Logger) *Receiver {
	return &Receiver{destRoot: destRoot, logger: logger}
}

// Listen binds to bindAddr:port. Port 0 selects an ephemeral port.
func (r *Receiver) Listen(bindAddr string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(bindAddr, strconv.Itoa(port)))
	if err != nil {
		return faults.WrapConnection(err, "bind chunk receiver")
	}
	r.mu.Lock()
	r.ln = ln
	r.port = ln.Addr().(*net.TCPAddr).Port
	r.mu.Unlock()
	r.logger.Info("chunk receiver listening", "addr", ln.Addr().String())
	return nil
}

// BoundPort returns the port the receiver is listening on. Valid only
// after Listen has returned.
func (r *Receiver) BoundPort() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port
}

// ReceiveOne accepts a single connection, processes its frame, and
// returns. Used by the standalone receive executable.
func (r *Receiver) ReceiveOne() error {
	conn, err := r.ln.Accept()
	if err != nil {
		return faults.WrapConnection(err, "accept chunk connection")
	}
	defer conn.Close()
	rel, length, err := r.handle(conn)
	if err != nil {
		return err
	}
	r.logger.Info("chunk received", "path", rel, "length", length)
	return nil
}

// Serve accepts connections until Close is called, handling each on its
// own goroutine. Per-connection failures are logged and do not stop the
// accept loop; partial writes are never masked as success.
func (r *Receiver) Serve() error {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return faults.WrapConnection(err, "accept chunk connection")
		}
		go func(c net.Conn) {
			defer c.Close()
			rel, length, err := r.handle(c)
			if err != nil {
				r.logger.Error("chunk receive failed", "path", rel, "err", err)
				return
			}
			r.logger.Debug("chunk received", "path", rel, "length", length)
		}(conn)
	}
}

// Close stops the accept loop and releases the listening socket.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ln == nil {
		return nil
	}
	r.closed = true
	return r.ln.Close()
}

func (r *Receiver) handle(conn net.Conn) (string, int64, error) {
	return readFrame(conn, r.destRoot)
}
