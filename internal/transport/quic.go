package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/treemover/treemover/internal/faults"
)

// alpnProtocol identifies the chunk-transfer application protocol during
// the QUIC TLS handshake.
const alpnProtocol = "treemover-quic-v1"

// QUICTransport speaks the same frame as the TCP transport over one
// bidirectional QUIC stream per chunk. After the frame, the receiver
// returns a single acknowledgment byte so the sender observes delivery
// before tearing the connection down.
type QUICTransport struct {
	logger   *slog.Logger
	tlsConf  *tls.Config
	quicConf *quic.Config
}

// NewQUIC creates the QUIC chunk transport. Certificate verification is
// disabled; cluster deployments pin trust at the network layer.
func NewQUIC(logger *slog.Logger) *QUICTransport {
	return &QUICTransport{
		logger: logger,
		tlsConf: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpnProtocol},
		},
		quicConf: defaultQUICConfig(),
	}
}

// SendChunk dials the endpoint, opens one stream, writes the frame, and
// waits for the receiver's acknowledgment byte.
func (t *QUICTransport) SendChunk(ctx context.Context, ep Endpoint, p Payload) error {
	conn, err := quic.DialAddr(ctx, ep.Addr(), t.tlsConf, t.quicConf)
	if err != nil {
		return faultsConnect(err, ep)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return faults.WrapConnection(err, "open chunk stream")
	}

	t.logger.Debug("sending chunk",
		"endpoint", ep.Addr(),
		"path", p.RelativePath,
		"offset", p.Offset,
		"length", p.Length,
		"file_crc32", p.Checksum,
	)
	if err := writeFrame(stream, p); err != nil {
		stream.CancelRead(0)
		return err
	}
	if err := stream.Close(); err != nil {
		return faults.WrapConnection(err, "close chunk stream")
	}

	var ack [1]byte
	if _, err := io.ReadFull(stream, ack[:]); err != nil {
		return faults.WrapProtocol(err, "chunk not acknowledged")
	}
	return nil
}

// QUICReceiver accepts framed chunks over QUIC and writes them under a
// destination root.
type QUICReceiver struct {
	destRoot string
	logger   *slog.Logger
	ln       *quic.Listener
	port     int
}

// NewQUICReceiver creates a receiver that reconstructs files under destRoot.
func NewQUICReceiver(destRoot string, logger *slog.Logger) *QUICReceiver {
	return &QUICReceiver{destRoot: destRoot, logger: logger}
}

// Listen binds a QUIC listener on bindAddr:port (0 = ephemeral).
func (r *QUICReceiver) Listen(bindAddr string, port int) error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	ln, err := quic.ListenAddr(Endpoint{Host: bindAddr, Port: port}.Addr(), tlsConf, defaultQUICConfig())
	if err != nil {
		return faults.WrapConnection(err, "bind quic chunk receiver")
	}
	r.ln = ln
	r.port = ln.Addr().(*net.UDPAddr).Port
	r.logger.Info("quic chunk receiver listening", "addr", ln.Addr().String())
	return nil
}

// BoundPort returns the bound UDP port. Valid only after Listen.
func (r *QUICReceiver) BoundPort() int { return r.port }

// Serve accepts connections until the context is cancelled or the
// listener is closed. Each connection may carry multiple chunk streams.
func (r *QUICReceiver) Serve(ctx context.Context) error {
	for {
		conn, err := r.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return faults.WrapConnection(err, "accept quic connection")
		}
		go r.handleConn(ctx, conn)
	}
}

// Close stops the accept loop and releases the listener.
func (r *QUICReceiver) Close() error {
	if r.ln == nil {
		return nil
	}
	return r.ln.Close()
}

func (r *QUICReceiver) handleConn(ctx context.Context, conn *quic.Conn) {
	defer conn.CloseWithError(0, "")
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		rel, length, err := readFrame(stream, r.destRoot)
		if err != nil {
			r.logger.Error("quic chunk receive failed", "path", rel, "err", err)
			stream.CancelWrite(1)
			return
		}
		if _, err := stream.Write([]byte{1}); err != nil {
			r.logger.Error("quic chunk ack failed", "path", rel, "err", err)
			return
		}
		_ = stream.Close()
		r.logger.Debug("quic chunk received", "path", rel, "length", length)
	}
}

func defaultQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:         10 * time.Second,
		MaxIdleTimeout:          30 * time.Second,
		DisablePathMTUDiscovery: true,
		MaxIncomingStreams:      256,
	}
}

func serverTLSConfig() (*tls.Config, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, faults.Wrap(faults.KindConnection, err, "generate receiver certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}, nil
}

func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"treemover"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
