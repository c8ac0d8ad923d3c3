package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/internal/progress"
	"github.com/treemover/treemover/internal/transfer"
	"github.com/treemover/treemover/internal/transport"
	"github.com/treemover/treemover/pkg/model"
	"github.com/treemover/treemover/pkg/protocol"
)

// Config is the agent daemon configuration.
type Config struct {
	AgentID     string
	Role        string // protocol.RoleSource or protocol.RoleDestination
	MasterURL   string // full WebSocket URL, e.g. ws://master:8080/ws
	BindAddress string // data-plane bind address
	DataAddress string // address advertised to the master; defaults to the dial source
	DataPort    int    // 0 picks an ephemeral port
	DestRoot    string // where received chunks land (destination role)
	Parallelism int
}

func (c Config) validate() error {
	if c.AgentID == "" {
		return faults.Config("agent id is required")
	}
	if c.MasterURL == "" {
		return faults.Config("master url is required")
	}
	if c.Role != protocol.RoleSource && c.Role != protocol.RoleDestination {
		return faults.Configf("role must be %q or %q, got %q", protocol.RoleSource, protocol.RoleDestination, c.Role)
	}
	if c.Role == protocol.RoleDestination && c.DestRoot == "" {
		return faults.Config("destination root is required for destination agents")
	}
	return nil
}

// Worker is the agent daemon. A destination agent runs chunk receivers on
// its data port; a source agent executes assignment batches through the
// transfer manager.
type Worker struct {
	cfg    Config
	logger *slog.Logger

	conn *Conn
	mu   sync.Mutex
}

// NewWorker validates the configuration and creates the daemon.
func NewWorker(cfg Config, logger *slog.Logger) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = model.DefaultParallelism
	}
	return &Worker{cfg: cfg, logger: logger}, nil
}

// Run registers with the master and serves until the context is
// cancelled or the control connection drops.
func (w *Worker) Run(ctx context.Context) error {
	dataPort := w.cfg.DataPort

	if w.cfg.Role == protocol.RoleDestination {
		// TCP and QUIC receivers share the port number; one binds the TCP
		// side, the other the UDP side.
		tcpReceiver := transport.NewReceiver(w.cfg.DestRoot, w.logger)
		if err := tcpReceiver.Listen(w.cfg.BindAddress, dataPort); err != nil {
			return err
		}
		defer tcpReceiver.Close()
		dataPort = tcpReceiver.BoundPort()

		quicReceiver := transport.NewQUICReceiver(w.cfg.DestRoot, w.logger)
		if err := quicReceiver.Listen(w.cfg.BindAddress, dataPort); err != nil {
			return err
		}
		defer quicReceiver.Close()

		go func() {
			if err := tcpReceiver.Serve(); err != nil {
				w.logger.Error("tcp receiver stopped", "err", err)
			}
		}()
		go func() {
			if err := quicReceiver.Serve(ctx); err != nil {
				w.logger.Error("quic receiver stopped", "err", err)
			}
		}()
		w.logger.Info("data receivers listening", "port", dataPort)
	}

	conn, err := Dial(ctx, w.cfg.MasterURL, w.logger)
	if err != nil {
		return faults.WrapConnection(err, "dial master "+w.cfg.MasterURL)
	}
	defer conn.Close()
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	hello := protocol.Hello{
		AgentID:     w.cfg.AgentID,
		Role:        w.cfg.Role,
		DataAddress: w.cfg.DataAddress,
		DataPort:    dataPort,
	}
	env, err := protocol.NewEnvelope(protocol.TypeHello, protocol.NewMsgID(), hello)
	if err != nil {
		return err
	}
	env.From = w.cfg.AgentID
	if err := conn.Send(env); err != nil {
		return faults.WrapConnection(err, "send hello")
	}

	err = conn.ReadLoop(ctx, func(env protocol.Envelope) {
		w.handleEnvelope(ctx, env)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (w *Worker) handleEnvelope(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeHelloAck:
		w.logger.Info("registered with master", "agent_id", w.cfg.AgentID, "role", w.cfg.Role)
	case protocol.TypeAssignBatch:
		var batch protocol.AssignBatch
		if err := env.DecodePayload(&batch); err != nil {
			w.logger.Warn("bad assignment batch", "err", err)
			return
		}
		// Batches run independently so a long transfer never blocks the
		// control connection.
		go w.runBatch(ctx, batch)
	case protocol.TypeError:
		var msg protocol.Error
		if err := env.DecodePayload(&msg); err == nil {
			w.logger.Warn("master reported error", "code", msg.Code, "message", msg.Message)
		}
	default:
		w.logger.Warn("unexpected envelope type", "type", env.Type)
	}
}

// runBatch executes one assignment batch: each file becomes one job for
// the transfer manager, chunk results stream back to the master as they
// finish, and a job result closes the batch out.
func (w *Worker) runBatch(ctx context.Context, batch protocol.AssignBatch) {
	log := w.logger.With("request_id", batch.RequestID)
	log.Info("batch accepted", "assignments", len(batch.Assignments), "mode", batch.TransferMode)

	var totalBytes int64
	for _, a := range batch.Assignments {
		totalBytes += a.Length
	}
	meter := progress.NewMeter()
	meter.Start(totalBytes)

	var (
		resultMu    sync.Mutex
		sentBytes   int64
		firstDetail string
	)
	observer := func(res transfer.ChunkResult) {
		detail := ""
		if res.Err != nil {
			detail = res.Err.Error()
		}

		resultMu.Lock()
		if detail == "" {
			sentBytes += res.Length
			meter.Add(res.Length)
		} else if firstDetail == "" {
			firstDetail = detail
		}
		resultMu.Unlock()

		w.sendResult(protocol.TypeChunkResult, protocol.ChunkResult{
			RequestID:    batch.RequestID,
			AgentID:      w.cfg.AgentID,
			RelativePath: res.RelativePath,
			Offset:       res.Offset,
			Length:       res.Length,
			Checksum:     res.Checksum,
			Error:        detail,
		})
	}

	manager, err := transfer.NewManager(batch.ChunkSize, w.cfg.Parallelism, w.transportFor(batch.TransferMode), w.logger, transfer.WithObserver(observer))
	if err != nil {
		log.Error("batch rejected", "err", err)
		w.sendResult(protocol.TypeJobResult, protocol.JobResult{
			RequestID:  batch.RequestID,
			AgentID:    w.cfg.AgentID,
			TotalBytes: totalBytes,
			Detail:     err.Error(),
		})
		return
	}

	// A source root that is itself a regular file is planned with its base
	// name as the relative path; joining the two would nest the name twice.
	info, statErr := os.Stat(batch.SourceRoot)
	rootIsFile := statErr == nil && info.Mode().IsRegular()

	for _, a := range groupByFile(batch.Assignments) {
		job := transfer.Job{
			SourceRoot:   filepath.Join(batch.SourceRoot, filepath.FromSlash(a.RelativePath)),
			TransferRoot: batch.SourceRoot,
			Destination:  transport.Endpoint{Host: a.DestHost, Port: a.DestPort},
			RequestID:    batch.RequestID,
		}
		if rootIsFile {
			job.SourceRoot = batch.SourceRoot
			job.TransferRoot = filepath.Dir(batch.SourceRoot)
		}
		manager.Submit(job)
	}
	manager.WaitForCompletion()

	resultMu.Lock()
	result := protocol.JobResult{
		RequestID:        batch.RequestID,
		AgentID:          w.cfg.AgentID,
		BytesTransferred: sentBytes,
		TotalBytes:       totalBytes,
		Success:          firstDetail == "",
		Detail:           firstDetail,
	}
	resultMu.Unlock()

	stats := meter.Snapshot()
	log.Info("batch finished",
		"bytes", progress.FormatBytes(result.BytesTransferred),
		"rate", progress.FormatRate(stats.RateBps),
		"success", result.Success,
	)
	w.sendResult(protocol.TypeJobResult, result)
}

func (w *Worker) transportFor(mode model.TransferMode) transport.Transport {
	if mode == model.ModeQUIC {
		return transport.NewQUIC(w.logger)
	}
	return transport.NewTCP(w.logger)
}

func (w *Worker) sendResult(msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, protocol.NewMsgID(), payload)
	if err != nil {
		w.logger.Error("encode result", "type", msgType, "err", err)
		return
	}
	env.From = w.cfg.AgentID

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Send(env); err != nil {
		w.logger.Error("send result", "type", msgType, "err", err)
	}
}

// groupByFile collapses chunk assignments to one entry per file, keeping
// the first assignment of each. Chunk boundaries are recomputed locally
// from the batch chunk size, so only the file identity and destination
// matter here.
func groupByFile(assignments []model.ChunkAssignment) []model.ChunkAssignment {
	seen := make(map[string]bool, len(assignments))
	out := make([]model.ChunkAssignment, 0, len(assignments))
	for _, a := range assignments {
		key := fmt.Sprintf("%s -> %s:%d", a.RelativePath, a.DestHost, a.DestPort)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}
