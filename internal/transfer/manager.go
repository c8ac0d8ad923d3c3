// Package transfer runs the data-plane pipeline: a fixed pool of workers
// drains a shared job queue, and for each job enumerates the source files,
// computes whole-file checksums, splits files into chunks, and streams
// every chunk through the transport.
package transfer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/treemover/treemover/internal/bufpool"
	"github.com/treemover/treemover/internal/checksum"
	"github.com/treemover/treemover/internal/chunker"
	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/internal/transport"
)

// Checksums stream through a bounded buffer so memory use is independent
// of file size.
const checksumBufferSize = 1 << 20

var checksumPool = bufpool.New(checksumBufferSize)

// Job is one unit of work: transfer everything under SourceRoot to
// Destination. Jobs are independent of each other. TransferRoot, when
// set, is the root that relative wire paths are computed against; it
// defaults to SourceRoot. RequestID is an opaque label echoed in results.
type Job struct {
	SourceRoot   string
	TransferRoot string
	Destination  transport.Endpoint
	RequestID    string
}

func (j Job) relativeRoot() string {
	if j.TransferRoot != "" {
		return j.TransferRoot
	}
	return j.SourceRoot
}

// ChunkResult reports the outcome of one chunk send, or of a job-level
// failure (RelativePath empty) such as an unreadable source root.
type ChunkResult struct {
	Job          Job
	RelativePath string
	Offset       int64
	Length       int64
	Checksum     string
	Err          error
}

// Observer receives a ChunkResult for every chunk a worker finishes,
// successfully or not. It is called from worker goroutines and must be
// safe for concurrent use.
type Observer func(ChunkResult)

// Manager owns a worker pool and job queue for its process lifetime.
type Manager struct {
	chunkSize int64
	transport transport.Transport
	observer  Observer
	logger    *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Job
	stopping bool
	wg       sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithObserver registers a per-chunk result callback.
func WithObserver(fn Observer) Option {
	return func(m *Manager) { m.observer = fn }
}

// NewManager creates a manager with the given chunk size and worker
// count and starts the workers immediately.
func NewManager(chunkSize int64, workers int, tr transport.Transport, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if chunkSize <= 0 {
		return nil, faults.Configf("chunk size must be positive, got %d", chunkSize)
	}
	if workers < 1 {
		return nil, faults.Configf("worker count must be at least 1, got %d", workers)
	}
	m := &Manager{
		chunkSize: chunkSize,
		transport: tr,
		logger:    logger,
	}
	m.cond = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker(i)
	}
	return m, nil
}

// Submit enqueues a job without blocking the caller. Jobs submitted
// before WaitForCompletion returns are never dropped, even when
// submission races with shutdown.
func (m *Manager) Submit(job Job) {
	m.mu.Lock()
	m.queue = append(m.queue, job)
	m.mu.Unlock()
	m.cond.Signal()
}

// WaitForCompletion signals shutdown, wakes every idle worker, and blocks
// until all queued jobs have been processed and all workers have exited.
func (m *Manager) WaitForCompletion() {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()
	m.cond.Broadcast()
	m.wg.Wait()
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.stopping {
			m.cond.Wait()
		}
		if len(m.queue) == 0 {
			// Stopping and drained.
			m.mu.Unlock()
			return
		}
		job := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.runJob(id, job)
	}
}

func (m *Manager) runJob(worker int, job Job) {
	log := m.logger.With("worker", worker, "source", job.SourceRoot, "request_id", job.RequestID)

	files, err := chunker.EnumerateFiles(job.SourceRoot)
	if err != nil {
		log.Error("job failed", "err", err)
		m.report(ChunkResult{Job: job, Err: err})
		return
	}
	for _, file := range files {
		rel, err := chunker.RelativePath(job.relativeRoot(), file)
		if err != nil {
			m.report(ChunkResult{Job: job, Err: err})
			continue
		}
		sum, err := fileChecksum(file)
		if err != nil {
			log.Error("checksum failed", "file", file, "err", err)
			m.report(ChunkResult{Job: job, RelativePath: rel, Err: err})
			continue
		}
		chunks, err := chunker.ChunkFile(file, m.chunkSize)
		if err != nil {
			m.report(ChunkResult{Job: job, RelativePath: rel, Err: err})
			continue
		}
		for _, c := range chunks {
			err := m.sendChunk(job, rel, c, sum)
			if err != nil {
				log.Error("chunk send failed", "path", rel, "offset", c.Offset, "err", err)
			}
			m.report(ChunkResult{
				Job:          job,
				RelativePath: rel,
				Offset:       c.Offset,
				Length:       c.Size,
				Checksum:     sum,
				Err:          err,
			})
		}
	}
}

func (m *Manager) sendChunk(job Job, rel string, c chunker.FileChunk, sum string) error {
	f, err := os.Open(c.Path)
	if err != nil {
		return faults.WrapIO(err, "open source file")
	}
	defer f.Close()
	if _, err := f.Seek(c.Offset, io.SeekStart); err != nil {
		return faults.WrapIO(err, "seek source file")
	}
	return m.transport.SendChunk(context.Background(), job.Destination, transport.Payload{
		RelativePath: rel,
		Offset:       c.Offset,
		Length:       c.Size,
		Data:         io.LimitReader(f, c.Size),
		Checksum:     sum,
	})
}

func (m *Manager) report(res ChunkResult) {
	if m.observer != nil {
		m.observer(res)
	}
}

// fileChecksum streams the file through the accumulator.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", faults.WrapIO(err, "open source file for checksum")
	}
	defer f.Close()

	buf := checksumPool.Get()
	defer checksumPool.Put(buf)

	acc := checksum.NewAccumulator()
	for {
		n, err := f.Read(buf)
		if n > 0 {
			acc.Update(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", faults.WrapIO(err, "read source file for checksum")
		}
	}
	return acc.Hex(), nil
}
