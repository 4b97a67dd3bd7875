package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/sso-audit/repositories"
	"go.uber.org/zap"
)

// ErrWriterFull is returned when the write-behind queue has no room
var ErrWriterFull = errors.New("write queue full")

// ErrWriterStopped is returned after Stop
var ErrWriterStopped = errors.New("writer stopped")

// WriteJob is one durable write handed to the background workers
type WriteJob struct {
	// Kind labels the job in logs: event, workflow or session
	Kind string
	// Key identifies the record written
	Key string
	Run func(ctx context.Context) error
	// Done, if set, receives the final outcome
	Done func(err error)
}

// WriterConfig holds configuration for the Writer
type WriterConfig struct {
	BufferSize  int           // Size of the job buffer channel
	WorkerCount int           // Number of concurrent workers
	JobTimeout  time.Duration // Deadline for a single attempt
	MaxAttempts int           // Attempts for retryable failures
	Backoff     time.Duration // Delay before the second attempt, doubled afterwards
}

// DefaultWriterConfig returns the default configuration
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BufferSize:  1000,
		WorkerCount: 4,
		JobTimeout:  5 * time.Second,
		MaxAttempts: 3,
		Backoff:     100 * time.Millisecond,
	}
}

// QueueRecorder receives queue depth and drop counts
type QueueRecorder interface {
	SetQueueDepth(depth int)
	WriteDropped()
}

type noopRecorder struct{}

func (noopRecorder) SetQueueDepth(int) {}
func (noopRecorder) WriteDropped()     {}

// Writer runs durable writes asynchronously on a fixed worker pool.
// Retryable storage errors are retried with backoff; fatal ones are not.
type Writer struct {
	cfg      WriterConfig
	logger   *zap.Logger
	recorder QueueRecorder
	jobs     chan *WriteJob
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	// closing is closed at the start of Stop so blocked submitters
	// release the read lock before the queue is closed
	closing   chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewWriter creates a new Writer instance. recorder may be nil.
func NewWriter(cfg WriterConfig, recorder QueueRecorder, logger *zap.Logger) *Writer {
	def := DefaultWriterConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}

	if recorder == nil {
		recorder = noopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		jobs:     make(chan *WriteJob, cfg.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
		closing:  make(chan struct{}),
	}
}

// Start starts the background workers
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("writer already started")
	}
	if w.stopped {
		return ErrWriterStopped
	}

	for i := 0; i < w.cfg.WorkerCount; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}

	w.started = true
	w.logger.Info("started write-behind workers",
		zap.Int("worker_count", w.cfg.WorkerCount),
		zap.Int("buffer_size", w.cfg.BufferSize))

	return nil
}

// Stop closes the queue and waits for queued jobs to finish. After the
// timeout in-flight attempts are cancelled and the remaining jobs fail
// with ErrWriterStopped.
func (w *Writer) Stop(timeout time.Duration) error {
	w.mu.RLock()
	running := w.started && !w.stopped
	w.mu.RUnlock()
	if !running {
		return fmt.Errorf("writer not running")
	}
	w.closeOnce.Do(func() { close(w.closing) })

	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("writer not running")
	}
	w.stopped = true
	close(w.jobs)
	w.mu.Unlock()

	w.logger.Info("stopping write-behind workers", zap.Int("pending_jobs", len(w.jobs)))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		w.logger.Info("write-behind workers stopped gracefully")
		return nil
	case <-time.After(timeout):
		w.cancel()
		<-done
		return fmt.Errorf("writer stop timeout after %v", timeout)
	}
}

// Submit queues a job without blocking
func (w *Writer) Submit(job *WriteJob) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.started || w.stopped {
		w.recorder.WriteDropped()
		return ErrWriterStopped
	}

	select {
	case w.jobs <- job:
		w.recorder.SetQueueDepth(len(w.jobs))
		return nil
	default:
		w.recorder.WriteDropped()
		w.logger.Warn("write queue full, rejecting job",
			zap.String("kind", job.Kind),
			zap.String("key", job.Key))
		return ErrWriterFull
	}
}

// SubmitBlocking waits until the job is queued, ctx is done or Stop begins
func (w *Writer) SubmitBlocking(ctx context.Context, job *WriteJob) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.started || w.stopped {
		return ErrWriterStopped
	}

	select {
	case w.jobs <- job:
		w.recorder.SetQueueDepth(len(w.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.closing:
		w.recorder.WriteDropped()
		return ErrWriterStopped
	}
}

// worker processes jobs from the channel
func (w *Writer) worker(id int) {
	defer w.wg.Done()

	w.logger.Debug("write worker started", zap.Int("worker_id", id))

	for job := range w.jobs {
		w.recorder.SetQueueDepth(len(w.jobs))
		err := w.process(job)
		if err != nil {
			w.logger.Error("write-behind job failed",
				zap.Int("worker_id", id),
				zap.String("kind", job.Kind),
				zap.String("key", job.Key),
				zap.Error(err))
		}
		if job.Done != nil {
			job.Done(err)
		}
	}

	w.logger.Debug("write worker stopped", zap.Int("worker_id", id))
}

// process runs a job, retrying retryable failures
func (w *Writer) process(job *WriteJob) error {
	backoff := w.cfg.Backoff
	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if w.ctx.Err() != nil {
			return ErrWriterStopped
		}

		ctx, cancel := context.WithTimeout(w.ctx, w.cfg.JobTimeout)
		err = job.Run(ctx)
		cancel()

		if err == nil || !repositories.IsRetryable(err) || attempt == w.cfg.MaxAttempts {
			return err
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-w.ctx.Done():
			return ErrWriterStopped
		}
	}
	return err
}

// Stats returns statistics about the writer
func (w *Writer) Stats() WriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return WriterStats{
		BufferSize:  w.cfg.BufferSize,
		PendingJobs: len(w.jobs),
		WorkerCount: w.cfg.WorkerCount,
		Started:     w.started && !w.stopped,
	}
}

// WriterStats represents write-behind statistics
type WriterStats struct {
	BufferSize  int  `json:"buffer_size"`
	PendingJobs int  `json:"pending_jobs"`
	WorkerCount int  `json:"worker_count"`
	Started     bool `json:"started"`
}
