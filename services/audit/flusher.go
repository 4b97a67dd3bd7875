package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// FlushFunc performs one flush pass
type FlushFunc func(ctx context.Context) error

// Flusher runs a flush function on a fixed interval. Runs never overlap:
// a tick that fires while the previous flush is still writing is skipped.
type Flusher struct {
	cron     *cron.Cron
	interval time.Duration
	timeout  time.Duration
	flush    FlushFunc
	logger   *zap.Logger
	mu       sync.Mutex
	started  bool
}

// NewFlusher creates a flusher. Each run is bounded by timeout.
func NewFlusher(interval, timeout time.Duration, flush FlushFunc, logger *zap.Logger) *Flusher {
	cronLog := cronLogger{logger: logger.Sugar()}
	return &Flusher{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)), cron.WithLogger(cronLog)),
		interval: interval,
		timeout:  timeout,
		flush:    flush,
		logger:   logger,
	}
}

// Start schedules the periodic flush
func (f *Flusher) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return fmt.Errorf("flusher already started")
	}
	if f.interval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %v", f.interval)
	}

	f.cron.Schedule(every(f.interval), cron.FuncJob(f.run))
	f.cron.Start()
	f.started = true
	f.logger.Info("periodic flush scheduled", zap.Duration("interval", f.interval))
	return nil
}

// Stop cancels future runs and waits up to timeout for a running flush
func (f *Flusher) Stop(timeout time.Duration) error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = false
	f.mu.Unlock()

	select {
	case <-f.cron.Stop().Done():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("flusher stop timeout after %v", timeout)
	}
}

func (f *Flusher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.flush(ctx); err != nil {
		// failed writes stay pending and are retried on the next tick
		f.logger.Warn("periodic flush incomplete", zap.Error(err))
	}
}

// every is a fixed-interval cron.Schedule. Unlike cron.Every it keeps
// sub-second precision.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
