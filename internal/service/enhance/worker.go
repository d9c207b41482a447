package enhance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
)

// Result is the outcome of one enhancement task. Seq is the sequence number
// of the final transcript it was produced from.
type Result struct {
	Seq          uint64
	SourceText   string
	EnhancedText string
	Failed       bool
	Err          error
}

// Task is a handle to one submitted enhancement.
type Task struct {
	Seq    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the task cooperatively. A cancelled task never delivers.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// WorkerConfig bounds the worker.
type WorkerConfig struct {
	// MaxConcurrent caps calls in flight across all sessions.
	MaxConcurrent int64
	// Timeout bounds a single call. Zero means no bound.
	Timeout time.Duration
}

// Worker runs enhancement calls with bounded concurrency. It is shared by
// all sessions.
type Worker struct {
	enhancer Enhancer
	sem      *semaphore.Weighted
	timeout  time.Duration
	metrics  *metrics.Metrics
	inFlight atomic.Int64
	logger   zerolog.Logger
}

// NewWorker creates a worker. A nil m uses metrics.DefaultMetrics.
func NewWorker(enhancer Enhancer, cfg WorkerConfig, m *metrics.Metrics) *Worker {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Worker{
		enhancer: enhancer,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		timeout:  cfg.Timeout,
		metrics:  m,
		logger:   logging.WithComponent("enhance"),
	}
}

// InFlight returns the number of task goroutines not yet exited.
func (w *Worker) InFlight() int64 {
	return w.inFlight.Load()
}

// Submit starts enhancing text. The result is sent on results unless the
// task is cancelled first, or ctx ends.
func (w *Worker) Submit(ctx context.Context, seq uint64, text string, results chan<- Result) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		Seq:    seq,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.inFlight.Add(1)
	w.metrics.RecordEnhancementStart()
	go w.run(taskCtx, t, text, results)
	return t
}

func (w *Worker) run(ctx context.Context, t *Task, text string, results chan<- Result) {
	defer func() {
		t.cancel()
		w.inFlight.Add(-1)
		close(t.done)
	}()

	if err := w.sem.Acquire(ctx, 1); err != nil {
		w.metrics.RecordEnhancementEnd("cancelled", 0)
		return
	}
	start := time.Now()

	callCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	enhanced, err := w.enhancer.Enhance(callCtx, text)
	w.sem.Release(1)
	latency := time.Since(start).Seconds()

	if ctx.Err() != nil {
		// Partial output of a cancelled call is discarded.
		w.metrics.RecordEnhancementEnd("cancelled", latency)
		return
	}

	res := Result{Seq: t.Seq, SourceText: text}
	if err != nil {
		res.Failed = true
		res.Err = err
		w.metrics.RecordEnhancementEnd("failed", latency)
		w.logger.Warn().Err(err).Uint64("seq", t.Seq).Msg("Enhancement failed")
	} else {
		res.EnhancedText = enhanced
		w.metrics.RecordEnhancementEnd("success", latency)
	}

	select {
	case results <- res:
	case <-ctx.Done():
	}
}
