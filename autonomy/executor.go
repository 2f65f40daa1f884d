package autonomy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/atomgo/provenance"
)

// Handler executes one kind of action against the live system.
type Handler func(ctx context.Context, a Action) error

// ExecutorConfig bounds action execution.
type ExecutorConfig struct {
	// MaxConcurrent caps actions running at once. Zero defaults to 1.
	MaxConcurrent int64

	// ActionsPerSec paces action starts. Zero means unpaced.
	ActionsPerSec float64

	// Timeout bounds each attempt. Zero defaults to 30s.
	Timeout time.Duration

	// MaxAttempts bounds retries per action. Zero defaults to 3.
	MaxAttempts int

	// Backoff is the delay between attempts, doubled each retry. Zero
	// defaults to 100ms.
	Backoff time.Duration
}

// Executor runs approved actions under resource limits and reports
// outcomes to the queue and the provenance sink.
type Executor struct {
	handlers map[HypothesisType]Handler
	queue    *Queue

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration

	sink   provenance.Sink
	logger *slog.Logger
}

// ExecutorOption configures the Executor.
type ExecutorOption func(*Executor)

// WithProvenanceSink sets the audit sink for ActionExecuted events.
func WithProvenanceSink(sink provenance.Sink) ExecutorOption {
	return func(e *Executor) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithExecutorLogger sets the structured logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an executor dispatching to handlers.
func NewExecutor(queue *Queue, handlers map[HypothesisType]Handler, cfg ExecutorConfig, optFns ...ExecutorOption) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.ActionsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ActionsPerSec), 1)
	}

	e := &Executor{
		handlers:    handlers,
		queue:       queue,
		sem:         semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter:     limiter,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		sink:        provenance.NopSink{},
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(e)
		}
	}
	return e
}

// Execute runs one approved action to a terminal status. The returned
// error reflects the final attempt; the queue always records the
// outcome.
func (e *Executor) Execute(ctx context.Context, a Action) error {
	handler, ok := e.handlers[a.Type]
	if !ok {
		err := fmt.Errorf("no handler for %s", a.Type)
		_ = e.queue.SetStatus(a.ID, ActionFailed, err.Error())
		return err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	a.Status = ActionExecuting
	a.Diagnostic = ""
	if err := e.queue.SetStatus(a.ID, ActionExecuting, ""); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		a.Attempts = attempt
		if err := e.queue.Update(a); err != nil {
			return err
		}

		lastErr = e.attempt(ctx, handler, a)
		if lastErr == nil {
			if err := e.queue.SetStatus(a.ID, ActionSucceeded, ""); err != nil {
				return err
			}
			e.sink.Emit(provenance.Event{
				Type:     provenance.EventActionExecuted,
				Time:     time.Now(),
				ActionID: a.ID.String(),
				Detail:   a.Type.String(),
			})
			e.logger.Debug("action succeeded",
				"action_id", a.ID,
				"type", a.Type.String(),
				"attempts", attempt,
			)
			return nil
		}

		if ctx.Err() != nil {
			break
		}
		if attempt < e.maxAttempts {
			select {
			case <-time.After(e.backoff << (attempt - 1)):
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
		}
	}

	diagnostic := fmt.Sprintf("failed after %d attempts: %v", a.Attempts, lastErr)
	if err := e.queue.SetStatus(a.ID, ActionFailed, diagnostic); err != nil {
		return err
	}
	e.logger.Warn("action failed",
		"action_id", a.ID,
		"type", a.Type.String(),
		"attempts", a.Attempts,
		"error", lastErr,
	)
	return lastErr
}

func (e *Executor) attempt(ctx context.Context, handler Handler, a Action) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return handler(ctx, a)
}
