package autonomy

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultInterval = time.Minute
	defaultCooldown = 10 * time.Minute
)

// Loop is the observe-hypothesize-act-learn scheduler. It wakes on a
// fixed interval or an external Signal, runs one cycle, and goes back
// to sleep. All dependencies are injected; the loop owns no state
// beyond its feedback counters.
type Loop struct {
	observer     *Observer
	hypothesizer *Hypothesizer
	queue        *Queue
	executor     *Executor
	policy       ApprovalPolicy
	feedback     *Feedback

	interval time.Duration
	cooldown time.Duration
	logger   *slog.Logger

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// LoopOption configures the Loop.
type LoopOption func(*Loop)

// WithInterval sets the wakeup interval.
func WithInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithCooldown sets the dedup window per (type, region).
func WithCooldown(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.cooldown = d
		}
	}
}

// WithApprovalPolicy sets the gate for queued actions.
func WithApprovalPolicy(p ApprovalPolicy) LoopOption {
	return func(l *Loop) {
		if p != nil {
			l.policy = p
		}
	}
}

// WithLoopLogger sets the structured logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop assembles a loop from its stages.
func NewLoop(observer *Observer, hypothesizer *Hypothesizer, queue *Queue, executor *Executor, optFns ...LoopOption) *Loop {
	l := &Loop{
		observer:     observer,
		hypothesizer: hypothesizer,
		queue:        queue,
		executor:     executor,
		policy:       AutoApprove{},
		feedback:     NewFeedback(),
		interval:     defaultInterval,
		cooldown:     defaultCooldown,
		logger:       slog.New(slog.DiscardHandler),
		signal:       make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(l)
		}
	}
	return l
}

// Signal requests an immediate cycle. Non-blocking; signals coalesce
// while a cycle is pending.
func (l *Loop) Signal() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Feedback exposes the outcome counters.
func (l *Loop) Feedback() *Feedback {
	return l.feedback
}

// Run drives cycles until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
		case <-l.signal:
		}

		if err := l.RunCycle(ctx); err != nil {
			l.logger.Error("cycle failed", "error", err)
		}
	}
}

// Stop ends Run and waits for the in-flight cycle to finish.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

// RunCycle executes one observe-hypothesize-act-learn pass.
func (l *Loop) RunCycle(ctx context.Context) error {
	obs := l.observer.Observe()
	hyps := l.hypothesizer.Hypothesize(obs, l.feedback)

	queued, err := l.enqueue(hyps)
	if err != nil {
		return err
	}

	approved, err := l.queue.ListByStatus(ActionApproved)
	if err != nil {
		return err
	}

	executed := 0
	for _, a := range approved {
		if err := ctx.Err(); err != nil {
			return err
		}
		execErr := l.executor.Execute(ctx, a)
		l.feedback.Record(a.Type, execErr == nil)
		executed++
	}

	l.logger.Debug("cycle complete",
		"regions", len(obs.Regions),
		"hypotheses", len(hyps),
		"queued", queued,
		"executed", executed,
	)
	return nil
}

// Approve clears a pending action for the next cycle.
func (l *Loop) Approve(id uuid.UUID) error {
	return l.queue.Approve(id)
}

// enqueue turns hypotheses into queued actions, skipping any inside a
// cool-down window, and runs each new action through the approval
// policy.
func (l *Loop) enqueue(hyps []Hypothesis) (int, error) {
	queued := 0
	for _, h := range hyps {
		cooling, err := l.queue.InCooldown(h.Type, h.Region)
		if err != nil {
			return queued, err
		}
		if cooling {
			continue
		}

		a := Action{
			Type:     h.Type,
			Region:   h.Region,
			Priority: h.Priority,
			Detail:   h.Detail,
		}
		a.Status = l.policy.Approve(a)

		if err := l.queue.Enqueue(&a); err != nil {
			return queued, err
		}
		if err := l.queue.MarkCooldown(h.Type, h.Region, l.cooldown); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}
