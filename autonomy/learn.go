package autonomy

import "sync"

// Feedback accumulates action outcomes per hypothesis type. Success
// rates feed back into hypothesis priorities, so work that keeps
// failing gets progressively deprioritized instead of hammering the
// same wall every cycle.
type Feedback struct {
	mu       sync.Mutex
	outcomes map[HypothesisType]*outcome
}

type outcome struct {
	succeeded uint64
	failed    uint64
}

// NewFeedback creates an empty outcome tracker.
func NewFeedback() *Feedback {
	return &Feedback{outcomes: make(map[HypothesisType]*outcome)}
}

// Record adds one outcome.
func (f *Feedback) Record(t HypothesisType, succeeded bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o := f.outcomes[t]
	if o == nil {
		o = &outcome{}
		f.outcomes[t] = o
	}
	if succeeded {
		o.succeeded++
	} else {
		o.failed++
	}
}

// SuccessRate returns the smoothed success ratio for a type in (0, 1].
// Types with no history score 1 so new work is never suppressed.
func (f *Feedback) SuccessRate(t HypothesisType) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	o := f.outcomes[t]
	if o == nil {
		return 1
	}
	// Laplace smoothing keeps a single failure from zeroing a type.
	return float64(o.succeeded+1) / float64(o.succeeded+o.failed+2)
}
