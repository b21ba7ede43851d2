package retry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/gearay/dingpiao/internal/booking/classify"
)

// Band is a uniform jitter range for one attempt tier.
type Band struct {
	Min time.Duration
	Max time.Duration
}

// Policy decides whether a firing-stage failure is retried and how long to
// back off. Delays are independently randomized so tasks contending for the
// same inventory do not retry in lockstep.
type Policy struct {
	MaxAttempts int
	Bands       []Band // indexed by attempt-1; last band covers all later attempts

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultBands widen as attempts accumulate: 100-300ms, 200-500ms, 500-1000ms.
func DefaultBands() []Band {
	return []Band{
		{Min: 100 * time.Millisecond, Max: 300 * time.Millisecond},
		{Min: 200 * time.Millisecond, Max: 500 * time.Millisecond},
		{Min: 500 * time.Millisecond, Max: 1000 * time.Millisecond},
	}
}

// NewPolicy creates a policy with the default jitter bands.
func NewPolicy(maxAttempts int) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		Bands:       DefaultBands(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the jittered backoff for the given attempt (1-indexed).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(p.Bands) {
		idx = len(p.Bands) - 1
	}
	b := p.Bands[idx]
	span := b.Max - b.Min
	if span <= 0 {
		return b.Min
	}
	p.mu.Lock()
	jitter := time.Duration(p.rng.Int63n(int64(span)))
	p.mu.Unlock()
	return b.Min + jitter
}

// Backoff returns the wait before the next attempt. Wait-then-retry
// verdicts add the classifier's category wait on top of the jitter band.
func (p *Policy) Backoff(attempt int, cat classify.Category, action classify.Action) time.Duration {
	d := p.Delay(attempt)
	if action == classify.ActionWaitThenRetry {
		d += classify.WaitFor(cat)
	}
	return d
}

// ShouldRetry reports whether another attempt may run after a failure
// classified into cat on the given attempt (1-indexed).
func (p *Policy) ShouldRetry(cat classify.Category, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return classify.Retryable(cat)
}
