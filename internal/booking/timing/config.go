package timing

import "time"

// RefreshTier maps remaining time until release to a refresh interval.
// Refreshes get more frequent as the deadline approaches.
type RefreshTier struct {
	Above    time.Duration // tier applies while remaining > Above
	Interval time.Duration
}

// Config holds the pre-warm cadence and fire-countdown policy constants.
type Config struct {
	// Tiers in descending Above order; the first tier whose Above bound the
	// remaining time exceeds decides the refresh interval.
	Tiers []RefreshTier

	// CountdownAt is the remaining time below which refreshing stops and
	// the fine-grained countdown begins.
	CountdownAt time.Duration

	// CoarseWindow is how close to the target the countdown switches from
	// one coarse sleep to shrinking increments.
	CoarseWindow time.Duration

	// FinePoll is the terminal polling step as remaining approaches zero.
	FinePoll time.Duration

	// OvershootTolerance bounds how late the countdown may return.
	OvershootTolerance time.Duration
}

// DefaultConfig returns the default cadence policy:
// >120s: refresh every 30s; >60s: 15s; >10s: 5s; ≤10s: countdown.
func DefaultConfig() Config {
	return Config{
		Tiers: []RefreshTier{
			{Above: 120 * time.Second, Interval: 30 * time.Second},
			{Above: 60 * time.Second, Interval: 15 * time.Second},
			{Above: 10 * time.Second, Interval: 5 * time.Second},
		},
		CountdownAt:        10 * time.Second,
		CoarseWindow:       3 * time.Second,
		FinePoll:           10 * time.Millisecond,
		OvershootTolerance: 50 * time.Millisecond,
	}
}

// RefreshInterval returns the refresh interval for the remaining time, or
// countdown=true when refreshing should stop in favor of the countdown.
func (c Config) RefreshInterval(remaining time.Duration) (interval time.Duration, countdown bool) {
	for _, tier := range c.Tiers {
		if remaining > tier.Above {
			return tier.Interval, false
		}
	}
	return 0, true
}
