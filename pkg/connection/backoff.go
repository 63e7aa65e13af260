package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Default backoff parameters.
const (
	// InitialBackoff is the first retry delay.
	InitialBackoff = 1 * time.Second

	// MaxBackoff caps the retry delay.
	MaxBackoff = 60 * time.Second

	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of base delay.
	JitterFactor = 0.25
)

// BackoffConfig holds the delay parameters of a Backoff.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// normalized fills zero values with the defaults. Jitter is only clamped:
// zero disables it.
func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	c.Jitter = min(max(c.Jitter, 0), 1)
	return c
}

// base returns the n-th delay without jitter (n starts at 0).
func (c BackoffConfig) base(n int) time.Duration {
	d := c.Initial
	for i := 0; i < n && d < c.Max; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
	}
	return min(d, c.Max)
}

// Sequence returns the delays without jitter, from Initial up to and
// including the first one that reaches Max.
func (c BackoffConfig) Sequence() []time.Duration {
	c = c.normalized()
	var seq []time.Duration
	for n := 0; ; n++ {
		d := c.base(n)
		seq = append(seq, d)
		if d >= c.Max {
			return seq
		}
	}
}

// Backoff is the retry policy of a claim set. It counts consecutive
// failures and hands out the delay before the next attempt.
//
// A set that changed while the failed attempt was in flight is retried at
// once after a single failure. Every other retry waits for the next delay of
// the sequence. Open or a new claim set resets the policy.
type Backoff struct {
	mu sync.Mutex

	config      BackoffConfig
	maxAttempts int

	failures int
	delays   int

	rng *rand.Rand
}

// NewBackoff creates a retry policy with the default delays and no attempt
// limit.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Jitter: JitterFactor}, 0)
}

// NewBackoffWithConfig creates a retry policy. maxAttempts caps consecutive
// failures of automatic retries; 0 means unlimited.
func NewBackoffWithConfig(cfg BackoffConfig, maxAttempts int) *Backoff {
	seed := uint64(time.Now().UnixNano())
	return &Backoff{
		config:      cfg.normalized(),
		maxAttempts: max(maxAttempts, 0),
		rng:         rand.New(rand.NewPCG(seed, seed>>1)),
	}
}

// Fail records a failed attempt and returns the consecutive failure count.
func (b *Backoff) Fail() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	return b.failures
}

// Failures returns the consecutive failures since the last reset.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Exhausted reports whether automatic retries have hit the attempt limit.
func (b *Backoff) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxAttempts > 0 && b.failures >= b.maxAttempts
}

// Retry returns the delay before retrying after the latest failure.
// changed reports that the retry carries a different claim set than the one
// that failed.
func (b *Backoff) Retry(changed bool) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if changed && b.failures <= 1 {
		return 0
	}
	return b.nextLocked()
}

// Next returns the next delay (with jitter) and advances the sequence.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextLocked()
}

func (b *Backoff) nextLocked() time.Duration {
	d := b.addJitter(b.config.base(b.delays))
	b.delays++
	return d
}

// Peek returns the next delay (with jitter) without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addJitter(b.config.base(b.delays))
}

// Current returns the next delay without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.base(b.delays)
}

// Delays returns the number of delays handed out since the last reset.
func (b *Backoff) Delays() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delays
}

// Reset clears the failure count and restarts the delay sequence.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.delays = 0
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.config.Jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.config.Jitter*b.rng.Float64())
}
