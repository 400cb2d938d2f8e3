package resilience

import "sync"

// StreakBreaker trips after a configured number of consecutive
// failures. The harvest loop feeds it one result per identifier and
// stops scanning once it trips: a long run of not-found identifiers
// means the rest of the range is almost certainly dead. Unlike a
// service circuit breaker there is no half-open recovery; a tripped
// breaker stays tripped until Reset.
type StreakBreaker struct {
	mu        sync.Mutex
	threshold int
	count     int
	tripped   bool
}

// NewStreakBreaker creates a breaker tripping at threshold consecutive
// failures. Threshold defaults to 100 when not positive.
func NewStreakBreaker(threshold int) *StreakBreaker {
	if threshold <= 0 {
		threshold = 100
	}
	return &StreakBreaker{threshold: threshold}
}

// Fail records one failed identifier and reports whether the breaker
// has tripped.
func (b *StreakBreaker) Fail() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	if b.count >= b.threshold {
		b.tripped = true
	}
	return b.tripped
}

// Success records one successful identifier, resetting the streak.
func (b *StreakBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = 0
}

// Tripped reports whether the breaker has tripped.
func (b *StreakBreaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Count returns the current consecutive-failure count.
func (b *StreakBreaker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Reset clears the streak and the tripped state.
func (b *StreakBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = 0
	b.tripped = false
}
