package testutil

import (
	"fmt"
	"sync"
	"time"

	"modtool-go/internal/modtool"
)

// StubClock returns a settable time for deterministic export records.
// Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ modtool.Clock = (*StubClock)(nil)

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2025-03-01 09:00:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator returns sequential job IDs: "job-1", "job-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

var _ modtool.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("job-%d", g.counter)
}
