package ll

import (
	"sync/atomic"
	"time"
)

// Ticks is a point in the monotonic hardware time base, in microseconds.
// The counter wraps; comparisons must go through TicksBefore/TicksDiff.
type Ticks uint32

// Protocol time units, in microseconds.
const (
	AdvItvlUnitUsecs  = 625   // advertising interval unit [Vol 6, Part B, 4.4.2.2]
	ConnItvlUnitUsecs = 1250  // connection interval unit
	SpvnTmoUnitUsecs  = 10000 // supervision timeout unit
	ScanItvlUnitUsecs = 625   // scan interval/window unit

	// T_IFS, the inter frame space between a received request and its reply.
	IFSUsecs = 150
)

// TicksBefore reports whether a occurs before b, wraparound safe.
func TicksBefore(a, b Ticks) bool {
	return int32(a-b) < 0
}

// TicksDiff returns a-b as a signed count of microseconds.
func TicksDiff(a, b Ticks) int32 {
	return int32(a - b)
}

// Clock is the monotonic time source the controller schedules against.
// The hardware build backs it with the radio's timer; tests drive it
// by hand.
type Clock interface {
	Now() Ticks
}

// WallClock is a Clock backed by the Go runtime's monotonic clock.
type WallClock struct{}

func (WallClock) Now() Ticks {
	return Ticks(time.Now().UnixNano() / 1000)
}

// ManualClock is a hand-driven Clock for tests.
type ManualClock struct {
	t uint32
}

func (c *ManualClock) Now() Ticks {
	return Ticks(atomic.LoadUint32(&c.t))
}

// Advance moves the clock forward by d microseconds.
func (c *ManualClock) Advance(d uint32) {
	atomic.AddUint32(&c.t, d)
}

// Set jumps the clock to an absolute tick value.
func (c *ManualClock) Set(t Ticks) {
	atomic.StoreUint32(&c.t, uint32(t))
}
