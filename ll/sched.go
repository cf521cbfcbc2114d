package ll

import (
	"sync"

	"github.com/pkg/errors"
)

// SchedType identifies what a schedule item drives.
type SchedType uint8

const (
	SchedTypeAdv SchedType = iota
	SchedTypeScan
	SchedTypeConn
)

// SchedState is the token a schedule callback returns: whether the
// radio operation is still running (the scheduler must not advance) or
// finished.
type SchedState uint8

const (
	SchedDone SchedState = iota
	SchedRunning
)

// Priority ordering: committed connection events outrank advertising
// and scanning windows.
func (t SchedType) prio() int {
	if t == SchedTypeConn {
		return 1
	}
	return 0
}

// SchedItem is one time-windowed radio reservation. End upper-bounds
// the worst-case on-air time including the T_IFS turnaround reply.
type SchedItem struct {
	Start Ticks
	End   Ticks
	Type  SchedType

	// Cb runs from interrupt-equivalent context when the item becomes
	// due. It receives the item itself and returns whether the radio
	// operation is still in flight.
	Cb func(*SchedItem) SchedState

	// Arg is the owning state machine.
	Arg interface{}

	enqueued bool
}

// SchedStats counts scheduler degradations.
type SchedStats struct {
	LateStarts uint32
	Overlaps   uint32
	Removed    uint32
}

var (
	errSchedOverlap = errors.New("ll: schedule overlap")
	errSchedNoSlot  = errors.New("ll: no schedule slot available")
)

// Scheduler keeps the time-ordered set of radio reservations and
// dispatches the due one. Schedule/Remove/Reschedule may be called
// from task context; Run fires from the radio's interrupt context.
type Scheduler struct {
	mu      sync.Mutex
	items   []*SchedItem
	current *SchedItem
	clock   Clock

	stats SchedStats
}

func NewScheduler(c Clock) *Scheduler {
	return &Scheduler{clock: c}
}

func overlaps(a, b *SchedItem) bool {
	return TicksBefore(a.Start, b.End) && TicksBefore(b.Start, a.End)
}

// Schedule inserts an item in start-time order. It fails if the window
// overlaps an already-committed item of equal or higher priority;
// lower-priority items in the way are evicted. Inserting an item whose
// start has already passed succeeds; the late start is counted and the
// callback is expected to abort cleanly.
func (s *Scheduler) Schedule(it *SchedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(it)
}

func (s *Scheduler) scheduleLocked(it *SchedItem) error {
	if it.enqueued {
		return errors.New("ll: item already scheduled")
	}
	if !TicksBefore(it.Start, it.End) {
		return errors.New("ll: empty schedule window")
	}

	for _, o := range s.items {
		if !overlaps(it, o) {
			continue
		}
		if o.Type.prio() >= it.Type.prio() {
			s.stats.Overlaps++
			return errSchedOverlap
		}
	}
	// evict anything lower priority in the way
	kept := s.items[:0]
	for _, o := range s.items {
		if overlaps(it, o) && o.Type.prio() < it.Type.prio() {
			o.enqueued = false
			s.stats.Removed++
			continue
		}
		kept = append(kept, o)
	}
	s.items = kept

	if TicksBefore(it.Start, s.clock.Now()) {
		s.stats.LateStarts++
	}

	pos := len(s.items)
	for i, o := range s.items {
		if TicksBefore(it.Start, o.Start) {
			pos = i
			break
		}
	}
	s.items = append(s.items, nil)
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = it
	it.enqueued = true
	return nil
}

// Remove takes an item out of the schedule. Removing an item that has
// already fired or was never scheduled is a no-op.
func (s *Scheduler) Remove(it *SchedItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(it)
}

func (s *Scheduler) removeLocked(it *SchedItem) {
	if s.current == it {
		s.current = nil
	}
	if !it.enqueued {
		return
	}
	for i, o := range s.items {
		if o == it {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	it.enqueued = false
}

// Reschedule re-inserts an item whose timing must shift, advancing the
// window by step until it fits. It fails if no slot is found within
// maxTries advances.
func (s *Scheduler) Reschedule(it *SchedItem, step Ticks, maxTries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(it)
	dur := it.End - it.Start
	for i := 0; i <= maxTries; i++ {
		if err := s.scheduleLocked(it); err == nil {
			return nil
		}
		it.Start += step
		it.End = it.Start + dur
	}
	return errSchedNoSlot
}

// Run pops the next due item and invokes its callback. Called from the
// radio/timer interrupt boundary. While a callback reports
// SchedRunning the scheduler does not advance; ItemDone releases it.
func (s *Scheduler) Run(now Ticks) {
	for {
		s.mu.Lock()
		if s.current != nil || len(s.items) == 0 || TicksBefore(now, s.items[0].Start) {
			s.mu.Unlock()
			return
		}
		it := s.items[0]
		s.items = s.items[1:]
		it.enqueued = false
		s.current = it
		s.mu.Unlock()

		if it.Cb == nil {
			s.ItemDone(it)
			continue
		}
		if it.Cb(it) == SchedRunning {
			return
		}
		s.ItemDone(it)
	}
}

// ItemDone clears the in-flight item so the next one may be
// considered. Idempotent.
func (s *Scheduler) ItemDone(it *SchedItem) {
	s.mu.Lock()
	if s.current == it {
		s.current = nil
	}
	s.mu.Unlock()
}

// NextWakeup returns the start of the earliest pending item.
func (s *Scheduler) NextWakeup() (Ticks, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return 0, false
	}
	return s.items[0].Start, true
}

// Stats returns a copy of the degradation counters.
func (s *Scheduler) Stats() SchedStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
