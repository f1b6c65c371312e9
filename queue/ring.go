package queue

import (
	"sync/atomic"

	"github.com/roman-dvorak/repetier-go/core"
)

// Ring is the fixed-capacity move queue of spec.md §4.B: a producer
// (the planner, writing at Write) and a consumer (the stepper,
// reading at Head) share it through an atomic count and a per-segment
// Blocked flag. Capacity is fixed at construction; there is no
// reallocation and no dynamic memory after NewRing returns.
type Ring struct {
	segs []MotionSegment
	cap  int
	mask int // cap-1 when cap is a power of two, else -1

	write int
	head  int
	count atomic.Int32

	subs     []DeltaSubSegment
	subCap   int
	subWrite int
}

// NewRing allocates a ring of the given capacity and a delta
// sub-segment ring sized for subCapacity entries. subCapacity may be 0
// for non-delta machines.
func NewRing(capacity, subCapacity int) *Ring {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}
	r := &Ring{
		segs: make([]MotionSegment, capacity),
		cap:  capacity,
		mask: -1,
	}
	if capacity&(capacity-1) == 0 {
		r.mask = capacity - 1
	}
	if subCapacity > 0 {
		r.subs = make([]DeltaSubSegment, subCapacity)
		r.subCap = subCapacity
	}
	return r
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int { return r.cap }

// Len returns the current number of committed, unretired segments.
func (r *Ring) Len() int { return int(r.count.Load()) }

func (r *Ring) next(i int) int {
	if r.mask >= 0 {
		return (i + 1) & r.mask
	}
	return (i + 1) % r.cap
}

func (r *Ring) prev(i int) int {
	if i == 0 {
		return r.cap - 1
	}
	return i - 1
}

// Next and Prev expose the wrap arithmetic to the look-ahead planner's
// backward/forward index walks.
func (r *Ring) Next(idx int) int { return r.next(idx) }
func (r *Ring) Prev(idx int) int { return r.prev(idx) }

// At returns a pointer to the segment at the given ring index.
func (r *Ring) At(idx int) *MotionSegment { return &r.segs[idx] }

// WriteIndex is the slot the next Reserve will hand out.
func (r *Ring) WriteIndex() int { return r.write }

// HeadIndex is the slot the stepper is consuming (or will consume next).
func (r *Ring) HeadIndex() int { return r.head }

// Reserve spins while the ring is full, cooperatively yielding to
// ambientService (serial read + periodic maintenance) on every
// iteration, then hands back the slot at Write with its fields
// cleared. The caller must eventually call Commit or the slot leaks
// look-ahead horizon (it is still not visible to the stepper, so this
// cannot corrupt state, only starve the planner).
func (r *Ring) Reserve(ambientService func()) *MotionSegment {
	for r.Len() >= r.cap {
		if ambientService != nil {
			ambientService()
		}
	}
	seg := &r.segs[r.write]
	seg.reset()
	return seg
}

// Commit makes the segment at Write visible to the stepper: advances
// Write and increments count. The interrupt guard here stands in for
// the release fence spec.md §5(c) requires on weakly-ordered hosts.
func (r *Ring) Commit() {
	st := core.EnterCritical()
	r.write = r.next(r.write)
	r.count.Add(1)
	core.ExitCritical(st)
}

// PeekHead returns the segment the stepper should execute next, or nil
// if the queue is empty.
func (r *Ring) PeekHead() *MotionSegment {
	if r.Len() == 0 {
		return nil
	}
	return &r.segs[r.head]
}

// PopHead retires the head segment once the stepper has finished it:
// advances Head and decrements count (the acquire-ordering side of
// spec.md §5(c)).
func (r *Ring) PopHead() {
	if r.Len() == 0 {
		return
	}
	st := core.EnterCritical()
	r.head = r.next(r.head)
	r.count.Add(-1)
	core.ExitCritical(st)
}

// Block marks the segment at idx busy so the stepper idles rather than
// advancing into it while the planner is mutating it.
func (r *Ring) Block(idx int) {
	st := core.EnterCritical()
	r.segs[idx].Flags |= FlagBlocked
	core.ExitCritical(st)
}

// Unblock clears the busy flag set by Block.
func (r *Ring) Unblock(idx int) {
	st := core.EnterCritical()
	r.segs[idx].Flags &^= FlagBlocked
	core.ExitCritical(st)
}

// IsBlocked reports whether the segment at idx is currently blocked.
func (r *Ring) IsBlocked(idx int) bool {
	return r.segs[idx].Flags.Has(FlagBlocked)
}

// EmergencyStop clears the queue immediately. No attempt is made to
// recover in-flight geometry; callers disable motor enables separately.
func (r *Ring) EmergencyStop() {
	st := core.EnterCritical()
	r.head = r.write
	r.count.Store(0)
	core.ExitCritical(st)
}

// SubCap returns the delta sub-segment ring's capacity.
func (r *Ring) SubCap() int { return r.subCap }

// SubAt returns the sub-segment at the given absolute index (wrapped
// modulo SubCap).
func (r *Ring) SubAt(idx int) *DeltaSubSegment {
	return &r.subs[idx%r.subCap]
}

// AllocateSubSegments reserves n contiguous (mod SubCap) slots in the
// delta sub-segment ring and returns the start index. The caller is
// responsible for ensuring n does not exceed SubCap and that slots
// still in use by the stepper are not overrun — in practice this holds
// because a segment's sub-segment run is only allocated once per
// Reserve, bounded by MaxSubPerLine, and SubCap is sized by the
// builder for CACHE_SIZE*MaxSubPerLine.
func (r *Ring) AllocateSubSegments(n int) int {
	start := r.subWrite
	r.subWrite = (r.subWrite + n) % r.subCap
	return start
}
