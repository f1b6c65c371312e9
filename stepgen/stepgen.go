// Package stepgen adapts the move queue's materialised MotionSegments
// to the teacher's core.Stepper ABI: interval/count/add moves queued
// per axis, consumed by whichever core.StepperBackend the target wires
// in (GPIO, PIO, or stepgen/swbackend for tests). This is the §4.I
// consumer side of the ring the planner writes; it never mutates a
// segment, only reads its trapezoid and retires it once every axis
// queue has drained the segment's steps.
package stepgen

import (
	"github.com/roman-dvorak/repetier-go/core"
	"github.com/roman-dvorak/repetier-go/queue"
)

// Consumer drains MotionSegments from the ring into one core.Stepper
// per axis. A segment's steps are split across the four axis steppers
// proportionally to Delta[axis]/StepsRemaining so every axis finishes
// its share of the move in the same wall-clock time as the primary
// axis, the same approximation core.Stepper already makes by giving
// each axis its own independent (interval, count, add) queue instead
// of a single shared Bresenham counter.
type Consumer struct {
	ring  *queue.Ring
	axes  [queue.NumAxes]*core.Stepper
	onPop func(seg *queue.MotionSegment)
}

// NewConsumer builds a stepgen.Consumer over the given ring and
// per-axis steppers. axes[i] may be nil for an axis this machine does
// not drive (e.g. no extruder). onPop, if non-nil, is called once a
// segment has been fully queued to its axes and popped off the ring
// head — the planner's Tick (warmup cooldown decay) hangs off this.
func NewConsumer(ring *queue.Ring, axes [queue.NumAxes]*core.Stepper, onPop func(seg *queue.MotionSegment)) *Consumer {
	return &Consumer{ring: ring, axes: axes, onPop: onPop}
}

// DrainReady feeds every unblocked, not-yet-queued segment sitting at
// the ring head into the axis steppers, stopping at the first segment
// still blocked by the look-ahead planner or at a stepper whose queue
// has no room left for another segment's phases. It returns the number
// of segments fed.
func (c *Consumer) DrainReady() int {
	fed := 0
	for c.ring.Len() > 0 {
		idx := c.ring.HeadIndex()
		if c.ring.IsBlocked(idx) {
			break
		}
		seg := c.ring.At(idx)
		if !c.hasRoomFor(seg) {
			break
		}
		c.feed(seg)
		c.ring.PopHead()
		if c.onPop != nil {
			c.onPop(seg)
		}
		fed++
	}
	return fed
}

// hasRoomFor reports whether every axis this segment moves has enough
// free stepper-queue slots for the up to three trapezoid phases
// (accel/plateau/decel) it will contribute.
func (c *Consumer) hasRoomFor(seg *queue.MotionSegment) bool {
	for axis := 0; axis < queue.NumAxes; axis++ {
		if seg.Delta[axis] == 0 || c.axes[axis] == nil {
			continue
		}
		// QueueMove keeps one slot empty to tell full from empty.
		free := int(c.axes[axis].QueueSize()) - 1 - int(c.axes[axis].GetQueueCount())
		if free < 3 {
			return false
		}
	}
	return true
}

func (c *Consumer) feed(seg *queue.MotionSegment) {
	for axis := 0; axis < queue.NumAxes; axis++ {
		stepper := c.axes[axis]
		if stepper == nil || seg.Delta[axis] == 0 {
			continue
		}
		dir := uint8(0)
		if !seg.DirBits.Has(axis) {
			dir = 1
		}
		stepper.SetNextDir(dir)
		for _, m := range axisPhases(seg, axis) {
			if m.Count == 0 {
				continue
			}
			stepper.QueueMove(m.Interval, m.Count, m.Add)
		}
	}
}

// phase is one leg of a trapezoid: count steps at a starting interval,
// changing by add ticks per step (negative while accelerating).
type phase struct {
	Interval uint32
	Count    uint16
	Add      int16
}

// axisPhases computes this axis's share of seg's accel/plateau/decel
// trapezoid, scaling step counts and intervals by Delta[axis]/primary
// steps so every axis clears the move in the same elapsed time. The
// primary axis gets seg's own VStart/VMax/VEnd-derived intervals
// exactly; other axes are linearly rescaled.
func axisPhases(seg *queue.MotionSegment, axis int) [3]phase {
	primarySteps := seg.StepsRemaining
	axisSteps := seg.Delta[axis]
	if primarySteps == 0 || axisSteps == 0 {
		return [3]phase{}
	}
	ratio := float64(axisSteps) / float64(primarySteps)

	accelSteps := scaleSteps(seg.AccelSteps, ratio)
	decelSteps := scaleSteps(seg.DecelSteps, ratio)
	if accelSteps+decelSteps > axisSteps {
		decelSteps = axisSteps - accelSteps
	}
	plateauSteps := axisSteps - accelSteps - decelSteps

	full := ticksPerStep(float64(seg.VMax)) / ratio
	start := ticksPerStep(seg.VStart) / ratio
	end := ticksPerStep(seg.VEnd) / ratio

	var accelAdd, decelAdd int16
	if accelSteps > 0 {
		accelAdd = clampAdd((full - start) / float64(accelSteps))
	}
	if decelSteps > 0 {
		decelAdd = clampAdd((end - full) / float64(decelSteps))
	}

	return [3]phase{
		{Interval: uint32(start), Count: uint16(accelSteps), Add: accelAdd},
		{Interval: uint32(full), Count: uint16(plateauSteps), Add: 0},
		{Interval: uint32(full), Count: uint16(decelSteps), Add: decelAdd},
	}
}

func scaleSteps(primaryCount uint32, ratio float64) uint32 {
	return uint32(float64(primaryCount)*ratio + 0.5)
}

func ticksPerStep(stepsPerSec float64) float64 {
	if stepsPerSec <= 0 {
		return float64(core.TimerFreq)
	}
	return float64(core.TimerFreq) / stepsPerSec
}

func clampAdd(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
