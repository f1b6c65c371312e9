package planner

import (
	"math"

	"github.com/roman-dvorak/repetier-go/queue"
)

// lookaheadTicksPerSlot mirrors motion.cpp's 4500*MOVE_CACHE_SIZE
// horizon: how many ticks of queued motion the backward/forward passes
// need available before they stop walking back past already-fixed
// segments.
const lookaheadTicksPerSlot = 4500

// computeMaxJunctionSpeed is §4.D.1: the maximum speed the junction
// between prev and cur can be crossed at without violating the jerk
// bound on any axis. A shared moveID (delta sibling sub-lines) skips
// the jerk computation entirely — siblings already move in the same
// direction by construction.
func computeMaxJunctionSpeed(prev, cur *queue.MotionSegment, maxJerk, maxZJerk, maxEJerk float64, isDelta bool) {
	if prev.IsWarmUp() {
		cur.SetStartSpeedFixed(true)
		return
	}
	if isDelta && prev.MoveID != 0 && prev.MoveID == cur.MoveID {
		if prev.FullSpeed > cur.FullSpeed {
			prev.MaxJunctionSpeed = cur.FullSpeed
		} else {
			prev.MaxJunctionSpeed = prev.FullSpeed
		}
		return
	}

	dx := cur.Speed[queue.AxisX] - prev.Speed[queue.AxisX]
	dy := cur.Speed[queue.AxisY] - prev.Speed[queue.AxisY]
	var jerk float64
	if isDelta {
		dz := cur.Speed[queue.AxisZ] - prev.Speed[queue.AxisZ]
		jerk = math.Sqrt(dx*dx + dy*dy + dz*dz)
	} else {
		jerk = math.Sqrt(dx*dx + dy*dy)
	}

	factor := 1.0
	if jerk > maxJerk {
		factor = maxJerk / jerk
	}
	if !isDelta && (prev.IsZMove() || cur.IsZMove()) {
		dz := math.Abs(cur.Speed[queue.AxisZ] - prev.Speed[queue.AxisZ])
		if dz > maxZJerk {
			if tmp := maxZJerk / dz; tmp < factor {
				factor = tmp
			}
		}
	}
	eJerk := math.Abs(cur.Speed[queue.AxisE] - prev.Speed[queue.AxisE])
	if eJerk > maxEJerk {
		if tmp := maxEJerk / eJerk; tmp < factor {
			factor = tmp
		}
	}
	prev.MaxJunctionSpeed = prev.FullSpeed * factor
	if prev.MaxJunctionSpeed > cur.FullSpeed {
		prev.MaxJunctionSpeed = cur.FullSpeed
	}
}

// backwardPlanner is §4.D.2: walks from p back to first, propagating
// the speed reachable by decelerating from each junction's
// MaxJunctionSpeed limit backward into the segment before it.
func backwardPlanner(r *queue.Ring, p, first int) {
	if p == first {
		return
	}
	act := r.At(p)
	lastJunctionSpeed := act.EndSpeed

	for p != first {
		p = r.Prev(p)
		prev := r.At(p)

		if prev.MoveID != 0 && prev.MoveID == act.MoveID && lastJunctionSpeed == prev.MaxJunctionSpeed {
			act.StartSpeed = lastJunctionSpeed
			prev.EndSpeed = lastJunctionSpeed
			prev.InvalidateParameters()
			act.InvalidateParameters()
		}

		prevEOnly := prev.IsEOnlyMove()
		actEOnly := act.IsEOnlyMove()
		if !prevEOnly && actEOnly {
			prev.SetEndSpeedFixed(true)
			act.SetStartSpeedFixed(true)
			return
		}
		if prev.IsEndSpeedFixed() {
			act.SetStartSpeedFixed(true)
			return
		}

		if act.Flags.Has(queue.FlagNominalReachable) {
			lastJunctionSpeed = act.FullSpeed
		} else {
			lastJunctionSpeed = math.Sqrt(lastJunctionSpeed*lastJunctionSpeed + act.Acceleration)
		}

		if lastJunctionSpeed >= prev.MaxJunctionSpeed {
			if prev.EndSpeed != prev.MaxJunctionSpeed {
				prev.InvalidateParameters()
				prev.EndSpeed = prev.MaxJunctionSpeed
			}
			if act.StartSpeed != prev.MaxJunctionSpeed {
				act.StartSpeed = prev.MaxJunctionSpeed
				act.InvalidateParameters()
			}
			lastJunctionSpeed = prev.MaxJunctionSpeed
		} else {
			act.StartSpeed = lastJunctionSpeed
			prev.EndSpeed = lastJunctionSpeed
			prev.InvalidateParameters()
			act.InvalidateParameters()
		}
		act = prev
	}
}

// forwardPlanner is §4.D.3: walks forward from first to the write
// cursor, clamping each junction's crossable speed to what is actually
// reachable given the previous junction's resolved speed, and fixing
// junctions that sit at their MaxJunctionSpeed or whose speed is capped
// by what acceleration can reach.
func forwardPlanner(r *queue.Ring, p int) {
	writePos := r.WriteIndex()
	if p == writePos {
		return
	}
	last := writePos
	next := r.At(p)
	leftSpeed := next.StartSpeed

	for p != last {
		act := next
		p = r.Next(p)
		next = r.At(p)

		if act.IsEndSpeedFixed() {
			leftSpeed = act.EndSpeed
			continue
		}

		if act.MoveID != 0 && act.MoveID == next.MoveID && act.EndSpeed == act.MaxJunctionSpeed {
			act.StartSpeed = leftSpeed
			leftSpeed = act.EndSpeed
			act.SetEndSpeedFixed(true)
			next.SetStartSpeedFixed(true)
			continue
		}

		var vmaxRight float64
		if act.Flags.Has(queue.FlagNominalReachable) {
			vmaxRight = act.FullSpeed
		} else {
			vmaxRight = math.Sqrt(leftSpeed*leftSpeed + act.Acceleration)
		}

		if vmaxRight > act.EndSpeed {
			act.StartSpeed = leftSpeed
			leftSpeed = act.EndSpeed
			if act.EndSpeed == act.MaxJunctionSpeed {
				act.SetEndSpeedFixed(true)
				next.SetStartSpeedFixed(true)
			}
			act.InvalidateParameters()
		} else {
			act.SetEndSpeedFixed(true)
			act.SetStartSpeedFixed(true)
			act.InvalidateParameters()
			act.StartSpeed = leftSpeed
			act.EndSpeed = vmaxRight
			next.StartSpeed = vmaxRight
			leftSpeed = vmaxRight
			next.SetStartSpeedFixed(true)
		}
	}
	next.StartSpeed = leftSpeed
}

// updateTrapezoids drives §4.D and §4.E for the segment just built at
// idx, before calculateMove commits it: pick the unfrozen tail, recompute the shared junction, run
// both look-ahead passes, then materialise and unblock each touched
// segment in order so a concurrently-running consumer never sees a
// half-updated trapezoid.
func (p *Planner) updateTrapezoids(idx int) {
	r := p.ring
	act := r.At(idx)

	first := idx
	maxfirst := r.HeadIndex()
	if maxfirst != idx {
		maxfirst = r.Next(maxfirst)
	}
	var timeleft int64
	horizon := int64(lookaheadTicksPerSlot) * int64(r.Cap())
	for timeleft < horizon && maxfirst != idx {
		timeleft += int64(r.At(maxfirst).TimeInTicks)
		maxfirst = r.Next(maxfirst)
	}
	for first != maxfirst && !r.At(first).IsEndSpeedFixed() {
		first = r.Prev(first)
	}
	if first != idx && r.At(first).IsEndSpeedFixed() {
		first = r.Next(first)
	}

	r.Block(first)

	previdx := r.Prev(idx)
	if r.Len() > 0 && !r.At(previdx).IsWarmUp() {
		computeMaxJunctionSpeed(r.At(previdx), act, p.maxJerk, p.maxZJerk, p.maxEJerk, p.delta != nil)
	} else {
		act.SetStartSpeedFixed(true)
	}

	backwardPlanner(r, idx, first)
	forwardPlanner(r, first)

	for {
		updateStepsParameterFor(r.At(first))
		r.Unblock(first)
		if first == idx {
			break
		}
		first = r.Next(first)
		r.Block(first)
	}
}
