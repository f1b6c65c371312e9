package planner

import (
	"fmt"
	"math"

	"github.com/roman-dvorak/repetier-go/core"
	"github.com/roman-dvorak/repetier-go/queue"
)

const (
	lowTicksPerMove   = 250000.0 // LOW_TICKS_PER_MOVE
	halfstepThreshold = 1999.0   // MAX_HALFSTEP_INTERVAL
	maxSubPerLine     = 22       // MAX_SUB_PER_LINE
	waitRelaxTicks    = 70
)

// insertWaitMovesIfNeeded inserts three dummy warmup segments the first
// time a move is queued after the queue has sat idle long enough for
// waitRelax to decay to zero. The look-ahead planner never touches the
// first two entries in the queue, so these give it something harmless
// to chew on while real moves accumulate.
func (p *Planner) insertWaitMovesIfNeeded(pathOptimize bool) bool {
	if p.ring.Len() != 0 || p.waitRelax != 0 || !pathOptimize {
		return false
	}
	for w := 3; w >= 1; w-- {
		seg, _ := p.reserve()
		seg.Flags = queue.FlagWarmup | queue.FlagParamsUpToDate | queue.FlagEndSpeedFixed | queue.FlagStartSpeedFixed
		seg.PrimaryAxis = w
		seg.TimeInTicks = uint32(10000 * w)
		seg.WaitTicks = seg.TimeInTicks
		p.ring.Commit()
	}
	return true
}

// Tick decays the warmup cooldown. Callers on the consumer side (the
// ambient loop or the stepgen backend) call this once per retired
// segment; motion.cpp decrements waitRelax from the stepper ISR, which
// has no Go analogue here.
func (p *Planner) Tick() {
	if p.waitRelax > 0 {
		p.waitRelax--
	}
}

func primaryAxisOf(delta [queue.NumAxes]int64) int {
	best := 0
	for i := 1; i < queue.NumAxes; i++ {
		if delta[i] > delta[best] {
			best = i
		}
	}
	return best
}

// moveDistance is the Euclidean XY(Z) length for a head move, or the
// absolute extruder delta for a pure-E move. ok is false when neither
// applies (a move with no steps at all).
func (p *Planner) moveDistance(moveBits queue.AxisBits, axisDiff [queue.NumAxes]float64) (distance float64, ok bool) {
	headMove := moveBits.Has(queue.AxisX) || moveBits.Has(queue.AxisY) || moveBits.Has(queue.AxisZ)
	switch {
	case headMove:
		xy := axisDiff[queue.AxisX]*axisDiff[queue.AxisX] + axisDiff[queue.AxisY]*axisDiff[queue.AxisY]
		if moveBits.Has(queue.AxisZ) {
			return math.Sqrt(xy + axisDiff[queue.AxisZ]*axisDiff[queue.AxisZ]), true
		}
		return math.Sqrt(xy), true
	case moveBits.Has(queue.AxisE):
		return math.Abs(axisDiff[queue.AxisE]), true
	default:
		return 0, false
	}
}

func (p *Planner) backlashChanged(dirBits queue.AxisBits) queue.AxisBits {
	var changed queue.AxisBits
	for axis := 0; axis < 3; axis++ {
		if p.backlash[axis] == 0 {
			continue
		}
		if dirBits.Has(axis) != p.backlashDir.Has(axis) {
			changed.Set(axis, true)
		}
	}
	return changed
}

// queueBacklashPrologue synthesises and commits a small move covering
// just the axes whose direction flipped, in the new direction, before
// the real move is built. Unlike motion.cpp's copy-the-line trick this
// just reserves and commits two segments in sequence — equivalent
// effect, no need to swap buffers.
func (p *Planner) queueBacklashPrologue(dirBits, changed queue.AxisBits, pathOptimize bool) {
	var backDiff [queue.NumAxes]float64
	var backDeltaAbs [queue.NumAxes]int64
	var moveBits queue.AxisBits
	for axis := 0; axis < 3; axis++ {
		if !changed.Has(axis) {
			continue
		}
		d := p.backlash[axis]
		if !dirBits.Has(axis) {
			d = -d
		}
		backDiff[axis] = d
		backDeltaAbs[axis] = int64(math.Abs(d)*p.axisStepsPerUnit[axis] + 0.5)
		if backDeltaAbs[axis] != 0 {
			moveBits.Set(axis, true)
		}
	}
	if moveBits == 0 {
		return
	}
	distance, _ := p.moveDistance(moveBits, backDiff)
	p.buildSegment(backDeltaAbs, dirBits, moveBits, backDiff, distance, primaryAxisOf(backDeltaAbs), false, pathOptimize, 0)
}

// buildSegment reserves a slot, fills its geometry fields and hands it
// to calculateMove for the kinematic/trapezoid work and commit.
func (p *Planner) buildSegment(deltaAbs [queue.NumAxes]int64, dirBits, moveBits queue.AxisBits, axisDiff [queue.NumAxes]float64, distance float64, primaryAxis int, checkEndstops, pathOptimize bool, moveID uint32) {
	seg, idx := p.reserve()
	if checkEndstops {
		seg.Flags |= queue.FlagCheckEndstops
	}
	if !pathOptimize {
		seg.SetEndSpeedFixed(true)
	}
	seg.DirBits = dirBits
	seg.MoveBits = moveBits
	for i := range deltaAbs {
		seg.Delta[i] = uint32(deltaAbs[i])
	}
	seg.PrimaryAxis = primaryAxis
	seg.StepsRemaining = uint32(deltaAbs[primaryAxis])
	seg.Distance = distance
	seg.MoveID = moveID

	p.calculateMove(seg, idx, axisDiff, checkEndstops, pathOptimize)
}

// queueLinearMove implements the §4.C Cartesian/CoreXY move path.
func (p *Planner) queueLinearMove(dest [queue.NumAxes]int64, checkEndstops, pathOptimize bool) error {
	newPath := p.insertWaitMovesIfNeeded(pathOptimize)

	var diff [queue.NumAxes]int64
	for i := range diff {
		diff[i] = dest[i] - p.currentPositionSteps[i]
	}
	actuator := p.linear.TransformSteps(diff)
	if p.extrudeMultiply != 1.0 {
		actuator[queue.AxisE] = int64(float64(actuator[queue.AxisE]) * p.extrudeMultiply)
	}

	var dirBits, moveBits queue.AxisBits
	var deltaAbs [queue.NumAxes]int64
	for i := 0; i < queue.NumAxes; i++ {
		if actuator[i] >= 0 {
			dirBits.Set(i, true)
			deltaAbs[i] = actuator[i]
		} else {
			deltaAbs[i] = -actuator[i]
		}
		if deltaAbs[i] != 0 {
			moveBits.Set(i, true)
		}
	}
	p.currentPositionSteps = dest

	if moveBits == 0 {
		if newPath {
			// No real move followed the warmup dummies: drop them so a
			// later command cannot get stuck behind fixed-speed filler.
			p.ring.EmergencyStop()
		}
		return nil
	}

	if changed := p.backlashChanged(dirBits); changed != 0 && (moveBits.Has(queue.AxisX) || moveBits.Has(queue.AxisY) || moveBits.Has(queue.AxisZ)) {
		p.queueBacklashPrologue(dirBits, changed, pathOptimize)
	}
	p.backlashDir = dirBits

	var axisDiff [queue.NumAxes]float64
	for i := range axisDiff {
		axisDiff[i] = float64(deltaAbs[i]) * p.invAxisStepsPerUnit[i]
	}

	distance, ok := p.moveDistance(moveBits, axisDiff)
	if !ok {
		return nil
	}

	p.lastMoveID++
	p.buildSegment(deltaAbs, dirBits, moveBits, axisDiff, distance, primaryAxisOf(deltaAbs), checkEndstops, pathOptimize, 0)
	return nil
}

// queueDeltaMove implements §3 invariant 3: split a delta move into
// queue entries of at most MAX_SUB_PER_LINE tower sub-segments, sharing
// a moveID so the look-ahead planner skips junction recomputation
// between siblings.
func (p *Planner) queueDeltaMove(dest [queue.NumAxes]int64, checkEndstops, pathOptimize, softEndstop bool) error {
	p.insertWaitMovesIfNeeded(pathOptimize)

	var diff [queue.NumAxes]int64
	for i := range diff {
		diff[i] = dest[i] - p.currentPositionSteps[i]
	}

	var dirBits, moveBits queue.AxisBits
	var deltaAbs [queue.NumAxes]int64
	for i := 0; i < queue.NumAxes; i++ {
		if diff[i] >= 0 {
			dirBits.Set(i, true)
			deltaAbs[i] = diff[i]
		} else {
			deltaAbs[i] = -diff[i]
		}
		if deltaAbs[i] != 0 {
			moveBits.Set(i, true)
		}
	}

	var axisDiff [queue.NumAxes]float64
	for i := range axisDiff {
		axisDiff[i] = float64(deltaAbs[i]) * p.invAxisStepsPerUnit[i]
	}

	if !(moveBits.Has(queue.AxisX) || moveBits.Has(queue.AxisY) || moveBits.Has(queue.AxisZ)) {
		distance, ok := p.moveDistance(moveBits, axisDiff)
		if !ok {
			p.currentPositionSteps = dest
			return nil
		}
		p.lastMoveID++
		p.buildSegment(deltaAbs, dirBits, moveBits, axisDiff, distance, queue.AxisE, checkEndstops, pathOptimize, 0)
		p.currentPositionSteps = dest
		return nil
	}

	distance, ok := p.moveDistance(moveBits, axisDiff)
	if !ok {
		p.currentPositionSteps = dest
		return nil
	}

	segPerSec := p.cfg.DeltaSegmentsPerSecondTravel
	if moveBits.Has(queue.AxisE) && dirBits.Has(queue.AxisE) {
		segPerSec = p.cfg.DeltaSegmentsPerSecondPrint
	}
	seconds := distance / p.feedrate
	segmentCount := int(segPerSec * seconds)
	if segmentCount < 1 {
		segmentCount = 1
	}
	numLines := (segmentCount + maxSubPerLine - 1) / maxSubPerLine
	if numLines < 1 {
		numLines = 1
	}
	segmentsPerLine := segmentCount / numLines
	if segmentsPerLine < 1 {
		segmentsPerLine = 1
	}

	p.lastMoveID++
	moveID := p.lastMoveID

	start := p.currentPositionSteps
	for line := 1; line <= numLines; line++ {
		lineDest := start
		for i := 0; i < queue.NumAxes; i++ {
			lineDest[i] = start[i] + diff[i]*int64(line)/int64(numLines)
		}
		var fracDiff [queue.NumAxes]int64
		for i := range fracDiff {
			fracDiff[i] = lineDest[i] - p.currentPositionSteps[i]
		}

		var lDir, lMove queue.AxisBits
		var lDeltaAbs [queue.NumAxes]int64
		for i := 0; i < queue.NumAxes; i++ {
			if fracDiff[i] >= 0 {
				lDir.Set(i, true)
				lDeltaAbs[i] = fracDiff[i]
			} else {
				lDeltaAbs[i] = -fracDiff[i]
			}
			if lDeltaAbs[i] != 0 {
				lMove.Set(i, true)
			}
		}
		var lAxisDiff [queue.NumAxes]float64
		for i := range lAxisDiff {
			lAxisDiff[i] = float64(lDeltaAbs[i]) * p.invAxisStepsPerUnit[i]
		}
		lDistance, _ := p.moveDistance(lMove, lAxisDiff)

		subStart := p.ring.AllocateSubSegments(segmentsPerLine)
		maxTowerDelta, err := p.fillDeltaSubSegments(subStart, segmentsPerLine, p.currentPositionSteps, lineDest)
		if err != nil {
			return err
		}

		virtualAxisMove := maxTowerDelta * int64(segmentsPerLine)
		var stepsRemaining int64
		var primaryStepsPerSub uint32
		if virtualAxisMove > lDeltaAbs[queue.AxisE] {
			stepsRemaining = virtualAxisMove
			primaryStepsPerSub = uint32(maxTowerDelta)
		} else {
			primaryStepsPerSub = uint32((lDeltaAbs[queue.AxisE] + int64(segmentsPerLine) - 1) / int64(segmentsPerLine))
			stepsRemaining = int64(primaryStepsPerSub) * int64(segmentsPerLine)
		}
		if stepsRemaining == 0 {
			p.currentPositionSteps = lineDest
			continue
		}

		seg, idx := p.reserve()
		if checkEndstops {
			seg.Flags |= queue.FlagCheckEndstops
		}
		if line == numLines && !pathOptimize {
			seg.SetEndSpeedFixed(true)
		}
		seg.DirBits = lDir
		seg.MoveBits = lMove
		for i := range lDeltaAbs {
			seg.Delta[i] = uint32(lDeltaAbs[i])
		}
		// The virtual segment-count axis leads Bresenham either way;
		// its error seed rides in the extruder error slot per
		// queue.MotionSegment's doc comment on Error[3].
		seg.PrimaryAxis = queue.AxisE
		seg.StepsRemaining = uint32(stepsRemaining)
		seg.Distance = lDistance
		seg.MoveID = moveID
		seg.NumSubSegments = segmentsPerLine
		seg.SubSegmentReadPos = subStart
		seg.PrimaryStepsPerSub = primaryStepsPerSub

		p.calculateMove(seg, idx, lAxisDiff, checkEndstops, pathOptimize)
		p.currentPositionSteps = lineDest

		// Service ambient every few lines so a long delta split doesn't
		// starve the serial command stream for the whole expansion,
		// matching motion.cpp's arc() periodic readFromSerial()/
		// check_periodical() and PlanArc's analogous per-chord call.
		if line&4 == 0 {
			p.service()
		}
	}
	return nil
}

// fillDeltaSubSegments fills n consecutive DeltaSubSegment slots with
// the per-tower step deltas of n equal Cartesian subdivisions of the
// from->to move, tracking absolute tower position in
// currentTowerSteps. Tower resolution is assumed equal to the
// configured Z axis' steps/mm, the common case for delta printers
// where all three towers share one leadscrew/belt pitch.
func (p *Planner) fillDeltaSubSegments(subStart, n int, fromSteps, toSteps [queue.NumAxes]int64) (int64, error) {
	stepsPerMM := p.axisStepsPerUnit[queue.AxisZ]
	var maxDelta int64
	for s := 1; s <= n; s++ {
		cx := fromSteps[queue.AxisX] + (toSteps[queue.AxisX]-fromSteps[queue.AxisX])*int64(s)/int64(n)
		cy := fromSteps[queue.AxisY] + (toSteps[queue.AxisY]-fromSteps[queue.AxisY])*int64(s)/int64(n)
		cz := fromSteps[queue.AxisZ] + (toSteps[queue.AxisZ]-fromSteps[queue.AxisZ])*int64(s)/int64(n)
		x := float64(cx) * p.invAxisStepsPerUnit[queue.AxisX]
		y := float64(cy) * p.invAxisStepsPerUnit[queue.AxisY]
		z := float64(cz) * p.invAxisStepsPerUnit[queue.AxisZ]

		a, b, c, err := p.delta.TowerHeights(x, y, z)
		if err != nil {
			return 0, fmt.Errorf("planner: unreachable position (%.2f,%.2f,%.2f): %w", x, y, z, err)
		}
		towerSteps := [3]int64{
			int64(a*stepsPerMM + signRound(a)),
			int64(b*stepsPerMM + signRound(b)),
			int64(c*stepsPerMM + signRound(c)),
		}
		sub := p.ring.SubAt(subStart + s - 1)
		var dir queue.AxisBits
		for t := 0; t < 3; t++ {
			d := towerSteps[t] - p.currentTowerSteps[t]
			if d >= 0 {
				dir.Set(t, true)
			} else {
				d = -d
			}
			if d > maxDelta {
				maxDelta = d
			}
			sub.Steps[t] = uint16(d)
			p.currentTowerSteps[t] = towerSteps[t]
		}
		sub.DirBits = dir
	}
	return maxDelta, nil
}

// calculateMove is §4.C.1: derives intervals, speeds, the acceleration
// clamp and halfstep selection for a segment whose geometry fields are
// already filled in, then hands off to the look-ahead planner and
// commits the segment.
func (p *Planner) calculateMove(seg *queue.MotionSegment, idx int, axisDiff [queue.NumAxes]float64, checkEndstops, pathOptimize bool) {
	const f = float64(core.TimerFreq)

	timeForMove := f * seg.Distance / p.feedrate
	critical := false
	queueLen := p.ring.Len()
	if queueLen < p.cfg.Queue.MoveCacheLow && timeForMove < lowTicksPerMove {
		timeForMove += (3 * (lowTicksPerMove - timeForMove)) / float64(queueLen+1)
		critical = true
	}
	seg.TimeInTicks = uint32(timeForMove)

	stepsRemaining := float64(seg.StepsRemaining)
	isPrintMove := seg.IsEPositiveMove()

	limitInterval := timeForMove / stepsRemaining
	var axisInterval [queue.NumAxes]float64
	for i := 0; i < queue.NumAxes; i++ {
		if i == queue.AxisZ && !seg.IsZMove() {
			continue
		}
		maxFeed := p.maxFeedrateFor(i, isPrintMove)
		ai := axisDiff[i] * f / (maxFeed * stepsRemaining)
		axisInterval[i] = ai
		if ai > limitInterval {
			limitInterval = ai
		}
	}

	fullInterval := limitInterval
	if fullInterval < 200 {
		fullInterval = 200
	}
	seg.FullInterval = uint32(fullInterval)

	timeForMove = fullInterval * stepsRemaining
	invTimeS := f / timeForMove

	for i := 0; i < queue.NumAxes; i++ {
		if !seg.MoveBits.Has(i) {
			seg.Speed[i] = 0
			continue
		}
		sp := axisDiff[i] * invTimeS
		if !seg.DirBits.Has(i) {
			sp = -sp
		}
		seg.Speed[i] = sp
	}
	seg.FullSpeed = seg.Distance * invTimeS
	seg.InvFullSpeed = 1.0 / seg.FullSpeed
	seg.VMax = uint32(f / fullInterval)

	slowestPlateauRepro := math.MaxFloat64
	for i := 0; i < queue.NumAxes; i++ {
		if !seg.MoveBits.Has(i) {
			continue
		}
		v := axisInterval[i] * p.accelStepsPerSec2(i, isPrintMove)
		if v < slowestPlateauRepro {
			slowestPlateauRepro = v
		}
	}
	var primaryInterval float64
	if seg.NumSubSegments > 0 {
		// Delta virtual-axis segment: PrimaryAxis==AxisE here only
		// because the Bresenham error seed rides in the extruder slot
		// (see queue.MotionSegment's Error doc comment); the synthetic
		// tower/segment-count leader has no axisInterval slot of its
		// own and must not be aliased onto the real E axis's interval,
		// which is independently nonzero whenever the move also
		// extrudes. It always runs in lockstep with fullInterval.
		primaryInterval = fullInterval
	} else {
		primaryInterval = axisInterval[seg.PrimaryAxis]
		if primaryInterval == 0 {
			primaryInterval = fullInterval
		}
	}
	seg.AccelPrim = slowestPlateauRepro / primaryInterval
	seg.Acceleration = 2.0 * seg.Distance * slowestPlateauRepro * seg.FullSpeed / f

	seg.StartSpeed = p.safeSpeed(seg)
	seg.EndSpeed = seg.StartSpeed
	if math.Sqrt(seg.StartSpeed*seg.StartSpeed+seg.Acceleration) >= seg.FullSpeed {
		seg.Flags |= queue.FlagNominalReachable
	}

	p.computeAdvance(seg)

	primarySteps := int64(seg.Delta[seg.PrimaryAxis])
	if seg.NumSubSegments > 0 {
		// Delta virtual-axis segment: the Bresenham driver steps against
		// the sub-segment count, not a real per-axis delta.
		primarySteps = int64(seg.StepsRemaining)
	}
	if fullInterval < halfstepThreshold || critical {
		seg.Flags &^= queue.FlagHalfstepMode
		half := primarySteps >> 1
		for i := range seg.Error {
			seg.Error[i] = half
		}
	} else {
		seg.Flags |= queue.FlagHalfstepMode
		for i := range seg.Error {
			seg.Error[i] = primarySteps
		}
	}
	if critical {
		seg.Flags |= queue.FlagCritical
	}

	p.updateTrapezoids(idx)

	p.ring.Commit()
	if pathOptimize {
		p.waitRelax = waitRelaxTicks
	}
}

func (p *Planner) maxFeedrateFor(axis int, isPrintMove bool) float64 {
	if isPrintMove {
		return p.maxFeedratePrint[axis]
	}
	return p.maxFeedrateTravel[axis]
}

func (p *Planner) accelStepsPerSec2(axis int, isPrintMove bool) float64 {
	accel := p.maxAccelTravel[axis]
	if isPrintMove {
		accel = p.maxAccelPrint[axis]
	}
	return accel * p.axisStepsPerUnit[axis]
}

// computeAdvance fills the extruder pressure-advance feed-forward
// fields. Advance only applies to head moves that extrude forward —
// retractions and pure-E moves disable it, matching motion.cpp's
// `(dir&112)==0 || (dir&128)==0 || (dir&8)==0` guard.
func (p *Planner) computeAdvance(seg *queue.MotionSegment) {
	headMove := seg.IsXMove() || seg.IsYMove() || seg.IsZMove()
	if !headMove || !seg.IsEMove() || !seg.DirBits.Has(queue.AxisE) {
		seg.AdvanceLinear = 0
		seg.AdvanceQuadratic = 0
		seg.AdvanceRate = 0
		return
	}
	speedE := math.Abs(seg.Speed[queue.AxisE])
	advLin := speedE * p.cfg.Advance.Linear * 0.001 * p.axisStepsPerUnit[queue.AxisE]
	seg.AdvanceLinear = (65536 * advLin) / float64(seg.VMax)

	if p.cfg.Advance.Quadratic != 0 {
		advFull := 65536 * p.cfg.Advance.Quadratic * speedE * speedE
		vmax2 := float64(seg.VMax) * float64(seg.VMax)
		steps := vmax2 / (2 * seg.AccelPrim)
		seg.AdvanceQuadratic = advFull
		if steps != 0 {
			seg.AdvanceRate = advFull / steps
		}
	}
}

// safeSpeed is §4.C.2: the start/end speed crossable with zero
// look-ahead planning.
func (p *Planner) safeSpeed(seg *queue.MotionSegment) float64 {
	safe := math.Min(seg.FullSpeed, math.Max(p.cfg.MinSpeed, p.maxJerk*0.5))

	if p.delta == nil && seg.IsZMove() {
		if vz := math.Abs(seg.Speed[queue.AxisZ]); vz > p.maxZJerk*0.5 {
			if safe2 := p.maxZJerk * 0.5 * seg.FullSpeed / vz; safe2 < safe {
				safe = safe2
			}
		}
	}
	if seg.IsEMove() {
		if seg.IsXMove() || seg.IsYMove() || seg.IsZMove() {
			if ve := math.Abs(seg.Speed[queue.AxisE]); ve > 0 {
				if safe2 := 0.5 * p.maxEJerk * seg.FullSpeed / ve; safe2 < safe {
					safe = safe2
				}
			}
		} else {
			safe = 0.5 * p.maxEJerk
		}
	}
	if safe > seg.FullSpeed {
		safe = seg.FullSpeed
	}
	return safe
}
