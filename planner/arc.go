package planner

import (
	"math"

	"github.com/roman-dvorak/repetier-go/queue"
)

const (
	mmPerArcSegment    = 1.0
	mmPerArcSegmentBig = 5.0
	arcCorrectionCount = 25 // N_ARC_CORRECTION
)

// PlanArc expands a circular arc in the XY plane into a sequence of
// short chords submitted through the ordinary move pipeline, one per
// chord. offset is the vector from the arc's current XY position to
// its center (the classic G2/G3 I/J pair); target is the XY endpoint
// in mm; eTarget is the absolute extruder destination in mm. Z is held
// constant across the arc, matching motion.cpp's PrintLine::arc (its
// axis_linear interpolation is permanently disabled there too).
//
// A fixed small-angle rotation matrix advances the radius vector by
// thetaPerSegment each chord; an exact trigonometric recomputation
// every arcCorrectionCount chords bounds the drift that approximation
// accumulates.
func (p *Planner) PlanArc(target [2]float64, offset [2]float64, clockwise bool, eTarget float64, checkEndstops bool) error {
	cur := p.currentPositionSteps
	startX := float64(cur[queue.AxisX]) * p.invAxisStepsPerUnit[queue.AxisX]
	startY := float64(cur[queue.AxisY]) * p.invAxisStepsPerUnit[queue.AxisY]
	startE := float64(cur[queue.AxisE]) * p.invAxisStepsPerUnit[queue.AxisE]

	centerX := startX + offset[0]
	centerY := startY + offset[1]

	radius := math.Hypot(offset[0], offset[1])
	rAxis0 := -offset[0]
	rAxis1 := -offset[1]
	rtAxis0 := target[0] - centerX
	rtAxis1 := target[1] - centerY

	angularTravel := math.Atan2(rAxis0*rtAxis1-rAxis1*rtAxis0, rAxis0*rtAxis0+rAxis1*rtAxis1)
	if angularTravel < 0 {
		angularTravel += 2 * math.Pi
	}
	if clockwise {
		angularTravel -= 2 * math.Pi
	}

	travel := math.Abs(angularTravel) * radius
	if travel < 0.001 {
		return nil
	}

	var segments int
	if p.feedrate > 60 {
		step := math.Min(mmPerArcSegmentBig, p.feedrate*0.01666*mmPerArcSegment)
		segments = int(math.Floor(travel / step))
	} else {
		segments = int(math.Floor(travel / mmPerArcSegment))
	}
	if segments == 0 {
		segments = 1
	}

	thetaPerSegment := angularTravel / float64(segments)
	extruderPerSegment := (eTarget - startE) / float64(segments)

	cosT := 1 - 0.5*thetaPerSegment*thetaPerSegment // small angle approximation
	sinT := thetaPerSegment

	e := startE
	count := 0
	for i := 1; i < segments; i++ {
		if count < arcCorrectionCount {
			rAxisI := rAxis0*sinT + rAxis1*cosT
			rAxis0 = rAxis0*cosT - rAxis1*sinT
			rAxis1 = rAxisI
			count++
		} else {
			cosTi := math.Cos(float64(i) * thetaPerSegment)
			sinTi := math.Sin(float64(i) * thetaPerSegment)
			rAxis0 = -offset[0]*cosTi + offset[1]*sinTi
			rAxis1 = -offset[0]*sinTi - offset[1]*cosTi
			count = 0
		}

		e += extruderPerSegment
		chord := [2]float64{centerX + rAxis0, centerY + rAxis1}
		if err := p.planArcChord(chord, e, checkEndstops); err != nil {
			return err
		}

		// Service ambient every few chords so a long arc doesn't starve
		// the serial command stream for the whole expansion, matching
		// motion.cpp's arc() periodic readFromSerial()/check_periodical().
		if i&4 == 0 {
			p.service()
		}
	}

	return p.planArcChord(target, eTarget, checkEndstops)
}

func (p *Planner) planArcChord(xy [2]float64, e float64, checkEndstops bool) error {
	z := float64(p.currentPositionSteps[queue.AxisZ]) * p.invAxisStepsPerUnit[queue.AxisZ]
	dest := [queue.NumAxes]float64{xy[0], xy[1], z, e}
	return p.PlanMove(dest, p.feedrate, checkEndstops, true)
}
