package planner

import "github.com/roman-dvorak/repetier-go/queue"

// updateStepsParameterFor is §4.E: turn a segment's resolved start/end
// speeds into the Bresenham-facing accel/decel step counts and advance
// start/end coefficients a stepper consumer reads directly, without
// further floating point work. Grounded on motion.cpp's
// PrintLine::updateStepsParameter, generalised from its fixed-point
// AVR squaring helpers to plain float64 arithmetic.
func updateStepsParameterFor(seg *queue.MotionSegment) {
	if seg.IsWarmUp() || seg.AreParametersUpToDate() {
		return
	}
	startFactor := seg.StartSpeed * seg.InvFullSpeed
	endFactor := seg.EndSpeed * seg.InvFullSpeed
	seg.VStart = float64(seg.VMax) * startFactor
	seg.VEnd = float64(seg.VMax) * endFactor

	vmax2 := float64(seg.VMax) * float64(seg.VMax)
	accelPrim2 := 2 * seg.AccelPrim

	accelSteps := uint32((vmax2-seg.VStart*seg.VStart)/accelPrim2) + 1
	decelSteps := uint32((vmax2-seg.VEnd*seg.VEnd)/accelPrim2) + 1

	if seg.AdvanceQuadratic != 0 {
		seg.AdvanceStart = seg.AdvanceQuadratic * startFactor * startFactor
		seg.AdvanceEnd = seg.AdvanceQuadratic * endFactor * endFactor
	}

	if accelSteps+decelSteps >= seg.StepsRemaining {
		red := (accelSteps + decelSteps + 2 - seg.StepsRemaining) >> 1
		if red < accelSteps {
			accelSteps -= red
		} else {
			accelSteps = 0
		}
		if red < decelSteps {
			decelSteps -= red
		} else {
			decelSteps = 0
		}
	}
	seg.AccelSteps = accelSteps
	seg.DecelSteps = decelSteps

	seg.Flags |= queue.FlagParamsUpToDate
}
