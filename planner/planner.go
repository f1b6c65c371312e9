// Package planner implements the look-ahead trapezoidal motion planner:
// segment building (§4.C), junction-speed look-ahead (§4.D), trapezoid
// materialisation (§4.E) and arc expansion (§4.F). Grounded on
// original_source/src/ArduinoAVR/Repetier/motion.cpp, translated from
// its fixed-point AVR arithmetic to plain float64 host arithmetic, and
// adapted to the teacher's struct-based Planner shape.
package planner

import (
	"fmt"

	"github.com/roman-dvorak/repetier-go/config"
	"github.com/roman-dvorak/repetier-go/kinematics"
	"github.com/roman-dvorak/repetier-go/queue"
)

// Planner is the single-producer side of the move queue: it turns
// Cartesian moves into materialised MotionSegments and hands them to
// the ring for the stepper consumer to drain.
type Planner struct {
	cfg  *config.Config
	ring *queue.Ring

	linear kinematics.Linear // set for cartesian/corexy machines
	delta  kinematics.Delta  // set for delta machines

	axisStepsPerUnit    [queue.NumAxes]float64
	invAxisStepsPerUnit [queue.NumAxes]float64
	maxFeedratePrint    [queue.NumAxes]float64
	maxFeedrateTravel   [queue.NumAxes]float64
	maxAccelPrint       [queue.NumAxes]float64
	maxAccelTravel      [queue.NumAxes]float64
	backlash            [3]float64

	maxJerk  float64 // XY planar jerk (and XYZ on delta)
	maxZJerk float64 // Z jerk, non-delta only
	maxEJerk float64 // extruder jerk (maxStartFeedrate analogue)

	// currentPositionSteps is the last commanded position in Cartesian
	// axis steps (mm times steps/mm): before the CoreXY transform for
	// linear kinematics, the effector position (not tower height) for
	// delta.
	currentPositionSteps [queue.NumAxes]int64
	backlashDir          queue.AxisBits

	// currentTowerSteps is the absolute per-tower step position for
	// delta kinematics, tracked alongside currentPositionSteps since
	// tower height is not a linear function of effector position.
	currentTowerSteps [3]int64

	waitRelax     uint32
	extrudeMultiply float64
	feedrate        float64 // mm/s, sticky across calls like printer.feedrate
	lastMoveID      uint32

	ambientService func()
}

// NewLinearPlanner builds a planner for Cartesian/CoreXY kinematics.
func NewLinearPlanner(cfg *config.Config, lin kinematics.Linear, ring *queue.Ring, ambientService func()) (*Planner, error) {
	p, err := newPlanner(cfg, ring, ambientService)
	if err != nil {
		return nil, err
	}
	p.linear = lin
	return p, nil
}

// NewDeltaPlanner builds a planner for three-tower delta kinematics.
func NewDeltaPlanner(cfg *config.Config, del kinematics.Delta, ring *queue.Ring, ambientService func()) (*Planner, error) {
	p, err := newPlanner(cfg, ring, ambientService)
	if err != nil {
		return nil, err
	}
	p.delta = del
	return p, nil
}

func newPlanner(cfg *config.Config, ring *queue.Ring, ambientService func()) (*Planner, error) {
	if ring == nil {
		return nil, fmt.Errorf("planner: ring must not be nil")
	}
	p := &Planner{
		cfg:             cfg,
		ring:            ring,
		ambientService:  ambientService,
		extrudeMultiply: 1.0,
	}
	order := [queue.NumAxes]string{"x", "y", "z", "e"}
	for i, name := range order {
		axis, ok := cfg.Axes[name]
		if !ok {
			return nil, fmt.Errorf("planner: config missing axis %q", name)
		}
		p.axisStepsPerUnit[i] = axis.StepsPerMM
		p.invAxisStepsPerUnit[i] = 1.0 / axis.StepsPerMM
		p.maxFeedratePrint[i] = axis.MaxFeedratePrint
		p.maxFeedrateTravel[i] = axis.MaxFeedrateTravel
		p.maxAccelPrint[i] = axis.MaxAccelPrint
		p.maxAccelTravel[i] = axis.MaxAccelTravel
		if i < 3 {
			p.backlash[i] = axis.Backlash
		}
	}
	p.maxJerk = min2(cfg.Axes["x"].Jerk, cfg.Axes["y"].Jerk)
	p.maxZJerk = cfg.Axes["z"].Jerk
	p.maxEJerk = cfg.Axes["e"].Jerk
	return p, nil
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// SetExtrudeMultiply scales subsequent E deltas, mirroring
// printer.extrudeMultiply (value in percent, 100 = unscaled).
func (p *Planner) SetExtrudeMultiply(percent float64) { p.extrudeMultiply = percent / 100.0 }

// CurrentPositionSteps returns the last committed position in
// Cartesian axis steps.
func (p *Planner) CurrentPositionSteps() [queue.NumAxes]int64 { return p.currentPositionSteps }

// SetCurrentPositionSteps forcibly sets the planner's idea of the
// Cartesian axis-step position without queuing a move — used after
// homing.
func (p *Planner) SetCurrentPositionSteps(pos [queue.NumAxes]int64) {
	p.currentPositionSteps = pos
}

// PlanMove queues a move to an absolute Cartesian destination (mm) at
// the given feedrate (mm/s). pathOptimize enables look-ahead; disable
// it for isolated moves like probing where the end speed must be
// fixed at its planned value.
func (p *Planner) PlanMove(dest [queue.NumAxes]float64, feedrate float64, checkEndstops, pathOptimize bool) error {
	p.feedrate = feedrate
	destSteps := [queue.NumAxes]int64{}
	for i := 0; i < queue.NumAxes; i++ {
		destSteps[i] = int64(dest[i]*p.axisStepsPerUnit[i] + signRound(dest[i]))
	}
	if p.delta != nil {
		return p.queueDeltaMove(destSteps, checkEndstops, pathOptimize, false)
	}
	return p.queueLinearMove(destSteps, checkEndstops, pathOptimize)
}

// PlanRelativeSteps queues a move of the given Cartesian axis-step
// deltas directly, bypassing the mm->steps conversion — used for homing and
// other step-exact moves. waitEnd blocks (cooperatively servicing the
// ambient loop) until the queue drains.
func (p *Planner) PlanRelativeSteps(deltaSteps [queue.NumAxes]int64, feedrate float64, checkEndstops, waitEnd bool) error {
	saved := p.feedrate
	p.feedrate = feedrate
	dest := p.currentPositionSteps
	for i := range dest {
		dest[i] += deltaSteps[i]
	}
	var err error
	if p.delta != nil {
		err = p.queueDeltaMove(dest, checkEndstops, false, false)
	} else {
		err = p.queueLinearMove(dest, checkEndstops, false)
	}
	p.feedrate = saved
	if err != nil {
		return err
	}
	if waitEnd {
		p.WaitUntilIdle()
	}
	return nil
}

// WaitUntilIdle cooperatively services the ambient loop until the
// queue has drained and every segment has retired.
func (p *Planner) WaitUntilIdle() {
	for p.ring.Len() > 0 {
		if p.ambientService != nil {
			p.ambientService()
		}
	}
}

// EmergencyStop clears the queue immediately without retiring
// in-flight segments gracefully — callers must also disable actuators.
func (p *Planner) EmergencyStop() { p.ring.EmergencyStop() }

func signRound(v float64) float64 {
	if v < 0 {
		return -0.5
	}
	return 0.5
}

// service is the single place calculate_move's queue-full waits call
// into the ambient loop, matching the teacher's style of routing all
// "spin while full" plumbing through one small helper.
func (p *Planner) service() {
	if p.ambientService != nil {
		p.ambientService()
	}
}

// reserve blocks (via the ring's own cooperative spin) and returns a
// freshly reset slot plus its index.
func (p *Planner) reserve() (*queue.MotionSegment, int) {
	seg := p.ring.Reserve(p.service)
	return seg, p.ring.WriteIndex()
}
