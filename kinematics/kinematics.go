// Package kinematics implements the pure, side-effect-free mapping from
// Cartesian step deltas (or absolute positions, for delta) to
// per-actuator step values, per spec.md §4.A. Nothing here touches the
// move queue, the planner or any I/O — callers supply plain numbers and
// get plain numbers back.
package kinematics

import "errors"

// NumAxes mirrors queue.NumAxes (X, Y, Z, E) without importing the
// queue package, keeping kinematics dependency-free.
const NumAxes = 4

// ErrUnreachable is returned by delta tower-height computation when the
// requested XY position places a tower's reach discriminant below zero.
var ErrUnreachable = errors.New("kinematics: position outside reachable cylinder")

// Variant tags which kinematics a machine is built with. Selection is a
// build-time/config-time choice, not a per-call decision.
type Variant int

const (
	VariantCartesian Variant = iota
	VariantCoreXY
	VariantDelta
)

func (v Variant) String() string {
	switch v {
	case VariantCartesian:
		return "cartesian"
	case VariantCoreXY:
		return "corexy"
	case VariantDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// Linear is implemented by kinematics whose Cartesian-to-actuator
// mapping is a fixed linear combination of per-axis deltas: Cartesian
// itself (identity) and CoreXY/H-Bot (sum/difference). Delta is
// excluded — its mapping is position-dependent, not delta-dependent.
type Linear interface {
	Name() string
	Variant() Variant

	// TransformSteps maps a Cartesian step delta to an actuator step
	// delta. Z and E always pass through; only X/Y differ by variant.
	TransformSteps(delta [NumAxes]int64) [NumAxes]int64

	// InverseSteps is TransformSteps' inverse, used only at homing.
	InverseSteps(delta [NumAxes]int64) [NumAxes]int64
}

// Delta is implemented by the three-tower delta kinematics. Unlike
// Linear, it operates on absolute positions because the tower-height
// equation is non-linear in X/Y.
type Delta interface {
	Name() string
	Variant() Variant

	// TowerHeights solves zi = sqrt(L^2 - (xi-x)^2 - (yi-y)^2) + z for
	// each of the three towers at the given absolute XYZ position (mm).
	// Returns ErrUnreachable if any tower's discriminant is negative.
	TowerHeights(x, y, z float64) (a, b, c float64, err error)

	// CartesianFromTowers is the forward-kinematics inverse, used only
	// at homing to recover the effector position from tower heights.
	CartesianFromTowers(a, b, c float64) (x, y, z float64, err error)

	// RodLengthSquared is the pre-squared diagonal rod length used by
	// both TowerHeights and CartesianFromTowers.
	RodLengthSquared() float64
}
