package planner

import (
	"math"
	"testing"

	"github.com/roman-dvorak/repetier-go/config"
	"github.com/roman-dvorak/repetier-go/kinematics"
	"github.com/roman-dvorak/repetier-go/queue"
)

func almostEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func cartesianConfig() *config.Config {
	return config.DefaultCartesianConfig()
}

func newLinearTestPlanner(t *testing.T, cfg *config.Config, cap int) (*Planner, *queue.Ring) {
	t.Helper()
	ring := queue.NewRing(cap, 0)
	p, err := NewLinearPlanner(cfg, &kinematics.Cartesian{}, ring, nil)
	if err != nil {
		t.Fatalf("NewLinearPlanner: %v", err)
	}
	return p, ring
}

// S2: a right-angle corner's junction speed is clamped by the XY jerk
// bound, not simply the lower of the two full speeds.
func TestComputeMaxJunctionSpeedCorner(t *testing.T) {
	prev := &queue.MotionSegment{FullSpeed: 60}
	prev.Speed[queue.AxisX] = 60
	cur := &queue.MotionSegment{FullSpeed: 60}
	cur.Speed[queue.AxisY] = 60

	computeMaxJunctionSpeed(prev, cur, 20, 1e9, 1e9, false)

	want := 60 * 20 / math.Hypot(60, 60)
	if !almostEqual(prev.MaxJunctionSpeed, want, 1e-3) {
		t.Fatalf("MaxJunctionSpeed = %.4f, want %.4f", prev.MaxJunctionSpeed, want)
	}
}

// S3: a colinear continuation has zero jerk, so the junction is capped
// only by the lower full speed (here both are equal).
func TestComputeMaxJunctionSpeedColinear(t *testing.T) {
	prev := &queue.MotionSegment{FullSpeed: 60}
	prev.Speed[queue.AxisX] = 60
	cur := &queue.MotionSegment{FullSpeed: 60}
	cur.Speed[queue.AxisX] = 60

	computeMaxJunctionSpeed(prev, cur, 20, 1e9, 1e9, false)

	if !almostEqual(prev.MaxJunctionSpeed, 60, 1e-9) {
		t.Fatalf("MaxJunctionSpeed = %.4f, want 60", prev.MaxJunctionSpeed)
	}
}

func TestComputeMaxJunctionSpeedWarmupPredecessor(t *testing.T) {
	prev := &queue.MotionSegment{Flags: queue.FlagWarmup}
	cur := &queue.MotionSegment{}

	computeMaxJunctionSpeed(prev, cur, 20, 1e9, 1e9, false)

	if !cur.IsStartSpeedFixed() {
		t.Fatal("expected cur.StartSpeedFixed after a warmup predecessor")
	}
	if prev.MaxJunctionSpeed != 0 {
		t.Fatalf("expected warmup shortcut to leave MaxJunctionSpeed untouched, got %v", prev.MaxJunctionSpeed)
	}
}

// A colinear corner into a slower subsequent move must clamp the
// junction speed down to that move's own full speed, not just the
// jerk-scaled factor of the predecessor's full speed.
func TestComputeMaxJunctionSpeedClampsToSlowerNext(t *testing.T) {
	prev := &queue.MotionSegment{FullSpeed: 60}
	prev.Speed[queue.AxisX] = 60
	cur := &queue.MotionSegment{FullSpeed: 20}
	cur.Speed[queue.AxisX] = 60

	computeMaxJunctionSpeed(prev, cur, 20, 1e9, 1e9, false)

	if !almostEqual(prev.MaxJunctionSpeed, 20, 1e-9) {
		t.Fatalf("MaxJunctionSpeed = %.4f, want 20 (clamped to cur.FullSpeed)", prev.MaxJunctionSpeed)
	}
}

// The symmetric case, a corner into a faster subsequent move, must not
// be clamped at all: the jerk-scaled factor of prev's own full speed
// governs since it is already below cur's full speed.
func TestComputeMaxJunctionSpeedNoClampIntoFasterNext(t *testing.T) {
	prev := &queue.MotionSegment{FullSpeed: 20}
	prev.Speed[queue.AxisX] = 20
	cur := &queue.MotionSegment{FullSpeed: 60}
	cur.Speed[queue.AxisY] = 60

	computeMaxJunctionSpeed(prev, cur, 20, 1e9, 1e9, false)

	want := 20 * 20 / math.Hypot(20, 60)
	if !almostEqual(prev.MaxJunctionSpeed, want, 1e-3) {
		t.Fatalf("MaxJunctionSpeed = %.4f, want %.4f", prev.MaxJunctionSpeed, want)
	}
}

// Delta sub-segments sharing a moveID skip jerk recomputation entirely
// and just take the lower of the two full speeds.
func TestComputeMaxJunctionSpeedDeltaSiblingShortcut(t *testing.T) {
	prev := &queue.MotionSegment{FullSpeed: 40, MoveID: 7}
	cur := &queue.MotionSegment{FullSpeed: 55, MoveID: 7}

	computeMaxJunctionSpeed(prev, cur, 20, 1e9, 1e9, true)

	if prev.MaxJunctionSpeed != 40 {
		t.Fatalf("delta sibling shortcut should take the lower full speed, got %v", prev.MaxJunctionSpeed)
	}
}

// S2 end-to-end through the look-ahead passes: once the junction limit
// is known, backwardPlanner/forwardPlanner converge the shared
// junction speed onto both segments (§8 "speed monotonicity").
func TestBackwardForwardPlannerConvergesOnJunctionSpeed(t *testing.T) {
	r := queue.NewRing(4, 0)

	s0 := r.Reserve(nil)
	s0.FullSpeed = 60
	s0.Acceleration = 500
	s0.StartSpeed, s0.EndSpeed = 10, 10
	s0.MoveBits.Set(queue.AxisX, true)
	s0.Speed[queue.AxisX] = 60
	r.Commit()

	s1 := r.Reserve(nil)
	s1.FullSpeed = 60
	s1.Acceleration = 500
	s1.StartSpeed, s1.EndSpeed = 10, 10
	s1.MoveBits.Set(queue.AxisY, true)
	s1.Speed[queue.AxisY] = 60
	r.Commit()

	computeMaxJunctionSpeed(s0, s1, 20, 1e9, 1e9, false)
	wantJunction := 60 * 20 / math.Hypot(60, 60)

	backwardPlanner(r, 1, 0)
	forwardPlanner(r, 0)

	if !almostEqual(s0.EndSpeed, wantJunction, 1e-3) {
		t.Fatalf("s0.EndSpeed = %.4f, want %.4f", s0.EndSpeed, wantJunction)
	}
	if !almostEqual(s1.StartSpeed, wantJunction, 1e-3) {
		t.Fatalf("s1.StartSpeed = %.4f, want %.4f", s1.StartSpeed, wantJunction)
	}
	if s0.EndSpeed != s1.StartSpeed {
		t.Fatalf("s0.EndSpeed (%v) and s1.StartSpeed (%v) must match exactly at a resolved junction", s0.EndSpeed, s1.StartSpeed)
	}
}

// S4: the first move after idle time is preceded by three descending
// warmup fillers with every speed pinned.
func TestInsertWaitMovesIfNeeded(t *testing.T) {
	p, r := newLinearTestPlanner(t, cartesianConfig(), 8)

	if !p.insertWaitMovesIfNeeded(true) {
		t.Fatal("expected warmup insertion on an idle queue")
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	for i, wantPrimary := range []int{3, 2, 1} {
		seg := r.At(i)
		if !seg.IsWarmUp() {
			t.Fatalf("segment %d: expected warmup flag", i)
		}
		if seg.PrimaryAxis != wantPrimary {
			t.Fatalf("segment %d: PrimaryAxis = %d, want %d", i, seg.PrimaryAxis, wantPrimary)
		}
		if seg.TimeInTicks != uint32(10000*wantPrimary) {
			t.Fatalf("segment %d: TimeInTicks = %d, want %d", i, seg.TimeInTicks, 10000*wantPrimary)
		}
		if !seg.IsStartSpeedFixed() || !seg.IsEndSpeedFixed() {
			t.Fatalf("segment %d: expected both speeds fixed", i)
		}
	}

	// A second call before any real move must not insert again.
	if p.insertWaitMovesIfNeeded(true) {
		t.Fatal("expected no second warmup insertion while the queue is non-empty")
	}
}

// S1: a single axis-aligned move materialises a trapezoid that
// actually fits within the step budget.
func TestQueueLinearMoveStraightLine(t *testing.T) {
	cfg := cartesianConfig()
	xa := cfg.Axes["x"]
	xa.StepsPerMM = 80
	xa.MaxFeedratePrint, xa.MaxFeedrateTravel = 100, 100
	xa.MaxAccelPrint, xa.MaxAccelTravel = 1000, 1000
	xa.Jerk = 20
	cfg.Axes["x"] = xa
	ya := cfg.Axes["y"]
	ya.Jerk = 20
	cfg.Axes["y"] = ya

	p, r := newLinearTestPlanner(t, cfg, 8)

	if err := p.PlanMove([queue.NumAxes]float64{10, 0, 0, 0}, 60, false, false); err != nil {
		t.Fatalf("PlanMove: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	seg := r.At(0)
	if seg.Delta[queue.AxisX] != 800 {
		t.Fatalf("Delta[X] = %d, want 800", seg.Delta[queue.AxisX])
	}
	if !almostEqual(seg.FullSpeed, 60, 1e-6) {
		t.Fatalf("FullSpeed = %v, want 60", seg.FullSpeed)
	}
	wantSafe := math.Max(cfg.MinSpeed, 20*0.5) // jerk/2 = 10 > min_speed
	if !almostEqual(seg.StartSpeed, wantSafe, 1e-6) || !almostEqual(seg.EndSpeed, wantSafe, 1e-6) {
		t.Fatalf("start/end speed = %v/%v, want %v", seg.StartSpeed, seg.EndSpeed, wantSafe)
	}
	if !seg.Flags.Has(queue.FlagNominalReachable) {
		t.Fatal("expected the plateau to be reachable within this short move")
	}
	if seg.AccelSteps+seg.DecelSteps >= seg.StepsRemaining {
		t.Fatalf("accel+decel steps (%d+%d) should fit within stepsRemaining=%d", seg.AccelSteps, seg.DecelSteps, seg.StepsRemaining)
	}
}

// S6: a queue running low on a fast short move gets stretched and
// marked critical, forcing halfstep mode off.
func TestCalculateMoveCriticalFlag(t *testing.T) {
	cfg := cartesianConfig()
	cfg.Queue.MoveCacheLow = 4

	p, r := newLinearTestPlanner(t, cfg, 8)

	if err := p.PlanMove([queue.NumAxes]float64{0.2, 0, 0, 0}, 60, false, false); err != nil {
		t.Fatalf("PlanMove: %v", err)
	}
	seg := r.At(0)
	if !seg.Flags.Has(queue.FlagCritical) {
		t.Fatal("expected FlagCritical on a short move queued into a near-empty cache")
	}
	if seg.FullInterval < 200 {
		t.Fatalf("FullInterval = %d, want >= 200", seg.FullInterval)
	}
	if seg.Flags.Has(queue.FlagHalfstepMode) {
		t.Fatal("critical moves must not use halfstep mode")
	}
}

// S5: a delta head move longer than MAX_SUB_PER_LINE sub-segments
// splits into several queue entries that all share one moveID.
func TestQueueDeltaMoveSplitSharesMoveID(t *testing.T) {
	cfg := cartesianConfig()
	cfg.Kinematics = "delta"
	cfg.Delta = &config.DeltaGeometryConfig{RodLength: 250, Radius: 140, TowerAngles: kinematics.DefaultDeltaAngles}
	cfg.DeltaSegmentsPerSecondTravel = 80
	for name, axis := range cfg.Axes {
		axis.StepsPerMM = 80
		cfg.Axes[name] = axis
	}

	ring := queue.NewRing(16, 256)
	geom := kinematics.NewDeltaGeometry(cfg.Delta.RodLength, cfg.Delta.Radius, cfg.Delta.TowerAngles)
	del := kinematics.NewThreeTower(geom)
	p, err := NewDeltaPlanner(cfg, del, ring, nil)
	if err != nil {
		t.Fatalf("NewDeltaPlanner: %v", err)
	}

	if err := p.PlanMove([queue.NumAxes]float64{50, 0, 0, 0}, 30, false, false); err != nil {
		t.Fatalf("PlanMove: %v", err)
	}

	if ring.Len() != 7 {
		t.Fatalf("Len() = %d, want 7 (segment_count=133, MAX_SUB_PER_LINE=22)", ring.Len())
	}
	moveID := ring.At(0).MoveID
	if moveID == 0 {
		t.Fatal("expected a non-zero shared moveID")
	}
	for i := 0; i < ring.Len(); i++ {
		seg := ring.At(i)
		if seg.MoveID != moveID {
			t.Fatalf("segment %d: MoveID = %d, want %d (shared across the split)", i, seg.MoveID, moveID)
		}
		if seg.NumSubSegments != 19 {
			t.Fatalf("segment %d: NumSubSegments = %d, want 19", i, seg.NumSubSegments)
		}
	}
}

// A delta move that also extrudes must not let the real E axis's own
// interval leak into the virtual tower/segment-count primary axis's
// acceleration pacing (AccelPrim), since PrimaryAxis==AxisE on a delta
// segment is a Bresenham-error-slot alias, not a claim that the E
// axis's own axisInterval governs the synthetic primary. calculateMove
// is exercised directly (bypassing queueDeltaMove's geometry) with
// hand-picked numbers chosen so the extrusion's own plateau-reproduction
// term never becomes the slowest one, isolating the one value this
// fix changes: the denominator calculateMove divides by.
func TestCalculateMoveDeltaPrimaryIntervalIgnoresConcurrentExtrusion(t *testing.T) {
	buildSegment := func(t *testing.T, withExtrusion bool) *queue.MotionSegment {
		t.Helper()
		cfg := cartesianConfig()
		cfg.Queue.MoveCacheLow = 0 // keep the critical-stretch branch out of the arithmetic
		p, ring := newLinearTestPlanner(t, cfg, 4)
		p.feedrate = 30

		seg, idx := p.reserve()
		seg.DirBits.Set(queue.AxisX, true)
		seg.MoveBits.Set(queue.AxisX, true)
		seg.Delta[queue.AxisX] = 50 * 80
		seg.PrimaryAxis = queue.AxisE
		seg.StepsRemaining = 1000
		seg.Distance = 100
		seg.MoveID = 1
		seg.NumSubSegments = 5

		var axisDiff [queue.NumAxes]float64
		axisDiff[queue.AxisX] = 50
		if withExtrusion {
			seg.DirBits.Set(queue.AxisE, true)
			seg.MoveBits.Set(queue.AxisE, true)
			seg.Delta[queue.AxisE] = 10 * 96
			axisDiff[queue.AxisE] = 10
		}

		p.calculateMove(seg, idx, axisDiff, false, false)
		return ring.At(idx)
	}

	withoutE := buildSegment(t, false)
	withE := buildSegment(t, true)

	const want = 15000.0 // slowestPlateauRepro(6e8) / fullInterval(40000), hand-derived
	if !almostEqual(withoutE.AccelPrim, want, 1e-6) {
		t.Fatalf("AccelPrim (no extrusion) = %v, want %v", withoutE.AccelPrim, want)
	}
	if !almostEqual(withE.AccelPrim, want, 1e-6) {
		t.Fatalf("AccelPrim (with extrusion) = %v, want %v (must match the no-extrusion case: the virtual primary's pacing must not depend on the real E axis's own interval)", withE.AccelPrim, want)
	}
}

// Junctions between delta split siblings must never trigger the
// ordinary jerk computation, only the full-speed shortcut.
func TestBackwardPlannerSkipsJerkBetweenDeltaSiblings(t *testing.T) {
	r := queue.NewRing(4, 0)

	s0 := r.Reserve(nil)
	s0.FullSpeed = 30
	s0.MoveID = 5
	s0.MaxJunctionSpeed = 30 // as computeMaxJunctionSpeed's sibling shortcut would set
	s0.EndSpeed = 30
	r.Commit()

	s1 := r.Reserve(nil)
	s1.FullSpeed = 30
	s1.MoveID = 5
	s1.EndSpeed = 5
	r.Commit()

	backwardPlanner(r, 1, 0)

	if s1.StartSpeed != 30 {
		t.Fatalf("sibling shortcut should have set s1.StartSpeed = s0.EndSpeed = 30, got %v", s1.StartSpeed)
	}
	if s0.AreParametersUpToDate() {
		t.Fatal("expected the sibling shortcut to invalidate s0's trapezoid parameters")
	}
}
