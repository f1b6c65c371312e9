package kinematics

import "testing"

func TestCartesianRoundTrip(t *testing.T) {
	c := NewCartesian()
	in := [NumAxes]int64{100, -50, 20, 5}
	out := c.TransformSteps(in)
	if out != in {
		t.Fatalf("TransformSteps identity failed: got %v, want %v", out, in)
	}
	back := c.InverseSteps(out)
	if back != in {
		t.Fatalf("InverseSteps round trip failed: got %v, want %v", back, in)
	}
}

func TestCoreXYRoundTrip(t *testing.T) {
	for _, swapped := range []bool{false, true} {
		k := NewCoreXY(swapped)
		in := [NumAxes]int64{120, -37, 8, 0}
		actuator := k.TransformSteps(in)
		back := k.InverseSteps(actuator)
		if back != in {
			t.Fatalf("swapped=%v round trip failed: in=%v actuator=%v back=%v", swapped, in, actuator, back)
		}
	}
}

func TestCoreXYKnownValues(t *testing.T) {
	k := NewCoreXY(false)
	out := k.TransformSteps([NumAxes]int64{10, 4, 0, 0})
	if out[0] != 14 || out[1] != 6 {
		t.Fatalf("TransformSteps(10,4) = (%d,%d), want (14,6)", out[0], out[1])
	}
}

// TestThreeTowerTowerHeightsRoundTrip is the §8.5 kinematic round-trip
// property: converting an absolute position to tower heights and back
// through CartesianFromTowers must recover the original position
// within a small tolerance, for any reachable point.
func TestThreeTowerTowerHeightsRoundTrip(t *testing.T) {
	geom := NewDeltaGeometry(250, 140, DefaultDeltaAngles)
	d := NewThreeTower(geom)

	points := [][3]float64{
		{0, 0, 100},
		{30, -20, 150},
		{-40, 40, 50},
		{0, 0, 0},
	}

	for _, p := range points {
		a, b, c, err := d.TowerHeights(p[0], p[1], p[2])
		if err != nil {
			t.Fatalf("TowerHeights(%v) unexpected error: %v", p, err)
		}
		x, y, z, err := d.CartesianFromTowers(a, b, c)
		if err != nil {
			t.Fatalf("CartesianFromTowers after TowerHeights(%v) unexpected error: %v", p, err)
		}
		const tol = 1e-6
		if absF(x-p[0]) > tol || absF(y-p[1]) > tol || absF(z-p[2]) > tol {
			t.Fatalf("round trip mismatch: want %v, got (%v,%v,%v)", p, x, y, z)
		}
	}
}

func TestThreeTowerUnreachable(t *testing.T) {
	geom := NewDeltaGeometry(250, 140, DefaultDeltaAngles)
	d := NewThreeTower(geom)

	// Far outside the rod's reach from any tower.
	_, _, _, err := d.TowerHeights(10000, 10000, 0)
	if err != ErrUnreachable {
		t.Fatalf("TowerHeights far out of range: got err=%v, want ErrUnreachable", err)
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
