package kinematics

import "math"

// DeltaGeometry describes one delta printer's fixed tower layout: the
// diagonal rod length shared by all three arms and the horizontal
// position of each tower, expressed as (angle from +X, radius) pairs
// converted once into Cartesian tower coordinates.
type DeltaGeometry struct {
	RodLength float64    // mm
	Towers    [3][2]float64 // per-tower (x, y) mm
}

// NewDeltaGeometry builds tower coordinates from a radius and three
// angles (degrees), the way delta configuration is normally expressed.
func NewDeltaGeometry(rodLength, radius float64, towerAnglesDeg [3]float64) DeltaGeometry {
	g := DeltaGeometry{RodLength: rodLength}
	for i, deg := range towerAnglesDeg {
		rad := deg * math.Pi / 180
		g.Towers[i][0] = radius * math.Cos(rad)
		g.Towers[i][1] = radius * math.Sin(rad)
	}
	return g
}

// DefaultDeltaAngles are the conventional A/B/C tower placements (210,
// 330, 90 degrees from +X) used by most Rostock-style machines.
var DefaultDeltaAngles = [3]float64{210, 330, 90}

// ThreeTower implements the §4.A delta kinematics: per-tower carriage
// height as a function of absolute effector position, plus the
// trilateration inverse used only at homing.
type ThreeTower struct {
	geom      DeltaGeometry
	rodLenSq  float64
}

// NewThreeTower returns delta kinematics for the given geometry.
func NewThreeTower(geom DeltaGeometry) *ThreeTower {
	return &ThreeTower{geom: geom, rodLenSq: geom.RodLength * geom.RodLength}
}

func (*ThreeTower) Name() string     { return "delta" }
func (*ThreeTower) Variant() Variant { return VariantDelta }

func (d *ThreeTower) RodLengthSquared() float64 { return d.rodLenSq }

// TowerHeights solves zi = sqrt(L^2 - (xi-x)^2 - (yi-y)^2) + z for each
// tower. A negative discriminant on any tower means the requested XY
// position is outside the machine's reachable cylinder.
func (d *ThreeTower) TowerHeights(x, y, z float64) (a, b, c float64, err error) {
	h := make([]float64, 3)
	for i, t := range d.geom.Towers {
		dx := t[0] - x
		dy := t[1] - y
		disc := d.rodLenSq - dx*dx - dy*dy
		if disc < 0 {
			return 0, 0, 0, ErrUnreachable
		}
		h[i] = math.Sqrt(disc) + z
	}
	return h[0], h[1], h[2], nil
}

// CartesianFromTowers recovers the effector position from three known
// carriage heights by trilateration: each tower/height pair is a fixed
// 3D point (xi, yi, zi) exactly RodLength from the effector, so the
// effector is one of the two points equidistant from all three — the
// one below the towers is the physically valid solution.
func (d *ThreeTower) CartesianFromTowers(a, b, c float64) (x, y, z float64, err error) {
	p1 := [3]float64{d.geom.Towers[0][0], d.geom.Towers[0][1], a}
	p2 := [3]float64{d.geom.Towers[1][0], d.geom.Towers[1][1], b}
	p3 := [3]float64{d.geom.Towers[2][0], d.geom.Towers[2][1], c}

	ex := sub3(p2, p1)
	dNorm := norm3(ex)
	if dNorm == 0 {
		return 0, 0, 0, ErrUnreachable
	}
	ex = scale3(ex, 1/dNorm)

	p1p3 := sub3(p3, p1)
	i := dot3(ex, p1p3)

	eyRaw := sub3(p1p3, scale3(ex, i))
	eyNorm := norm3(eyRaw)
	if eyNorm == 0 {
		return 0, 0, 0, ErrUnreachable
	}
	ey := scale3(eyRaw, 1/eyNorm)

	ez := cross3(ex, ey)

	j := dot3(ey, p1p3)

	xp := dNorm / 2
	yp := (i*i + j*j - 2*i*xp) / (2 * j)
	zSq := d.rodLenSq - xp*xp - yp*yp
	if zSq < 0 {
		return 0, 0, 0, ErrUnreachable
	}
	zp := math.Sqrt(zSq)

	// Effector sits below the tower carriages.
	res := add3(p1, add3(scale3(ex, xp), add3(scale3(ey, yp), scale3(ez, -zp))))
	return res[0], res[1], res[2], nil
}

func sub3(a, b [3]float64) [3]float64   { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func add3(a, b [3]float64) [3]float64   { return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func scale3(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}
func dot3(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func norm3(a [3]float64) float64   { return math.Sqrt(dot3(a, a)) }
func cross3(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
