package kinematics

// CoreXY implements the H-Bot/CoreXY belt transform: one tower drives
// X+Y, the other X-Y. Swapped selects the H-Bot mirrored wiring some
// machines use. Z and E always pass through unchanged.
type CoreXY struct {
	Swapped bool
}

// NewCoreXY returns a CoreXY kinematics instance. swapped picks the
// H-Bot tower assignment instead of the canonical CoreXY one.
func NewCoreXY(swapped bool) *CoreXY { return &CoreXY{Swapped: swapped} }

func (*CoreXY) Name() string     { return "corexy" }
func (*CoreXY) Variant() Variant { return VariantCoreXY }

func (k *CoreXY) TransformSteps(delta [NumAxes]int64) [NumAxes]int64 {
	dx, dy := delta[0], delta[1]
	out := delta
	if k.Swapped {
		out[0] = dx - dy
		out[1] = dx + dy
	} else {
		out[0] = dx + dy
		out[1] = dx - dy
	}
	return out
}

func (k *CoreXY) InverseSteps(delta [NumAxes]int64) [NumAxes]int64 {
	a, b := delta[0], delta[1]
	out := delta
	if k.Swapped {
		out[0] = (b + a) / 2
		out[1] = (b - a) / 2
	} else {
		out[0] = (a + b) / 2
		out[1] = (a - b) / 2
	}
	return out
}
