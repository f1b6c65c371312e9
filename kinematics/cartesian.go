package kinematics

// Cartesian is the identity kinematics: each actuator axis steps
// exactly as commanded. Grounded on the teacher's standalone/kinematics
// Cartesian type, generalised to a pure delta-to-delta mapping instead
// of an absolute-position one.
type Cartesian struct{}

// NewCartesian returns a Cartesian kinematics instance.
func NewCartesian() *Cartesian { return &Cartesian{} }

func (*Cartesian) Name() string       { return "cartesian" }
func (*Cartesian) Variant() Variant   { return VariantCartesian }

func (*Cartesian) TransformSteps(delta [NumAxes]int64) [NumAxes]int64 { return delta }
func (*Cartesian) InverseSteps(delta [NumAxes]int64) [NumAxes]int64   { return delta }
