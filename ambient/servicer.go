// Package ambient implements the §4.H cooperative host loop: the
// non-blocking service tick the planner's ring calls into while it
// spins waiting for queue space, and the move/home command tokens it
// recognises from a serial transport. Grounded on the teacher's
// host/serial package for the transport and on motion.cpp's own
// "serve_ambient() must be short and idempotent" contract for Service.
package ambient

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roman-dvorak/repetier-go/host/serial"
)

// Builder is the subset of *planner.Planner the servicer drives.
// Declared here instead of imported so ambient never creates an import
// cycle with planner, matching spec.md §6's "production code never
// imports a concrete collaborator type" rule.
type Builder interface {
	PlanMove(dest [4]float64, feedrate float64, checkEndstops, pathOptimize bool) error
	PlanRelativeSteps(deltaSteps [4]int64, feedrate float64, checkEndstops, waitEnd bool) error
	SetCurrentPositionSteps(pos [4]int64)
	CurrentPositionSteps() [4]int64
}

// Servicer owns a serial transport and forwards recognised move/home
// tokens to a Builder. Service is safe to call repeatedly from a tight
// spin loop: it issues at most one Read per call, dispatches every
// complete line that read produced, and keeps a partial line for the
// next call.
type Servicer struct {
	port    serial.Port
	builder Builder

	buf [256]byte
	pos int // bytes of a partial line already buffered

	lastFeedrate float64
	onError      func(error)
}

// New opens cfg's serial transport and returns a Servicer bound to it.
func New(cfg *serial.Config, builder Builder, onError func(error)) (*Servicer, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("ambient: open serial: %w", err)
	}
	return &Servicer{
		port:         port,
		builder:      builder,
		lastFeedrate: 50,
		onError:      onError,
	}, nil
}

// Close releases the underlying transport.
func (s *Servicer) Close() error { return s.port.Close() }

// Service is the non-blocking poll the planner's Reserve spin loop
// calls on every iteration: exactly one Read into whatever buffer room
// is left, dispatching every complete line the read produced. A
// partial trailing line is kept for the next call instead of blocking
// for the rest of it.
func (s *Servicer) Service() {
	if s.pos >= len(s.buf) {
		s.pos = 0 // a line longer than the buffer is dropped rather than wedging forever
	}
	n, err := s.port.Read(s.buf[s.pos:])
	if err != nil && s.onError != nil {
		s.onError(fmt.Errorf("ambient: read: %w", err))
	}
	s.pos += n

	start := 0
	for i := 0; i < s.pos; i++ {
		if s.buf[i] != '\n' {
			continue
		}
		line := strings.TrimSpace(string(s.buf[start:i]))
		if derr := s.dispatch(line); derr != nil && s.onError != nil {
			s.onError(derr)
		}
		start = i + 1
	}
	remaining := s.pos - start
	copy(s.buf[:remaining], s.buf[start:s.pos])
	s.pos = remaining
}

// dispatch recognises the handful of G0/G1/G28/G92-shaped tokens
// needed to drive the planner from a real transport. Anything else is
// silently ignored — full G-code grammar is explicitly out of scope.
func (s *Servicer) dispatch(line string) error {
	if line == "" || strings.HasPrefix(line, ";") {
		return nil
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch strings.ToUpper(fields[0]) {
	case "G0", "G1":
		return s.dispatchMove(fields[1:])
	case "G28":
		return s.dispatchHome(fields[1:])
	case "G92":
		return s.dispatchSetPosition(fields[1:])
	default:
		return nil
	}
}

func (s *Servicer) dispatchMove(args []string) error {
	var mm [4]float64
	for _, tok := range args {
		if len(tok) < 2 {
			continue
		}
		axis, val, err := parseAxisToken(tok)
		if err != nil {
			continue
		}
		switch axis {
		case 'X':
			mm[0] = val
		case 'Y':
			mm[1] = val
		case 'Z':
			mm[2] = val
		case 'E':
			mm[3] = val
		case 'F':
			s.lastFeedrate = val / 60.0 // mm/min -> mm/s
		}
	}
	return s.builder.PlanMove(mm, s.lastFeedrate, false, true)
}

// homeStepsPerMM is the per-axis resolution used to size the homing
// seek, since ambient never imports config to avoid coupling the
// transport layer to the machine description. It matches
// config.DefaultCartesianConfig's axes and is only a seek bound — the
// real stop position comes from the endstop trigger PlanRelativeSteps'
// checkEndstops flag watches for.
var homeStepsPerMM = [3]int64{80, 80, 400}

// dispatchHome seeks each named axis (or all of X/Y/Z with no
// arguments) toward its minimum endstop, then zeroes that axis's
// position. Homing order is always X, then Y, then Z, matching
// motion.cpp's default G28 axis order.
func (s *Servicer) dispatchHome(args []string) error {
	want := [3]bool{}
	if len(args) == 0 {
		want = [3]bool{true, true, true}
	}
	for _, tok := range args {
		switch strings.ToUpper(tok) {
		case "X":
			want[0] = true
		case "Y":
			want[1] = true
		case "Z":
			want[2] = true
		}
	}
	for axis := 0; axis < 3; axis++ {
		if !want[axis] {
			continue
		}
		var seek [4]int64
		seek[axis] = -homeStepsPerMM[axis] * 300
		if err := s.builder.PlanRelativeSteps(seek, 10, true, true); err != nil {
			return fmt.Errorf("ambient: home axis %d: %w", axis, err)
		}
		pos := s.builder.CurrentPositionSteps()
		pos[axis] = 0
		s.builder.SetCurrentPositionSteps(pos)
	}
	return nil
}

func (s *Servicer) dispatchSetPosition(args []string) error {
	pos := s.builder.CurrentPositionSteps()
	for _, tok := range args {
		axis, val, err := parseAxisToken(tok)
		if err != nil {
			continue
		}
		idx := -1
		switch axis {
		case 'X':
			idx = 0
		case 'Y':
			idx = 1
		case 'Z':
			idx = 2
		case 'E':
			idx = 3
		}
		if idx >= 0 {
			pos[idx] = int64(val)
		}
	}
	s.builder.SetCurrentPositionSteps(pos)
	return nil
}

func parseAxisToken(tok string) (axis byte, value float64, err error) {
	axis = tok[0]
	value, err = strconv.ParseFloat(tok[1:], 64)
	return axis, value, err
}
