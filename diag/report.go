// Package diag renders planner/queue snapshots and the "unreachable
// position" advisory as operator-facing text through a pongo2
// template, so the report format can be customised without
// recompiling. Grounded on
// ANYCUBIC-3D-Kobra3/klipper-go/vendor/common/jinja2/jinja2.go's
// pongo2.TemplateSet wrapper, applied here to diagnostics text instead
// of G-code macro templates (macros themselves stay out of scope).
package diag

import (
	"fmt"

	pongo2 "github.com/flosch/pongo2/v5"
)

// defaultTemplate is the stock report body; Report.SetTemplate lets a
// caller swap it for a site-specific format.
const defaultTemplate = `Motion planner diagnostics
==========================
Queue: {{ queue_count }}/{{ queue_cap }} (head={{ queue_head }}, write={{ queue_write }})
{% if critical %}** queue running low: last move was stretched to stay ahead of starvation **
{% endif %}{% if unreachable %}** unreachable position requested: {{ unreachable }} **
{% endif %}{% for seg in segments %}
  segment[{{ seg.index }}] axis={{ seg.primary_axis }} steps={{ seg.steps_remaining }} \
full_speed={{ seg.full_speed }}mm/s start={{ seg.start_speed }} end={{ seg.end_speed }} \
accel={{ seg.accel_steps }} decel={{ seg.decel_steps }}{% if seg.critical %} CRITICAL{% endif %}{% if seg.halfstep %} HALFSTEP{% endif %}
{% endfor %}`

// SegmentRow is the per-segment data a report template can reference.
type SegmentRow struct {
	Index          int
	PrimaryAxis    int
	StepsRemaining uint32
	FullSpeed      float64
	StartSpeed     float64
	EndSpeed       float64
	AccelSteps     uint32
	DecelSteps     uint32
	Critical       bool
	Halfstep       bool
}

// Report holds the template used to render Snapshots into text.
type Report struct {
	set *pongo2.TemplateSet
	tpl *pongo2.Template
}

// New builds a Report using the stock diagnostics template.
func New() (*Report, error) {
	r := &Report{set: pongo2.NewSet("diag", pongo2.DefaultLoader)}
	if err := r.SetTemplate(defaultTemplate); err != nil {
		return nil, err
	}
	return r, nil
}

// SetTemplate replaces the active report template with src.
func (r *Report) SetTemplate(src string) error {
	tpl, err := r.set.FromString(src)
	if err != nil {
		return fmt.Errorf("diag: parse template: %w", err)
	}
	r.tpl = tpl
	return nil
}

// Snapshot is the data one report render covers.
type Snapshot struct {
	QueueHead  int
	QueueWrite int
	QueueCount int
	QueueCap   int
	Critical   bool
	Unreachable string // empty when the last move was reachable
	Segments   []SegmentRow
}

// Render produces the diagnostics text for snap using the active
// template.
func (r *Report) Render(snap Snapshot) (string, error) {
	segments := make([]pongo2.Context, len(snap.Segments))
	for i, s := range snap.Segments {
		segments[i] = pongo2.Context{
			"index":           s.Index,
			"primary_axis":    s.PrimaryAxis,
			"steps_remaining": s.StepsRemaining,
			"full_speed":      s.FullSpeed,
			"start_speed":     s.StartSpeed,
			"end_speed":       s.EndSpeed,
			"accel_steps":     s.AccelSteps,
			"decel_steps":     s.DecelSteps,
			"critical":        s.Critical,
			"halfstep":        s.Halfstep,
		}
	}
	ctx := pongo2.Context{
		"queue_head":  snap.QueueHead,
		"queue_write": snap.QueueWrite,
		"queue_count": snap.QueueCount,
		"queue_cap":   snap.QueueCap,
		"critical":    snap.Critical,
		"unreachable": snap.Unreachable,
		"segments":    segments,
	}
	out, err := r.tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("diag: render: %w", err)
	}
	return out, nil
}
