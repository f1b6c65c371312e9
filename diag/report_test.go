package diag

import (
	"strings"
	"testing"
)

func TestRenderIncludesQueueCountersAndSegments(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := r.Render(Snapshot{
		QueueHead: 1, QueueWrite: 3, QueueCount: 2, QueueCap: 16,
		Segments: []SegmentRow{
			{Index: 0, PrimaryAxis: 0, StepsRemaining: 800, FullSpeed: 60, StartSpeed: 10, EndSpeed: 10, AccelSteps: 141, DecelSteps: 141},
		},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "2/16") {
		t.Fatalf("expected queue counters 2/16 in output, got:\n%s", out)
	}
	if !strings.Contains(out, "steps=800") {
		t.Fatalf("expected segment steps=800 in output, got:\n%s", out)
	}
}

func TestRenderFlagsCriticalAndUnreachable(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := r.Render(Snapshot{
		QueueCap: 16, Critical: true, Unreachable: "(999.00,0.00,0.00)",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "running low") {
		t.Fatalf("expected the critical-queue advisory, got:\n%s", out)
	}
	if !strings.Contains(out, "999.00") {
		t.Fatalf("expected the unreachable position in output, got:\n%s", out)
	}
}

func TestSetTemplateOverridesFormat(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.SetTemplate("count={{ queue_count }}"); err != nil {
		t.Fatalf("SetTemplate: %v", err)
	}
	out, err := r.Render(Snapshot{QueueCount: 5})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.TrimSpace(out) != "count=5" {
		t.Fatalf("out = %q, want %q", out, "count=5")
	}
}
