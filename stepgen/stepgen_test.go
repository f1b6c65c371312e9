package stepgen

import (
	"testing"

	"github.com/roman-dvorak/repetier-go/core"
	"github.com/roman-dvorak/repetier-go/queue"
	"github.com/roman-dvorak/repetier-go/stepgen/swbackend"
)

func newTestStepper(t *testing.T, oid uint8) *core.Stepper {
	t.Helper()
	s, err := core.NewStepper(oid, oid*2, oid*2+1, false, 0)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}
	if err := s.InitBackend(swbackend.New("test")); err != nil {
		t.Fatalf("InitBackend: %v", err)
	}
	return s
}

func TestConsumerDrainReadyFeedsMovingAxes(t *testing.T) {
	ring := queue.NewRing(4, 0)
	seg := ring.Reserve(nil)
	seg.Delta[queue.AxisX] = 800
	seg.DirBits.Set(queue.AxisX, true)
	seg.MoveBits.Set(queue.AxisX, true)
	seg.PrimaryAxis = queue.AxisX
	seg.StepsRemaining = 800
	seg.VMax = 4800
	seg.VStart = 800
	seg.VEnd = 800
	seg.AccelSteps = 141
	seg.DecelSteps = 141
	ring.Commit()

	var axes [queue.NumAxes]*core.Stepper
	axes[queue.AxisX] = newTestStepper(t, 0)

	var retired []*queue.MotionSegment
	c := NewConsumer(ring, axes, func(s *queue.MotionSegment) { retired = append(retired, s) })

	fed := c.DrainReady()
	if fed != 1 {
		t.Fatalf("fed = %d, want 1", fed)
	}
	if ring.Len() != 0 {
		t.Fatalf("ring.Len() = %d, want 0 after draining", ring.Len())
	}
	if len(retired) != 1 {
		t.Fatalf("retired %d segments, want 1", len(retired))
	}
	if axes[queue.AxisX].GetQueueCount() == 0 {
		t.Fatal("expected the X stepper to have queued moves")
	}
}

func TestConsumerSkipsBlockedHead(t *testing.T) {
	ring := queue.NewRing(4, 0)
	seg := ring.Reserve(nil)
	seg.Delta[queue.AxisX] = 80
	seg.MoveBits.Set(queue.AxisX, true)
	seg.DirBits.Set(queue.AxisX, true)
	seg.StepsRemaining = 80
	seg.VMax = 4800
	ring.Commit()
	ring.Block(0)

	var axes [queue.NumAxes]*core.Stepper
	axes[queue.AxisX] = newTestStepper(t, 1)
	c := NewConsumer(ring, axes, nil)

	if fed := c.DrainReady(); fed != 0 {
		t.Fatalf("fed = %d, want 0 while the head segment is blocked", fed)
	}
	if ring.Len() != 1 {
		t.Fatalf("ring.Len() = %d, want 1 (nothing retired)", ring.Len())
	}
}

func TestAxisPhasesScalesSecondaryAxisByStepRatio(t *testing.T) {
	seg := &queue.MotionSegment{
		StepsRemaining: 800,
		VMax:           4800,
		VStart:         800,
		VEnd:           800,
		AccelSteps:     141,
		DecelSteps:     141,
	}
	seg.Delta[queue.AxisX] = 800
	seg.Delta[queue.AxisY] = 400

	xPhases := axisPhases(seg, queue.AxisX)
	yPhases := axisPhases(seg, queue.AxisY)

	if xPhases[0].Count != uint16(seg.AccelSteps) {
		t.Fatalf("primary axis accel count = %d, want %d", xPhases[0].Count, seg.AccelSteps)
	}
	wantYAccel := uint16(float64(seg.AccelSteps)*0.5 + 0.5)
	if yPhases[0].Count != wantYAccel {
		t.Fatalf("secondary axis accel count = %d, want %d", yPhases[0].Count, wantYAccel)
	}
	if yPhases[1].Interval <= xPhases[1].Interval {
		t.Fatalf("half-rate secondary axis should have a longer plateau interval: y=%d x=%d", yPhases[1].Interval, xPhases[1].Interval)
	}
}
