// Command motionctl wires the machine config, kinematics, move queue,
// planner, ambient serial loop, stepper consumer and telemetry server
// together into one running process. Grounded on the teacher's
// host/cmd entrypoint shape: flags for the config file and serial
// device, plain log output, no G-code grammar beyond what ambient
// recognises.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/roman-dvorak/repetier-go/ambient"
	"github.com/roman-dvorak/repetier-go/config"
	"github.com/roman-dvorak/repetier-go/core"
	"github.com/roman-dvorak/repetier-go/diag"
	"github.com/roman-dvorak/repetier-go/host/serial"
	"github.com/roman-dvorak/repetier-go/kinematics"
	"github.com/roman-dvorak/repetier-go/planner"
	"github.com/roman-dvorak/repetier-go/queue"
	"github.com/roman-dvorak/repetier-go/stepgen"
	"github.com/roman-dvorak/repetier-go/stepgen/swbackend"
	"github.com/roman-dvorak/repetier-go/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the machine configuration JSON file")
	device := flag.String("device", "", "serial device the host transport listens on (empty = telemetry-only, no serial loop)")
	listenAddr := flag.String("listen", ":8080", "telemetry HTTP/WebSocket listen address")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("motionctl: %v", err)
	}

	ring := queue.NewRing(cfg.Queue.CacheSize, cfg.Queue.CacheSize*22)

	var ambientServicer *ambient.Servicer
	ambientService := func() {}

	p, lin, del, err := newPlanner(cfg, ring, func() { ambientService() })
	if err != nil {
		log.Fatalf("motionctl: %v", err)
	}
	_, _ = lin, del

	if *device != "" {
		s, err := ambient.New(serial.DefaultConfig(*device), p, func(err error) {
			log.Printf("motionctl: ambient: %v", err)
		})
		if err != nil {
			log.Fatalf("motionctl: open serial: %v", err)
		}
		ambientServicer = s
		ambientService = s.Service
		defer ambientServicer.Close()
	}

	axes := wireStepperConsumer(cfg, ring, p)

	report, err := diag.New()
	if err != nil {
		log.Fatalf("motionctl: diag: %v", err)
	}

	telSrv := telemetry.New(func() telemetry.QueueSnapshot {
		return snapshotRing(ring)
	}, 500*time.Millisecond)

	go runConsumerLoop(ring, axes)

	log.Printf("motionctl: kinematics=%s listening on %s", cfg.Kinematics, *listenAddr)
	printDiagnostics(report, ring)
	log.Fatal(http.ListenAndServe(*listenAddr, telSrv.Handler()))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultCartesianConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.Load(data)
}

func newPlanner(cfg *config.Config, ring *queue.Ring, ambientService func()) (*planner.Planner, kinematics.Linear, kinematics.Delta, error) {
	switch cfg.Kinematics {
	case "delta":
		geom := kinematics.NewDeltaGeometry(cfg.Delta.RodLength, cfg.Delta.Radius, cfg.Delta.TowerAngles)
		del := kinematics.NewThreeTower(geom)
		p, err := planner.NewDeltaPlanner(cfg, del, ring, ambientService)
		return p, nil, del, err
	case "corexy":
		lin := kinematics.NewCoreXY(cfg.CoreXYSwapped)
		p, err := planner.NewLinearPlanner(cfg, lin, ring, ambientService)
		return p, lin, nil, err
	default:
		lin := kinematics.NewCartesian()
		p, err := planner.NewLinearPlanner(cfg, lin, ring, ambientService)
		return p, lin, nil, err
	}
}

// wireStepperConsumer builds one core.Stepper per configured axis,
// backed by the software simulation backend. A real deployment swaps
// swbackend.New for targets/pio's PIO-backed StepperBackend behind a
// build tag.
func wireStepperConsumer(cfg *config.Config, ring *queue.Ring, p *planner.Planner) [queue.NumAxes]*core.Stepper {
	core.SetDefaultStepperQueueSize(uint8(cfg.Queue.CacheSize))

	var axes [queue.NumAxes]*core.Stepper
	names := [queue.NumAxes]string{"x", "y", "z", "e"}
	for i, name := range names {
		if _, ok := cfg.Axes[name]; !ok {
			continue
		}
		s, err := core.NewStepper(uint8(i), uint8(i*2), uint8(i*2+1), false, 0)
		if err != nil {
			log.Printf("motionctl: stepper %s: %v", name, err)
			continue
		}
		if err := s.InitBackend(swbackend.New(name)); err != nil {
			log.Printf("motionctl: stepper %s backend: %v", name, err)
			continue
		}
		axes[i] = s
	}
	return axes
}

func runConsumerLoop(ring *queue.Ring, axes [queue.NumAxes]*core.Stepper) {
	consumer := stepgen.NewConsumer(ring, axes, nil)
	for {
		consumer.DrainReady()
		time.Sleep(time.Millisecond)
	}
}

func snapshotRing(ring *queue.Ring) telemetry.QueueSnapshot {
	snap := telemetry.QueueSnapshot{
		Head:  ring.HeadIndex(),
		Write: ring.WriteIndex(),
		Count: ring.Len(),
		Cap:   ring.Cap(),
	}
	if ring.Len() > 0 {
		seg := ring.At(ring.HeadIndex())
		snap.Head0 = &telemetry.SegmentSnapshot{
			Flags:          uint16(seg.Flags),
			PrimaryAxis:    seg.PrimaryAxis,
			StepsRemaining: seg.StepsRemaining,
			FullSpeed:      seg.FullSpeed,
			StartSpeed:     seg.StartSpeed,
			EndSpeed:       seg.EndSpeed,
			AccelSteps:     seg.AccelSteps,
			DecelSteps:     seg.DecelSteps,
		}
	}
	return snap
}

func printDiagnostics(report *diag.Report, ring *queue.Ring) {
	out, err := report.Render(diag.Snapshot{
		QueueHead: ring.HeadIndex(), QueueWrite: ring.WriteIndex(),
		QueueCount: ring.Len(), QueueCap: ring.Cap(),
	})
	if err != nil {
		log.Printf("motionctl: diag render: %v", err)
		return
	}
	log.Print(out)
}
