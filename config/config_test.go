package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	data := []byte(`{
		"kinematics": "cartesian",
		"axes": {
			"x": {"steps_per_mm": 80},
			"y": {"steps_per_mm": 80},
			"z": {"steps_per_mm": 400},
			"e": {"steps_per_mm": 96}
		}
	}`)

	cfg, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "standalone" {
		t.Fatalf("Mode = %q, want standalone", cfg.Mode)
	}
	if cfg.Queue.CacheSize != 16 {
		t.Fatalf("Queue.CacheSize = %d, want 16", cfg.Queue.CacheSize)
	}
	if cfg.Axes["x"].MaxFeedratePrint == 0 {
		t.Fatal("expected default MaxFeedratePrint to be filled in")
	}
	if cfg.Axes["x"].MaxFeedrateTravel != cfg.Axes["x"].MaxFeedratePrint {
		t.Fatalf("MaxFeedrateTravel should default to MaxFeedratePrint")
	}
}

func TestLoadDeltaRequiresGeometry(t *testing.T) {
	data := []byte(`{
		"kinematics": "delta",
		"axes": {
			"x": {"steps_per_mm": 80}, "y": {"steps_per_mm": 80},
			"z": {"steps_per_mm": 80}, "e": {"steps_per_mm": 96}
		}
	}`)
	if _, err := Load(data); err == nil {
		t.Fatal("expected error for delta config missing geometry block")
	}
}

func TestLoadUnknownKinematics(t *testing.T) {
	data := []byte(`{"kinematics": "scara", "axes": {}}`)
	if _, err := Load(data); err == nil {
		t.Fatal("expected error for unknown kinematics")
	}
}

func TestLoadMissingAxis(t *testing.T) {
	data := []byte(`{
		"kinematics": "cartesian",
		"axes": {"x": {"steps_per_mm": 80}}
	}`)
	if _, err := Load(data); err == nil {
		t.Fatal("expected error for missing axis")
	}
}

func TestDefaultCartesianConfigValidates(t *testing.T) {
	cfg := DefaultCartesianConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultCartesianConfig failed validation: %v", err)
	}
}
