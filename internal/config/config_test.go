package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Iterations != 40 || cfg.Alpha != 0.3 || cfg.BeamWidth != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("cycleMinutes: 60\niterations: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PLAN_ITERATIONS", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CycleMinutes != 60 {
		t.Fatalf("file value not applied: %d", cfg.CycleMinutes)
	}
	if cfg.Iterations != 25 {
		t.Fatalf("env override not applied: %d", cfg.Iterations)
	}
	if cfg.BeamWidth != 10 {
		t.Fatalf("untouched default lost: %d", cfg.BeamWidth)
	}
}

func TestLoadBadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
