package config

import (
	"os"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Config holds planner and simulation tuning. Values load from an
// optional YAML file (CONFIG_FILE), then environment variables override
// individual fields.
type Config struct {
	CycleMinutes    int     `yaml:"cycleMinutes"`    // planning cycle interval, simulated minutes
	WindowCycles    int     `yaml:"windowCycles"`    // window spans this many cycle intervals
	CycleTimeoutSec int     `yaml:"cycleTimeoutSec"` // hard per-cycle budget, real seconds
	Iterations      int     `yaml:"iterations"`      // randomized construction rounds per sub-window
	Alpha           float64 `yaml:"alpha"`           // candidate-list fraction, 0..1
	BeamWidth       int     `yaml:"beamWidth"`
	MaxLegs         int     `yaml:"maxLegs"`
	MinLayoverMin   int     `yaml:"minLayoverMin"`

	LiveVelocity   float64 `yaml:"liveVelocity"`   // sim seconds per real second
	WeeklyVelocity float64 `yaml:"weeklyVelocity"`
	ReleaseHours   int     `yaml:"releaseHours"` // warehouse dwell after landing, sim hours

	DomesticDeadlineH      int `yaml:"domesticDeadlineH"`
	InternationalDeadlineH int `yaml:"internationalDeadlineH"`
}

func Default() Config {
	return Config{
		CycleMinutes:           180,
		WindowCycles:           4,
		CycleTimeoutSec:        20,
		Iterations:             40,
		Alpha:                  0.3,
		BeamWidth:              10,
		MaxLegs:                4,
		MinLayoverMin:          30,
		LiveVelocity:           1,
		WeeklyVelocity:         604800.0 / 120.0, // one week in two real minutes
		ReleaseHours:           2,
		DomesticDeadlineH:      48,
		InternationalDeadlineH: 96,
	}
}

// Load builds the effective config: defaults, then CONFIG_FILE (if set),
// then environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}
	envInt("PLAN_CYCLE_MINUTES", &cfg.CycleMinutes)
	envInt("PLAN_WINDOW_CYCLES", &cfg.WindowCycles)
	envInt("PLAN_CYCLE_TIMEOUT_SEC", &cfg.CycleTimeoutSec)
	envInt("PLAN_ITERATIONS", &cfg.Iterations)
	envFloat("PLAN_ALPHA", &cfg.Alpha)
	envInt("PLAN_BEAM_WIDTH", &cfg.BeamWidth)
	envInt("PLAN_MAX_LEGS", &cfg.MaxLegs)
	envInt("PLAN_MIN_LAYOVER_MIN", &cfg.MinLayoverMin)
	envFloat("SIM_LIVE_VELOCITY", &cfg.LiveVelocity)
	envFloat("SIM_WEEKLY_VELOCITY", &cfg.WeeklyVelocity)
	envInt("SIM_RELEASE_HOURS", &cfg.ReleaseHours)
	envInt("DEADLINE_DOMESTIC_H", &cfg.DomesticDeadlineH)
	envInt("DEADLINE_INTERNATIONAL_H", &cfg.InternationalDeadlineH)
	return cfg, nil
}

func (c Config) CycleInterval() time.Duration { return time.Duration(c.CycleMinutes) * time.Minute }
func (c Config) CycleTimeout() time.Duration  { return time.Duration(c.CycleTimeoutSec) * time.Second }
func (c Config) MinLayover() time.Duration    { return time.Duration(c.MinLayoverMin) * time.Minute }
func (c Config) ReleaseAfter() time.Duration  { return time.Duration(c.ReleaseHours) * time.Hour }

func envInt(k string, dst *int) {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(k string, dst *float64) {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
