package tuner

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
)

// StabilityConfig tunes the smoothing queue and the in-tune state machine
type StabilityConfig struct {
	Capacity       int           `json:"capacity" yaml:"capacity"`               // History queue length
	ToleranceCents float64       `json:"tolerance_cents" yaml:"tolerance_cents"` // |smoothed cents| considered in tune
	Dwell          time.Duration `json:"dwell" yaml:"dwell"`                     // Time in tolerance before IN_TUNE

	// ResetOnNoteChange clears the history when the nearest note changes,
	// so offsets measured against different notes are not averaged.
	ResetOnNoteChange bool `json:"reset_on_note_change" yaml:"reset_on_note_change"`
}

// DefaultStabilityConfig returns the tuner display defaults
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{
		Capacity:       16,
		ToleranceCents: 10,
		Dwell:          100 * time.Millisecond,

		ResetOnNoteChange: true,
	}
}

// Validate checks the stability settings
func (c StabilityConfig) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("stability capacity must be positive: %d", c.Capacity)
	}
	if c.ToleranceCents < 0 || c.ToleranceCents > 50 {
		return fmt.Errorf("tolerance must be in [0, 50] cents: %v", c.ToleranceCents)
	}
	if c.Dwell < 0 {
		return fmt.Errorf("dwell must not be negative: %v", c.Dwell)
	}
	return nil
}

// Config holds every tunable of a detection session
type Config struct {
	// SampleRate of the input stream; 0 latches the rate of the first chunk
	SampleRate int     `json:"sample_rate" yaml:"sample_rate"`
	WindowSize int     `json:"window_size" yaml:"window_size"`
	Overlap    float64 `json:"overlap" yaml:"overlap"`

	// One-pole DC blocker in front of the frame buffer
	RemoveDC bool    `json:"remove_dc" yaml:"remove_dc"`
	DCPole   float64 `json:"dc_pole" yaml:"dc_pole"`

	Estimator tonal.PitchEstimatorParams `json:"estimator" yaml:"estimator"`
	Stability StabilityConfig            `json:"stability" yaml:"stability"`
}

// DefaultConfig returns a configuration for a guitar-range chromatic tuner
func DefaultConfig() Config {
	return Config{
		SampleRate: 0,
		WindowSize: 2048,
		Overlap:    0.5,
		RemoveDC:   true,
		DCPole:     0.995,
		Estimator:  tonal.DefaultPitchEstimatorParams(),
		Stability:  DefaultStabilityConfig(),
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SampleRate < 0 {
		return fmt.Errorf("sample rate must not be negative: %d", c.SampleRate)
	}
	if c.WindowSize < 64 {
		return fmt.Errorf("window size too small: %d", c.WindowSize)
	}
	if c.Overlap < 0 || c.Overlap >= 1 || math.IsNaN(c.Overlap) {
		return fmt.Errorf("overlap must be in [0, 1): %v", c.Overlap)
	}
	if c.RemoveDC && (c.DCPole <= 0 || c.DCPole >= 1) {
		return fmt.Errorf("dc pole must be in (0, 1): %v", c.DCPole)
	}
	if err := c.Estimator.Validate(); err != nil {
		return fmt.Errorf("estimator: %w", err)
	}
	if err := c.Stability.Validate(); err != nil {
		return fmt.Errorf("stability: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig. Keys missing from
// the file keep their default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}
