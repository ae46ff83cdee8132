package tuner

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
)

// TuningState is the in-tune state machine of the stability filter
type TuningState int

const (
	OutOfTune TuningState = iota
	Settling
	InTune
)

func (s TuningState) String() string {
	switch s {
	case OutOfTune:
		return "OUT_OF_TUNE"
	case Settling:
		return "SETTLING"
	case InTune:
		return "IN_TUNE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON and YAML output
func (s TuningState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText
func (s *TuningState) UnmarshalText(text []byte) error {
	for _, state := range []TuningState{OutOfTune, Settling, InTune} {
		if string(text) == state.String() {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown tuning state: %q", text)
}

// SmoothedPitch is the display value produced by the stability filter
type SmoothedPitch struct {
	FrequencyHz float64       `json:"frequency_hz"`
	CentsOffset float64       `json:"cents_offset"` // Mean of the history queue
	State       TuningState   `json:"state"`
	Stable      bool          `json:"stable"`       // State == InTune
	SinceStable time.Duration `json:"since_stable"` // Time spent within tolerance
}

// StabilityFilter averages recent cents offsets over a fixed-size queue
// and tracks whether the smoothed value has stayed within tolerance long
// enough to be shown as in tune. Leaving the tolerance is immediate.
//
// Time comes from the estimates themselves, so the filter is
// deterministic for a given input stream. Not safe for concurrent use.
type StabilityFilter struct {
	config  StabilityConfig
	history *common.CircularBuffer

	state     TuningState
	settledAt time.Duration
	current   SmoothedPitch
}

// NewStabilityFilter creates a stability filter
func NewStabilityFilter(config StabilityConfig) *StabilityFilter {
	if config.Capacity < 1 {
		config.Capacity = DefaultStabilityConfig().Capacity
	}
	return &StabilityFilter{
		config:  config,
		history: common.NewCircularBuffer(config.Capacity),
	}
}

// Update feeds one estimate at stream time at. Unvoiced estimates
// (frequencyHz <= 0) are dropped and leave the filter untouched.
func (sf *StabilityFilter) Update(frequencyHz, cents float64, at time.Duration) SmoothedPitch {
	if !(frequencyHz > 0) || math.IsNaN(cents) {
		return sf.current
	}

	sf.history.Write(cents)
	smoothed := stat.Mean(sf.history.Values(), nil)

	if math.Abs(smoothed) > sf.config.ToleranceCents {
		sf.state = OutOfTune
		sf.settledAt = 0
	} else {
		switch sf.state {
		case OutOfTune:
			sf.state = Settling
			sf.settledAt = at
		case Settling:
			if at-sf.settledAt >= sf.config.Dwell {
				sf.state = InTune
			}
		}
	}

	// A zero dwell is reached on the sample that entered tolerance.
	if sf.state == Settling && sf.config.Dwell == 0 {
		sf.state = InTune
	}

	var since time.Duration
	if sf.state != OutOfTune {
		since = at - sf.settledAt
	}

	sf.current = SmoothedPitch{
		FrequencyHz: frequencyHz,
		CentsOffset: smoothed,
		State:       sf.state,
		Stable:      sf.state == InTune,
		SinceStable: since,
	}
	return sf.current
}

// Current returns the last smoothed value
func (sf *StabilityFilter) Current() SmoothedPitch {
	return sf.current
}

// State returns the current tuning state
func (sf *StabilityFilter) State() TuningState {
	return sf.state
}

// Len returns the number of cents values in the history queue
func (sf *StabilityFilter) Len() int {
	return sf.history.Available()
}

// Capacity returns the history queue capacity
func (sf *StabilityFilter) Capacity() int {
	return sf.history.Capacity()
}

// Reset clears the history, the state and the dwell timer
func (sf *StabilityFilter) Reset() {
	sf.history.Clear()
	sf.state = OutOfTune
	sf.settledAt = 0
	sf.current = SmoothedPitch{}
}
