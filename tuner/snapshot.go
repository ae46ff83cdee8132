package tuner

import "time"

// Snapshot is the latest published detection result. A zero value with
// only SessionID set is the neutral snapshot shown before the first
// estimate of a session.
type Snapshot struct {
	SessionID   string        `json:"session_id"`
	FrequencyHz float64       `json:"frequency_hz"` // 0 while silent
	Note        string        `json:"note"`         // Last detected note, e.g. "A4"
	CentsOffset float64       `json:"cents_offset"` // Smoothed, in [-50, 50]
	InTune      bool          `json:"in_tune"`
	State       TuningState   `json:"state"`
	Confidence  float64       `json:"confidence"`
	StreamTime  time.Duration `json:"stream_time"` // Stream time of the window behind this snapshot
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Neutral reports whether no estimate has been published yet
func (s Snapshot) Neutral() bool {
	return s.Note == "" && s.FrequencyHz == 0 && s.UpdatedAt.IsZero()
}

// Silent reports whether the latest window carried no pitch
func (s Snapshot) Silent() bool {
	return s.FrequencyHz == 0
}

// Age returns how long ago the snapshot was published, relative to now.
// Readers use it to detect a stalled producer.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.UpdatedAt.IsZero() {
		return 0
	}
	return now.Sub(s.UpdatedAt)
}
