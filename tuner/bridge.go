package tuner

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RyanBlaney/sonido-tuner/logging"
)

// Status strings returned to the host application
const (
	StatusStarted        = "Pitch detection started"
	StatusAlreadyRunning = "Pitch detection is already running"
	StatusStopped        = "Pitch detection stopped"
	StatusNotRunning     = "Pitch detection is not running"
)

// SinkFunc receives captured mono samples at their sample rate
type SinkFunc func(samples []float64, sampleRate int)

// Source is an audio capture device. Open starts delivering samples to
// sink until Close is called.
type Source interface {
	Open(sink SinkFunc) error
	Close() error
}

// Bridge exposes a session to a host UI through start/stop calls and
// polled getters. The host never sees errors: failures are logged and
// reported through the returned status string.
type Bridge struct {
	session *Session
	source  Source
	logger  logging.Logger

	// Serializes start and stop so the source is opened at most once.
	mu sync.Mutex
}

// NewBridge connects a session to an audio source
func NewBridge(session *Session, source Source) *Bridge {
	return &Bridge{
		session: session,
		source:  source,
		logger: logging.WithFields(logging.Fields{
			"component": "tuner_bridge",
		}),
	}
}

// Session returns the bridged session
func (b *Bridge) Session() *Session {
	return b.session
}

// StartDetection starts the session and opens the audio source
func (b *Bridge) StartDetection() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.session.Start() {
		return StatusAlreadyRunning
	}

	if err := b.source.Open(b.sink); err != nil {
		b.session.Stop()
		b.logger.Error(err, "Failed to open audio source", logging.Fields{
			"session_id": b.session.ID(),
		})
		return fmt.Sprintf("Failed to start pitch detection: %v", err)
	}

	return StatusStarted
}

// StopDetection closes the audio source and stops the session
func (b *Bridge) StopDetection() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.session.Running() {
		return StatusNotRunning
	}

	if err := b.source.Close(); err != nil {
		b.logger.Error(err, "Failed to close audio source", logging.Fields{
			"session_id": b.session.ID(),
		})
	}
	b.session.Stop()

	return StatusStopped
}

func (b *Bridge) sink(samples []float64, sampleRate int) {
	err := b.session.Push(samples, sampleRate)
	if err == nil || errors.Is(err, ErrNotRunning) {
		return
	}
	// Push already logged the rejected chunk.
	if !errors.Is(err, ErrSampleRateMismatch) {
		b.logger.Error(err, "Failed to push audio")
	}
}

// GetLatestPitch returns the latest frequency in Hz, 0 when silent
func (b *Bridge) GetLatestPitch() float64 {
	return b.session.LatestPitch()
}

// GetLatestNote returns the latest note, e.g. "A4"
func (b *Bridge) GetLatestNote() string {
	return b.session.LatestNote()
}

// GetLatestCents returns the latest smoothed cents offset in [-50, 50]
func (b *Bridge) GetLatestCents() float64 {
	return b.session.LatestCents()
}
