package tuner

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/algorithms/filters"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
	"github.com/RyanBlaney/sonido-tuner/logging"
)

// Stats counts what a session has processed since it was started
type Stats struct {
	Chunks           int64 `json:"chunks"`
	RejectedChunks   int64 `json:"rejected_chunks"`
	Windows          int64 `json:"windows"`
	Voiced           int64 `json:"voiced"`
	Silent           int64 `json:"silent"`
	DiscardedWindows int64 `json:"discarded_windows"`
}

// Session is a pitch detection session. Audio is pushed by a single
// producer; any number of readers poll LatestSnapshot without blocking it.
//
// A Session is started and stopped any number of times. Each start gets a
// fresh ID, frame buffer, DC blocker and stability filter, so nothing
// leaks from one run into the next.
type Session struct {
	config    Config
	estimator *tonal.PitchEstimator
	logger    logging.Logger

	mu         sync.Mutex
	running    bool
	id         string
	generation uint64
	frames     *common.FrameBuffer
	dc         *filters.DCRemoval
	filter     *StabilityFilter
	last       Snapshot
	stats      Stats

	snapshot atomic.Pointer[Snapshot]
}

// NewSession creates an idle session
func NewSession(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	frames, err := common.NewFrameBuffer(config.WindowSize, config.Overlap, config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame buffer: %w", err)
	}

	s := &Session{
		config:    config,
		estimator: tonal.NewPitchEstimatorWithParams(config.Estimator),
		logger: logging.WithFields(logging.Fields{
			"component": "tuner_session",
		}),
		frames: frames,
		filter: NewStabilityFilter(config.Stability),
	}
	if config.RemoveDC {
		s.dc = filters.NewDCRemovalWithPole(config.DCPole)
	}
	s.snapshot.Store(&Snapshot{})

	return s, nil
}

// Config returns the session configuration
func (s *Session) Config() Config {
	return s.config
}

// Start moves the session from idle to running. Starting a running
// session logs a warning and changes nothing.
func (s *Session) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("Detection session already running", logging.Fields{
			"session_id": s.id,
		})
		return false
	}

	s.running = true
	s.generation++
	s.id = uuid.NewString()
	s.reset()

	s.logger.Info("Detection session started", logging.Fields{
		"session_id":  s.id,
		"window_size": s.config.WindowSize,
		"hop_size":    s.frames.HopSize(),
		"sample_rate": s.config.SampleRate,
	})
	if s.config.SampleRate > 0 {
		s.checkReach(s.config.SampleRate)
	}
	return true
}

// Stop moves the session back to idle, dropping buffered samples and any
// estimate still being computed. Stopping an idle session does nothing.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}

	s.running = false
	s.generation++

	s.logger.Info("Detection session stopped", logging.Fields{
		"session_id": s.id,
		"windows":    s.stats.Windows,
		"voiced":     s.stats.Voiced,
	})

	s.reset()
	return true
}

// reset clears per-run state and publishes the neutral snapshot.
// Must be called with mu held.
func (s *Session) reset() {
	s.frames.Reset()
	if s.dc != nil {
		s.dc.Reset()
	}
	s.filter.Reset()
	s.stats = Stats{}
	s.last = Snapshot{SessionID: s.id}
	s.publish(s.last)
}

// Push feeds a chunk of mono samples. Empty chunks are ignored. A chunk
// at a different sample rate than the stream started with is rejected
// with ErrSampleRateMismatch.
func (s *Session) Push(samples []float64, sampleRate int) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if len(samples) == 0 {
		s.mu.Unlock()
		return nil
	}
	if err := s.frames.CheckRate(sampleRate); err != nil {
		s.stats.RejectedChunks++
		id := s.id
		s.mu.Unlock()

		s.logger.Warn("Rejected audio chunk", logging.Fields{
			"session_id": id,
			"error":      err.Error(),
		})
		return err
	}

	input := samples
	if s.dc != nil {
		input = s.dc.ProcessBuffer(samples)
	}

	latched := s.frames.SampleRate() > 0
	windows, err := s.frames.Push(input, sampleRate)
	if err != nil {
		s.stats.RejectedChunks++
		s.mu.Unlock()
		return err
	}
	if !latched {
		s.checkReach(sampleRate)
	}
	s.stats.Chunks++
	generation := s.generation
	s.mu.Unlock()

	if len(windows) == 0 {
		return nil
	}

	// Estimation does not hold the lock; Stop may run meanwhile.
	estimates := make([]tonal.PitchEstimate, len(windows))
	for i, window := range windows {
		estimates[i] = s.estimator.Estimate(window)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.generation != generation {
		s.logger.Debug("Discarded in-flight estimates", logging.Fields{
			"windows": len(estimates),
		})
		return nil
	}

	for _, estimate := range estimates {
		s.commit(estimate)
	}
	return nil
}

// checkReach warns when the window is too short for the configured
// lowest frequency at this sample rate. Must be called with mu held.
func (s *Session) checkReach(sampleRate int) {
	lowest := s.estimator.LowestDetectable(s.config.WindowSize, sampleRate)
	if lowest <= s.config.Estimator.MinFreq {
		return
	}
	s.logger.Warn("Window too short for the configured minimum frequency", logging.Fields{
		"session_id":      s.id,
		"window_size":     s.config.WindowSize,
		"sample_rate":     sampleRate,
		"min_freq":        s.config.Estimator.MinFreq,
		"lowest_detected": lowest,
	})
}

// commit runs one estimate through the note mapper and the stability
// filter and publishes the result. Must be called with mu held.
func (s *Session) commit(estimate tonal.PitchEstimate) {
	s.stats.Windows++

	snap := s.last
	snap.StreamTime = estimate.Timestamp
	snap.UpdatedAt = time.Now()

	if !estimate.Voiced() {
		s.stats.Silent++
		snap.FrequencyHz = 0
		snap.Confidence = 0
		s.last = snap
		s.publish(snap)
		return
	}

	note, err := tonal.ToNote(estimate.FrequencyHz)
	if err != nil {
		s.stats.DiscardedWindows++
		s.logger.Debug("Dropped estimate", logging.Fields{
			"session_id":   s.id,
			"frequency_hz": estimate.FrequencyHz,
			"error":        err.Error(),
		})
		return
	}

	name := note.String()
	if s.config.Stability.ResetOnNoteChange && s.last.Note != "" && s.last.Note != name {
		s.filter.Reset()
	}

	smoothed := s.filter.Update(estimate.FrequencyHz, note.Cents, estimate.Timestamp)
	s.stats.Voiced++

	snap.FrequencyHz = estimate.FrequencyHz
	snap.Note = name
	snap.CentsOffset = smoothed.CentsOffset
	snap.InTune = smoothed.Stable
	snap.State = smoothed.State
	snap.Confidence = estimate.Confidence

	s.logger.Debug("Window analysed", logging.Fields{
		"session_id":   s.id,
		"frequency_hz": estimate.FrequencyHz,
		"confidence":   estimate.Confidence,
		"rms":          estimate.RMS,
		"note":         name,
		"cents":        smoothed.CentsOffset,
		"state":        smoothed.State.String(),
	})

	s.last = snap
	s.publish(snap)
}

func (s *Session) publish(snap Snapshot) {
	s.snapshot.Store(&snap)
}

// LatestSnapshot returns the most recent result without blocking
func (s *Session) LatestSnapshot() Snapshot {
	return *s.snapshot.Load()
}

// LatestPitch returns the latest frequency in Hz, 0 when silent
func (s *Session) LatestPitch() float64 {
	return s.LatestSnapshot().FrequencyHz
}

// LatestNote returns the latest note name, e.g. "A4", or "" before the
// first detection
func (s *Session) LatestNote() string {
	return s.LatestSnapshot().Note
}

// LatestCents returns the latest smoothed cents offset
func (s *Session) LatestCents() float64 {
	return s.LatestSnapshot().CentsOffset
}

// Running reports whether the session accepts audio
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ID returns the identifier of the current or last run
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Stats returns the counters of the current run
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// TuningState returns the state of the stability filter
func (s *Session) TuningState() TuningState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.State()
}

// HistoryLen returns the number of cents values held by the stability filter
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Len()
}
