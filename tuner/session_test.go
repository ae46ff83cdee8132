package tuner

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 44100

func sine(freq, amplitude float64, start, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(start+i)/testRate)
	}
	return out
}

// pushTone feeds duration seconds of a sine in 1024-sample chunks
func pushTone(t *testing.T, s *Session, freq float64, seconds float64) {
	t.Helper()
	total := int(seconds * testRate)
	for start := 0; start < total; start += 1024 {
		require.NoError(t, s.Push(sine(freq, 0.5, start, 1024), testRate))
	}
}

func pushSilence(t *testing.T, s *Session, seconds float64) {
	t.Helper()
	total := int(seconds * testRate)
	for start := 0; start < total; start += 1024 {
		require.NoError(t, s.Push(make([]float64, 1024), testRate))
	}
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(DefaultConfig())
	require.NoError(t, err)
	return s
}

func TestNewSessionRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Overlap = 1

	_, err := NewSession(cfg)
	assert.Error(t, err)
}

func TestSessionNeutralSnapshot(t *testing.T) {
	s := newTestSession(t)

	assert.True(t, s.LatestSnapshot().Neutral())
	assert.Equal(t, 0.0, s.LatestPitch())
	assert.Equal(t, "", s.LatestNote())
	assert.Equal(t, 0.0, s.LatestCents())

	require.True(t, s.Start())
	snap := s.LatestSnapshot()
	assert.True(t, snap.Neutral())
	assert.Equal(t, s.ID(), snap.SessionID)
	assert.NotEmpty(t, snap.SessionID)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestSession(t)

	assert.False(t, s.Running())
	assert.False(t, s.Stop())
	assert.ErrorIs(t, s.Push([]float64{1, 2, 3}, testRate), ErrNotRunning)

	require.True(t, s.Start())
	assert.True(t, s.Running())
	id := s.ID()

	// Starting again changes nothing
	pushTone(t, s, 440, 0.2)
	before := s.LatestSnapshot()
	assert.False(t, s.Start())
	assert.Equal(t, id, s.ID())
	assert.Equal(t, before, s.LatestSnapshot())

	assert.True(t, s.Stop())
	assert.False(t, s.Running())
	assert.False(t, s.Stop())
	assert.ErrorIs(t, s.Push([]float64{1, 2, 3}, testRate), ErrNotRunning)
}

func TestSessionDetectsTone(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Start())

	pushTone(t, s, 440, 1)

	snap := s.LatestSnapshot()
	assert.InDelta(t, 440.0, snap.FrequencyHz, 1.0)
	assert.Equal(t, "A4", snap.Note)
	assert.InDelta(t, 0.0, snap.CentsOffset, 4.0)
	assert.True(t, snap.InTune)
	assert.Equal(t, InTune, snap.State)
	assert.Greater(t, snap.Confidence, 0.9)
	assert.False(t, snap.UpdatedAt.IsZero())
	assert.InDelta(t, 1.0, snap.StreamTime.Seconds(), 0.05)

	stats := s.Stats()
	assert.Positive(t, stats.Windows)
	assert.Equal(t, stats.Windows, stats.Voiced+stats.Silent)
}

func TestSessionDetectsDetunedTone(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Start())

	// 30 cents sharp of E2
	freq := 82.41 * math.Pow(2, 30.0/1200)
	pushTone(t, s, freq, 1)

	snap := s.LatestSnapshot()
	assert.Equal(t, "E2", snap.Note)
	assert.InDelta(t, 30.0, snap.CentsOffset, 3.0)
	assert.False(t, snap.InTune)
	assert.Equal(t, OutOfTune, snap.State)
}

func TestSessionRemovesDCOffset(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Start())

	for start := 0; start < testRate; start += 1024 {
		chunk := sine(196, 0.3, start, 1024)
		for i := range chunk {
			chunk[i] += 0.4
		}
		require.NoError(t, s.Push(chunk, testRate))
	}

	assert.Equal(t, "G3", s.LatestNote())
	assert.InDelta(t, 196.0, s.LatestPitch(), 1.0)
}

func TestSessionSilenceStaysOutOfTune(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Start())

	pushSilence(t, s, 1)

	snap := s.LatestSnapshot()
	assert.Equal(t, OutOfTune, s.TuningState())
	assert.Equal(t, 0, s.HistoryLen())
	assert.Equal(t, 0.0, snap.FrequencyHz)
	assert.Equal(t, "", snap.Note)
	assert.Equal(t, 0.0, snap.CentsOffset)
	assert.False(t, snap.InTune)

	stats := s.Stats()
	assert.Positive(t, stats.Silent)
	assert.Zero(t, stats.Voiced)
}

func TestSessionSilenceKeepsLastNote(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Start())

	pushTone(t, s, 329.63, 0.5)
	// Flush the windows holding the tone tail and the DC blocker decay
	require.NoError(t, s.Push(make([]float64, 2048), testRate))

	voiced := s.LatestSnapshot()
	require.Equal(t, "E4", voiced.Note)
	history := s.HistoryLen()

	pushSilence(t, s, 0.5)

	silent := s.LatestSnapshot()
	assert.Equal(t, 0.0, silent.FrequencyHz)
	assert.Equal(t, voiced.Note, silent.Note)
	assert.Equal(t, voiced.CentsOffset, silent.CentsOffset)
	assert.Equal(t, voiced.State, silent.State)
	assert.Equal(t, history, s.HistoryLen())
}

func TestSessionNoteChangeClearsHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stability.Capacity = 64
	cfg.Stability.ResetOnNoteChange = true
	s, err := NewSession(cfg)
	require.NoError(t, err)
	require.True(t, s.Start())

	// 40 cents sharp of A4
	pushTone(t, s, 440*math.Pow(2, 40.0/1200), 0.5)
	require.Equal(t, "A4", s.LatestNote())
	require.InDelta(t, 40.0, s.LatestCents(), 3.0)

	pushTone(t, s, 493.88, 0.5)
	assert.Equal(t, "B4", s.LatestNote())
	assert.InDelta(t, 0.0, s.LatestCents(), 4.0)
	assert.Less(t, int64(s.HistoryLen()), s.Stats().Voiced)
}

func TestSessionNoteChangeKeepsHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stability.Capacity = 64
	cfg.Stability.ResetOnNoteChange = false
	s, err := NewSession(cfg)
	require.NoError(t, err)
	require.True(t, s.Start())

	pushTone(t, s, 440*math.Pow(2, 40.0/1200), 0.5)
	require.Equal(t, "A4", s.LatestNote())

	pushTone(t, s, 493.88, 0.5)
	assert.Equal(t, "B4", s.LatestNote())

	// Every voiced window is still in the queue, A4 offsets included
	voiced := s.Stats().Voiced
	require.LessOrEqual(t, voiced, int64(64))
	assert.Equal(t, voiced, int64(s.HistoryLen()))
	assert.Greater(t, s.LatestCents(), 10.0)
	assert.Equal(t, OutOfTune, s.TuningState())
}

func TestSessionDetectsBassLowE(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Start())

	pushTone(t, s, 41.2, 1)

	assert.Equal(t, "E1", s.LatestNote())
	assert.InDelta(t, 41.2, s.LatestPitch(), 0.3)
}

func TestSessionSampleRateMismatch(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Start())

	require.NoError(t, s.Push(sine(440, 0.5, 0, 1024), testRate))
	err := s.Push(sine(440, 0.5, 0, 1024), 48000)
	assert.ErrorIs(t, err, ErrSampleRateMismatch)
	assert.Equal(t, int64(1), s.Stats().RejectedChunks)

	// A restart accepts the new rate
	s.Stop()
	s.Start()
	assert.NoError(t, s.Push(sine(440, 0.5, 0, 1024), 48000))
}

func TestSessionFixedSampleRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 48000
	s, err := NewSession(cfg)
	require.NoError(t, err)
	require.True(t, s.Start())

	assert.ErrorIs(t, s.Push([]float64{0.1, 0.2}, testRate), ErrSampleRateMismatch)
	assert.NoError(t, s.Push([]float64{0.1, 0.2}, 48000))
}

func TestSessionIgnoresEmptyChunks(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Start())

	assert.NoError(t, s.Push(nil, testRate))
	assert.NoError(t, s.Push([]float64{}, 0))
	assert.Equal(t, Stats{}, s.Stats())
}

func TestSessionRestartResetsState(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Start())
	firstID := s.ID()

	pushTone(t, s, 440, 1)
	require.Equal(t, InTune, s.TuningState())
	require.Positive(t, s.HistoryLen())

	require.True(t, s.Stop())
	assert.True(t, s.LatestSnapshot().Neutral())

	require.True(t, s.Start())
	assert.NotEqual(t, firstID, s.ID())
	assert.Equal(t, 0, s.HistoryLen())
	assert.Equal(t, OutOfTune, s.TuningState())
	assert.Equal(t, Stats{}, s.Stats())
	assert.True(t, s.LatestSnapshot().Neutral())
}

func TestSessionConcurrentReadersAndLifecycle(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Start())

	done := make(chan struct{})
	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := s.LatestSnapshot()
				assert.Equal(t, snap.State == InTune, snap.InTune)
				assert.GreaterOrEqual(t, snap.FrequencyHz, 0.0)
				assert.LessOrEqual(t, math.Abs(snap.CentsOffset), 50.0)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 20 {
			time.Sleep(time.Millisecond)
			if i%2 == 0 {
				s.Stop()
			} else {
				s.Start()
			}
		}
		s.Start()
	}()

	for start := 0; start < testRate; start += 1024 {
		err := s.Push(sine(440, 0.5, start, 1024), testRate)
		if err != nil {
			assert.ErrorIs(t, err, ErrNotRunning)
		}
	}

	close(done)
	wg.Wait()

	assert.True(t, s.Running())
}
