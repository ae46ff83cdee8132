package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/transcode"
	"github.com/RyanBlaney/sonido-tuner/tuner"
)

const testRate = 44100

// melody returns back-to-back sine notes of the given length each
func melody(seconds float64, freqs ...float64) []float64 {
	per := int(seconds * testRate)
	out := make([]float64, 0, per*len(freqs))
	for _, f := range freqs {
		for i := range per {
			out = append(out, 0.5*math.Sin(2*math.Pi*f*float64(i)/testRate))
		}
	}
	return out
}

func TestAnalyzeReportsNoteChanges(t *testing.T) {
	data := &transcode.AudioData{
		PCM:        melody(0.5, 82.41, 110.0, 146.83),
		SampleRate: testRate,
		Channels:   1,
		Duration:   1500 * time.Millisecond,
	}

	summary, err := analyze(context.Background(), tuner.DefaultConfig(), data, 1024)
	require.NoError(t, err)

	var notes []string
	for _, e := range summary.Events {
		if len(notes) == 0 || notes[len(notes)-1] != e.Note {
			notes = append(notes, e.Note)
		}
	}
	assert.Subset(t, notes, []string{"E2", "A2", "D3"})
	assert.Equal(t, "D3", notes[len(notes)-1])

	last := summary.Events[len(summary.Events)-1]
	assert.Equal(t, tuner.InTune, last.State)
	assert.Positive(t, summary.Stats.Voiced)
}

func TestAnalyzeRejectsMultichannel(t *testing.T) {
	data := &transcode.AudioData{PCM: make([]float64, 10), SampleRate: testRate, Channels: 2}

	_, err := analyze(context.Background(), tuner.DefaultConfig(), data, 1024)
	assert.Error(t, err)
}

func TestAnalyzeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := &transcode.AudioData{PCM: melody(0.1, 440), SampleRate: testRate, Channels: 1}
	_, err := analyze(ctx, tuner.DefaultConfig(), data, 1024)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeCommandOnWAV(t *testing.T) {
	pcm := melody(0.6, 196)
	ints := make([]int, len(pcm))
	for i, v := range pcm {
		ints[i] = int(v * 32767)
	}

	path := filepath.Join(t.TempDir(), "g3.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, testRate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: testRate},
		Data:           ints,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	previous := logging.GetGlobalLogger()
	defer logging.SetGlobalLogger(previous)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"analyze", "--json", "--log-level", "error", path})
	require.NoError(t, cmd.Execute())

	var summary analyzeSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, path, summary.Source)
	assert.Equal(t, testRate, summary.SampleRate)
	require.NotEmpty(t, summary.Events)
	assert.Equal(t, "G3", summary.Events[len(summary.Events)-1].Note)
}

func TestAnalyzeCommandWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("overlap: 2\n"), 0o644))

	previous := logging.GetGlobalLogger()
	defer logging.SetGlobalLogger(previous)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"analyze", "--config", path, "missing.wav"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration")
}

func TestSetupLogging(t *testing.T) {
	previous := logging.GetGlobalLogger()
	defer logging.SetGlobalLogger(previous)

	require.NoError(t, setupLogging(&rootOptions{logLevel: "debug", logFormat: "json"}))
	assert.IsType(t, &logging.LogrusLogger{}, logging.GetGlobalLogger())

	assert.Error(t, setupLogging(&rootOptions{logLevel: "loud", logFormat: "json"}))
	assert.Error(t, setupLogging(&rootOptions{logLevel: "info", logFormat: "xml"}))
}

func TestPrintSummaryText(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSummary(&out, &analyzeSummary{
		Source:     "a.wav",
		SampleRate: testRate,
		Duration:   time.Second,
		Events: []noteEvent{
			{StreamTime: 50 * time.Millisecond, Note: "A4", FrequencyHz: 440.2, CentsOffset: 0.8, State: tuner.Settling},
		},
		Stats: tuner.Stats{Windows: 42, Voiced: 40, Silent: 2},
	}, false))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "a.wav: 1.00s at 44100 Hz", lines[0])
	assert.Contains(t, lines[1], "A4")
	assert.Contains(t, lines[1], "+0.8 cents")
	assert.Contains(t, lines[1], "SETTLING")
	assert.Equal(t, "windows: 42 (voiced 40, silent 2)", lines[2])
}

func TestRenderSnapshot(t *testing.T) {
	assert.Equal(t, "--    listening...", renderSnapshot(tuner.Snapshot{}))

	line := renderSnapshot(tuner.Snapshot{
		Note:        "E2",
		FrequencyHz: 82.5,
		CentsOffset: -3.3,
		InTune:      true,
		State:       tuner.InTune,
	})
	assert.Contains(t, line, "E2")
	assert.Contains(t, line, "*")
	assert.Contains(t, line, "-3.3 cents")
	assert.Contains(t, line, "82.50 Hz")
	assert.Contains(t, line, "IN_TUNE")

	silent := renderSnapshot(tuner.Snapshot{Note: "E2", State: tuner.OutOfTune})
	assert.Contains(t, silent, "silent")
}

func TestLiveLineFlagsStalledCapture(t *testing.T) {
	now := time.Now()
	snap := tuner.Snapshot{
		Note:        "A4",
		FrequencyHz: 440,
		State:       tuner.InTune,
		InTune:      true,
		UpdatedAt:   now.Add(-100 * time.Millisecond),
	}
	assert.NotContains(t, liveLine(snap, now), "no audio")

	snap.UpdatedAt = now.Add(-3 * time.Second)
	assert.Contains(t, liveLine(snap, now), "(no audio)")

	// Nothing published yet is not a stall
	assert.Equal(t, "--    listening...", liveLine(tuner.Snapshot{}, now))
}

type idleSource struct{}

func (idleSource) Open(tuner.SinkFunc) error { return nil }
func (idleSource) Close() error              { return nil }

func TestListenStopsOnCancel(t *testing.T) {
	session, err := tuner.NewSession(tuner.DefaultConfig())
	require.NoError(t, err)
	bridge := tuner.NewBridge(session, idleSource{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, listen(ctx, bridge, 10*time.Millisecond, &out))

	assert.Contains(t, out.String(), tuner.StatusStarted)
	assert.Contains(t, out.String(), "listening...")
	assert.Contains(t, out.String(), tuner.StatusStopped)
	assert.False(t, session.Running())
}
