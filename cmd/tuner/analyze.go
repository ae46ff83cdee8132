package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/transcode"
	"github.com/RyanBlaney/sonido-tuner/tuner"
)

// noteEvent is printed whenever the note or the tuning state changes
type noteEvent struct {
	StreamTime  time.Duration     `json:"stream_time"`
	Note        string            `json:"note"`
	FrequencyHz float64           `json:"frequency_hz"`
	CentsOffset float64           `json:"cents_offset"`
	State       tuner.TuningState `json:"state"`
}

type analyzeSummary struct {
	Source     string        `json:"source"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`
	Events     []noteEvent   `json:"events"`
	Stats      tuner.Stats   `json:"stats"`
}

type analyzeOptions struct {
	chunkSize int
	jsonOut   bool
	decoder   *transcode.DecoderConfig
}

func analyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{decoder: transcode.DefaultDecoderConfig()}

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Report the notes played in an audio file",
		Long: `Decode an audio file, feed it through a detection session in capture-sized
chunks and print every note and tuning state change. Use "-" to read stdin.
`,
		Example: `tuner analyze e-string.wav
tuner analyze --json --max-duration 10s take.mp3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			ctx := logging.ContextWithFields(cmd.Context(), logging.Fields{"input": args[0]})
			data, err := decode(ctx, transcode.NewDecoder(opts.decoder), args[0])
			if err != nil {
				return err
			}

			summary, err := analyze(ctx, cfg, data, opts.chunkSize)
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), summary, opts.jsonOut)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.chunkSize, "chunk", 1024, "samples per pushed chunk")
	flags.BoolVar(&opts.jsonOut, "json", false, "print the summary as JSON")
	flags.DurationVar(&opts.decoder.MaxDuration, "max-duration", 0, "analyse at most this much audio")
	flags.StringVar(&opts.decoder.FFmpegPath, "ffmpeg", opts.decoder.FFmpegPath, "ffmpeg binary")
	flags.StringVar(&opts.decoder.FFprobePath, "ffprobe", opts.decoder.FFprobePath, "ffprobe binary")
	flags.BoolVar(&opts.decoder.NativeWAV, "native-wav", opts.decoder.NativeWAV, "decode PCM WAV files without ffmpeg")
	return cmd
}

func decode(ctx context.Context, decoder *transcode.Decoder, input string) (*transcode.AudioData, error) {
	if err := decoder.Validate(); err != nil {
		return nil, err
	}
	if input == "-" {
		return decoder.DecodeReader(ctx, os.Stdin)
	}
	return decoder.DecodeFile(ctx, input)
}

// analyze replays decoded audio through a fresh session
func analyze(ctx context.Context, cfg tuner.Config, data *transcode.AudioData, chunkSize int) (*analyzeSummary, error) {
	if data.Channels != 1 {
		return nil, fmt.Errorf("expected mono audio, got %d channels", data.Channels)
	}

	// Files carry their own rate
	cfg.SampleRate = 0
	session, err := tuner.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	session.Start()
	defer session.Stop()

	summary := &analyzeSummary{
		Source:     data.Source,
		SampleRate: data.SampleRate,
		Duration:   data.Duration,
	}

	var last noteEvent
	for _, chunk := range data.Chunks(chunkSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := session.Push(chunk, data.SampleRate); err != nil {
			return nil, fmt.Errorf("pushing audio: %w", err)
		}

		snap := session.LatestSnapshot()
		if snap.Note == "" || snap.Silent() {
			continue
		}
		if snap.Note == last.Note && snap.State == last.State {
			continue
		}

		last = noteEvent{
			StreamTime:  snap.StreamTime,
			Note:        snap.Note,
			FrequencyHz: snap.FrequencyHz,
			CentsOffset: snap.CentsOffset,
			State:       snap.State,
		}
		summary.Events = append(summary.Events, last)
	}

	summary.Stats = session.Stats()
	return summary, nil
}

func printSummary(out io.Writer, summary *analyzeSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Fprintf(out, "%s: %.2fs at %d Hz\n", summary.Source, summary.Duration.Seconds(), summary.SampleRate)
	for _, e := range summary.Events {
		fmt.Fprintf(out, "%8.3fs  %-4s %+6.1f cents  %8.2f Hz  %s\n",
			e.StreamTime.Seconds(), e.Note, e.CentsOffset, e.FrequencyHz, e.State)
	}
	fmt.Fprintf(out, "windows: %d (voiced %d, silent %d)\n",
		summary.Stats.Windows, summary.Stats.Voiced, summary.Stats.Silent)
	return nil
}
