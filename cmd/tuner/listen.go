package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-tuner/capture"
	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/tuner"
)

func listenCmd(root *rootOptions) *cobra.Command {
	var (
		captureConfig = capture.DefaultConfig()
		interval      time.Duration
	)

	cmd := &cobra.Command{
		Use:     "listen",
		Short:   "Tune from a microphone",
		Example: `tuner listen --device "USB" --interval 50ms`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			if err := capture.Initialize(); err != nil {
				return err
			}
			defer func() {
				if err := capture.Terminate(); err != nil {
					logging.Error(err, "Failed to terminate portaudio")
				}
			}()

			session, err := tuner.NewSession(cfg)
			if err != nil {
				return err
			}
			bridge := tuner.NewBridge(session, capture.NewPortAudio(captureConfig))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return listen(ctx, bridge, interval, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&captureConfig.Device, "device", "", "input device index or name prefix (default input if empty)")
	flags.IntVar(&captureConfig.SampleRate, "sample-rate", captureConfig.SampleRate, "capture sample rate")
	flags.IntVar(&captureConfig.FramesPerBuffer, "frames", captureConfig.FramesPerBuffer, "frames per capture buffer")
	flags.DurationVar(&interval, "interval", 100*time.Millisecond, "display refresh interval")
	return cmd
}

// stallAfter is how old a snapshot may get before the capture is
// reported as stalled
const stallAfter = time.Second

// liveLine renders a snapshot for the live display, flagging a producer
// that stopped delivering audio
func liveLine(s tuner.Snapshot, now time.Time) string {
	line := renderSnapshot(s)
	if s.Age(now) > stallAfter {
		line += "  (no audio)"
	}
	return line
}

// listen starts detection and redraws the display until ctx is done
func listen(ctx context.Context, bridge *tuner.Bridge, interval time.Duration, out io.Writer) error {
	status := bridge.StartDetection()
	fmt.Fprintln(out, status)
	if status != tuner.StatusStarted {
		return errors.New(status)
	}

	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			fmt.Fprintln(out, bridge.StopDetection())
			return nil
		case now := <-ticker.C:
			fmt.Fprintf(out, "\r\033[K%s", liveLine(bridge.Session().LatestSnapshot(), now))
		}
	}
}
