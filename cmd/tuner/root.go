package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/tuner"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tuner",
		Short: "Chromatic tuner",
		Long: `Detects the pitch of a monophonic instrument, maps it to the nearest
equal-tempered note and reports how many cents it is off.
Listen to a microphone or analyse an audio file.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML tuner configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", logging.FormatText, "log format (text, json)")

	cmd.AddCommand(listenCmd(opts))
	cmd.AddCommand(analyzeCmd(opts))
	cmd.AddCommand(devicesCmd())
	return cmd
}

func setupLogging(opts *rootOptions) error {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogrusLogger(os.Stderr, opts.logFormat)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logging.SetGlobalLogger(logger)
	return nil
}

// loadConfig reads the configuration file, or returns the defaults
func (opts *rootOptions) loadConfig() (tuner.Config, error) {
	if opts.configPath == "" {
		return tuner.DefaultConfig(), nil
	}
	cfg, err := tuner.LoadConfig(opts.configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// renderSnapshot formats a snapshot as one display line
func renderSnapshot(s tuner.Snapshot) string {
	if s.Note == "" {
		return "--    listening..."
	}

	freq := "  silent"
	if !s.Silent() {
		freq = fmt.Sprintf("%8.2f Hz", s.FrequencyHz)
	}

	mark := " "
	if s.InTune {
		mark = "*"
	}
	return fmt.Sprintf("%-4s %s %+6.1f cents  %-11s %s", s.Note, mark, s.CentsOffset, freq, s.State)
}
