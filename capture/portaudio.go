// Package capture delivers microphone input to a tuner session
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/gordonklaus/portaudio"

	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/tuner"
)

// ErrAlreadyOpen is returned when opening a source that is capturing
var ErrAlreadyOpen = errors.New("capture source already open")

// Config selects the input device and buffer layout
type Config struct {
	// Device is a 1-based device index or a device name prefix.
	// Empty selects the default input device.
	Device          string `json:"device" yaml:"device"`
	SampleRate      int    `json:"sample_rate" yaml:"sample_rate"`
	FramesPerBuffer int    `json:"frames_per_buffer" yaml:"frames_per_buffer"`
}

// DefaultConfig returns the default capture configuration
func DefaultConfig() Config {
	return Config{
		SampleRate:      44100,
		FramesPerBuffer: 1024,
	}
}

// Initialize initializes the PortAudio library. Call it once before
// opening a source and pair it with Terminate.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio library
func Terminate() error {
	return portaudio.Terminate()
}

// InputDevices returns the names of the devices that can record,
// in the order used by 1-based device indexes
func InputDevices() ([]string, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	var names []string
	for i, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		names = append(names, fmt.Sprintf("%d: %s (in:%d, %.0f Hz)", i+1, d.Name, d.MaxInputChannels, d.DefaultSampleRate))
	}
	return names, nil
}

// PortAudio is a mono microphone source
type PortAudio struct {
	config Config
	logger logging.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
}

var _ tuner.Source = (*PortAudio)(nil)

// NewPortAudio creates a PortAudio source. Zero config values take their
// defaults.
func NewPortAudio(config Config) *PortAudio {
	defaults := DefaultConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = defaults.SampleRate
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = defaults.FramesPerBuffer
	}

	return &PortAudio{
		config: config,
		logger: logging.WithFields(logging.Fields{
			"component": "portaudio_capture",
		}),
	}
}

// Open starts capturing and calls sink from the PortAudio callback
// goroutine with every buffer
func (p *PortAudio) Open(sink tuner.SinkFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return ErrAlreadyOpen
	}

	device, err := p.inputDevice()
	if err != nil {
		return err
	}

	params := portaudio.HighLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.Output.Channels = 0
	params.SampleRate = float64(p.config.SampleRate)
	params.FramesPerBuffer = p.config.FramesPerBuffer

	format := &audio.Format{NumChannels: 1, SampleRate: p.config.SampleRate}
	callback := func(in []float32) {
		buf := audio.Float32Buffer{Format: format, Data: in}
		sink(buf.AsFloatBuffer().Data, format.SampleRate)
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input: %w", err)
	}

	p.stream = stream
	p.logger.Info("Audio capture started", logging.Fields{
		"device":            device.Name,
		"sample_rate":       p.config.SampleRate,
		"frames_per_buffer": p.config.FramesPerBuffer,
	})
	return nil
}

// Close stops capturing. Closing a closed source does nothing.
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}

	stream := p.stream
	p.stream = nil

	stopErr := stream.Stop()
	closeErr := stream.Close()
	p.logger.Info("Audio capture stopped")

	return errors.Join(stopErr, closeErr)
}

func (p *PortAudio) inputDevice() (*portaudio.DeviceInfo, error) {
	if p.config.Device == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	return selectDevice(devices, p.config.Device)
}

// selectDevice finds an input device by 1-based index or name prefix
func selectDevice(devices []*portaudio.DeviceInfo, name string) (*portaudio.DeviceInfo, error) {
	if i, err := strconv.Atoi(name); err == nil {
		if i > 0 && i <= len(devices) && devices[i-1].MaxInputChannels > 0 {
			return devices[i-1], nil
		}
		return nil, fmt.Errorf("no input device at index %d", i)
	}

	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.HasPrefix(d.Name, name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", name)
}
