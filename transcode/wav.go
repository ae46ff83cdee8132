package transcode

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/RyanBlaney/sonido-tuner/logging"
)

// ErrUnsupportedWAV is returned for WAV files the native decoder cannot
// read (not RIFF/WAVE, or not integer PCM)
var ErrUnsupportedWAV = errors.New("unsupported WAV file")

const wavFormatPCM = 1

// DecodeWAVFile decodes a PCM WAV file without ffmpeg
func (d *Decoder) DecodeWAVFile(filename string) (*AudioData, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer f.Close()

	data, err := d.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	data.Source = filename
	return data, nil
}

// DecodeWAV decodes integer PCM WAV data, mixing it down to mono when the
// decoder targets one channel. The file sample rate is kept.
func (d *Decoder) DecodeWAV(r io.ReadSeeker) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "DecodeWAV",
	})

	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedWAV)
	}
	if decoder.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: audio format %d", ErrUnsupportedWAV, decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}

	format := buf.Format
	if format == nil {
		format = decoder.Format()
	}
	if format == nil || format.NumChannels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing format chunk", ErrUnsupportedWAV)
	}

	samples := intToFloat(buf, int(decoder.BitDepth))
	channels := format.NumChannels
	if d.config.TargetChannels == 1 && channels > 1 {
		samples = downmix(samples, channels)
		channels = 1
	}

	if d.config.MaxDuration > 0 {
		limit := int(d.config.MaxDuration.Seconds()*float64(format.SampleRate)) * channels
		if limit < len(samples) {
			samples = samples[:limit]
		}
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("no audio samples decoded")
	}

	duration := time.Duration(len(samples)/channels) * time.Second / time.Duration(format.SampleRate)

	logger.Debug("WAV decode completed", logging.Fields{
		"sample_rate": format.SampleRate,
		"channels":    format.NumChannels,
		"bit_depth":   decoder.BitDepth,
		"samples":     len(samples),
		"duration":    duration.Seconds(),
	})

	return &AudioData{
		PCM:        samples,
		SampleRate: format.SampleRate,
		Channels:   channels,
		Duration:   duration,
		Timestamp:  time.Now(),
		Metadata: &AudioMetadata{
			SampleRate: format.SampleRate,
			Channels:   format.NumChannels,
			Codec:      fmt.Sprintf("pcm_s%dle", decoder.BitDepth),
			Duration:   duration.Seconds(),
			Bitrate:    format.SampleRate * format.NumChannels * int(decoder.BitDepth),
			Format:     "WAV",
		},
	}, nil
}

// intToFloat scales integer PCM to [-1, 1]. 8-bit WAV data is unsigned.
func intToFloat(buf *audio.IntBuffer, bitDepth int) []float64 {
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}

	out := make([]float64, len(buf.Data))
	scale := math.Exp2(float64(bitDepth - 1))
	offset := 0.0
	if bitDepth == 8 {
		offset = 128
	}

	for i, v := range buf.Data {
		out[i] = (float64(v) - offset) / scale
	}
	return out
}

// downmix averages interleaved channels into one
func downmix(samples []float64, channels int) []float64 {
	frames := len(samples) / channels
	mono := make([]float64, frames)
	for i := range frames {
		sum := 0.0
		for c := range channels {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}
