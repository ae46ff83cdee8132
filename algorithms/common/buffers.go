package common

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrSampleRateMismatch is returned when a chunk arrives at a different
// sample rate than the one the stream started with.
var ErrSampleRateMismatch = errors.New("sample rate mismatch")

// CircularBuffer is a fixed-capacity FIFO of float64 values.
// Writing into a full buffer overwrites the oldest value.
type CircularBuffer struct {
	buffer   []float64
	size     int
	writePos int
	readPos  int
	count    int
}

// NewCircularBuffer creates a new circular buffer
func NewCircularBuffer(size int) *CircularBuffer {
	if size < 1 {
		size = 1
	}
	return &CircularBuffer{
		buffer: make([]float64, size),
		size:   size,
	}
}

// Write adds data to the buffer, evicting the oldest values when full
func (cb *CircularBuffer) Write(data ...float64) int {
	written := 0
	for _, sample := range data {
		cb.buffer[cb.writePos] = sample
		cb.writePos = (cb.writePos + 1) % cb.size
		if cb.count < cb.size {
			cb.count++
		} else {
			cb.readPos = (cb.readPos + 1) % cb.size
		}
		written++
	}
	return written
}

// Peek copies buffered values, oldest first, without consuming them
func (cb *CircularBuffer) Peek(data []float64) int {
	read := 0
	pos := cb.readPos
	remaining := cb.count

	for i := range data {
		if remaining == 0 {
			break
		}
		data[i] = cb.buffer[pos]
		pos = (pos + 1) % cb.size
		remaining--
		read++
	}
	return read
}

// Values returns a copy of the buffered values, oldest first
func (cb *CircularBuffer) Values() []float64 {
	values := make([]float64, cb.count)
	cb.Peek(values)
	return values
}

// Available returns number of values held
func (cb *CircularBuffer) Available() int {
	return cb.count
}

// Capacity returns the fixed capacity
func (cb *CircularBuffer) Capacity() int {
	return cb.size
}

// Clear empties the buffer
func (cb *CircularBuffer) Clear() {
	cb.writePos = 0
	cb.readPos = 0
	cb.count = 0
}

// IsFull returns true if buffer is full
func (cb *CircularBuffer) IsFull() bool {
	return cb.count == cb.size
}

// SampleWindow is one analysis window cut from the input stream.
// The Samples slice is owned by the window and must not be modified.
type SampleWindow struct {
	Samples    []float64
	SampleRate int
	// Offset is the index of the first sample since the stream started.
	Offset int64
}

// Len returns the window length in samples
func (w SampleWindow) Len() int {
	return len(w.Samples)
}

// Timestamp returns the stream time at the end of the window
func (w SampleWindow) Timestamp() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	end := w.Offset + int64(len(w.Samples))
	rate := int64(w.SampleRate)
	// Whole seconds first so streams past ~58 h at 44.1 kHz do not overflow
	return time.Duration(end/rate)*time.Second + time.Duration(end%rate)*time.Second/time.Duration(rate)
}

// FrameBuffer accumulates arbitrary-sized chunks into fixed-size,
// optionally overlapping analysis windows.
type FrameBuffer struct {
	windowSize  int
	hopSize     int
	fixedRate   int
	sampleRate  int
	pending     []float64
	consumed    int64
	initialized bool
}

// NewFrameBuffer creates a frame buffer emitting windows of windowSize samples.
// overlap is the fraction of each window shared with the next one, in [0, 1).
// A sampleRate of 0 latches the rate from the first non-empty push.
func NewFrameBuffer(windowSize int, overlap float64, sampleRate int) (*FrameBuffer, error) {
	if windowSize < 2 {
		return nil, fmt.Errorf("window size must be at least 2: %d", windowSize)
	}
	if overlap < 0 || overlap >= 1 || math.IsNaN(overlap) {
		return nil, fmt.Errorf("overlap must be in [0, 1): %v", overlap)
	}
	if sampleRate < 0 {
		return nil, fmt.Errorf("sample rate must not be negative: %d", sampleRate)
	}

	hop := windowSize - int(math.Round(float64(windowSize)*overlap))
	if hop < 1 {
		hop = 1
	}

	fb := &FrameBuffer{
		windowSize: windowSize,
		hopSize:    hop,
		fixedRate:  sampleRate,
		pending:    make([]float64, 0, 2*windowSize),
	}
	fb.Reset()
	return fb, nil
}

// Push appends samples and returns every window completed by them.
// Empty chunks are ignored. A chunk whose rate differs from the stream
// rate is dropped and ErrSampleRateMismatch is returned.
func (fb *FrameBuffer) Push(samples []float64, sampleRate int) ([]SampleWindow, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	if err := fb.CheckRate(sampleRate); err != nil {
		return nil, err
	}

	if !fb.initialized {
		fb.sampleRate = sampleRate
		fb.initialized = true
	}

	var windows []SampleWindow
	for len(samples) > 0 {
		need := fb.windowSize - len(fb.pending)
		take := min(need, len(samples))
		fb.pending = append(fb.pending, samples[:take]...)
		samples = samples[take:]

		if len(fb.pending) < fb.windowSize {
			break
		}

		window := make([]float64, fb.windowSize)
		copy(window, fb.pending)
		windows = append(windows, SampleWindow{
			Samples:    window,
			SampleRate: fb.sampleRate,
			Offset:     fb.consumed,
		})

		// Slide forward by one hop, keeping the overlapping tail.
		kept := copy(fb.pending, fb.pending[fb.hopSize:])
		fb.pending = fb.pending[:kept]
		fb.consumed += int64(fb.hopSize)
	}

	return windows, nil
}

// CheckRate reports whether a chunk at sampleRate would be accepted
func (fb *FrameBuffer) CheckRate(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if fb.initialized && sampleRate != fb.sampleRate {
		return fmt.Errorf("%w: stream started at %d Hz, got %d Hz", ErrSampleRateMismatch, fb.sampleRate, sampleRate)
	}
	return nil
}

// Reset discards pending samples and restarts the stream clock
func (fb *FrameBuffer) Reset() {
	fb.pending = fb.pending[:0]
	fb.consumed = 0
	fb.sampleRate = fb.fixedRate
	fb.initialized = fb.fixedRate > 0
}

// Pending returns the number of buffered samples not yet emitted
func (fb *FrameBuffer) Pending() int {
	return len(fb.pending)
}

// WindowSize returns the analysis window length
func (fb *FrameBuffer) WindowSize() int {
	return fb.windowSize
}

// HopSize returns the number of samples between window starts
func (fb *FrameBuffer) HopSize() int {
	return fb.hopSize
}

// SampleRate returns the stream rate, 0 if not latched yet
func (fb *FrameBuffer) SampleRate() int {
	return fb.sampleRate
}
