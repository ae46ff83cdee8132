package tuner

import (
	"errors"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
)

var (
	// ErrNotRunning is returned when audio is pushed to a stopped session
	ErrNotRunning = errors.New("detection session is not running")

	// ErrSampleRateMismatch is returned when a chunk changes the stream
	// sample rate mid-session. The session must be restarted.
	ErrSampleRateMismatch = common.ErrSampleRateMismatch
)
