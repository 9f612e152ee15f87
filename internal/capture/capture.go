package capture

import (
	"context"
	"errors"
)

// ErrCapture marks failures of the audio capture collaborator.
var ErrCapture = errors.New("capture error")

// Capturer starts writing audio to a WAV file at target.
type Capturer interface {
	Start(ctx context.Context, target string) (Recording, error)
}

// Recording is a running capture.
//
// Stop halts the capture and returns once the file at the target path is a
// well-formed WAV file. It is safe to call more than once.
//
// Err delivers at most one error if the capture fails on its own, and is
// closed when the capture has ended for any reason.
type Recording interface {
	Stop() error
	Err() <-chan error
}
