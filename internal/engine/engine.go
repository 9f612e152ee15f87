package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SampleRate is the rate engines assume for the samples they receive.
const SampleRate = 16000

// ErrNotReady is returned by engines asked to work before they are configured
// or after they were closed.
var ErrNotReady = errors.New("engine not ready")

// Engine turns normalized mono samples into text.
type Engine interface {
	IsReady() bool
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
	Close() error
}

// EngineError describes a failed transcription.
type EngineError struct {
	Reason string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return "engine error: " + e.Reason
	}
	return fmt.Sprintf("engine error: %s: %v", e.Reason, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func engineError(reason string, err error) error {
	return &EngineError{Reason: reason, Err: err}
}

// ReleaseOnce wraps e so that its Close reaches the backend exactly once,
// however many owners call it.
func ReleaseOnce(e Engine) Engine {
	if r, ok := e.(*releaser); ok {
		return r
	}
	return &releaser{Engine: e}
}

type releaser struct {
	Engine
	once sync.Once
	err  error
}

func (r *releaser) Close() error {
	r.once.Do(func() {
		r.err = r.Engine.Close()
	})
	return r.err
}
