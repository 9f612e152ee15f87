package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/skypro1111/voicememo-service/internal/audio"
)

// Stream captures 16-bit little-endian mono PCM from a reader, for piped
// audio and for tests.
type Stream struct {
	Open       func(ctx context.Context) (io.ReadCloser, error)
	SampleRate int
}

func (s *Stream) Start(ctx context.Context, target string) (Recording, error) {
	if s.Open == nil {
		return nil, fmt.Errorf("%w: no audio source", ErrCapture)
	}

	src, err := s.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open audio source: %w", ErrCapture, err)
	}

	w, err := audio.CreateWriter(target, s.SampleRate)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}

	r := &streamRecording{
		src:  src,
		w:    w,
		stop: make(chan struct{}),
		done: make(chan struct{}),
		errs: make(chan error, 1),
	}
	go r.run()

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.done:
		}
	}()

	return r, nil
}

type streamRecording struct {
	src io.ReadCloser
	w   *audio.Writer

	stop     chan struct{}
	done     chan struct{}
	errs     chan error
	stopOnce sync.Once
}

func (r *streamRecording) run() {
	defer close(r.done)
	defer close(r.errs)

	var failure error
	buf := make([]byte, 4096)
	for {
		n, err := r.src.Read(buf)
		if n > 0 {
			if _, werr := r.w.Write(buf[:n]); werr != nil {
				failure = werr
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !r.stopping() {
				failure = err
			}
			break
		}
		if r.stopping() {
			break
		}
	}

	if err := r.w.Close(); err != nil && failure == nil {
		failure = err
	}
	if failure != nil {
		r.errs <- fmt.Errorf("%w: %w", ErrCapture, failure)
	}
}

func (r *streamRecording) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *streamRecording) Stop() error {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.src.Close()
	})
	<-r.done
	return nil
}

func (r *streamRecording) Err() <-chan error {
	return r.errs
}
