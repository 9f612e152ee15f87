package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/voicememo-service/internal/audio"
)

const defaultStopTimeout = 5 * time.Second

// FFmpeg records from an input device by running the ffmpeg binary.
type FFmpeg struct {
	Path        string // defaults to "ffmpeg"
	InputFormat string // e.g. "pulse", "alsa", "avfoundation"
	Device      string
	SampleRate  int
	StopTimeout time.Duration
	Logger      *slog.Logger
}

func (f *FFmpeg) args(target string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", f.InputFormat,
		"-i", f.Device,
		"-ac", "1",
		"-ar", strconv.Itoa(f.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"-y", target,
	}
}

func (f *FFmpeg) Start(ctx context.Context, target string) (Recording, error) {
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := f.StopTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}

	cmd := exec.Command(path, f.args(target)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrCapture, err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	cmd.WaitDelay = timeout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", ErrCapture, path, err)
	}

	logger.Info("Capture started",
		slog.String("target", target),
		slog.String("device", f.Device),
		slog.Int("pid", cmd.Process.Pid),
	)

	r := &ffmpegRecording{
		cmd:        cmd,
		target:     target,
		sampleRate: f.SampleRate,
		stdin:      stdin,
		stderr:     stderr,
		logger:     logger,
		timeout:    timeout,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		errs:       make(chan error, 1),
	}
	go r.wait()

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.done:
		}
	}()

	return r, nil
}

type ffmpegRecording struct {
	cmd        *exec.Cmd
	target     string
	sampleRate int
	stdin      io.WriteCloser
	stderr     *tailBuffer
	logger     *slog.Logger
	timeout    time.Duration

	stop     chan struct{}
	done     chan struct{}
	errs     chan error
	stopOnce sync.Once
	stopErr  error
}

func (r *ffmpegRecording) wait() {
	defer close(r.done)
	defer close(r.errs)

	err := r.cmd.Wait()

	select {
	case <-r.stop:
		return
	default:
	}

	if err != nil {
		r.errs <- fmt.Errorf("%w: ffmpeg exited: %w: %s", ErrCapture, err, r.stderr.String())
	}
}

// Stop asks ffmpeg to finish by sending "q" on stdin, which makes it write
// the final WAV header. The process is killed after the timeout and the
// header it never patched is repaired from the file length.
func (r *ffmpegRecording) Stop() error {
	r.stopOnce.Do(func() {
		close(r.stop)

		io.WriteString(r.stdin, "q")
		r.stdin.Close()

		select {
		case <-r.done:
			return
		case <-time.After(r.timeout):
		}

		r.logger.Warn("Capture did not stop in time, killing",
			slog.Int("pid", r.cmd.Process.Pid),
			slog.Duration("timeout", r.timeout),
		)
		r.cmd.Process.Kill()
		<-r.done

		if err := audio.RepairFile(r.target, r.sampleRate); err != nil {
			r.stopErr = fmt.Errorf("%w: repair %s: %w", ErrCapture, r.target, err)
		}
	})
	<-r.done
	return r.stopErr
}

func (r *ffmpegRecording) Err() <-chan error {
	return r.errs
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
