package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voicememo-service/internal/audio"
)

func pcmBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func pipeSource(r io.ReadCloser) func(context.Context) (io.ReadCloser, error) {
	return func(context.Context) (io.ReadCloser, error) { return r, nil }
}

func waitErr(t *testing.T, rec Recording) (error, bool) {
	t.Helper()
	select {
	case err, ok := <-rec.Err():
		return err, ok
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not finish")
		return nil, false
	}
}

func TestStreamStopLeavesWellFormedFile(t *testing.T) {
	pr, pw := io.Pipe()
	target := filepath.Join(t.TempDir(), "rec.wav")

	c := &Stream{Open: pipeSource(pr), SampleRate: 16000}
	rec, err := c.Start(context.Background(), target)
	require.NoError(t, err)

	_, err = pw.Write(pcmBytes([]int16{1000, -1000, 2000}))
	require.NoError(t, err)

	require.NoError(t, rec.Stop())
	require.NoError(t, rec.Stop())

	_, ok := waitErr(t, rec)
	assert.False(t, ok, "no error after a clean stop")

	samples, rate, err := audio.DecodeFile(target)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Len(t, samples, 3)
}

func TestStreamStoppedImmediatelyIsEmptyWAV(t *testing.T) {
	pr, _ := io.Pipe()
	target := filepath.Join(t.TempDir(), "rec.wav")

	rec, err := (&Stream{Open: pipeSource(pr), SampleRate: 16000}).Start(context.Background(), target)
	require.NoError(t, err)
	require.NoError(t, rec.Stop())

	samples, _, err := audio.DecodeFile(target)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestStreamReadFailureIsReported(t *testing.T) {
	pr, pw := io.Pipe()
	target := filepath.Join(t.TempDir(), "rec.wav")

	rec, err := (&Stream{Open: pipeSource(pr), SampleRate: 16000}).Start(context.Background(), target)
	require.NoError(t, err)

	pw.Write(pcmBytes([]int16{1, 2}))
	pw.CloseWithError(errors.New("microphone unplugged"))

	err, ok := waitErr(t, rec)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrCapture)
	assert.Contains(t, err.Error(), "microphone unplugged")

	samples, _, err := audio.DecodeFile(target)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestStreamContextCancelStops(t *testing.T) {
	pr, _ := io.Pipe()
	target := filepath.Join(t.TempDir(), "rec.wav")

	ctx, cancel := context.WithCancel(context.Background())
	rec, err := (&Stream{Open: pipeSource(pr), SampleRate: 16000}).Start(ctx, target)
	require.NoError(t, err)

	cancel()
	_, ok := waitErr(t, rec)
	assert.False(t, ok)
}

func TestStreamOpenFailure(t *testing.T) {
	c := &Stream{
		Open: func(context.Context) (io.ReadCloser, error) {
			return nil, errors.New("no such device")
		},
		SampleRate: 16000,
	}

	_, err := c.Start(context.Background(), filepath.Join(t.TempDir(), "rec.wav"))
	assert.ErrorIs(t, err, ErrCapture)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts stand in for ffmpeg")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestFFmpegStopSendsQuit(t *testing.T) {
	script := writeScript(t, `for last; do :; done
read -r cmd
printf '%s' "$cmd" > "$last"`)
	target := filepath.Join(t.TempDir(), "rec.wav")

	c := &FFmpeg{Path: script, InputFormat: "pulse", Device: "default", SampleRate: 16000}
	rec, err := c.Start(context.Background(), target)
	require.NoError(t, err)
	require.NoError(t, rec.Stop())

	_, ok := waitErr(t, rec)
	assert.False(t, ok)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "q", string(data))
}

func TestFFmpegEarlyExitIsCaptureError(t *testing.T) {
	script := writeScript(t, `echo "device busy" >&2
exit 1`)

	c := &FFmpeg{Path: script, InputFormat: "alsa", Device: "hw:0", SampleRate: 16000}
	rec, err := c.Start(context.Background(), filepath.Join(t.TempDir(), "rec.wav"))
	require.NoError(t, err)

	err, ok := waitErr(t, rec)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrCapture)
	assert.Contains(t, err.Error(), "device busy")

	assert.NoError(t, rec.Stop())
}

func TestFFmpegKilledAfterTimeout(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   int
	}{
		{
			name: "nothing written",
			script: `trap '' INT TERM
exec sleep 30`,
			want: 0,
		},
		{
			// 16 kHz mono PCM16 header with unpatched sizes, then four samples.
			name: "header never patched",
			script: `for last; do :; done
printf 'RIFF\377\377\377\377WAVEfmt \020\000\000\000\001\000\001\000\200\076\000\000\000\175\000\000\002\000\020\000data\377\377\377\377' > "$last"
printf '\001\000\002\000\003\000\004\000' >> "$last"
trap '' INT TERM
exec sleep 30`,
			want: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, tt.script)
			target := filepath.Join(t.TempDir(), "rec.wav")

			c := &FFmpeg{
				Path:        script,
				InputFormat: "pulse",
				Device:      "default",
				SampleRate:  16000,
				StopTimeout: 200 * time.Millisecond,
			}
			rec, err := c.Start(context.Background(), target)
			require.NoError(t, err)

			start := time.Now()
			require.NoError(t, rec.Stop())
			assert.Less(t, time.Since(start), 5*time.Second)

			samples, rate, err := audio.DecodeFile(target)
			require.NoError(t, err)
			assert.Equal(t, 16000, rate)
			assert.Len(t, samples, tt.want)
		})
	}
}

func TestFFmpegMissingBinary(t *testing.T) {
	c := &FFmpeg{Path: filepath.Join(t.TempDir(), "missing"), SampleRate: 16000}

	_, err := c.Start(context.Background(), filepath.Join(t.TempDir(), "rec.wav"))
	assert.ErrorIs(t, err, ErrCapture)
}

func TestFFmpegArgs(t *testing.T) {
	c := &FFmpeg{InputFormat: "alsa", Device: "hw:1", SampleRate: 16000}

	args := c.args("/tmp/out.wav")
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "alsa", "-i", "hw:1",
		"-ac", "1", "-ar", "16000", "-acodec", "pcm_s16le",
		"-f", "wav", "-y", "/tmp/out.wav",
	}, args)
}
