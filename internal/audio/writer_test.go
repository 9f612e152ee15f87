package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterProducesDecodableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")

	w, err := CreateWriter(path, 16000)
	require.NoError(t, err)

	require.NoError(t, w.WriteSamples([]int16{0, 16384}))

	// Split a sample across two writes
	_, err = w.Write([]byte{0x00})
	require.NoError(t, err)
	_, err = w.Write([]byte{0xC0})
	require.NoError(t, err)

	assert.Equal(t, 3, w.Samples())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second Close must be a no-op")

	samples, sampleRate, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 16000, sampleRate)
	assert.Equal(t, []float32{0, 0.5, -0.5}, samples)
}

func TestWriterEmptyFileIsWellFormed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")

	w, err := CreateWriter(path, 16000)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	samples, _, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestWriterRejectsWritesAfterClose(t *testing.T) {
	w, err := CreateWriter(filepath.Join(t.TempDir(), "closed.wav"), 16000)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte{1, 2})
	assert.Error(t, err)
}

func TestCreateWriterInvalidSampleRate(t *testing.T) {
	_, err := CreateWriter(filepath.Join(t.TempDir(), "bad.wav"), 0)
	assert.Error(t, err)
}

func TestAnalyzeLevels(t *testing.T) {
	silence := make([]float32, 1024)
	stats := AnalyzeLevels(silence, 512, DefaultVoiceThreshold)
	assert.Equal(t, 2, stats.Windows)
	assert.Equal(t, 0.0, stats.VoicedRatio)
	assert.Equal(t, 0.0, stats.RMS)

	// One loud window, one silent window, one partial loud window
	mixed := make([]float32, 1100)
	for i := 0; i < 512; i++ {
		mixed[i] = 0.5
	}
	for i := 1024; i < 1100; i++ {
		mixed[i] = -0.5
	}
	stats = AnalyzeLevels(mixed, 512, DefaultVoiceThreshold)
	assert.Equal(t, 3, stats.Windows)
	assert.InDelta(t, 2.0/3.0, stats.VoicedRatio, 1e-9)
	assert.InDelta(t, 0.5, stats.Peak, 1e-9)

	assert.Equal(t, LevelStats{}, AnalyzeLevels(nil, 512, DefaultVoiceThreshold))
}

// unpatchedWAV returns a PCM16 file as a writer leaves it when it dies
// before fixing the sizes: both sizes set to 0xFFFFFFFF.
func unpatchedWAV(t *testing.T, samples []int16, extra []byte) []byte {
	t.Helper()
	data, err := EncodeWAV(samples, 16000)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(data[40:44], 0xFFFFFFFF)
	return append(data, extra...)
}

func TestRepairFile(t *testing.T) {
	list := []byte("LIST\x04\x00\x00\x00INFO")
	withList := func(t *testing.T) []byte {
		data := unpatchedWAV(t, []int16{7, 8}, nil)
		out := append([]byte{}, data[:36]...)
		out = append(out, list...)
		return append(out, data[36:]...)
	}

	tests := []struct {
		name    string
		content func(t *testing.T) []byte
		want    int
	}{
		{"unpatched sizes", func(t *testing.T) []byte { return unpatchedWAV(t, []int16{1, 2, 3}, nil) }, 3},
		{"partial trailing sample", func(t *testing.T) []byte { return unpatchedWAV(t, []int16{1, 2}, []byte{0x05}) }, 2},
		{"metadata before data", withList, 2},
		{"header only", func(t *testing.T) []byte { return unpatchedWAV(t, nil, nil) }, 0},
		{"empty file", func(t *testing.T) []byte { return nil }, 0},
		{"truncated header", func(t *testing.T) []byte { return []byte("RIFF\xff\xff") }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "killed.wav")
			require.NoError(t, os.WriteFile(path, tt.content(t), 0o644))

			require.NoError(t, RepairFile(path, 16000))

			samples, rate, err := DecodeFile(path)
			require.NoError(t, err)
			assert.Equal(t, 16000, rate)
			assert.Len(t, samples, tt.want)
		})
	}
}

func TestRepairFileKeepsWellFormedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ok.wav")
	data, err := EncodeWAV([]int16{1, 2, 3, 4}, 16000)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, RepairFile(path, 16000))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}
