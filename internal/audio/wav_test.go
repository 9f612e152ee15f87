package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 16kHz
	sampleRate := 16000
	numSamples := sampleRate / 10
	samples := make([]int16, numSamples)
	for i := range samples {
		ts := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*440*ts))
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	require.NoError(t, err)
	assert.Len(t, wavData, headerSize+len(samples)*2)
	assert.Equal(t, "RIFF", string(wavData[0:4]))
	assert.Equal(t, "WAVE", string(wavData[8:12]))
	assert.Equal(t, uint32(sampleRate), binary.LittleEndian.Uint32(wavData[24:28]))
	assert.Equal(t, uint32(len(samples)*2), binary.LittleEndian.Uint32(wavData[40:44]))
}

func TestDecodeWAV(t *testing.T) {
	original := []int16{100, -200, 300, -400, 500, math.MaxInt16, math.MinInt16}

	wavData, err := EncodeWAV(original, 8000)
	require.NoError(t, err)

	decoded, sampleRate, err := DecodeWAV(wavData)
	require.NoError(t, err)
	assert.Equal(t, 8000, sampleRate)
	require.Len(t, decoded, len(original))

	for i, v := range original {
		assert.Equal(t, float32(v)/32768.0, decoded[i], "sample %d", i)
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	_, err := EncodeWAV([]int16{}, 8000)
	assert.Error(t, err)
}

func TestEncodeWAVInvalidSampleRate(t *testing.T) {
	samples := []int16{100, 200, 300}

	_, err := EncodeWAV(samples, 0)
	assert.Error(t, err)

	_, err = EncodeWAV(samples, -1000)
	assert.Error(t, err)
}

func TestEncodeFloat32WAVClamps(t *testing.T) {
	wavData, err := EncodeFloat32WAV([]float32{2, -2, 0.5}, 16000)
	require.NoError(t, err)

	pcm := wavData[headerSize:]
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(pcm[0:])))
	assert.Equal(t, int16(-32767), int16(binary.LittleEndian.Uint16(pcm[2:])))
	assert.Equal(t, int16(16384), int16(binary.LittleEndian.Uint16(pcm[4:])))
}

func TestDecodeWAVSkipsMetadataChunks(t *testing.T) {
	wavData, err := EncodeWAV([]int16{1, 2, 3}, 16000)
	require.NoError(t, err)

	// Splice a LIST chunk with an odd-sized body between fmt and data
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	spliced := append(append(append([]byte{}, wavData[:36]...), list...), wavData[36:]...)

	decoded, _, err := DecodeWAV(spliced)
	require.NoError(t, err)
	assert.Len(t, decoded, 3)
}

func TestDecodeWAVFloat32(t *testing.T) {
	values := []float32{0.25, -0.5, 0.75}
	data := make([]byte, headerSize+len(values)*4)
	copy(data[0:4], "RIFF")
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(data)-8))
	copy(data[8:12], "WAVE")
	copy(data[12:16], "fmt ")
	binary.LittleEndian.PutUint32(data[16:20], 16)
	binary.LittleEndian.PutUint16(data[20:22], FormatIEEEFloat)
	binary.LittleEndian.PutUint16(data[22:24], 1)
	binary.LittleEndian.PutUint32(data[24:28], 16000)
	binary.LittleEndian.PutUint32(data[28:32], 64000)
	binary.LittleEndian.PutUint16(data[32:34], 4)
	binary.LittleEndian.PutUint16(data[34:36], 32)
	copy(data[36:40], "data")
	binary.LittleEndian.PutUint32(data[40:44], uint32(len(values)*4))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[headerSize+i*4:], math.Float32bits(v))
	}

	decoded, sampleRate, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, sampleRate)
	assert.Equal(t, values, decoded)
}

func TestDecodeWAVMalformed(t *testing.T) {
	valid, err := EncodeWAV([]int16{1, 2, 3, 4}, 16000)
	require.NoError(t, err)

	stereo := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(stereo[22:24], 2)

	eightBit := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "too short", data: []byte{1, 2, 3}},
		{name: "not riff", data: append([]byte("FAKE"), valid[4:]...)},
		{name: "not wave", data: append(append(append([]byte{}, valid[:8]...), "AVI "...), valid[12:]...)},
		{name: "truncated data", data: valid[:len(valid)-3]},
		{name: "header only without data chunk", data: valid[:36]},
		{name: "stereo", data: stereo},
		{name: "8-bit", data: eightBit},
		{name: "garbage", data: []byte("this is definitely not a wav file at all")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeWAV(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed, got %v", err)
		})
	}
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")

	wavData, err := EncodeWAV([]int16{0, 16384, -16384}, 16000)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, wavData, 0o644))

	samples, sampleRate, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 16000, sampleRate)
	assert.Equal(t, []float32{0, 0.5, -0.5}, samples)

	_, _, err = DecodeFile(filepath.Join(dir, "missing.wav"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformed))
}

func TestDuration(t *testing.T) {
	assert.InDelta(t, 2.0, Duration(32000, 16000), 1e-9)
	assert.Equal(t, 0.0, Duration(100, 0))
}
