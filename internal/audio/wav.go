package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// ErrMalformed is returned for WAV data that cannot be decoded: bad or
// truncated headers, missing chunks, or an unsupported sample format.
var ErrMalformed = errors.New("malformed wav")

// WAV audio format tags
const (
	FormatPCM        = 1
	FormatIEEEFloat  = 3
	formatExtensible = 0xFFFE

	headerSize = 44
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newPCM16Header builds a mono PCM-16 header for dataSize bytes of samples
func newPCM16Header(sampleRate int, dataSize uint32) WAVHeader {
	numChannels := uint16(1)
	bitsPerSample := uint16(16)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   FormatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV encodes PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	header := newPCM16Header(sampleRate, uint32(len(samples)*2))
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// EncodeFloat32WAV converts normalized samples to PCM-16 and encodes them
func EncodeFloat32WAV(samples []float32, sampleRate int) ([]byte, error) {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = FloatToPCM16(s)
	}
	return EncodeWAV(pcm, sampleRate)
}

// FloatToPCM16 clamps a normalized sample to [-1, 1] and scales it to int16
func FloatToPCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(math.Round(float64(s) * 32767))
}

// wavFormat is the subset of the fmt chunk the decoder cares about
type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	blockAlign    uint16
	bitsPerSample uint16
}

// DecodeWAV decodes a mono WAV container into samples normalized to [-1, 1).
// It walks the RIFF chunk list, so files carrying LIST or other metadata
// chunks before the data chunk are accepted. A data chunk of zero length
// yields an empty, non-nil slice.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("%w: need at least 12 bytes, got %d", ErrMalformed, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, 0, fmt.Errorf("%w: missing RIFF header", ErrMalformed)
	}

	if string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: missing WAVE format", ErrMalformed)
	}

	var format *wavFormat
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if size < 0 || body+size > len(data) {
			return nil, 0, fmt.Errorf("%w: %q chunk truncated (declares %d bytes, %d available)",
				ErrMalformed, id, size, len(data)-body)
		}

		switch id {
		case "fmt ":
			f, err := parseFormat(data[body : body+size])
			if err != nil {
				return nil, 0, err
			}
			format = f

		case "data":
			if format == nil {
				return nil, 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformed)
			}
			samples, err := decodeSamples(format, data[body:body+size])
			if err != nil {
				return nil, 0, err
			}
			return samples, int(format.sampleRate), nil
		}

		// Chunks are word aligned
		offset = body + size + size%2
	}

	if format == nil {
		return nil, 0, fmt.Errorf("%w: missing fmt chunk", ErrMalformed)
	}
	return nil, 0, fmt.Errorf("%w: missing data chunk", ErrMalformed)
}

// DecodeFile reads and decodes a WAV file from disk
func DecodeFile(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	samples, sampleRate, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return samples, sampleRate, nil
}

func parseFormat(chunk []byte) (*wavFormat, error) {
	if len(chunk) < 16 {
		return nil, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrMalformed, len(chunk))
	}

	f := &wavFormat{
		audioFormat:   binary.LittleEndian.Uint16(chunk[0:2]),
		channels:      binary.LittleEndian.Uint16(chunk[2:4]),
		sampleRate:    binary.LittleEndian.Uint32(chunk[4:8]),
		blockAlign:    binary.LittleEndian.Uint16(chunk[12:14]),
		bitsPerSample: binary.LittleEndian.Uint16(chunk[14:16]),
	}

	// WAVE_FORMAT_EXTENSIBLE carries the real format tag in the sub-format GUID
	if f.audioFormat == formatExtensible && len(chunk) >= 26 {
		f.audioFormat = binary.LittleEndian.Uint16(chunk[24:26])
	}

	if f.channels != 1 {
		return nil, fmt.Errorf("%w: unsupported channel count %d (only mono is supported)", ErrMalformed, f.channels)
	}

	if f.sampleRate == 0 {
		return nil, fmt.Errorf("%w: invalid sample rate 0", ErrMalformed)
	}

	switch {
	case f.audioFormat == FormatPCM && f.bitsPerSample == 16:
	case f.audioFormat == FormatIEEEFloat && f.bitsPerSample == 32:
	default:
		return nil, fmt.Errorf("%w: unsupported sample format (format %d, %d bits)",
			ErrMalformed, f.audioFormat, f.bitsPerSample)
	}

	if int(f.blockAlign) != int(f.bitsPerSample)/8 {
		return nil, fmt.Errorf("%w: block align %d does not match %d-bit mono", ErrMalformed, f.blockAlign, f.bitsPerSample)
	}

	return f, nil
}

func decodeSamples(f *wavFormat, data []byte) ([]float32, error) {
	width := int(f.blockAlign)
	if len(data)%width != 0 {
		return nil, fmt.Errorf("%w: data length %d is not a multiple of %d", ErrMalformed, len(data), width)
	}

	samples := make([]float32, len(data)/width)
	switch f.audioFormat {
	case FormatPCM:
		for i := range samples {
			v := int16(binary.LittleEndian.Uint16(data[i*2:]))
			samples[i] = float32(v) / 32768.0
		}
	case FormatIEEEFloat:
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	}

	return samples, nil
}

// Duration returns the playback length of decoded samples in seconds
func Duration(numSamples, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(numSamples) / float64(sampleRate)
}
