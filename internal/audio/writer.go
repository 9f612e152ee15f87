package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// Writer streams PCM-16 mono samples into a WAV file. The header is written
// up front with zero sizes and patched on Close, so a file that was closed
// is always well formed, even when no samples were written.
type Writer struct {
	file       *os.File
	sampleRate int
	dataBytes  uint32
	pending    []byte // odd trailing byte from the last Write
	closed     bool

	mu sync.Mutex
}

// CreateWriter creates (or truncates) path and writes a placeholder header
func CreateWriter(path string, sampleRate int) (*Writer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := binary.Write(f, binary.LittleEndian, newPCM16Header(sampleRate, 0)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return &Writer{file: f, sampleRate: sampleRate}, nil
}

// Write appends raw little-endian PCM-16 bytes. Byte counts need not be
// even; a dangling byte is held until the next call.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("write to closed WAV writer")
	}

	buf := p
	if len(w.pending) > 0 {
		buf = append(w.pending, p...)
		w.pending = nil
	}

	even := len(buf) - len(buf)%2
	if even < len(buf) {
		w.pending = []byte{buf[even]}
	}

	if even > 0 {
		n, err := w.file.Write(buf[:even])
		w.dataBytes += uint32(n)
		if err != nil {
			return 0, fmt.Errorf("failed to write audio data: %w", err)
		}
	}

	return len(p), nil
}

// WriteSamples appends PCM-16 samples
func (w *Writer) WriteSamples(samples []int16) error {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	_, err := w.Write(buf)
	return err
}

// Samples returns the number of complete samples written so far
func (w *Writer) Samples() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.dataBytes / 2)
}

// Close patches the RIFF and data sizes, syncs, and closes the file.
// Calling Close more than once is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.pending = nil

	if err := w.patchSizes(); err != nil {
		w.file.Close()
		return err
	}

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to sync WAV file: %w", err)
	}

	return w.file.Close()
}

func (w *Writer) patchSizes() error {
	var size [4]byte

	binary.LittleEndian.PutUint32(size[:], 36+w.dataBytes)
	if _, err := w.file.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to RIFF size: %w", err)
	}
	if _, err := w.file.Write(size[:]); err != nil {
		return fmt.Errorf("failed to patch RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(size[:], w.dataBytes)
	if _, err := w.file.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to data size: %w", err)
	}
	if _, err := w.file.Write(size[:]); err != nil {
		return fmt.Errorf("failed to patch data size: %w", err)
	}

	return nil
}

// maxHeaderScan bounds how far RepairFile looks for the data chunk.
const maxHeaderScan = 64 << 10

// RepairFile fixes the RIFF and data sizes of a WAV file whose writer was
// interrupted before patching them, such as a killed ffmpeg. The data chunk
// is taken to run to the end of the file, trimmed to whole samples. A
// missing file, or one without a usable mono header, becomes an empty WAV at
// sampleRate.
func RepairFile(path string, sampleRate int) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	size := info.Size()

	head := make([]byte, min(size, maxHeaderScan))
	if _, err := io.ReadFull(f, head); err != nil {
		return fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	dataAt, width, ok := findDataChunk(head)
	if !ok {
		empty, err := EncodeWAV(nil, sampleRate)
		if err != nil {
			return err
		}
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", path, err)
		}
		if _, err := f.WriteAt(empty, 0); err != nil {
			return fmt.Errorf("failed to write header of %s: %w", path, err)
		}
		return f.Sync()
	}

	body := int64(dataAt + 8)
	dataBytes := size - body
	dataBytes -= dataBytes % int64(width)
	if limit := int64(0xFFFFFFFF - 36); dataBytes > limit {
		dataBytes = limit - limit%int64(width)
	}
	if err := f.Truncate(body + dataBytes); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", path, err)
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(body+dataBytes-8))
	if _, err := f.WriteAt(buf[:], 4); err != nil {
		return fmt.Errorf("failed to patch RIFF size: %w", err)
	}
	binary.LittleEndian.PutUint32(buf[:], uint32(dataBytes))
	if _, err := f.WriteAt(buf[:], int64(dataAt+4)); err != nil {
		return fmt.Errorf("failed to patch data size: %w", err)
	}
	return f.Sync()
}

// findDataChunk returns the offset of the data chunk header and the sample
// width declared by the fmt chunk before it. The data chunk's own size is
// not trusted.
func findDataChunk(head []byte) (int, int, bool) {
	if len(head) < 12 || string(head[0:4]) != "RIFF" || string(head[8:12]) != "WAVE" {
		return 0, 0, false
	}

	var format *wavFormat
	offset := 12
	for offset+8 <= len(head) {
		id := string(head[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(head[offset+4 : offset+8]))
		body := offset + 8

		if id == "data" {
			if format == nil {
				return 0, 0, false
			}
			return offset, int(format.blockAlign), true
		}
		if body+size > len(head) {
			return 0, 0, false
		}
		if id == "fmt " {
			f, err := parseFormat(head[body : body+size])
			if err != nil {
				return 0, 0, false
			}
			format = f
		}
		offset = body + size + size%2
	}
	return 0, 0, false
}
