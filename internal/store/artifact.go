package store

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/skypro1111/voicememo-service/internal/catalog"
)

// Error kinds returned by the store. Callers match them with errors.Is;
// the wrapped cause stays reachable as well.
var (
	ErrNotFound = errors.New("artifact not found")
	ErrStore    = errors.New("store error")
	ErrImport   = errors.New("import error")
	ErrDecode   = errors.New("decode error")
)

// Origin tells how an artifact's audio came into the store.
type Origin string

const (
	OriginRecorded Origin = "recorded"
	OriginImported Origin = "imported"
)

// Artifact is the metadata of one stored audio file. ID is the absolute
// path of the .wav file and never changes.
type Artifact struct {
	ID                string    `json:"id"`
	Origin            Origin    `json:"origin"`
	CreatedAt         time.Time `json:"created_at"`
	LastAccessedAt    time.Time `json:"last_accessed_at"`
	SizeBytes         int64     `json:"size_bytes"`
	HasTranscription  bool      `json:"has_transcription"`
	TranscriptionPath string    `json:"transcription_path,omitempty"`
}

// Name returns the file name of the artifact's audio.
func (a Artifact) Name() string {
	return filepath.Base(a.ID)
}

// TranscriptionPath returns the sibling text file path for a .wav path.
func TranscriptionPath(wavPath string) string {
	return strings.TrimSuffix(wavPath, filepath.Ext(wavPath)) + ".txt"
}

func (a Artifact) record() catalog.Record {
	return catalog.Record{
		ID:                a.ID,
		Origin:            string(a.Origin),
		CreatedAt:         a.CreatedAt,
		LastAccessedAt:    a.LastAccessedAt,
		SizeBytes:         a.SizeBytes,
		HasTranscription:  a.HasTranscription,
		TranscriptionPath: a.TranscriptionPath,
	}
}

func artifactFromRecord(r catalog.Record) Artifact {
	return Artifact{
		ID:                r.ID,
		Origin:            Origin(r.Origin),
		CreatedAt:         r.CreatedAt,
		LastAccessedAt:    r.LastAccessedAt,
		SizeBytes:         r.SizeBytes,
		HasTranscription:  r.HasTranscription,
		TranscriptionPath: r.TranscriptionPath,
	}
}

// tracked is the store's private view of an artifact. The fingerprint
// records what the file looked like when its samples were last decoded.
type tracked struct {
	Artifact
	decodedSize    int64
	decodedModTime time.Time
}

// SweepReport summarizes one retention sweep.
type SweepReport struct {
	Deleted []string `json:"deleted"`
	Orphans []string `json:"orphans"`
	Skipped int      `json:"skipped"`
	Errors  int      `json:"errors"`
}
