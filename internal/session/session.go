package session

import (
	"errors"
	"time"

	"github.com/skypro1111/voicememo-service/internal/store"
)

// Guard errors returned by the Coordinator. None of them changes state.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrAlreadyRecording    = errors.New("another session is already recording")
	ErrEngineNotReady      = errors.New("inference engine not ready")
	ErrNoSource            = errors.New("session has no audio source")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// DefaultLanguages are the transcription languages offered when none are configured.
var DefaultLanguages = []string{"en", "ru", "zh", "fr", "de"}

// State is a session's position in the recording/transcription workflow.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateStopped      State = "stopped"
	StateTranscribing State = "transcribing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateSaved        State = "saved"
)

// transitions lists every allowed state change.
var transitions = map[State][]State{
	StateIdle:         {StateRecording, StateStopped},
	StateRecording:    {StateStopped, StateIdle},
	StateStopped:      {StateTranscribing},
	StateTranscribing: {StateCompleted, StateFailed},
	StateCompleted:    {StateSaved},
	StateFailed:       {StateTranscribing},
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourceKind tells whether a session's audio was recorded or imported.
type SourceKind string

const (
	SourceRecorded SourceKind = "recorded"
	SourceImported SourceKind = "imported"
)

// Source is the audio a session works on.
type Source struct {
	Kind     SourceKind     `json:"kind"`
	Artifact store.Artifact `json:"artifact"`
}

// Session is a snapshot of one recording/transcription workflow.
type Session struct {
	ID                string        `json:"id"`
	State             State         `json:"state"`
	Source            *Source       `json:"source,omitempty"`
	Language          string        `json:"language,omitempty"`
	ResultText        string        `json:"result_text,omitempty"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	Elapsed           time.Duration `json:"elapsed,omitempty"`
	TranscriptionPath string        `json:"transcription_path,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Event is delivered to a Listener after every state change.
type Event struct {
	From    State
	To      State
	Session Session
}

// Listener observes state changes. It is called outside coordinator locks
// and may call back into the Coordinator.
type Listener func(Event)
