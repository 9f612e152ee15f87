package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voicememo-service/internal/audio"
	"github.com/skypro1111/voicememo-service/internal/capture"
	"github.com/skypro1111/voicememo-service/internal/engine"
	"github.com/skypro1111/voicememo-service/internal/metrics"
	"github.com/skypro1111/voicememo-service/internal/store"
)

// ArtifactStore is the part of the artifact store the coordinator uses.
type ArtifactStore interface {
	CreateRecordingTarget() (*store.Artifact, error)
	MaterializeImport(ctx context.Context, src io.Reader, name string) (*store.Artifact, error)
	Samples(ctx context.Context, id string) ([]float32, error)
	SaveTranscription(ctx context.Context, id, text string) (*store.Artifact, error)
	Refresh(id string) (*store.Artifact, error)
	Forget(id string) error
	Pin(id string)
	Unpin(id string)
}

// Config holds coordinator settings
type Config struct {
	SupportedLanguages []string
	DefaultLanguage    string
	AutoTranscribe     bool
}

// Options holds the collaborators of a Coordinator
type Options struct {
	Store    ArtifactStore
	Engine   engine.Engine
	Capturer capture.Capturer
	Config   Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type entry struct {
	Session

	recording capture.Recording
	busy      bool // an import, capture start or save is in flight
}

func (e *entry) snapshot() Session {
	s := e.Session
	if e.Source != nil {
		src := *e.Source
		s.Source = &src
	}
	return s
}

// Coordinator owns all sessions and enforces the state machine. At most one
// session records at a time.
type Coordinator struct {
	store    ArtifactStore
	engine   engine.Engine
	capturer capture.Capturer
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu          sync.Mutex
	sessions    map[string]*entry
	recordingID string // holder of the microphone, "" when free
	listener    Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	cfg := opts.Config
	if len(cfg.SupportedLanguages) == 0 {
		cfg.SupportedLanguages = DefaultLanguages
	}
	langs := make([]string, len(cfg.SupportedLanguages))
	for i, l := range cfg.SupportedLanguages {
		langs[i] = normalizeLanguage(l)
	}
	cfg.SupportedLanguages = langs
	cfg.DefaultLanguage = normalizeLanguage(cfg.DefaultLanguage)
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = cfg.SupportedLanguages[0]
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		store:    opts.Store,
		engine:   opts.Engine,
		capturer: opts.Capturer,
		config:   cfg,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      now,
		sessions: make(map[string]*entry),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetListener registers the state change observer
func (c *Coordinator) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// SupportedLanguages returns the accepted transcription languages
func (c *Coordinator) SupportedLanguages() []string {
	return append([]string(nil), c.config.SupportedLanguages...)
}

// NewSession creates an idle session
func (c *Coordinator) NewSession() Session {
	now := c.now()
	e := &entry{Session: Session{
		ID:        uuid.NewString(),
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	c.mu.Lock()
	c.sessions[e.ID] = e
	s := e.snapshot()
	c.mu.Unlock()

	c.metrics.RecordSessionCreated()
	c.logger.Debug("Session created", slog.String("session_id", s.ID))
	return s
}

// Get returns a snapshot of a session
func (c *Coordinator) Get(id string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e.snapshot(), nil
}

// List returns snapshots of all sessions, oldest first
func (c *Coordinator) List() []Session {
	c.mu.Lock()
	list := make([]Session, 0, len(c.sessions))
	for _, e := range c.sessions {
		list = append(list, e.snapshot())
	}
	c.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// BeginRecording starts capturing microphone audio into a new artifact.
// The microphone is claimed before anything else happens, so a concurrent
// call fails with ErrAlreadyRecording and has no side effects.
func (c *Coordinator) BeginRecording(ctx context.Context, id string) (Session, error) {
	if c.capturer == nil {
		return Session{}, fmt.Errorf("%w: no capture device configured", capture.ErrCapture)
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if c.recordingID != "" {
		c.mu.Unlock()
		return Session{}, ErrAlreadyRecording
	}
	if e.busy || !CanTransition(e.State, StateRecording) {
		state := e.State
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: cannot record from %s", ErrInvalidTransition, state)
	}
	c.recordingID = id
	e.busy = true
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		c.recordingID = ""
		e.busy = false
		c.mu.Unlock()
	}

	target, err := c.store.CreateRecordingTarget()
	if err != nil {
		release()
		return Session{}, err
	}
	c.store.Pin(target.ID)

	rec, err := c.capturer.Start(c.ctx, target.ID)
	if err != nil {
		c.store.Unpin(target.ID)
		if ferr := c.store.Forget(target.ID); ferr != nil {
			c.logger.Warn("Failed to discard recording target",
				slog.String("path", target.ID),
				slog.String("error", ferr.Error()),
			)
		}
		release()
		c.logger.Error("Failed to start capture",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return Session{}, err
	}

	c.mu.Lock()
	e.busy = false
	e.recording = rec
	e.Source = &Source{Kind: SourceRecorded, Artifact: *target}
	e.FailureReason = ""
	ev := c.setState(e, StateRecording)
	s := e.snapshot()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.watchCapture(id, rec, target.ID)

	c.logger.Info("Recording started",
		slog.String("session_id", id),
		slog.String("path", target.ID),
	)
	c.notify(ev)
	return s, nil
}

// watchCapture returns the session to Idle if the capture fails on its own
func (c *Coordinator) watchCapture(id string, rec capture.Recording, artifactID string) {
	defer c.wg.Done()

	err, ok := <-rec.Err()
	if !ok || err == nil {
		return
	}

	c.mu.Lock()
	e, exists := c.sessions[id]
	if !exists || e.recording != rec {
		c.mu.Unlock()
		return
	}
	e.recording = nil
	e.Source = nil
	e.FailureReason = err.Error()
	c.recordingID = ""
	ev := c.setState(e, StateIdle)
	c.mu.Unlock()

	rec.Stop()
	c.store.Unpin(artifactID)
	if ferr := c.store.Forget(artifactID); ferr != nil {
		c.logger.Warn("Failed to discard failed recording",
			slog.String("path", artifactID),
			slog.String("error", ferr.Error()),
		)
	}

	c.logger.Error("Capture failed",
		slog.String("session_id", id),
		slog.String("error", err.Error()),
	)
	c.notify(ev)
}

// Stop ends the recording of a session. Stopping a session that is not
// recording is a no-op.
func (c *Coordinator) Stop(id string) (Session, error) {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if e.State != StateRecording || e.recording == nil {
		s := e.snapshot()
		c.mu.Unlock()
		return s, nil
	}
	rec := e.recording
	e.recording = nil
	e.busy = true
	artifactID := e.Source.Artifact.ID
	c.mu.Unlock()

	if err := rec.Stop(); err != nil {
		c.logger.Warn("Capture stop reported an error",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}

	artifact, err := c.store.Refresh(artifactID)
	if err != nil {
		c.logger.Warn("Failed to refresh recorded artifact",
			slog.String("path", artifactID),
			slog.String("error", err.Error()),
		)
	}

	c.mu.Lock()
	e.busy = false
	if artifact != nil {
		e.Source.Artifact = *artifact
	}
	c.recordingID = ""
	ev := c.setState(e, StateStopped)
	s := e.snapshot()
	c.mu.Unlock()

	c.logger.Info("Recording stopped",
		slog.String("session_id", id),
		slog.String("path", artifactID),
		slog.Int64("size_bytes", s.Source.Artifact.SizeBytes),
	)
	c.notify(ev)

	if c.config.AutoTranscribe && c.engine.IsReady() {
		c.transcribeInBackground(id, c.config.DefaultLanguage)
	}

	return s, nil
}

// Import materializes src as the session's audio source
func (c *Coordinator) Import(ctx context.Context, id string, src io.Reader, name string) (Session, error) {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if e.busy || e.State != StateIdle {
		state := e.State
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: cannot import from %s", ErrInvalidTransition, state)
	}
	e.busy = true
	c.mu.Unlock()

	artifact, err := c.store.MaterializeImport(ctx, src, name)

	c.mu.Lock()
	e.busy = false
	if err != nil {
		c.mu.Unlock()
		return Session{}, err
	}
	c.store.Pin(artifact.ID)
	e.Source = &Source{Kind: SourceImported, Artifact: *artifact}
	e.FailureReason = ""
	ev := c.setState(e, StateStopped)
	s := e.snapshot()
	c.mu.Unlock()

	c.notify(ev)
	return s, nil
}

// Transcribe runs the engine over the session's audio and waits for the
// result. The engine call is not cancelled when ctx is. An empty language
// selects the session's language or the configured default. The returned
// error is the transcription failure, if any; the session is then Failed.
func (c *Coordinator) Transcribe(ctx context.Context, id, language string) (Session, error) {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	lang, err := c.checkTranscribe(e, language)
	if err != nil {
		c.mu.Unlock()
		return Session{}, err
	}

	e.Language = lang
	e.FailureReason = ""
	ev := c.setState(e, StateTranscribing)
	artifactID := e.Source.Artifact.ID
	c.mu.Unlock()

	c.notify(ev)
	return c.runTranscription(context.WithoutCancel(ctx), id, artifactID, lang)
}

// checkTranscribe applies the transcription guards. Called with c.mu held.
func (c *Coordinator) checkTranscribe(e *entry, language string) (string, error) {
	if e.Source == nil {
		return "", ErrNoSource
	}
	if e.busy || !CanTransition(e.State, StateTranscribing) {
		return "", fmt.Errorf("%w: cannot transcribe from %s", ErrInvalidTransition, e.State)
	}

	lang := normalizeLanguage(language)
	switch {
	case lang == "" && e.Language != "":
		lang = e.Language
	case lang == "":
		lang = c.config.DefaultLanguage
	case e.Language != "" && lang != e.Language:
		return "", fmt.Errorf("%w: language already set to %s", ErrInvalidTransition, e.Language)
	}
	if !c.supported(lang) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}

	if !c.engine.IsReady() {
		return "", ErrEngineNotReady
	}
	return lang, nil
}

func (c *Coordinator) runTranscription(ctx context.Context, id, artifactID, lang string) (Session, error) {
	start := time.Now()

	samples, err := c.store.Samples(ctx, artifactID)
	var text string
	if err == nil {
		audioSeconds := audio.Duration(len(samples), engine.SampleRate)
		c.metrics.RecordTranscriptionRequest(audioSeconds)

		levels := audio.AnalyzeLevels(samples, audio.DefaultLevelWindow, audio.DefaultVoiceThreshold)
		if len(samples) > 0 && levels.VoicedRatio == 0 {
			c.logger.Warn("Audio appears to be silent",
				slog.String("session_id", id),
				slog.Float64("rms", levels.RMS),
				slog.Float64("audio_seconds", audioSeconds),
			)
		} else {
			c.logger.Debug("Audio levels",
				slog.String("session_id", id),
				slog.Float64("rms", levels.RMS),
				slog.Float64("peak", levels.Peak),
				slog.Float64("voiced_ratio", levels.VoicedRatio),
				slog.Float64("audio_seconds", audioSeconds),
			)
		}

		text, err = c.engine.Transcribe(ctx, samples, lang)
	}
	elapsed := time.Since(start)

	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.Elapsed = elapsed
	var ev Event
	if err != nil {
		e.FailureReason = err.Error()
		ev = c.setState(e, StateFailed)
	} else {
		e.ResultText = text
		ev = c.setState(e, StateCompleted)
	}
	s := e.snapshot()
	c.mu.Unlock()

	if err != nil {
		c.metrics.RecordTranscriptionFailure(failureCause(err), elapsed.Seconds())
		c.logger.Error("Transcription failed",
			slog.String("session_id", id),
			slog.String("language", lang),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		c.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
		c.logger.Info("Transcription completed",
			slog.String("session_id", id),
			slog.String("language", lang),
			slog.Duration("elapsed", elapsed),
			slog.Int("chars", len(text)),
		)
	}

	c.notify(ev)
	return s, err
}

func (c *Coordinator) transcribeInBackground(id, lang string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.Transcribe(c.ctx, id, lang); err != nil {
			c.logger.Warn("Automatic transcription did not complete",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Save writes the transcription next to the session's audio. On failure the
// session stays Completed.
func (c *Coordinator) Save(ctx context.Context, id string) (Session, error) {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if e.busy || !CanTransition(e.State, StateSaved) {
		state := e.State
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: cannot save from %s", ErrInvalidTransition, state)
	}
	e.busy = true
	artifactID := e.Source.Artifact.ID
	text := e.ResultText
	c.mu.Unlock()

	artifact, err := c.store.SaveTranscription(ctx, artifactID, text)

	c.mu.Lock()
	e.busy = false
	if err != nil {
		s := e.snapshot()
		c.mu.Unlock()
		c.logger.Error("Failed to save transcription",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return s, err
	}
	e.Source.Artifact = *artifact
	e.TranscriptionPath = artifact.TranscriptionPath
	ev := c.setState(e, StateSaved)
	s := e.snapshot()
	c.mu.Unlock()

	c.store.Unpin(artifactID)
	c.notify(ev)
	return s, nil
}

// Reset discards a session's source and results and returns it to Idle.
// A recording in progress is stopped and its file deleted; the microphone
// stays claimed until the capture has halted. A session that is
// transcribing cannot be reset.
func (c *Coordinator) Reset(id string) (Session, error) {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if e.busy || e.State == StateTranscribing {
		state := e.State
		c.mu.Unlock()
		return Session{}, fmt.Errorf("%w: cannot reset while %s", ErrInvalidTransition, state)
	}

	rec := e.recording
	if rec != nil {
		e.recording = nil
		e.busy = true
		c.mu.Unlock()

		if err := rec.Stop(); err != nil {
			c.logger.Warn("Capture stop reported an error",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}

		c.mu.Lock()
		e.busy = false
	}

	src := e.Source
	prev := e.State
	if c.recordingID == id {
		c.recordingID = ""
	}
	e.Session = Session{
		ID:        e.ID,
		State:     e.State,
		CreatedAt: e.CreatedAt,
	}
	ev := c.setState(e, StateIdle)
	s := e.snapshot()
	c.mu.Unlock()

	c.release(prev, src, rec != nil)
	c.notify(ev)
	return s, nil
}

// Delete resets a session and forgets it
func (c *Coordinator) Delete(id string) error {
	if _, err := c.Reset(id); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
	return nil
}

// release undoes what a session held on its source. A discarded recording
// is deleted; other sources are left for the retention sweep.
func (c *Coordinator) release(prev State, src *Source, discard bool) {
	if src == nil {
		return
	}
	id := src.Artifact.ID

	if discard {
		c.store.Unpin(id)
		if err := c.store.Forget(id); err != nil {
			c.logger.Warn("Failed to discard recording",
				slog.String("path", id),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if prev != StateSaved {
		c.store.Unpin(id)
	}
}

// Close stops an active recording and waits for background work.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	var id string
	var rec capture.Recording
	if c.recordingID != "" {
		if e, ok := c.sessions[c.recordingID]; ok && e.recording != nil {
			id, rec = c.recordingID, e.recording
		}
	}
	c.mu.Unlock()

	if rec != nil {
		if _, err := c.Stop(id); err != nil {
			c.logger.Warn("Failed to stop recording on close",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	c.cancel()
	c.wg.Wait()
	return nil
}

// setState moves e to state and returns the event to publish once c.mu is
// released. Called with c.mu held.
func (c *Coordinator) setState(e *entry, to State) Event {
	from := e.State
	e.State = to
	e.UpdatedAt = c.now()

	c.metrics.RecordTransition(string(from), string(to))
	active := 0
	if c.recordingID != "" {
		active = 1
	}
	c.metrics.SetActiveRecordings(active)

	return Event{From: from, To: to, Session: e.snapshot()}
}

func (c *Coordinator) notify(ev Event) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()

	if l != nil {
		l(ev)
	}
}

func (c *Coordinator) supported(lang string) bool {
	for _, l := range c.config.SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

func normalizeLanguage(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

func failureCause(err error) string {
	var engineErr *engine.EngineError
	switch {
	case errors.Is(err, store.ErrDecode):
		return "decode"
	case errors.As(err, &engineErr):
		return "engine"
	case errors.Is(err, store.ErrNotFound):
		return "missing"
	default:
		return "store"
	}
}
