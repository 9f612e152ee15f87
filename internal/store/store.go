package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/voicememo-service/internal/audio"
	"github.com/skypro1111/voicememo-service/internal/cache"
	"github.com/skypro1111/voicememo-service/internal/catalog"
	"github.com/skypro1111/voicememo-service/internal/metrics"
)

const (
	// DefaultCacheBytes is the sample cache budget used when none is given.
	DefaultCacheBytes = 5 << 20

	// DefaultRetentionWindow is how long an unused artifact is kept.
	DefaultRetentionWindow = 30 * 24 * time.Hour

	// DefaultSampleRate is the only rate Samples returns audio at.
	DefaultSampleRate = 16000

	partialSuffix = ".partial"
)

var namePattern = regexp.MustCompile(`^(?:recording|import)_\d{8}_\d{6}_(\d+)\.wav$`)

// Catalog persists artifact metadata across restarts.
type Catalog interface {
	Upsert(ctx context.Context, r catalog.Record) error
	Delete(ctx context.Context, id string) error
	All(ctx context.Context) ([]catalog.Record, error)
}

// DecodeFunc reads a WAV file into normalized mono samples.
type DecodeFunc func(path string) ([]float32, int, error)

// Options configures a Store.
type Options struct {
	Dir     string
	Cache   *cache.SampleCache
	Catalog Catalog // optional
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	Decode  DecodeFunc

	// SampleRate is the rate decoded audio must have. Files at any other
	// rate fail with ErrDecode. Zero means DefaultSampleRate.
	SampleRate int
}

// Store owns the recordings directory and the metadata of every artifact in it.
type Store struct {
	dir     string
	cache   *cache.SampleCache
	catalog Catalog
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	decode  DecodeFunc
	rate    int

	counter atomic.Uint64
	locks   keyLocks

	// mu guards the maps only and is never held across I/O.
	mu        sync.RWMutex
	artifacts map[string]*tracked
	pins      map[string]int

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// Open creates the recordings directory if needed and loads persisted
// metadata for files that still exist.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: recordings directory is required", ErrStore)
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve recordings directory: %w", ErrStore, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create recordings directory: %w", ErrStore, err)
	}

	s := &Store{
		dir:       dir,
		cache:     opts.Cache,
		catalog:   opts.Catalog,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		decode:    opts.Decode,
		rate:      opts.SampleRate,
		artifacts: make(map[string]*tracked),
		pins:      make(map[string]int),
	}
	if s.cache == nil {
		s.cache = cache.New(DefaultCacheBytes)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.decode == nil {
		s.decode = audio.DecodeFile
	}
	if s.rate <= 0 {
		s.rate = DefaultSampleRate
	}

	s.cache.OnEvict(func(key string, cost int64) {
		s.metrics.RecordCacheEviction()
	})

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	s.seedCounter()

	s.logger.Info("Artifact store opened",
		slog.String("dir", s.dir),
		slog.Int("artifacts", s.Len()),
		slog.Uint64("counter", s.counter.Load()),
	)

	return s, nil
}

// Dir returns the absolute recordings directory.
func (s *Store) Dir() string {
	return s.dir
}

// Cache returns the sample cache used by the store.
func (s *Store) Cache() *cache.SampleCache {
	return s.cache
}

// CreateRecordingTarget mints a new, not yet existing .wav path for a
// recording and starts tracking it.
func (s *Store) CreateRecordingTarget() (*Artifact, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create recordings directory: %w", ErrStore, err)
	}

	now := s.now()
	for {
		path := s.nextPath("recording", now)

		unlock := s.locks.lock(path)
		if _, ok := s.Get(path); ok {
			unlock()
			continue
		}

		s.cache.Invalidate(path)
		if _, err := os.Stat(path); err == nil {
			s.logger.Warn("Removing stale file at recording target", slog.String("path", path))
			if err := removeWithSibling(path); err != nil {
				unlock()
				return nil, fmt.Errorf("%w: remove stale file %s: %w", ErrStore, path, err)
			}
		}

		a := s.track(Artifact{
			ID:             path,
			Origin:         OriginRecorded,
			CreatedAt:      now,
			LastAccessedAt: now,
		})
		s.persist(context.Background(), path)
		unlock()

		s.metrics.RecordArtifactCreated(string(OriginRecorded))
		s.logger.Debug("Recording target created", slog.String("path", path))
		return a, nil
	}
}

// MaterializeImport copies src into the recordings directory. The copy goes
// through a hidden partial file that is renamed into place only once the
// whole stream has been written and synced.
func (s *Store) MaterializeImport(ctx context.Context, src io.Reader, name string) (*Artifact, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create recordings directory: %w", ErrImport, err)
	}

	now := s.now()
	path := s.nextPath("import", now)

	unlock := s.locks.lock(path)
	defer unlock()

	tmp := filepath.Join(s.dir, "."+filepath.Base(path)+partialSuffix)
	size, err := copyToFile(ctx, tmp, src)
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		s.logger.Warn("Import failed",
			slog.String("source", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrImport, name, err)
	}

	s.cache.Invalidate(path)
	a := s.track(Artifact{
		ID:             path,
		Origin:         OriginImported,
		CreatedAt:      now,
		LastAccessedAt: now,
		SizeBytes:      size,
	})
	s.persist(context.WithoutCancel(ctx), path)

	s.metrics.RecordArtifactCreated(string(OriginImported))
	s.logger.Info("Audio imported",
		slog.String("source", name),
		slog.String("path", path),
		slog.Int64("size_bytes", size),
	)
	return a, nil
}

// Samples returns the decoded audio of an artifact, from the cache when the
// file is unchanged since it was last decoded. LastAccessedAt is refreshed
// before any decoding so a concurrent sweep sees the artifact as in use.
func (s *Store) Samples(ctx context.Context, id string) ([]float32, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	now := s.now()
	if !s.update(id, func(t *tracked) { t.LastAccessedAt = now }) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	defer s.persist(context.WithoutCancel(ctx), id)

	info, err := os.Stat(id)
	if err != nil {
		s.cache.Invalidate(id)
		return nil, fmt.Errorf("%w: stat %s: %w", ErrStore, id, err)
	}

	var changed bool
	s.update(id, func(t *tracked) {
		changed = t.decodedSize != info.Size() || !t.decodedModTime.Equal(info.ModTime())
		t.SizeBytes = info.Size()
	})
	if changed {
		s.cache.Invalidate(id)
	}

	if samples, ok := s.cache.Get(id); ok {
		s.metrics.RecordCacheLookup(true)
		return samples, nil
	}
	s.metrics.RecordCacheLookup(false)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	samples, rate, err := s.decode(id)
	s.metrics.RecordDecode(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, audio.ErrMalformed) {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	// Callers treat samples as s.rate audio.
	if rate != s.rate {
		return nil, fmt.Errorf("%w: unsupported sample rate %d Hz in %s, want %d Hz", ErrDecode, rate, filepath.Base(id), s.rate)
	}

	s.update(id, func(t *tracked) {
		t.decodedSize = info.Size()
		t.decodedModTime = info.ModTime()
	})

	if !s.cache.Put(id, samples) {
		s.metrics.RecordCacheRejection()
		s.logger.Debug("Samples too large to cache",
			slog.String("path", id),
			slog.Int64("cost", cache.Cost(samples)),
		)
	}
	s.metrics.SetCacheBytes(s.cache.Bytes())

	return samples, nil
}

// SaveTranscription writes text next to the artifact's audio as {base}.txt.
// Saving again overwrites the previous text.
func (s *Store) SaveTranscription(ctx context.Context, id, text string) (*Artifact, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	if _, ok := s.Get(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := os.Stat(id); err != nil {
		return nil, fmt.Errorf("%w: audio for transcription: %w", ErrStore, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txt := TranscriptionPath(id)
	if err := writeFileAtomic(txt, []byte(text)); err != nil {
		return nil, fmt.Errorf("%w: save transcription %s: %w", ErrStore, txt, err)
	}

	now := s.now()
	s.update(id, func(t *tracked) {
		t.HasTranscription = true
		t.TranscriptionPath = txt
		t.LastAccessedAt = now
	})
	s.persist(context.WithoutCancel(ctx), id)

	s.logger.Info("Transcription saved",
		slog.String("path", txt),
		slog.Int("chars", len(text)),
	)

	a, _ := s.Get(id)
	return a, nil
}

// ReadTranscription returns the saved text of an artifact.
func (s *Store) ReadTranscription(id string) (string, error) {
	a, ok := s.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !a.HasTranscription {
		return "", fmt.Errorf("%w: no transcription for %s", ErrNotFound, id)
	}

	data, err := os.ReadFile(a.TranscriptionPath)
	if err != nil {
		return "", fmt.Errorf("%w: read transcription: %w", ErrStore, err)
	}
	return string(data), nil
}

// Refresh re-reads the file size of an artifact after its audio was written
// outside the store and drops any cached samples for it.
func (s *Store) Refresh(id string) (*Artifact, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	s.cache.Invalidate(id)

	info, err := os.Stat(id)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrStore, id, err)
	}

	now := s.now()
	if !s.update(id, func(t *tracked) {
		t.SizeBytes = info.Size()
		t.LastAccessedAt = now
	}) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.persist(context.Background(), id)

	a, _ := s.Get(id)
	return a, nil
}

// Forget deletes an artifact and its files, used when a capture failed.
func (s *Store) Forget(id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	s.cache.Invalidate(id)
	if err := removeWithSibling(id); err != nil {
		return fmt.Errorf("%w: forget %s: %w", ErrStore, id, err)
	}
	s.untrack(context.Background(), id)
	return nil
}

// Pin marks an artifact as referenced by a live session. The sweep never
// deletes a pinned artifact.
func (s *Store) Pin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[id]++
}

// Unpin releases one Pin.
func (s *Store) Unpin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pins[id] <= 1 {
		delete(s.pins, id)
		return
	}
	s.pins[id]--
}

// Pinned reports whether id has outstanding pins.
func (s *Store) Pinned(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pins[id] > 0
}

// Get returns a copy of the artifact's metadata.
func (s *Store) Get(id string) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.artifacts[id]
	if !ok {
		return nil, false
	}
	a := t.Artifact
	return &a, true
}

// Lookup finds an artifact by its file name inside the recordings directory.
func (s *Store) Lookup(name string) (*Artifact, bool) {
	if name == "" || name != filepath.Base(name) {
		return nil, false
	}
	return s.Get(filepath.Join(s.dir, name))
}

// List returns copies of all tracked artifacts, oldest first.
func (s *Store) List() []Artifact {
	s.mu.RLock()
	list := make([]Artifact, 0, len(s.artifacts))
	for _, t := range s.artifacts {
		list = append(list, t.Artifact)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Len returns the number of tracked artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}

// Close stops the background sweeper, if running.
func (s *Store) Close() error {
	s.Stop()
	return nil
}

func (s *Store) nextPath(prefix string, now time.Time) string {
	n := s.counter.Add(1)
	name := fmt.Sprintf("%s_%s_%06d.wav", prefix, now.Format("20060102_150405"), n)
	return filepath.Join(s.dir, name)
}

func (s *Store) track(a Artifact) *Artifact {
	s.mu.Lock()
	s.artifacts[a.ID] = &tracked{Artifact: a}
	count := len(s.artifacts)
	s.mu.Unlock()

	s.metrics.SetArtifactsTracked(count)
	return &a
}

func (s *Store) untrack(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.artifacts, id)
	count := len(s.artifacts)
	s.mu.Unlock()

	s.metrics.SetArtifactsTracked(count)
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Delete(ctx, id); err != nil {
		s.logger.Warn("Failed to delete artifact from catalog",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}

// update applies fn to the tracked artifact under the map lock and reports
// whether the artifact exists.
func (s *Store) update(id string, fn func(t *tracked)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.artifacts[id]
	if ok {
		fn(t)
	}
	return ok
}

// persist writes the current metadata of id to the catalog. Catalog failures
// are logged; the in-memory map stays authoritative.
func (s *Store) persist(ctx context.Context, id string) {
	if s.catalog == nil {
		return
	}
	a, ok := s.Get(id)
	if !ok {
		return
	}
	if err := s.catalog.Upsert(ctx, a.record()); err != nil {
		s.logger.Warn("Failed to persist artifact metadata",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Store) load(ctx context.Context) error {
	if s.catalog == nil {
		return nil
	}

	records, err := s.catalog.All(ctx)
	if err != nil {
		return fmt.Errorf("%w: load catalog: %w", ErrStore, err)
	}

	for _, r := range records {
		if filepath.Dir(r.ID) != s.dir {
			continue
		}

		info, err := os.Stat(r.ID)
		if err != nil {
			if err := s.catalog.Delete(ctx, r.ID); err != nil {
				s.logger.Warn("Failed to drop missing artifact from catalog",
					slog.String("id", r.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		a := artifactFromRecord(r)
		a.SizeBytes = info.Size()
		if a.HasTranscription {
			if _, err := os.Stat(a.TranscriptionPath); err != nil {
				a.HasTranscription = false
				a.TranscriptionPath = ""
			}
		}
		s.track(a)
	}

	return nil
}

// seedCounter continues numbering after the highest counter already on disk
// so restarts do not mint names that collide with earlier files.
func (s *Store) seedCounter() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}

	var highest uint64
	for _, e := range entries {
		m := namePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err == nil && n > highest {
			highest = n
		}
	}
	s.counter.Store(highest)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func copyToFile(ctx context.Context, path string, src io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, ctxReader{ctx: ctx, r: src})
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*"+partialSuffix)
	if err != nil {
		return err
	}
	tmp := f.Name()

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
	}
	return err
}

// removeWithSibling deletes a .wav file and its transcription sibling.
// Files that are already gone are not an error.
func removeWithSibling(wavPath string) error {
	if err := os.Remove(wavPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Remove(TranscriptionPath(wavPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
