package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sweep deletes artifacts whose last access is older than now-window, along
// with their transcription siblings. Pinned artifacts and files modified
// inside the window are kept regardless of metadata. Files the store does
// not track are judged by modification time. A failure on one file is
// logged and counted; the sweep goes on with the rest.
func (s *Store) Sweep(ctx context.Context, now time.Time, window time.Duration) (SweepReport, error) {
	start := time.Now()
	cutoff := now.Add(-window)

	var report SweepReport
	defer func() {
		s.metrics.RecordSweep(len(report.Deleted)+len(report.Orphans), report.Errors, time.Since(start).Seconds())
	}()

	for _, id := range s.expired(cutoff) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.sweepTracked(ctx, id, cutoff, &report)
	}

	if err := s.sweepUntracked(ctx, cutoff, &report); err != nil {
		return report, err
	}

	level := slog.LevelDebug
	if len(report.Deleted) > 0 || len(report.Orphans) > 0 || report.Errors > 0 {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "Retention sweep finished",
		slog.Int("deleted", len(report.Deleted)),
		slog.Int("orphans", len(report.Orphans)),
		slog.Int("skipped", report.Skipped),
		slog.Int("errors", report.Errors),
		slog.Duration("window", window),
		slog.Duration("duration", time.Since(start)),
	)

	return report, nil
}

// expired returns tracked IDs last accessed before cutoff.
func (s *Store) expired(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, t := range s.artifacts {
		if t.LastAccessedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) sweepTracked(ctx context.Context, id string, cutoff time.Time, report *SweepReport) {
	unlock := s.locks.lock(id)
	defer unlock()

	// Re-check under the key lock: a concurrent Samples call may have
	// refreshed the artifact since the candidate list was taken.
	s.mu.RLock()
	t, ok := s.artifacts[id]
	expired := ok && t.LastAccessedAt.Before(cutoff)
	pinned := s.pins[id] > 0
	s.mu.RUnlock()

	if !ok {
		return
	}
	if !expired || pinned {
		report.Skipped++
		return
	}

	if info, err := os.Stat(id); err == nil && !info.ModTime().Before(cutoff) {
		report.Skipped++
		return
	}

	if err := removeWithSibling(id); err != nil {
		report.Errors++
		s.logger.Error("Sweep failed to remove artifact",
			slog.String("path", id),
			slog.String("error", err.Error()),
		)
		return
	}

	s.cache.Invalidate(id)
	s.untrack(ctx, id)
	report.Deleted = append(report.Deleted, id)
}

func (s *Store) sweepUntracked(ctx context.Context, cutoff time.Time, report *SweepReport) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		report.Errors++
		s.logger.Error("Sweep failed to list recordings directory",
			slog.String("dir", s.dir),
			slog.String("error", err.Error()),
		)
		return nil
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}

		name := e.Name()
		path := filepath.Join(s.dir, name)

		switch {
		case strings.HasSuffix(name, partialSuffix):
			s.sweepOrphan(path, cutoff, report, false)
		case filepath.Ext(name) == ".wav":
			if _, tracked := s.Get(path); tracked {
				continue
			}
			s.sweepOrphan(path, cutoff, report, true)
		case filepath.Ext(name) == ".txt":
			wav := strings.TrimSuffix(path, ".txt") + ".wav"
			if _, tracked := s.Get(wav); tracked {
				continue
			}
			if _, err := os.Stat(wav); err == nil {
				// Handled together with its .wav.
				continue
			}
			s.sweepOrphan(path, cutoff, report, false)
		}
	}

	return nil
}

// sweepOrphan removes an untracked file when its modification time is older
// than cutoff. withSibling also removes the .txt next to a .wav.
func (s *Store) sweepOrphan(path string, cutoff time.Time, report *SweepReport, withSibling bool) {
	unlock := s.locks.lock(path)
	defer unlock()

	if _, tracked := s.Get(path); tracked {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			report.Errors++
			s.logger.Error("Sweep failed to stat file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if !info.ModTime().Before(cutoff) {
		report.Skipped++
		return
	}

	if withSibling {
		err = removeWithSibling(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		report.Errors++
		s.logger.Error("Sweep failed to remove file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	s.cache.Invalidate(path)
	report.Orphans = append(report.Orphans, path)
}

// StartSweeper runs Sweep once immediately and then every interval until
// Stop is called. Calling it while a sweeper is running has no effect.
func (s *Store) StartSweeper(interval, window time.Duration) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	if s.sweepCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.sweepCancel = cancel
	s.sweepDone = done

	go s.sweepLoop(ctx, done, interval, window)
}

// Stop halts the background sweeper and waits for it to exit.
func (s *Store) Stop() {
	s.sweepMu.Lock()
	cancel, done := s.sweepCancel, s.sweepDone
	s.sweepCancel, s.sweepDone = nil, nil
	s.sweepMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Store) sweepLoop(ctx context.Context, done chan struct{}, interval, window time.Duration) {
	defer close(done)

	s.runSweep(ctx, window)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx, window)
		}
	}
}

func (s *Store) runSweep(ctx context.Context, window time.Duration) {
	if _, err := s.Sweep(ctx, s.now(), window); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Retention sweep failed", slog.String("error", err.Error()))
	}
}
