package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
)

const defaultSweepInterval = time.Minute

// Sweeper deletes generated files older than the retention period.
type Sweeper struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewSweeper creates a sweeper for dir. A zero retention disables deletion.
func NewSweeper(dir string, retention, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &Sweeper{
		dir:       dir,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		log:       log,
	}
}

// Enabled reports whether the sweeper deletes anything.
func (s *Sweeper) Enabled() bool {
	return s.retention > 0
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.Enabled() {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("Artifact retention: deleting files older than %s every %s", s.retention, s.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep()
			if err != nil {
				s.log.Warn("Artifact sweep failed: %v", err)
			}

			if removed > 0 {
				s.log.Info("Artifact sweep removed %d expired file(s)", removed)
			}
		}
	}
}

// Sweep removes expired files once and returns how many were deleted.
func (s *Sweeper) Sweep() (int, error) {
	if !s.Enabled() {
		return 0, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list generated directory '%s': %w", s.dir, err)
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil || info.ModTime().After(cutoff) {
			continue
		}

		removeErr := os.Remove(filepath.Join(s.dir, entry.Name()))
		if removeErr != nil {
			s.log.Warn("Failed to remove expired artifact '%s': %v", entry.Name(), removeErr)

			continue
		}

		removed++
	}

	return removed, nil
}
