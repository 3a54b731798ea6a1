package files

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper is a dumb TTL eviction over the output directory. It knows
// nothing about job state: files survive a fixed retention window after
// their last modification and are then deleted, delivered or not.
type Sweeper struct {
	dir    string
	maxAge time.Duration
	logger zerolog.Logger
}

func NewSweeper(dir string, maxAge time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{dir: dir, maxAge: maxAge, logger: logger}
}

// Sweep runs one eviction pass. A failure to delete one file does not
// abort the sweep of the remaining ones.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if now.Sub(info.ModTime()) <= s.maxAge {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to remove expired file")
			continue
		}
		removed++
		s.logger.Debug().Str("path", path).Msg("removed expired file")
	}
	return removed, nil
}
