package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tunedrop/internal/extract"
	"tunedrop/internal/files"
)

// run is the per-job worker. It is the only writer for its job id and
// always resolves the job to a terminal state; no error escapes the
// goroutine.
func (m *Manager) run(id, sourceRef, quality string) {
	if !m.registry.MarkDownloading(id) {
		return
	}
	m.logger.Info().Str("download_id", id).Str("source", sourceRef).Msg("download started")

	lastPercent := 0
	meta, err := m.engine.Extract(context.Background(), sourceRef, extract.Options{
		OutputDir: m.dir,
		Quality:   quality,
		OnProgress: func(p extract.Progress) {
			// Unknown total size: keep reporting the last known percent.
			if p.TotalBytes > 0 {
				lastPercent = int(float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100)
			}
			m.registry.UpdateProgress(id, lastPercent)
		},
	})
	if err != nil {
		m.fail(id, err)
		return
	}

	filename, err := m.finalize(meta, quality)
	if err != nil {
		m.fail(id, err)
		return
	}

	m.registry.Complete(id, filename)
	m.logger.Info().Str("download_id", id).Str("filename", filename).Msg("download complete")
}

// finalize verifies the produced file, moves it to its sanitized name
// and appends the history record. Partial files are left in place for
// the retention sweeper on failure.
func (m *Manager) finalize(meta *extract.Metadata, quality string) (string, error) {
	stat, err := os.Stat(meta.FilePath)
	if err != nil || !stat.Mode().IsRegular() {
		return "", fmt.Errorf("produced file missing: %s", meta.FilePath)
	}

	filename := files.SafeName(meta.Title)
	target := filepath.Join(m.dir, filename)
	if target != meta.FilePath {
		// Last write wins on sanitized-name collisions.
		if _, err := os.Stat(target); err == nil {
			if err := os.Remove(target); err != nil {
				return "", fmt.Errorf("remove colliding file %s: %w", target, err)
			}
		}
		if err := os.Rename(meta.FilePath, target); err != nil {
			return "", fmt.Errorf("rename to %s: %w", target, err)
		}
	}
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("file missing after rename: %s", target)
	}

	if err := m.history.Append(context.Background(), meta.Title, quality, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("append history: %w", err)
	}
	return filename, nil
}

func (m *Manager) fail(id string, err error) {
	m.logger.Error().Err(err).Str("download_id", id).Msg("download failed")
	m.registry.Fail(id, err.Error())
}
