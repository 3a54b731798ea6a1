package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tunedrop/internal/extract"
)

// HistoryAppender records completed downloads. Appended once per
// successful job, never updated.
type HistoryAppender interface {
	Append(ctx context.Context, title, quality string, ts time.Time) error
}

// Manager is the public entry point of the orchestrator: it allocates
// job identifiers, spawns one detached worker per submission and serves
// lifecycle queries from the registry.
type Manager struct {
	registry *Registry
	engine   extract.Engine
	history  HistoryAppender
	dir      string
	logger   zerolog.Logger
}

func NewManager(registry *Registry, engine extract.Engine, history HistoryAppender, dir string, logger zerolog.Logger) *Manager {
	return &Manager{
		registry: registry,
		engine:   engine,
		history:  history,
		dir:      dir,
		logger:   logger,
	}
}

// Submit registers a new download and returns its id immediately. Each
// call creates an independent job, even for identical arguments.
func (m *Manager) Submit(sourceRef, quality string) string {
	job := m.registry.Create(sourceRef, quality)
	go m.run(job.ID, sourceRef, quality)
	return job.ID
}

// Status returns an idempotent snapshot of the job, or false when the
// id is unknown or its terminal payload has already been consumed.
func (m *Manager) Status(id string) (*DownloadJob, bool) {
	return m.registry.Get(id)
}

// TakeResult is the one-shot read used by the pull transport: terminal
// payloads are evicted on first read, progress snapshots are repeatable.
func (m *Manager) TakeResult(id string) (*DownloadJob, bool) {
	return m.registry.Take(id)
}

// Watch atomically pairs a current snapshot with a subscription to the
// job's subsequent transitions, so push consumers never observe an
// event older than the snapshot they started from.
func (m *Manager) Watch(id string) (*DownloadJob, <-chan Event, func(), bool) {
	return m.registry.Watch(id)
}
