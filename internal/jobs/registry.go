package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const eventBufferSize = 16

// Registry is the single source of truth for job lifecycle state. All
// reads return snapshots; the map entry is only ever mutated under the
// registry lock, so transitions for one job apply in order. The first
// terminal write wins; later terminal writes are dropped.
type Registry struct {
	logger zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*DownloadJob
	subs map[string][]chan Event
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
		jobs:   make(map[string]*DownloadJob),
		subs:   make(map[string][]chan Event),
	}
}

// Create inserts a fresh queued job and returns its snapshot.
func (r *Registry) Create(sourceRef, quality string) *DownloadJob {
	now := time.Now()
	job := &DownloadJob{
		ID:        uuid.NewString(),
		SourceRef: sourceRef,
		Quality:   quality,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	snapshot := cloneJob(job)
	r.mu.Unlock()
	return snapshot
}

func (r *Registry) Get(id string) (*DownloadJob, bool) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	var snapshot *DownloadJob
	if ok {
		snapshot = cloneJob(job)
	}
	r.mu.RUnlock()
	return snapshot, ok
}

// MarkDownloading moves a queued job into the downloading state.
func (r *Registry) MarkDownloading(id string) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || job.State != StateQueued {
		r.mu.Unlock()
		return false
	}
	job.State = StateDownloading
	job.UpdatedAt = time.Now()
	r.publishLocked(job)
	r.mu.Unlock()
	return true
}

// UpdateProgress records download progress. Progress never decreases,
// and late callbacks arriving after a terminal state are ignored.
func (r *Registry) UpdateProgress(id string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || job.State != StateDownloading || percent <= job.Progress {
		r.mu.Unlock()
		return
	}
	job.Progress = percent
	job.UpdatedAt = time.Now()
	r.publishLocked(job)
	r.mu.Unlock()
}

// Complete resolves a job to its terminal success state.
func (r *Registry) Complete(id, filename string) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if job.State.Terminal() {
		r.mu.Unlock()
		r.logger.Debug().Str("download_id", id).Msg("dropping duplicate terminal write (complete)")
		return false
	}
	job.State = StateComplete
	job.Progress = 100
	job.Filename = filename
	job.UpdatedAt = time.Now()
	r.publishLocked(job)
	r.closeSubscribersLocked(id)
	r.mu.Unlock()
	return true
}

// Fail resolves a job to its terminal failure state.
func (r *Registry) Fail(id, message string) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if job.State.Terminal() {
		r.mu.Unlock()
		r.logger.Debug().Str("download_id", id).Msg("dropping duplicate terminal write (fail)")
		return false
	}
	job.State = StateFailed
	job.Error = message
	job.UpdatedAt = time.Now()
	r.publishLocked(job)
	r.closeSubscribersLocked(id)
	r.mu.Unlock()
	return true
}

// Take returns a job snapshot, evicting the entry when it is terminal.
// After a terminal payload has been taken once, later lookups for that
// id report not found. Non-terminal snapshots are left in place.
func (r *Registry) Take(id string) (*DownloadJob, bool) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	snapshot := cloneJob(job)
	if job.State.Terminal() {
		delete(r.jobs, id)
	}
	r.mu.Unlock()
	return snapshot, true
}

// Subscribe registers a push observer for one job. The returned channel
// receives every subsequent transition and is closed after the terminal
// one. The cancel func is safe to call at any point, including after
// the registry has already closed the channel.
func (r *Registry) Subscribe(id string) (<-chan Event, func()) {
	r.mu.Lock()
	ch, cancel := r.subscribeLocked(id)
	r.mu.Unlock()
	return ch, cancel
}

// Watch pairs a current snapshot with a subscription to the job's
// subsequent transitions. Both are taken under one lock, so the channel
// never carries a transition older than the snapshot.
func (r *Registry) Watch(id string) (*DownloadJob, <-chan Event, func(), bool) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, nil, nil, false
	}
	snapshot := cloneJob(job)
	ch, cancel := r.subscribeLocked(id)
	r.mu.Unlock()
	return snapshot, ch, cancel, true
}

func (r *Registry) subscribeLocked(id string) (chan Event, func()) {
	ch := make(chan Event, eventBufferSize)
	r.subs[id] = append(r.subs[id], ch)

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		channels := r.subs[id]
		for i, sub := range channels {
			if sub == ch {
				r.subs[id] = append(channels[:i], channels[i+1:]...)
				close(ch)
				break
			}
		}
		if len(r.subs[id]) == 0 {
			delete(r.subs, id)
		}
	}
	return ch, cancel
}

// publishLocked fans a transition out to subscribers. Delivery is
// best-effort: a subscriber that cannot keep up loses the event, the
// terminal value stays recoverable through Get/Take.
func (r *Registry) publishLocked(job *DownloadJob) {
	channels := r.subs[job.ID]
	if len(channels) == 0 {
		return
	}
	event := Event{
		JobID:    job.ID,
		State:    job.State,
		Progress: job.Progress,
		Filename: job.Filename,
		Error:    job.Error,
	}
	for _, ch := range channels {
		select {
		case ch <- event:
		default:
			r.logger.Debug().Str("download_id", job.ID).Msg("subscriber buffer full, event dropped")
		}
	}
}

func (r *Registry) closeSubscribersLocked(id string) {
	for _, ch := range r.subs[id] {
		close(ch)
	}
	delete(r.subs, id)
}

func cloneJob(job *DownloadJob) *DownloadJob {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
