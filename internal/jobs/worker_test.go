package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunedrop/internal/extract"
)

type fakeEngine struct {
	title    string
	err      error
	progress []extract.Progress
	block    chan struct{}
	results  []extract.SearchResult
}

func (f *fakeEngine) Search(_ context.Context, _ string, _ int) ([]extract.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeEngine) Extract(_ context.Context, _ string, opts extract.Options) (*extract.Metadata, error) {
	if f.block != nil {
		<-f.block
	}
	for _, p := range f.progress {
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(opts.OutputDir, "raw output.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return nil, err
	}
	return &extract.Metadata{Title: f.title, FilePath: path}, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	err     error
	records []string
}

func (f *fakeHistory) Append(_ context.Context, title, quality string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, title+"|"+quality)
	return nil
}

func (f *fakeHistory) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.records...)
}

func newTestManager(t *testing.T, engine extract.Engine, history HistoryAppender) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	registry := NewRegistry(zerolog.Nop())
	return NewManager(registry, engine, history, dir, zerolog.Nop()), dir
}

func TestManager_SubmitIsNonBlocking(t *testing.T) {
	engine := &fakeEngine{title: "Song", block: make(chan struct{})}
	history := &fakeHistory{}
	m, _ := newTestManager(t, engine, history)

	id := m.Submit("https://example.test/v/abc", "128")
	require.NotEmpty(t, id)

	job, ok := m.Status(id)
	require.True(t, ok)
	assert.Contains(t, []State{StateQueued, StateDownloading}, job.State)

	close(engine.block)
	require.Eventually(t, func() bool {
		got, ok := m.Status(id)
		return ok && got.State == StateComplete
	}, time.Second, 10*time.Millisecond)
}

func TestManager_EachSubmitCreatesIndependentJob(t *testing.T) {
	engine := &fakeEngine{title: "Song"}
	m, _ := newTestManager(t, engine, &fakeHistory{})

	first := m.Submit("ref", "128")
	second := m.Submit("ref", "128")
	assert.NotEqual(t, first, second)
}

func TestWorker_SuccessRenamesAndRecordsHistory(t *testing.T) {
	engine := &fakeEngine{
		title: "Song: Title???",
		progress: []extract.Progress{
			{Status: extract.StatusDownloading, DownloadedBytes: 50, TotalBytes: 100},
			{Status: extract.StatusDownloading, DownloadedBytes: 100, TotalBytes: 100},
		},
	}
	history := &fakeHistory{}
	m, dir := newTestManager(t, engine, history)

	id := m.Submit("ref", "192")
	require.Eventually(t, func() bool {
		got, ok := m.Status(id)
		return ok && got.State == StateComplete
	}, time.Second, 10*time.Millisecond)

	job, ok := m.Status(id)
	require.True(t, ok)
	assert.Equal(t, "Song_Title.mp3", job.Filename)
	assert.Equal(t, 100, job.Progress)
	assert.Empty(t, job.Error)

	_, err := os.Stat(filepath.Join(dir, "Song_Title.mp3"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "raw output.mp3"))
	require.True(t, os.IsNotExist(err))

	require.Equal(t, []string{"Song: Title???|192"}, history.list())
}

func TestWorker_CollisionIsLastWriteWins(t *testing.T) {
	engine := &fakeEngine{title: "Song"}
	history := &fakeHistory{}
	m, dir := newTestManager(t, engine, history)

	target := filepath.Join(dir, "Song.mp3")
	require.NoError(t, os.WriteFile(target, []byte("stale"), 0o644))

	id := m.Submit("ref", "128")
	require.Eventually(t, func() bool {
		got, ok := m.Status(id)
		return ok && got.State == StateComplete
	}, time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))
}

func TestWorker_ExtractionFailureStoresMessageVerbatim(t *testing.T) {
	engine := &fakeEngine{err: errors.New("network unreachable")}
	history := &fakeHistory{}
	m, _ := newTestManager(t, engine, history)

	id := m.Submit("ref", "128")
	require.Eventually(t, func() bool {
		got, ok := m.Status(id)
		return ok && got.State == StateFailed
	}, time.Second, 10*time.Millisecond)

	job, ok := m.Status(id)
	require.True(t, ok)
	assert.Equal(t, "network unreachable", job.Error)
	assert.Empty(t, job.Filename)
	assert.Empty(t, history.list())
}

func TestWorker_HistoryFailureFailsJob(t *testing.T) {
	engine := &fakeEngine{title: "Song"}
	history := &fakeHistory{err: errors.New("disk full")}
	m, _ := newTestManager(t, engine, history)

	id := m.Submit("ref", "128")
	require.Eventually(t, func() bool {
		got, ok := m.Status(id)
		return ok && got.State == StateFailed
	}, time.Second, 10*time.Millisecond)

	job, _ := m.Status(id)
	assert.Contains(t, job.Error, "disk full")
}

func TestWorker_ProgressObservedNonDecreasing(t *testing.T) {
	engine := &fakeEngine{
		title: "Song",
		block: make(chan struct{}),
		progress: []extract.Progress{
			{Status: extract.StatusDownloading, DownloadedBytes: 10, TotalBytes: 100},
			{Status: extract.StatusDownloading, DownloadedBytes: 0, TotalBytes: 0},
			{Status: extract.StatusDownloading, DownloadedBytes: 60, TotalBytes: 100},
		},
	}
	m, _ := newTestManager(t, engine, &fakeHistory{})
	registry := m.registry

	id := m.Submit("ref", "128")
	events, cancel := registry.Subscribe(id)
	defer cancel()
	close(engine.block)

	last := 0
	for event := range events {
		require.GreaterOrEqual(t, event.Progress, last)
		last = event.Progress
		if event.State.Terminal() {
			break
		}
	}
}
