package jobs

import "time"

type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// DownloadJob is one tracked download request. Exactly one of
// Filename/Error is set once State is terminal.
type DownloadJob struct {
	ID        string    `json:"id"`
	SourceRef string    `json:"source_ref"`
	Quality   string    `json:"quality"`
	State     State     `json:"state"`
	Progress  int       `json:"progress"`
	Filename  string    `json:"filename,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is one state transition as observed by push subscribers.
type Event struct {
	JobID    string `json:"download_id"`
	State    State  `json:"state"`
	Progress int    `json:"progress"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error,omitempty"`
}
