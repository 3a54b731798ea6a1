package extract

import "context"

const (
	StatusDownloading = "downloading"
	StatusFinished    = "finished"
)

// SearchResult is one catalog entry from a flat, no-download search.
type SearchResult struct {
	Title string `json:"title"`
	ID    string `json:"id"`
	URL   string `json:"url"`
}

// Progress is a transfer snapshot forwarded to the caller's callback.
// TotalBytes may be zero when the remote does not report a size.
type Progress struct {
	Status          string
	DownloadedBytes int64
	TotalBytes      int64
}

// Options parameterizes one extraction run.
type Options struct {
	OutputDir  string
	Quality    string
	OnProgress func(Progress)
}

// Metadata describes the produced artifact. FilePath points at the
// decoded audio file as written by the engine, before any rename.
type Metadata struct {
	Title    string
	FilePath string
}

// Engine is the extraction-and-transcode collaborator. Implementations
// block until the transfer finishes and surface transcode failures as
// extraction errors.
type Engine interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Extract(ctx context.Context, sourceRef string, opts Options) (*Metadata, error)
}
