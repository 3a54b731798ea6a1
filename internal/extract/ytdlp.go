package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"

	"tunedrop/pkg/file"
)

const (
	outputTemplate = "%(title)s.%(ext)s"
	audioExt       = ".mp3"
	progressFreq   = 200 * time.Millisecond
	retryCount     = "5"
)

// YTDLP drives the yt-dlp binary through go-ytdlp. The ffmpeg audio
// postprocessor converts the fetched stream to mp3, so transcode
// failures surface as run errors here.
type YTDLP struct {
	logger     zerolog.Logger
	cookieFile string
}

type Option func(*YTDLP)

// WithCookieFile points yt-dlp at a Netscape-format cookies file, used
// for both search and extraction. Needed for age-restricted or
// rate-limited sources.
func WithCookieFile(path string) Option {
	return func(y *YTDLP) {
		y.cookieFile = path
	}
}

func NewYTDLP(logger zerolog.Logger, opts ...Option) *YTDLP {
	y := &YTDLP{logger: logger}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

// Search runs a flat ytsearch without downloading anything.
func (y *YTDLP) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	dl := ytdlp.New().
		SkipDownload().
		FlatPlaylist().
		DumpSingleJSON().
		Quiet().
		NoWarnings()
	if y.cookieFile != "" {
		dl = dl.Cookies(y.cookieFile)
	}

	result, err := dl.Run(ctx, fmt.Sprintf("ytsearch%d:%s", limit, query))
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return parseSearchOutput([]byte(result.Stdout))
}

type searchOutput struct {
	Entries []struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		URL        string `json:"url"`
		WebpageURL string `json:"webpage_url"`
	} `json:"entries"`
}

func parseSearchOutput(data []byte) ([]SearchResult, error) {
	var out searchOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse search output: %w", err)
	}

	results := make([]SearchResult, 0, len(out.Entries))
	for _, entry := range out.Entries {
		url := entry.URL
		if url == "" {
			url = entry.WebpageURL
		}
		if url == "" && entry.ID != "" {
			url = "https://www.youtube.com/watch?v=" + entry.ID
		}
		results = append(results, SearchResult{
			Title: entry.Title,
			ID:    entry.ID,
			URL:   url,
		})
	}
	return results, nil
}

// Extract fetches the best audio stream, transcodes it to mp3 in
// opts.OutputDir and reports transfer progress through opts.OnProgress.
func (y *YTDLP) Extract(ctx context.Context, sourceRef string, opts Options) (*Metadata, error) {
	started := time.Now()

	dl := ytdlp.New().
		Format("bestaudio/best").
		Output(filepath.Join(opts.OutputDir, outputTemplate)).
		ExtractAudio().
		AudioFormat("mp3").
		EmbedMetadata().
		EmbedThumbnail().
		NoPlaylist().
		Retries(retryCount).
		NoWarnings()
	if y.cookieFile != "" {
		dl = dl.Cookies(y.cookieFile)
	}
	if opts.Quality != "" {
		dl = dl.AudioQuality(opts.Quality)
	}
	if opts.OnProgress != nil {
		dl.ProgressFunc(progressFreq, func(update ytdlp.ProgressUpdate) {
			opts.OnProgress(Progress{
				Status:          StatusDownloading,
				DownloadedBytes: int64(update.DownloadedBytes),
				TotalBytes:      int64(update.TotalBytes),
			})
		})
	}

	result, err := dl.Run(ctx, sourceRef)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", sourceRef, err)
	}

	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 {
		return nil, fmt.Errorf("extract %s: no metadata in yt-dlp output", sourceRef)
	}

	meta := &Metadata{}
	if info[0].Title != nil {
		meta.Title = *info[0].Title
	}
	if info[0].Filename != nil {
		// The postprocessor swaps the container extension for .mp3.
		meta.FilePath = file.ReplaceExt(*info[0].Filename, audioExt)
	}

	if meta.FilePath == "" || !fileExists(meta.FilePath) {
		// yt-dlp output paths are not always exactly predictable;
		// fall back to the newest mp3 written since the run began.
		fallback, ferr := file.NewestWithExt(opts.OutputDir, audioExt, started)
		if ferr != nil || fallback == "" {
			return nil, fmt.Errorf("extract %s: produced file not found", sourceRef)
		}
		y.logger.Debug().Str("path", fallback).Msg("resolved produced file by directory scan")
		meta.FilePath = fallback
	}

	if opts.OnProgress != nil {
		opts.OnProgress(Progress{Status: StatusFinished})
	}
	return meta, nil
}

func fileExists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.Mode().IsRegular()
}
