package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tunedrop/internal/extract"
	"tunedrop/internal/jobs"
)

const (
	defaultAPIBase  = "https://api.telegram.org"
	keyboardRowSize = 5
	titleMaxLen     = 40
	deliveryTimeout = 30 * time.Minute

	greeting = "Hi! I download music. Send me a song name to search for it."
)

// Bot is the chat-facing glue around the download core: free-text
// search, an inline keyboard of results, and file delivery once the
// job completes. It talks to the Telegram HTTP API directly.
type Bot struct {
	apiBase string
	token   string
	client  *http.Client

	engine      extract.Engine
	manager     *jobs.Manager
	downloadDir string
	searchLimit int
	quality     string
	logger      zerolog.Logger
}

type Option func(*Bot)

// WithAPIBase overrides the Telegram API endpoint, used in tests.
func WithAPIBase(base string) Option {
	return func(b *Bot) {
		b.apiBase = strings.TrimSuffix(base, "/")
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(b *Bot) {
		b.client = client
	}
}

func New(token string, engine extract.Engine, manager *jobs.Manager, downloadDir, quality string, searchLimit int, logger zerolog.Logger, opts ...Option) *Bot {
	b := &Bot{
		apiBase:     defaultAPIBase,
		token:       token,
		client:      &http.Client{Timeout: time.Minute},
		engine:      engine,
		manager:     manager,
		downloadDir: downloadDir,
		searchLimit: searchLimit,
		quality:     quality,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Chat      chat   `json:"chat"`
	Text      string `json:"text"`
}

type chat struct {
	ID int64 `json:"id"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *message `json:"message"`
}

// WebhookHandler accepts Telegram webhook updates. The update is
// dispatched on its own goroutine so the webhook response is never
// blocked behind a search or a download.
func (b *Bot) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var upd update
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		go b.dispatch(upd)
		w.WriteHeader(http.StatusOK)
	}
}

func (b *Bot) dispatch(upd update) {
	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(upd.CallbackQuery)
	case upd.Message != nil:
		b.handleMessage(upd.Message)
	}
}

func (b *Bot) handleMessage(msg *message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/start") {
		if err := b.sendMessage(msg.Chat.ID, greeting, nil); err != nil {
			b.logger.Error().Err(err).Msg("failed to send greeting")
		}
		return
	}

	b.logger.Info().Str("query", text).Msg("bot search")
	results, err := b.engine.Search(context.Background(), text, b.searchLimit)
	if err != nil {
		b.replyError(msg.Chat.ID, fmt.Sprintf("Search failed: %s", err))
		return
	}
	if len(results) == 0 {
		b.replyError(msg.Chat.ID, "No results found for your search.")
		return
	}

	keyboard := buildKeyboard(results)
	if err := b.sendMessage(msg.Chat.ID, fmt.Sprintf("Results for %q:", text), keyboard); err != nil {
		b.logger.Error().Err(err).Msg("failed to send search results")
	}
}

func (b *Bot) handleCallback(cb *callbackQuery) {
	if cb.Message == nil || !strings.HasPrefix(cb.Data, "download:") {
		return
	}
	videoID := strings.TrimPrefix(cb.Data, "download:")
	sourceRef := "https://www.youtube.com/watch?v=" + videoID
	chatID := cb.Message.Chat.ID

	if err := b.sendMessage(chatID, "Downloading the song, please wait...", nil); err != nil {
		b.logger.Error().Err(err).Msg("failed to acknowledge download")
	}

	id := b.manager.Submit(sourceRef, b.quality)
	b.logger.Info().Str("download_id", id).Str("source", sourceRef).Msg("bot download submitted")
	b.deliver(chatID, id)
}

// deliver waits for the job's terminal transition and pushes the
// outcome into the chat.
func (b *Bot) deliver(chatID int64, id string) {
	job, events, cancel, ok := b.manager.Watch(id)
	if !ok {
		return
	}
	defer cancel()

	// The worker may already have resolved the job before we attached.
	if job.State.Terminal() {
		b.notifyOutcome(chatID, job.State, job.Filename, job.Error)
		return
	}

	timeout := time.NewTimer(deliveryTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-timeout.C:
			b.replyError(chatID, "The download is taking too long, please try again later.")
			return
		case event, open := <-events:
			if !open {
				if job, ok := b.manager.Status(id); ok && job.State.Terminal() {
					b.notifyOutcome(chatID, job.State, job.Filename, job.Error)
				}
				return
			}
			if event.State.Terminal() {
				b.notifyOutcome(chatID, event.State, event.Filename, event.Error)
				return
			}
		}
	}
}

func (b *Bot) notifyOutcome(chatID int64, state jobs.State, filename, errMsg string) {
	if state == jobs.StateComplete {
		if err := b.sendDocument(chatID, filename, "Here is your song as mp3."); err != nil {
			b.logger.Error().Err(err).Str("filename", filename).Msg("failed to deliver file")
			b.replyError(chatID, "The download finished but the file could not be delivered.")
		}
		return
	}
	b.replyError(chatID, fmt.Sprintf("Failed to download the song: %s. Try another result.", errMsg))
}

func (b *Bot) replyError(chatID int64, text string) {
	if err := b.sendMessage(chatID, text, nil); err != nil {
		b.logger.Error().Err(err).Msg("failed to send bot reply")
	}
}

func buildKeyboard(results []extract.SearchResult) [][]inlineKeyboardButton {
	keyboard := make([][]inlineKeyboardButton, 0, (len(results)+keyboardRowSize-1)/keyboardRowSize)
	for i := 0; i < len(results); i += keyboardRowSize {
		end := i + keyboardRowSize
		if end > len(results) {
			end = len(results)
		}
		row := make([]inlineKeyboardButton, 0, end-i)
		for _, result := range results[i:end] {
			title := result.Title
			// Truncate on runes so a multibyte title stays valid UTF-8.
			if runes := []rune(title); len(runes) > titleMaxLen {
				title = string(runes[:titleMaxLen]) + "..."
			}
			row = append(row, inlineKeyboardButton{
				Text:         title,
				CallbackData: "download:" + result.ID,
			})
		}
		keyboard = append(keyboard, row)
	}
	return keyboard
}
