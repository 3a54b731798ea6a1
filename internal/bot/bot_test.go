package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunedrop/internal/extract"
	"tunedrop/internal/jobs"
)

// telegramCall is one request the fake API received, with enough of the
// payload decoded to assert on.
type telegramCall struct {
	method   string
	text     string
	caption  string
	document string
	keyboard [][]inlineKeyboardButton
}

type fakeTelegram struct {
	mu    sync.Mutex
	calls []telegramCall
}

func (f *fakeTelegram) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		call := telegramCall{method: parts[len(parts)-1]}

		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			_ = r.ParseMultipartForm(1 << 20)
			call.caption = r.FormValue("caption")
			if _, header, err := r.FormFile("document"); err == nil {
				call.document = header.Filename
			}
		} else {
			var payload struct {
				Text        string `json:"text"`
				ReplyMarkup struct {
					InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
				} `json:"reply_markup"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			call.text = payload.Text
			call.keyboard = payload.ReplyMarkup.InlineKeyboard
		}

		f.mu.Lock()
		f.calls = append(f.calls, call)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func (f *fakeTelegram) snapshot() []telegramCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telegramCall(nil), f.calls...)
}

func (f *fakeTelegram) byMethod(method string) []telegramCall {
	var out []telegramCall
	for _, call := range f.snapshot() {
		if call.method == method {
			out = append(out, call)
		}
	}
	return out
}

type fakeEngine struct {
	results    []extract.SearchResult
	searchErr  error
	title      string
	extractErr error
}

func (f *fakeEngine) Search(_ context.Context, _ string, _ int) ([]extract.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeEngine) Extract(_ context.Context, _ string, opts extract.Options) (*extract.Metadata, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	path := filepath.Join(opts.OutputDir, "raw.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return nil, err
	}
	return &extract.Metadata{Title: f.title, FilePath: path}, nil
}

type noopHistory struct{}

func (noopHistory) Append(_ context.Context, _, _ string, _ time.Time) error { return nil }

func newTestBot(t *testing.T, engine *fakeEngine) (*Bot, *fakeTelegram) {
	t.Helper()
	telegram := &fakeTelegram{}
	api := httptest.NewServer(telegram.handler())
	t.Cleanup(api.Close)

	dir := t.TempDir()
	registry := jobs.NewRegistry(zerolog.Nop())
	manager := jobs.NewManager(registry, engine, noopHistory{}, dir, zerolog.Nop())

	b := New("123:abc", engine, manager, dir, "128", 5, zerolog.Nop(), WithAPIBase(api.URL))
	return b, telegram
}

func postUpdate(t *testing.T, b *Bot, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	b.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_RejectsNonJSON(t *testing.T) {
	b, _ := newTestBot(t, &fakeEngine{})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("data"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	b.WebhookHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookHandler_RejectsMalformedUpdate(t *testing.T) {
	b, _ := newTestBot(t, &fakeEngine{})
	rec := postUpdate(t, b, `{"update_id":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBot_StartCommandSendsGreeting(t *testing.T) {
	b, telegram := newTestBot(t, &fakeEngine{})
	rec := postUpdate(t, b, `{"update_id":1,"message":{"message_id":10,"chat":{"id":42},"text":"/start"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(telegram.byMethod("sendMessage")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, greeting, telegram.byMethod("sendMessage")[0].text)
}

func TestBot_SearchSendsKeyboard(t *testing.T) {
	engine := &fakeEngine{results: []extract.SearchResult{
		{Title: "First Song", ID: "aaa"},
		{Title: strings.Repeat("x", 60), ID: "bbb"},
	}}
	b, telegram := newTestBot(t, engine)
	postUpdate(t, b, `{"update_id":1,"message":{"message_id":10,"chat":{"id":42},"text":"first song"}}`)

	require.Eventually(t, func() bool {
		return len(telegram.byMethod("sendMessage")) == 1
	}, time.Second, 10*time.Millisecond)

	call := telegram.byMethod("sendMessage")[0]
	require.Len(t, call.keyboard, 1)
	require.Len(t, call.keyboard[0], 2)
	assert.Equal(t, "First Song", call.keyboard[0][0].Text)
	assert.Equal(t, "download:aaa", call.keyboard[0][0].CallbackData)
	assert.Equal(t, strings.Repeat("x", 40)+"...", call.keyboard[0][1].Text)
}

func TestBot_SearchFailureReported(t *testing.T) {
	b, telegram := newTestBot(t, &fakeEngine{searchErr: errors.New("resolver down")})
	postUpdate(t, b, `{"update_id":1,"message":{"message_id":10,"chat":{"id":42},"text":"a song"}}`)

	require.Eventually(t, func() bool {
		return len(telegram.byMethod("sendMessage")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, telegram.byMethod("sendMessage")[0].text, "resolver down")
}

func TestBot_NoResults(t *testing.T) {
	b, telegram := newTestBot(t, &fakeEngine{})
	postUpdate(t, b, `{"update_id":1,"message":{"message_id":10,"chat":{"id":42},"text":"obscure"}}`)

	require.Eventually(t, func() bool {
		return len(telegram.byMethod("sendMessage")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, telegram.byMethod("sendMessage")[0].text, "No results")
}

func TestBot_CallbackDownloadsAndDeliversDocument(t *testing.T) {
	b, telegram := newTestBot(t, &fakeEngine{title: "My Song"})
	postUpdate(t, b, `{"update_id":2,"callback_query":{"id":"cb1","data":"download:aaa","message":{"message_id":11,"chat":{"id":42}}}}`)

	require.Eventually(t, func() bool {
		return len(telegram.byMethod("sendDocument")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	doc := telegram.byMethod("sendDocument")[0]
	assert.Equal(t, "My_Song.mp3", doc.document)
	assert.Equal(t, "Here is your song as mp3.", doc.caption)

	messages := telegram.byMethod("sendMessage")
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0].text, "please wait")
}

func TestBot_CallbackReportsFailure(t *testing.T) {
	b, telegram := newTestBot(t, &fakeEngine{extractErr: errors.New("network unreachable")})
	postUpdate(t, b, `{"update_id":2,"callback_query":{"id":"cb1","data":"download:aaa","message":{"message_id":11,"chat":{"id":42}}}}`)

	require.Eventually(t, func() bool {
		for _, call := range telegram.byMethod("sendMessage") {
			if strings.Contains(call.text, "network unreachable") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBot_IgnoresUnknownCallbackData(t *testing.T) {
	b, telegram := newTestBot(t, &fakeEngine{})
	postUpdate(t, b, `{"update_id":2,"callback_query":{"id":"cb1","data":"noop","message":{"message_id":11,"chat":{"id":42}}}}`)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, telegram.snapshot())
}

func TestBuildKeyboard_TruncatesOnRunes(t *testing.T) {
	keyboard := buildKeyboard([]extract.SearchResult{
		{Title: strings.Repeat("ñ", 60), ID: "aaa"},
	})
	require.Len(t, keyboard, 1)
	require.Len(t, keyboard[0], 1)

	label := keyboard[0][0].Text
	assert.True(t, utf8.ValidString(label))
	assert.Equal(t, strings.Repeat("ñ", 40)+"...", label)
}

func TestBuildKeyboard_RowsOfFive(t *testing.T) {
	results := make([]extract.SearchResult, 7)
	for i := range results {
		results[i] = extract.SearchResult{Title: "t", ID: "id"}
	}
	keyboard := buildKeyboard(results)
	require.Len(t, keyboard, 2)
	assert.Len(t, keyboard[0], 5)
	assert.Len(t, keyboard[1], 2)
}
