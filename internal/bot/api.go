package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.token, method)
}

// SetWebhook registers the public webhook URL with Telegram.
func (b *Bot) SetWebhook(ctx context.Context, webhookURL string) error {
	return b.callJSON(ctx, "setWebhook", map[string]any{
		"url": webhookURL,
	})
}

func (b *Bot) sendMessage(chatID int64, text string, keyboard [][]inlineKeyboardButton) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if len(keyboard) > 0 {
		payload["reply_markup"] = map[string]any{
			"inline_keyboard": keyboard,
		}
	}
	return b.callJSON(context.Background(), "sendMessage", payload)
}

// sendDocument uploads the finished artifact from the output directory
// as a document attachment.
func (b *Bot) sendDocument(chatID int64, filename, caption string) error {
	path := filepath.Join(b.downloadDir, filename)
	doc, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer doc.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, doc); err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, b.methodURL("sendDocument"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return b.do(req)
}

func (b *Bot) callJSON(ctx context.Context, method string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req)
}

func (b *Bot) do(req *http.Request) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var ret apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
		return fmt.Errorf("telegram: decode response: %w", err)
	}
	if !ret.OK {
		return fmt.Errorf("telegram: %s", ret.Description)
	}
	return nil
}
