// Package telegram implements the minimal slice of the Telegram Bot
// API the chat-bot surface needs: long-polling getUpdates, sendMessage
// chunked to a safe length, and the two calls behind inline-button
// approval (a keyboard send, and the callback acknowledgement).
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const baseURLFormat = "https://api.telegram.org/bot%s/%s"

// maxChunkRunes is the spec's outgoing-message chunk boundary (§6).
const maxChunkRunes = 3500

// Client is a thin HTTP wrapper around one bot token.
type Client struct {
	token      string
	httpClient *http.Client
}

// New returns a Client for the given bot token.
func New(token string) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method string, payload, result any) error {
	url := fmt.Sprintf(baseURLFormat, c.token, method)

	var req *http.Request
	var err error
	if payload == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	} else {
		var body []byte
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("telegram: marshal %s request: %w", method, err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return fmt.Errorf("telegram: build %s request: %w", method, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram: %s API error: %s", method, envelope.Description)
	}
	if result != nil && envelope.Result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// Update is the subset of one Telegram update this bot acts on: either
// a plain text message or a button press, normalized to one shape.
type Update struct {
	UpdateID int64
	ChatID   int64
	UserID   int64
	Text     string

	// CallbackID is set, and Text carries the callback_data, when this
	// update originated from a button press rather than a typed message.
	CallbackID string
}

type rawUpdate struct {
	UpdateID      int64 `json:"update_id"`
	Message       *struct {
		From *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Message *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

// Poll issues one long-polling getUpdates call and normalizes the
// result. offset is the next update id to request (last seen + 1).
func (c *Client) Poll(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	var raw []rawUpdate
	err := c.do(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message", "callback_query"},
	}, &raw)
	if err != nil {
		return nil, err
	}

	updates := make([]Update, 0, len(raw))
	for _, u := range raw {
		switch {
		case u.Message != nil && u.Message.From != nil && u.Message.Text != "":
			updates = append(updates, Update{
				UpdateID: u.UpdateID,
				ChatID:   u.Message.Chat.ID,
				UserID:   u.Message.From.ID,
				Text:     u.Message.Text,
			})
		case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Data != "":
			updates = append(updates, Update{
				UpdateID:   u.UpdateID,
				ChatID:     u.CallbackQuery.Message.Chat.ID,
				UserID:     u.CallbackQuery.From.ID,
				Text:       u.CallbackQuery.Data,
				CallbackID: u.CallbackQuery.ID,
			})
		}
	}
	return updates, nil
}

// Send splits text into chunks of at most maxChunkRunes, breaking at
// newline boundaries where possible, and sends each in order.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitAtNewlines(text, maxChunkRunes) {
		if err := c.do(ctx, "sendMessage", map[string]any{"chat_id": chatID, "text": chunk}, nil); err != nil {
			return err
		}
	}
	return nil
}

// Button is one inline-keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// SendWithButtons sends text with a single row of inline buttons —
// used for the approve/deny approval prompt.
func (c *Client) SendWithButtons(ctx context.Context, chatID int64, text string, buttons []Button) error {
	return c.do(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
		"reply_markup": map[string]any{
			"inline_keyboard": [][]Button{buttons},
		},
	}, nil)
}

// AnswerCallback acknowledges a button press so Telegram clears its
// loading spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.do(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

func splitAtNewlines(text string, maxRunes int) []string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + maxRunes
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		splitAt := -1
		for i := end - 1; i >= start; i-- {
			if runes[i] == '\n' {
				splitAt = i
				break
			}
		}

		if splitAt < 0 {
			chunks = append(chunks, string(runes[start:end]))
			start = end
		} else {
			chunks = append(chunks, string(runes[start:splitAt+1]))
			start = splitAt + 1
		}
	}
	return chunks
}
