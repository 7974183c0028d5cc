// Package notify delivers alerts to external channels and exposes the
// Telegram bot command surface.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramClient talks to the Telegram Bot API
type TelegramClient struct {
	token   string
	chatIDs []int64
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewTelegramClient creates a Telegram client for the given bot token
// and recipient chats
func NewTelegramClient(token string, chatIDs []int64) *TelegramClient {
	return &TelegramClient{
		token:   token,
		chatIDs: chatIDs,
		baseURL: telegramAPIBase,
		http: &http.Client{
			Timeout: 35 * time.Second,
		},
		logger: slog.Default().With("component", "telegram"),
	}
}

// apiResponse is the Bot API envelope
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *TelegramClient) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// Send implements the notification sink: a photo with caption when
// image bytes are present, a plain message otherwise. Delivery fails
// if any chat fails.
func (c *TelegramClient) Send(ctx context.Context, message string, jpeg []byte) error {
	var firstErr error
	for _, chatID := range c.chatIDs {
		var err error
		if len(jpeg) > 0 {
			err = c.sendPhoto(ctx, chatID, message, jpeg)
		} else {
			err = c.sendMessage(ctx, chatID, message)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sendMessage posts a text message to one chat
func (c *TelegramClient) sendMessage(ctx context.Context, chatID int64, text string) error {
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(chatID, 10))
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint("sendMessage"),
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req)
}

// sendPhoto posts a JPEG with caption to one chat via multipart upload
func (c *TelegramClient) sendPhoto(ctx context.Context, chatID int64, caption string, jpeg []byte) error {
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
	part, err := writer.CreateFormFile("photo", "snapshot.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(jpeg); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint("sendPhoto"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req)
}

// do executes a request and checks the API envelope
func (c *TelegramClient) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to parse telegram response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram API error: %s", result.Description)
	}
	return nil
}

// getUpdates long-polls for bot updates after the given offset
func (c *TelegramClient) getUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]update, error) {
	form := url.Values{}
	form.Set("offset", strconv.FormatInt(offset, 10))
	form.Set("timeout", strconv.Itoa(int(timeout.Seconds())))

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint("getUpdates"),
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse updates: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram API error: %s", result.Description)
	}

	var updates []update
	if err := json.Unmarshal(result.Result, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// update is one getUpdates entry
type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}
