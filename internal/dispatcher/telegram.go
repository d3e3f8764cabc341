package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTelegramAPIURL is the Bot API base used when none is configured.
const DefaultTelegramAPIURL = "https://api.telegram.org"

const defaultSendTimeout = 30 * time.Second

// TelegramSender delivers messages through the Bot API sendMessage method.
type TelegramSender struct {
	client  *http.Client
	baseURL string
}

func NewTelegramSender(baseURL string, timeout time.Duration) *TelegramSender {
	if baseURL == "" {
		baseURL = DefaultTelegramAPIURL
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &TelegramSender{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type sendMessageBody struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Send posts req.Text to req.ChatID. A result is successful only when the API
// answers 2xx with ok=true.
func (s *TelegramSender) Send(ctx context.Context, req SendRequest) SendResult {
	start := time.Now()

	body, err := json.Marshal(sendMessageBody{ChatID: req.ChatID, Text: req.Text})
	if err != nil {
		return SendResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	// the URL embeds the token; errors carrying it are redacted
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, req.Token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Error: fmt.Errorf("create request: %w", redact(err, req.Token)), Duration: time.Since(start)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return SendResult{Error: fmt.Errorf("send: %w", redact(err, req.Token)), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	result := SendResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}

	var parsed apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&parsed); err != nil {
		result.Error = fmt.Errorf("decode response: %w", err)
		return result
	}
	result.OK = parsed.OK
	result.Description = parsed.Description
	return result
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<redacted>"), err: err}
}
