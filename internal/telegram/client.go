// Package telegram is a small Telegram Bot API client covering what the
// bot needs: identity, long-poll updates, and plain-text replies.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nugget/sayang/internal/config"
	"github.com/nugget/sayang/internal/httpkit"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// maxMessageRunes is Telegram's per-message text limit.
const maxMessageRunes = 4096

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// Config holds the settings for a Client.
type Config struct {
	Token          string
	APIURL         string  // empty uses DefaultAPIURL
	PollTimeoutSec int     // long-poll timeout; sizes the HTTP timeouts
	SendRatePerSec float64 // 0 disables outbound limiting
	Logger         *slog.Logger
}

// Client talks to the Bot API. It is safe for concurrent use.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a Client. HTTP timeouts are sized to leave room for
// a full long-poll cycle.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.APIURL, "/")
	if base == "" {
		base = DefaultAPIURL
	}

	poll := time.Duration(cfg.PollTimeoutSec) * time.Second
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(poll+30*time.Second),
		httpkit.WithResponseHeaderTimeout(poll+15*time.Second),
		httpkit.WithRetry(2, time.Second),
		httpkit.WithLogger(logger),
	)

	var limiter *rate.Limiter
	if cfg.SendRatePerSec > 0 {
		burst := max(1, int(cfg.SendRatePerSec))
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), burst)
	}

	return &Client{
		token:   cfg.Token,
		baseURL: base,
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
	}
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// call POSTs payload to method and decodes the result into out (which
// may be nil).
func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Log(ctx, config.LevelTrace, "telegram request",
		"method", method,
		"payload", string(body),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL contains the token; never surface it.
		return fmt.Errorf("telegram %s: %w", method, redactToken(err, c.token))
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	c.logger.Log(ctx, config.LevelTrace, "telegram response",
		"method", method,
		"status", resp.StatusCode,
		"body", string(raw),
	)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{
			Method:      method,
			Code:        resp.StatusCode,
			Description: fmt.Sprintf("undecodable response: %v", err),
		}
	}
	if !env.OK {
		ae := &APIError{
			Method:      method,
			Code:        env.ErrorCode,
			Description: env.Description,
		}
		if ae.Code == 0 {
			ae.Code = resp.StatusCode
		}
		if ae.Description == "" {
			ae.Description = "unknown error"
		}
		if env.Parameters != nil {
			ae.RetryAfter = env.Parameters.RetryAfter
		}
		return ae
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetMe returns the bot's own account, which also validates the token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "getMe", struct{}{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUpdates long-polls for updates with id >= offset. Only message
// updates are requested.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// Send delivers text as plain text, split into several messages when it
// exceeds Telegram's length limit.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitAtNewlines(text, maxMessageRunes) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("telegram sendMessage: %w", err)
			}
		}
		err := c.call(ctx, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// splitAtNewlines breaks text into chunks of at most maxRunes runes,
// preferring the last newline in each window and hard-splitting lines
// that are longer than the limit.
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

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{
		msg: strings.ReplaceAll(err.Error(), token, "<token>"),
		err: err,
	}
}
