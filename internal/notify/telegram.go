package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("telegram rate limited")

const (
	defaultRetryAfter = 10 * time.Second
	maxImageBytes     = 10 << 20
)

// RateLimitError carries the wait Telegram asked for in a 429 answer.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// APIError is a non-429 rejection from the Bot API.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram answered %d: %s", e.StatusCode, e.Description)
}

type apiResponse struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Telegram posts notifications to one chat through the Bot API. Messages with
// an image are sent as a photo with caption; if the image cannot be
// downloaded the text is sent alone.
type Telegram struct {
	apiURL  string
	token   string
	chatID  string
	http    *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewTelegram(apiURL, token, chatID string, perMinute int, httpClient *http.Client) *Telegram {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Telegram{
		apiURL:  strings.TrimRight(apiURL, "/"),
		token:   token,
		chatID:  chatID,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepCtx,
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	if n.ImageURL != "" {
		img, err := t.download(ctx, n.ImageURL)
		if err == nil {
			err = t.withRetry(ctx, func() error {
				return t.sendPhoto(ctx, n.Text, img)
			})
			var apiErr *APIError
			// bad image bytes or an overlong caption: the text alone still goes out
			if !errors.As(err, &apiErr) || apiErr.StatusCode < 400 || apiErr.StatusCode > 499 {
				return err
			}
			zap.L().Warn("Photo rejected, sending text only",
				zap.String("hash", n.Event.Hash),
				zap.String("image", n.ImageURL),
				zap.Error(err),
			)
		} else {
			zap.L().Warn("Image download failed, sending text only",
				zap.String("hash", n.Event.Hash),
				zap.String("image", n.ImageURL),
				zap.Error(err),
			)
		}
	}
	return t.withRetry(ctx, func() error {
		return t.sendMessage(ctx, n.Text)
	})
}

// withRetry retries send once when Telegram answers 429.
func (t *Telegram) withRetry(ctx context.Context, send func() error) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	err := send()
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		return err
	}
	zap.L().Warn("Telegram rate limit hit, retrying once", zap.Duration("retry_after", rl.RetryAfter))
	if err := t.sleep(ctx, rl.RetryAfter+time.Second); err != nil {
		return err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return send()
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendMessage"), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *Telegram) sendPhoto(ctx context.Context, caption string, img []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"chat_id":    t.chatID,
		"caption":    caption,
		"parse_mode": "HTML",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("photo", "image.jpg")
	if err != nil {
		return fmt.Errorf("failed to create photo part: %w", err)
	}
	if _, err := part.Write(img); err != nil {
		return fmt.Errorf("failed to write photo part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendPhoto"), bytes.NewReader(body.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to build sendPhoto request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return t.do(req)
}

func (t *Telegram) do(req *http.Request) error {
	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded apiResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := defaultRetryAfter
		if decoded.Parameters.RetryAfter > 0 {
			wait = time.Duration(decoded.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitError{RetryAfter: wait}
	}
	if resp.StatusCode != http.StatusOK || !decoded.Ok {
		desc := decoded.Description
		if desc == "" {
			desc = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Description: desc}
	}
	return nil
}

func (t *Telegram) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("image answered %d", resp.StatusCode)
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, errors.New("empty image")
	}
	return img, nil
}

func (t *Telegram) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.apiURL, t.token, method)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
