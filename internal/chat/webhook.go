package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spa1teN/tausendsassa/internal/faults"
)

// WebhookPayload is the outbound webhook body. Every post carries
// allowed_mentions: {parse: []} so external content can never ping anyone.
type WebhookPayload struct {
	Content         string          `json:"content,omitempty"`
	Username        string          `json:"username,omitempty"`
	AvatarURL       string          `json:"avatar_url,omitempty"`
	Embeds          []Embed         `json:"embeds,omitempty"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

// Doer is the slice of the HTTP fetcher the webhook client needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookClient posts JSON (optionally multipart with files) to webhook URLs
// through the shared HTTP pool. A post without files honors one 429
// retry-after; a post with files is not retried.
type WebhookClient struct {
	doer   Doer
	logger *slog.Logger
}

// NewWebhookClient creates a webhook client over the shared pool.
func NewWebhookClient(doer Doer, logger *slog.Logger) *WebhookClient {
	return &WebhookClient{doer: doer, logger: logger}
}

// Post executes the webhook. With files the body is multipart/form-data with
// the payload under payload_json; otherwise plain JSON.
func (w *WebhookClient) Post(ctx context.Context, url string, payload WebhookPayload, files []File) error {
	payload.AllowedMentions = allowedMentions{Parse: []string{}}

	for attempt := 0; ; attempt++ {
		req, err := w.buildRequest(ctx, url, payload, files)
		if err != nil {
			return err
		}

		resp, err := w.doer.Do(req)
		if err != nil {
			return err
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests && attempt == 0 && len(files) == 0:
			wait := retryAfter(resp, body)
			w.logger.Warn("webhook rate limited",
				slog.String("url", url),
				slog.Duration("retry_after", wait),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		default:
			return faults.Newf(faults.FromHTTPStatus(resp.StatusCode),
				"posting webhook", "webhook returned %d: %s", resp.StatusCode, body)
		}
	}
}

func (w *WebhookClient) buildRequest(ctx context.Context, url string, payload WebhookPayload, files []File) (*http.Request, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding webhook payload: %w", err)
	}

	if len(files) == 0 {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormField("payload_json")
	if err != nil {
		return nil, fmt.Errorf("creating payload part: %w", err)
	}
	if _, err := part.Write(encoded); err != nil {
		return nil, fmt.Errorf("writing payload part: %w", err)
	}

	for i, f := range files {
		part, err := mw.CreateFormFile(fmt.Sprintf("file%d", i), f.Name)
		if err != nil {
			return nil, fmt.Errorf("creating file part %q: %w", f.Name, err)
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, fmt.Errorf("writing file part %q: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// PostForMessage executes the webhook with wait=true and returns the created
// message id, so identity posts can later be edited in place.
func (w *WebhookClient) PostForMessage(ctx context.Context, url string, payload WebhookPayload) (int64, error) {
	payload.AllowedMentions = allowedMentions{Parse: []string{}}

	waitURL := url
	if strings.Contains(url, "?") {
		waitURL += "&wait=true"
	} else {
		waitURL += "?wait=true"
	}

	req, err := w.buildRequest(ctx, waitURL, payload, nil)
	if err != nil {
		return 0, err
	}
	resp, err := w.doer.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return 0, faults.Newf(faults.FromHTTPStatus(resp.StatusCode),
			"posting webhook", "webhook returned %d: %s", resp.StatusCode, body)
	}

	var msg struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return 0, fmt.Errorf("decoding webhook message: %w", err)
	}
	id, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing webhook message id %q: %w", msg.ID, err)
	}
	return id, nil
}

// EditMessage edits a message previously posted through the webhook.
func (w *WebhookClient) EditMessage(ctx context.Context, url string, messageID int64, payload WebhookPayload) error {
	payload.AllowedMentions = allowedMentions{Parse: []string{}}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	editURL := fmt.Sprintf("%s/messages/%d", strings.SplitN(url, "?", 2)[0], messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, editURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("building webhook edit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.doer.Do(req)
	if err != nil {
		return err
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return faults.Newf(faults.FromHTTPStatus(resp.StatusCode),
			"editing webhook message", "webhook returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

// retryAfter extracts the rate-limit wait from the response, preferring the
// JSON body's retry_after (seconds, possibly fractional) over the header.
func retryAfter(resp *http.Response, body []byte) time.Duration {
	var parsed struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.RetryAfter > 0 {
		return time.Duration(parsed.RetryAfter * float64(time.Second))
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 2 * time.Second
}
