package kling

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

	"github.com/Staritsin/photo-live/internal/config"
)

const modelPath = "/fal-ai/kling-video/v2.5-turbo/pro/image-to-video"

// Client submits image-to-video jobs to the fal.ai queue API and polls them
// to completion. The ledger charge happens only after Animate returns
// successfully, never before.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

type AnimateOptions struct {
	ImageURL string
	Prompt   string
	Duration int // seconds
}

type Video struct {
	URL string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		apiKey:  cfg.FalKey,
		baseURL: strings.TrimRight(cfg.KlingBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Animate runs the full job: submit, poll until the queue reports it done,
// fetch the result.
func (c *Client) Animate(ctx context.Context, opts AnimateOptions) (*Video, error) {
	if opts.ImageURL == "" {
		return nil, fmt.Errorf("image url cannot be empty")
	}
	if opts.Duration <= 0 {
		opts.Duration = 5
	}

	statusURL, responseURL, err := c.submit(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	if err := c.waitCompleted(ctx, statusURL); err != nil {
		return nil, err
	}
	return c.fetchResult(ctx, responseURL)
}

func (c *Client) submit(ctx context.Context, opts AnimateOptions) (statusURL, responseURL string, err error) {
	payload := map[string]any{
		"image_url": opts.ImageURL,
		"duration":  fmt.Sprintf("%d", opts.Duration),
	}
	if opts.Prompt != "" {
		payload["prompt"] = opts.Prompt
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+modelPath, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("post fal queue: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("fal submit failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return "", "", fmt.Errorf("fal error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var queued struct {
		RequestID   string `json:"request_id"`
		StatusURL   string `json:"status_url"`
		ResponseURL string `json:"response_url"`
	}
	if err := json.Unmarshal(rawBody, &queued); err != nil {
		return "", "", fmt.Errorf("decode queue response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if queued.StatusURL == "" || queued.ResponseURL == "" {
		return "", "", fmt.Errorf("queue response missing urls (body=%s)", truncateBody(rawBody))
	}

	c.log.Info("kling job queued", "request_id", queued.RequestID)
	return queued.StatusURL, queued.ResponseURL, nil
}

func (c *Client) waitCompleted(ctx context.Context, statusURL string) error {
	maxAttempts := 90
	pollInterval := 2 * time.Second

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var status struct {
			Status string `json:"status"`
		}
		if err := c.getJSON(ctx, statusURL, &status); err != nil {
			return err
		}

		switch status.Status {
		case "COMPLETED":
			return nil
		case "IN_QUEUE", "IN_PROGRESS":
			if attempt%10 == 0 {
				c.log.Info("kling job waiting", "attempt", attempt+1, "max_attempts", maxAttempts)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		default:
			return fmt.Errorf("unknown job status: %s", status.Status)
		}
	}
	return fmt.Errorf("job timeout after %d attempts", maxAttempts)
}

func (c *Client) fetchResult(ctx context.Context, responseURL string) (*Video, error) {
	var result struct {
		Video struct {
			URL string `json:"url"`
		} `json:"video"`
		Detail any `json:"detail"`
	}
	if err := c.getJSON(ctx, responseURL, &result); err != nil {
		return nil, err
	}
	if result.Video.URL == "" {
		return nil, fmt.Errorf("job finished without video url (detail=%v)", result.Detail)
	}
	return &Video{URL: result.Video.URL}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("fal request failed", "status", resp.StatusCode, "url", url, "body", truncateBody(rawBody))
		return fmt.Errorf("fal error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
