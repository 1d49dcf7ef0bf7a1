package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultRequestTimeout bounds one webhook POST.
	DefaultRequestTimeout = 10 * time.Second

	// maxResponseBody caps how much of a response is read for retry_after.
	maxResponseBody = 64 * 1024
)

// Response is the part of a webhook answer the worker acts on.
type Response struct {
	StatusCode int

	// RetryAfter is the wait requested by a 429, from the Retry-After
	// header or the JSON retry_after field. Zero when neither is present.
	RetryAfter time.Duration
}

// Success reports whether the webhook accepted the message.
func (r *Response) Success() bool {
	return r.StatusCode == http.StatusOK || r.StatusCode == http.StatusNoContent
}

// Client posts JSON messages to a Discord-compatible webhook.
type Client struct {
	webhookURL string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for webhook requests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// NewClient creates a webhook client.
func NewClient(webhookURL string, opts ...ClientOption) *Client {
	c := &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post sends payload as JSON. Transport failures are returned as errors;
// any HTTP answer, including 4xx and 5xx, is returned as a Response.
func (c *Client) Post(ctx context.Context, payload any) (*Response, error) {
	if c.webhookURL == "" {
		return nil, ErrNoWebhook
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody)) //nolint:errcheck // body is advisory

	out := &Response{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests {
		out.RetryAfter = retryAfter(resp.Header.Get("Retry-After"), data)
	}
	return out, nil
}

// SendNotice posts a plain-text message with a single attempt.
func (c *Client) SendNotice(ctx context.Context, content string) error {
	resp, err := c.Post(ctx, map[string]string{"content": content})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// retryAfter reads the wait from the header first, then from the JSON body.
func retryAfter(header string, body []byte) time.Duration {
	if header = strings.TrimSpace(header); header != "" {
		if secs, err := strconv.ParseFloat(header, 64); err == nil && secs >= 0 {
			return seconds(secs)
		}
	}

	var b struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &b); err == nil && b.RetryAfter != nil && *b.RetryAfter >= 0 {
		return seconds(*b.RetryAfter)
	}
	return 0
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
