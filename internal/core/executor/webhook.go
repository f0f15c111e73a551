package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/core"
)

// Action names sent in webhook payloads.
const (
	ActionPerform    = "perform"
	ActionSubstitute = "substitute"
)

// maxResponseBody bounds how much of a webhook reply is read.
const maxResponseBody = 64 << 10

// Webhook performs actions by POSTing the target as JSON. A 2xx reply is a
// success unless its body is an outcome object saying otherwise; 429 is a
// rate limit signal; anything else is a failure.
type Webhook struct {
	URL           string
	SubstituteURL string
	Headers       map[string]string
	Client        *http.Client
	Logger        *zap.Logger
	Clock         func() time.Time
}

// Payload is the request body.
type Payload struct {
	Action string      `json:"action"`
	Target core.Target `json:"target"`
	SentAt time.Time   `json:"sent_at"`
}

// Perform posts the target to URL.
func (w *Webhook) Perform(ctx context.Context, target core.Target) (core.Outcome, error) {
	resp, err := w.post(ctx, w.URL, ActionPerform, target)
	if err != nil {
		return core.Outcome{ErrorKind: "network", Detail: err.Error()}, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait, raw := retryAfterHeader(resp, w.now())
		w.logger().Warn("webhook rate limited",
			zap.String("target_id", target.ID),
			zap.Duration("retry_after", wait),
			zap.String("retry_after_raw", raw))
		return core.Outcome{
			RateLimited: true,
			RetryAfter:  wait,
			ErrorKind:   "rate_limited",
			Detail:      "HTTP 429",
		}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decodeOutcome(body), nil
	default:
		return core.Outcome{
			ErrorKind: "http_" + strconv.Itoa(resp.StatusCode),
			Detail:    http.StatusText(resp.StatusCode),
		}, nil
	}
}

// Substitute posts the target to SubstituteURL. It is a no-op when no
// substitute endpoint is configured.
func (w *Webhook) Substitute(ctx context.Context, target core.Target) error {
	if w.SubstituteURL == "" {
		return nil
	}
	resp, err := w.post(ctx, w.SubstituteURL, ActionSubstitute, target)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("substitute webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, url, action string, target core.Target) (*http.Response, error) {
	payload, err := json.Marshal(Payload{Action: action, Target: target, SentAt: w.now()})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range w.Headers {
		req.Header.Set(key, value)
	}

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return client.Do(req)
}

// decodeOutcome reads an optional outcome object from a 2xx body. An empty
// or non-object body is a plain success.
func decodeOutcome(body []byte) core.Outcome {
	var reply struct {
		Success     *bool  `json:"success"`
		RateLimited bool   `json:"rate_limited"`
		RetryAfter  string `json:"retry_after"`
		ErrorKind   string `json:"error_kind"`
		Detail      string `json:"detail"`
	}
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &reply) != nil || reply.Success == nil {
		return core.Outcome{Success: true}
	}

	outcome := core.Outcome{
		Success:     *reply.Success,
		RateLimited: reply.RateLimited,
		ErrorKind:   reply.ErrorKind,
		Detail:      reply.Detail,
	}
	if d, err := time.ParseDuration(reply.RetryAfter); err == nil {
		outcome.RetryAfter = d
	}
	if outcome.RateLimited && outcome.ErrorKind == "" {
		outcome.ErrorKind = "rate_limited"
	}
	return outcome
}

func retryAfterHeader(resp *http.Response, now time.Time) (time.Duration, string) {
	if resp == nil || resp.Header == nil {
		return 0, ""
	}

	retry := resp.Header.Get("Retry-After")
	if retry == "" {
		return 0, ""
	}

	if seconds, err := time.ParseDuration(retry + "s"); err == nil {
		return seconds, retry
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		return max(parsed.Sub(now), 0), retry
	}

	return 0, retry
}

func (w *Webhook) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now().UTC()
}

func (w *Webhook) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}
