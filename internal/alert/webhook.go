package alert

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

// retryBackoff is multiplied by the attempt number between retries.
var retryBackoff = time.Second

var httpClient = &http.Client{Timeout: requestTimeout}

// errRejected marks responses that retrying cannot fix.
var errRejected = errors.New("webhook rejected")

// Send posts an alert event to a webhook endpoint. Transport errors and
// 5xx responses are retried with linear backoff; 4xx responses are not.
func Send(ctx context.Context, cfg Config, event Event) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return errors.Wrap(err, "format payload")
	}

	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			t := time.NewTimer(time.Duration(attempt) * retryBackoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return errors.Wrap(ctx.Err(), "webhook cancelled")
			}
		}
		lastErr = post(ctx, cfg, event, body)
		if lastErr == nil || errors.Is(lastErr, errRejected) {
			return lastErr
		}
	}
	return errors.Wrapf(lastErr, "webhook failed after %d attempts", maxRetries)
}

// post makes one delivery attempt.
func post(ctx context.Context, cfg Config, event Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Mark(errors.Wrap(err, "create request"), errRejected)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actiongate-Event", event.Kind)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errors.Mark(errors.Newf("webhook rejected: HTTP %d", resp.StatusCode), errRejected)
	}
	return errors.Newf("webhook server error: HTTP %d", resp.StatusCode)
}
