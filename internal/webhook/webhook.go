// Package webhook posts download lifecycle events to configured endpoints
// so external automation (media library scanners, notification bots) can
// react to finished downloads.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/pkg/models"
)

// Event names delivered to endpoints.
const (
	EventDownloadStarted   = "download.started"
	EventDownloadCompleted = "download.completed"
	EventDownloadFailed    = "download.failed"
)

// Payload is the JSON body of every delivery.
type Payload struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Notifier delivers events to a fixed endpoint list. Delivery is
// best-effort: failures are logged and retried a bounded number of times,
// never surfaced to the download pipeline.
type Notifier struct {
	client    *http.Client
	endpoints []string
	secret    string
	retries   int
	logger    *logging.Logger
}

// NewNotifier creates a notifier for the given endpoints. An empty
// endpoint list yields a notifier whose Notify is a no-op.
func NewNotifier(endpoints []string, secret string, logger *logging.Logger) *Notifier {
	return &Notifier{
		client:    &http.Client{Timeout: 30 * time.Second},
		endpoints: endpoints,
		secret:    secret,
		retries:   2,
		logger:    logger,
	}
}

// Notify posts the event to every endpoint.
func (n *Notifier) Notify(ctx context.Context, event string, data interface{}) {
	if len(n.endpoints) == 0 {
		return
	}

	payload := Payload{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: time.Now(),
		Data:      data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.WithError(err).Error("failed to marshal webhook payload")
		return
	}

	for _, endpoint := range n.endpoints {
		if err := n.deliver(ctx, endpoint, payload.ID, event, body); err != nil {
			n.logger.WithError(err).WithField("endpoint", endpoint).
				Warn("webhook delivery failed")
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, endpoint, deliveryID, event string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "streamvault-webhook/1.0")
		req.Header.Set("X-Webhook-Event", event)
		req.Header.Set("X-Webhook-Delivery", deliveryID)
		if n.secret != "" {
			req.Header.Set("X-Webhook-Signature", Signature(body, n.secret))
		}

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return lastErr
}

// Signature computes the HMAC-SHA256 signature header value for a payload.
func Signature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// NotifyDownloadStarted reports a download entering the pipeline.
func (n *Notifier) NotifyDownloadStarted(ctx context.Context, download *models.Download) {
	n.Notify(ctx, EventDownloadStarted, download)
}

// NotifyDownloadCompleted reports a finished download.
func (n *Notifier) NotifyDownloadCompleted(ctx context.Context, download *models.Download) {
	n.Notify(ctx, EventDownloadCompleted, download)
}

// NotifyDownloadFailed reports a permanently failed download.
func (n *Notifier) NotifyDownloadFailed(ctx context.Context, download *models.Download) {
	n.Notify(ctx, EventDownloadFailed, download)
}
