package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/log"
)

// Notifier posts a digest of each terminal execution to a configured
// webhook. Delivery is best-effort: failures are logged and never affect
// the execution's recorded outcome
type Notifier struct {
	url    string
	client *http.Client
}

const notifyTimeout = 5 * time.Second

// NewNotifier creates a notifier for the given webhook URL. An empty URL
// disables notification
func NewNotifier(url string) *Notifier {
	return &Notifier{
		url: url,
		client: &http.Client{
			Timeout: notifyTimeout,
		},
	}
}

// Notify posts the execution's digest. Safe to call with notifications
// disabled
func (n *Notifier) Notify(x *api.Execution) {
	if n.url == "" {
		return
	}

	body, err := json.Marshal(x.Digest())
	if err != nil {
		slog.Error("Failed to encode notification",
			log.ExecutionID(x.ID),
			log.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, n.url, bytes.NewReader(body),
	)
	if err != nil {
		slog.Error("Failed to build notification request",
			log.ExecutionID(x.ID),
			log.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		slog.Warn("Notification delivery failed",
			log.ExecutionID(x.ID),
			log.Error(err))
		return
	}
	_ = res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		slog.Warn("Notification rejected",
			log.ExecutionID(x.ID),
			slog.Int("status", res.StatusCode))
	}
}
