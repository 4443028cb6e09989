package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// BatchTrigger pokes the notification batch processor. The processor scans
// for matches with notification_sent = false itself, so the request carries
// no payload beyond authentication.
type BatchTrigger struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewBatchTrigger(endpoint, key string, timeout time.Duration) *BatchTrigger {
	return &BatchTrigger{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: timeout}}
}

func (b *BatchTrigger) Trigger(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.Key != "" {
		req.Header.Set("Authorization", "Bearer "+b.Key)
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return fmt.Errorf("batch trigger: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("batch trigger: http %d", resp.StatusCode)
	}
	return nil
}
