package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/suspectuso/usdt-tracker/internal/reconcile"
)

// Callback POSTs events to the callback URL given when the payment was created
type Callback struct {
	client *http.Client
}

// NewCallback creates a Callback sink. A zero timeout defaults to 10s.
func NewCallback(timeout time.Duration) *Callback {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Callback{client: &http.Client{Timeout: timeout}}
}

func (c *Callback) Notify(ctx context.Context, ev reconcile.Event) error {
	if ev.CallbackURL == "" {
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ev.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "usdt-tracker")
	req.Header.Set("X-Delivery-ID", uuid.NewString())
	req.Header.Set("X-Event-Type", string(ev.Type))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback %s: %w", ev.CallbackURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback %s: status %d", ev.CallbackURL, resp.StatusCode)
	}
	return nil
}
