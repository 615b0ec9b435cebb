// Package sink submits activity amounts to the external system of record
// over HTTP. The wire shape is a small JSON envelope; the concrete
// fitness backend sits behind whatever endpoint is configured.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"stepflow/internal/auth"
)

// The submitted bucket ends slightly in the past so the receiving side
// never sees future-dated activity.
const (
	bucketLag  = 30 * time.Second
	bucketSpan = time.Minute
)

type submitRequest struct {
	UserID    string    `json:"userId"`
	Amount    int       `json:"amount"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	now      func() time.Time
}

// New builds a sink client. ratePerSec bounds outgoing submissions across
// all users; zero or negative means one per second.
func New(endpoint string, ratePerSec int) *Client {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		now:      time.Now,
	}
}

// Submit records amount for the credential's user over a one-minute
// bucket ending 30 seconds ago.
func (c *Client) Submit(ctx context.Context, cred auth.Credential, amount int) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	tok, err := cred.Source.Token()
	if err != nil {
		return fmt.Errorf("credential for %s: %w", cred.UserID, err)
	}

	end := c.now().Add(-bucketLag).UTC()
	body, err := json.Marshal(submitRequest{
		UserID:    cred.UserID,
		Amount:    amount,
		StartTime: end.Add(-bucketSpan),
		EndTime:   end,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submit for %s: %w", cred.UserID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sink returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
