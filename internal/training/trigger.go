// Package training notifies the external risk model that a user's data
// changed and the model should be retrained.
package training

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Trigger asks the model service to retrain for a user.
type Trigger interface {
	Notify(ctx context.Context, userID uint) error
}

type HTTPTrigger struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTrigger(baseURL string, timeout time.Duration) *HTTPTrigger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTrigger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTrigger) Notify(ctx context.Context, userID uint) error {
	body, err := json.Marshal(map[string]uint{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/train", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send training request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("training service returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// Disabled is used when no training service is configured.
type Disabled struct{}

func (Disabled) Notify(context.Context, uint) error { return nil }
