package syncq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrRejected marks a write the remote refused outright. It is not retried.
var ErrRejected = errors.New("remote rejected change")

// Remote accepts one change at a time.
type Remote interface {
	Push(ctx context.Context, e *Entry) error
}

// HTTPRemote posts entries to {baseURL}/changes.
type HTTPRemote struct {
	endpoint string
	client   *http.Client
	token    string
}

func NewHTTPRemote(baseURL, token string) *HTTPRemote {
	return &HTTPRemote{
		endpoint: strings.TrimRight(baseURL, "/") + "/changes",
		client:   &http.Client{Timeout: 10 * time.Second},
		token:    token,
	}
}

type pushBody struct {
	ID      string          `json:"id"`
	Key     string          `json:"key"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

func (r *HTTPRemote) Push(ctx context.Context, e *Entry) error {
	body, err := json.Marshal(pushBody{ID: e.ID, Key: e.Key, Op: e.Op, Payload: e.Payload, At: e.CreatedAt})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", e.ID)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("http status %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: http status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
}
