package agentproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client is the worker-side HTTP client for remote/agent mode, where the
// worker process has no direct database connection and instead reports
// through the store's HTTP surface (spec §6).
type Client struct {
	baseURL string
	worker  string
	http    *http.Client
}

// NewClient creates a Client targeting the store's base URL.
func NewClient(baseURL, worker string) *Client {
	return &Client{
		baseURL: baseURL,
		worker:  worker,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// UpdatePing sends one ping of the given type.
func (c *Client) UpdatePing(ctx context.Context, req UpdatePingRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal update_ping request: %w", err)
	}

	url := fmt.Sprintf("%s/agent_workers/update_ping?worker=%s", c.baseURL, c.worker)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build update_ping request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("update_ping request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("update_ping returned unexpected status %d", resp.StatusCode)
	}
	return nil
}

// PingJobStatus reports an in-flight job's memory sample and returns
// whether the store wants it canceled.
func (c *Client) PingJobStatus(ctx context.Context, jobID uuid.UUID, req PingJobStatusRequest) (*PingJobStatusResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ping_job_status request: %w", err)
	}

	url := fmt.Sprintf("%s/agent_workers/ping_job_status/%s", c.baseURL, jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ping_job_status request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ping_job_status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ping_job_status returned unexpected status %d", resp.StatusCode)
	}

	var out PingJobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode ping_job_status response: %w", err)
	}
	return &out, nil
}
