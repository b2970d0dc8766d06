// Package agent implements the deployment manager agent: the polling loop,
// the safe update transaction, and offline artifact application.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/samlabs/depman/internal/models"
)

// APIClient talks to the deployment manager server on behalf of one agent.
// Two HTTP clients back it: a short-timeout one for RPC-style calls and a
// long-timeout one for artifact downloads.
type APIClient struct {
	baseURL  string
	apiKey   string
	rpc      *http.Client
	download *http.Client
}

// NewAPIClient creates an API client for the given server.
func NewAPIClient(serverURL, apiKey string) *APIClient {
	return &APIClient{
		baseURL:  strings.TrimRight(serverURL, "/"),
		apiKey:   apiKey,
		rpc:      &http.Client{Timeout: 30 * time.Second},
		download: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Checkin reports current state and returns the server's directive.
func (c *APIClient) Checkin(ctx context.Context, currentVersion *string, status string) (*models.CheckinResponse, error) {
	req := models.CheckinRequest{
		CurrentVersion: currentVersion,
		Status:         status,
	}
	var resp models.CheckinResponse
	if err := c.post(ctx, "/api/checkin", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportResult reports the outcome of one update attempt.
func (c *APIClient) ReportResult(ctx context.Context, result models.UpdateResultRequest) error {
	var resp models.UpdateResultResponse
	return c.post(ctx, "/api/update-result", result, &resp)
}

// DownloadArtifact fetches an artifact to destPath. The artifactURL comes
// from a check-in response and may be server-relative.
func (c *APIClient) DownloadArtifact(ctx context.Context, artifactURL, destPath string) error {
	full := artifactURL
	if u, err := url.Parse(artifactURL); err == nil && !u.IsAbs() {
		full = c.baseURL + artifactURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.download.Do(req)
	if err != nil {
		return fmt.Errorf("artifact download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("artifact download failed: %s", decodeAPIError(resp))
	}

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(destPath)
		return fmt.Errorf("artifact download interrupted: %w", err)
	}
	return f.Close()
}

func (c *APIClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.rpc.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request to %s failed: %s", path, decodeAPIError(resp))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeAPIError extracts the server's error envelope, falling back to the
// raw status when the body is not one.
func decodeAPIError(resp *http.Response) string {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope); err == nil && envelope.Error.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", resp.Status, envelope.Error.Message, envelope.Error.Code)
	}
	return resp.Status
}
