// Package scanx is the HTTP client for the AI scan service, which analyzes
// vehicle photos to detect parts, modifications and VINs. Requests are not
// retried here; the job layer owns retry policy.
package scanx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/partline/partline/pkg/logx"
)

const (
	// DefaultTimeout bounds one scan round trip. Image analysis is slow.
	DefaultTimeout = 90 * time.Second

	notifyTimeout = 30 * time.Second
)

// Client talks to the scan service and reports outcomes to the backend API.
type Client struct {
	baseURL    string
	backendURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a scan service client. A nil httpClient gets a default
// with DefaultTimeout.
func NewClient(baseURL, backendURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:    baseURL,
		backendURL: backendURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// ProcessScan submits the scan to the service and returns its response.
func (c *Client) ProcessScan(ctx context.Context, req ScanRequest) (*ScanResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, c.baseURL+"/api/v1/process-scan", req)
	if err != nil {
		return nil, err
	}

	var resp ScanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, scanxErrors.NewWithCause(ErrDecodeResponse, err).
			WithDetail("scan_id", req.ScanID)
	}
	if resp.Status == ScanStatusFailed {
		return nil, scanxErrors.New(ErrRequestFailed).
			WithDetail("scan_id", req.ScanID).
			WithDetail("message", resp.Message)
	}
	return &resp, nil
}

// NotifyScanComplete posts the scan result to the backend API. Failures are
// logged and swallowed; a notification must never fail the scan itself.
func (c *Client) NotifyScanComplete(ctx context.Context, scanID string, result *ScanResult) {
	url := fmt.Sprintf("%s/api/v1/scans/%s/results", c.backendURL, scanID)
	if err := c.notify(ctx, url, result); err != nil {
		logx.WithError(err).WithField("scan_id", scanID).
			Warn("failed to notify backend of scan completion")
	}
}

// NotifyScanFailed tells the backend API that the scan failed. Best effort,
// like NotifyScanComplete.
func (c *Client) NotifyScanFailed(ctx context.Context, scanID, reason string) {
	url := fmt.Sprintf("%s/api/v1/scans/%s/status", c.backendURL, scanID)
	payload := map[string]string{
		"status":        string(ScanStatusFailed),
		"error_message": reason,
	}
	if err := c.notify(ctx, url, payload); err != nil {
		logx.WithError(err).WithField("scan_id", scanID).
			Warn("failed to notify backend of scan failure")
	}
}

func (c *Client) notify(ctx context.Context, url string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	_, err := c.post(ctx, url, payload)
	return err
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, scanxErrors.NewWithCause(ErrInvalidRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, scanxErrors.NewWithCause(ErrRequestFailed, err).WithDetail("url", url)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, scanxErrors.NewWithCause(ErrRequestFailed, err).WithDetail("url", url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, scanxErrors.NewWithCause(ErrRequestFailed, err).WithDetail("url", url)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, scanxErrors.New(ErrUnexpectedStatus).
			WithDetail("url", url).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", truncate(string(body), 512))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
