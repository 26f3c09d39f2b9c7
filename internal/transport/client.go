package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mzoughi/stockpulse/internal/protocol"
)

const (
	initPath    = "/analyze-portfolio-stream-init"
	streamPath  = "/stream/"
	sessionPath = "/sessions/"
	healthPath  = "/health"
)

// Client is the HTTP client for the analysis service's init, stream and
// status endpoints. Unary calls carry a short timeout; the stream request
// runs untimed and is torn down through its context.
type Client struct {
	baseURL      string
	unaryClient  *http.Client
	streamClient *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		unaryClient:  &http.Client{Timeout: 15 * time.Second},
		streamClient: &http.Client{}, // lifetime governed by the request context
	}
}

// Init submits the analysis request and returns the session handle the
// stream and status endpoints are keyed by.
func (c *Client) Init(ctx context.Context, req protocol.AnalysisRequest) (protocol.InitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return protocol.InitResponse{}, fmt.Errorf("marshal analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+initPath, bytes.NewReader(body))
	if err != nil {
		return protocol.InitResponse{}, WrapError(err, KindConnection, 0)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.unaryClient.Do(httpReq)
	if err != nil {
		return protocol.InitResponse{}, WrapError(fmt.Errorf("init analysis: %w", err), KindConnection, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return protocol.InitResponse{}, c.statusError("init analysis", resp)
	}

	var out protocol.InitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return protocol.InitResponse{}, WrapError(fmt.Errorf("decode init response: %w", err), KindParse, resp.StatusCode)
	}
	if out.SessionID == "" {
		return protocol.InitResponse{}, WrapError(fmt.Errorf("init response missing session_id"), KindSession, resp.StatusCode)
	}
	return out, nil
}

// Status fetches the current session state; used by the polling driver.
func (c *Client) Status(ctx context.Context, sessionID string) (protocol.StatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+sessionPath+sessionID, nil)
	if err != nil {
		return protocol.StatusResponse{}, WrapError(err, KindConnection, 0)
	}

	resp, err := c.unaryClient.Do(httpReq)
	if err != nil {
		return protocol.StatusResponse{}, WrapError(fmt.Errorf("fetch status: %w", err), KindConnection, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return protocol.StatusResponse{}, c.statusError("fetch status", resp)
	}

	var out protocol.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return protocol.StatusResponse{}, WrapError(fmt.Errorf("decode status response: %w", err), KindParse, resp.StatusCode)
	}
	return out, nil
}

// OpenStream starts the long-lived event stream for a session. The caller
// owns the returned body and must close it; cancelling ctx aborts any
// pending read.
func (c *Client) OpenStream(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+streamPath+sessionID, nil)
	if err != nil {
		return nil, WrapError(err, KindConnection, 0)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, WrapError(fmt.Errorf("open stream: %w", err), KindConnection, 0)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError("open stream", resp)
	}
	return resp.Body, nil
}

// Health probes the service's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return WrapError(err, KindConnection, 0)
	}
	resp, err := c.unaryClient.Do(httpReq)
	if err != nil {
		return WrapError(fmt.Errorf("health check: %w", err), KindConnection, 0)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.statusError("health check", resp)
	}
	return nil
}

func (c *Client) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	kind := KindConnection
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		kind = KindSession
	}
	return WrapError(
		fmt.Errorf("%s: service returned %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body))),
		kind, resp.StatusCode,
	)
}
