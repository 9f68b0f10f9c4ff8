package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Dataset states reported by Status.
const (
	StateWaiting    = "WAITING"
	StateRunning    = "RUNNING"
	StateProcessed  = "PROCESSED"
	StateIncomplete = "INCOMPLETE"
	StateInvalid    = "INVALID"
)

// ErrFailed is wrapped by every *APIError.
var ErrFailed = errors.New("georef request failed")

type ClientConfig struct {
	// ServerAddr is the base URL of the georef service, e.g. http://georef:8000.
	ServerAddr string
	// Token is sent as a bearer token when set.
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type JoinRequest struct {
	Layer      int64    `json:"layer"`
	GeoLayer   int64    `json:"geo_layer"`
	LayerPivot string   `json:"layer_pivot"`
	GeoPivot   string   `json:"geo_pivot"`
	Columns    []string `json:"columns"`
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Msg        string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("georef returned %d", e.StatusCode)
	}
	return fmt.Sprintf("georef returned %d: %s", e.StatusCode, e.Msg)
}

func (e *APIError) Unwrap() error { return ErrFailed }

type response struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(config.ServerAddr, "/") + "/api/v1",
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Join asks the service to copy columns from req.GeoLayer into req.Layer.
// A nil error means the join committed and the GeoServer resync is queued.
func (c *Client) Join(ctx context.Context, req JoinRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/georeference/join", req)
	return err
}

// Status returns the dataset state, one of the State constants.
func (c *Client) Status(ctx context.Context, layer int64) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/georeference/status/"+strconv.FormatInt(layer, 10), nil)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Reset queues a new GeoServer resync for the dataset.
func (c *Client) Reset(ctx context.Context, layer int64) error {
	_, err := c.do(ctx, http.MethodPost, "/georeference/reset", map[string]int64{"layer": layer})
	return err
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/diagnostics/ping", nil)
	return err
}

// WaitForState polls Status every interval until the dataset reaches one of
// states and returns it. Without states it waits for PROCESSED, INVALID or
// INCOMPLETE.
func (c *Client) WaitForState(ctx context.Context, layer int64, interval time.Duration, states ...string) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("interval must be greater than 0")
	}
	if len(states) == 0 {
		states = []string{StateProcessed, StateInvalid, StateIncomplete}
	}

	for {
		state, err := c.Status(ctx, layer)
		if err != nil {
			return "", err
		}
		if lo.Contains(states, state) {
			return state, nil
		}
		c.logger.Debug("Waiting for dataset state", "layer", layer, "state", state, "want", states)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return state, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	if resp.StatusCode >= 300 || out.Status == "failed" {
		c.logger.Warn("georef request failed", "method", method, "path", path, "status", resp.StatusCode, "msg", out.Msg)
		return nil, &APIError{StatusCode: resp.StatusCode, Msg: out.Msg}
	}
	return &out, nil
}
