package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/focusguard/internal/coordinator"
	"github.com/goodtune/focusguard/internal/focus"
	"github.com/goodtune/focusguard/internal/storage"
)

// APIError is an error response returned by the control server.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return e.Message
}

// Client talks to a running control server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at addr (host:port or URL).
func NewClient(addr string) *Client {
	base := strings.TrimSuffix(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) StartSession(ctx context.Context, tier string) (focus.Session, error) {
	var out focus.Session
	err := c.do(ctx, http.MethodPost, "/v1/session", StartSessionRequest{Tier: tier}, &out)
	return out, err
}

func (c *Client) StopSession(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/session", nil, nil)
}

// StartBreak starts a break; duration is a preset name or a Go duration.
func (c *Client) StartBreak(ctx context.Context, duration string) (focus.Break, error) {
	var out focus.Break
	err := c.do(ctx, http.MethodPost, "/v1/break", StartBreakRequest{Duration: duration}, &out)
	return out, err
}

func (c *Client) EndBreak(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/break", nil, nil)
}

func (c *Client) BreakPresets(ctx context.Context) ([]coordinator.Preset, error) {
	var out PresetsResponse
	err := c.do(ctx, http.MethodGet, "/v1/break/presets", nil, &out)
	return out.Presets, err
}

func (c *Client) RequestEmergencyPass(ctx context.Context) (focus.PassResult, error) {
	var out focus.PassResult
	err := c.do(ctx, http.MethodPost, "/v1/emergency", nil, &out)
	return out, err
}

func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/refresh", nil, nil)
}

func (c *Client) Status(ctx context.Context) (focus.Status, error) {
	var out focus.Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context, days int) (coordinator.Summary, error) {
	var out coordinator.Summary
	q := url.Values{}
	q.Set("days", strconv.Itoa(days))
	err := c.do(ctx, http.MethodGet, "/v1/stats?"+q.Encode(), nil, &out)
	return out, err
}

func (c *Client) Selection(ctx context.Context) (storage.Selection, error) {
	var out storage.Selection
	err := c.do(ctx, http.MethodGet, "/v1/selection", nil, &out)
	return out, err
}

func (c *Client) SetSelection(ctx context.Context, apps, sites []string) (storage.Selection, error) {
	var out storage.Selection
	err := c.do(ctx, http.MethodPut, "/v1/selection", SelectionRequest{Apps: apps, Sites: sites}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach focusguard at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return &APIError{Code: resp.StatusCode}
		}
		return &APIError{Code: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
