// Package stratbench is a Go client for the stratbench HTTP API.
package stratbench

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

	"stratbench/internal/api"
)

// Request and response bodies are shared with the server.
type (
	CompareRequest   = api.CompareRequest
	CompareResponse  = api.CompareResponse
	OptimizeRequest  = api.OptimizeRequest
	OptimizeResponse = api.OptimizeResponse
	StrategyInfo     = api.StrategyInfo
	RunView          = api.RunView
)

// Error is a non-2xx response from the server.
type Error struct {
	Status  int
	Message string
	Fields  []api.ValidationError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("stratbench: %d: %s", e.Status, e.Message)
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return fmt.Sprintf("stratbench: %d: %s: %s", e.Status, e.Message, strings.Join(msgs, "; "))
}

// Client provides a Go SDK for interacting with a stratbench server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new stratbench API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Strategies lists the strategies the server knows.
func (c *Client) Strategies(ctx context.Context) ([]StrategyInfo, error) {
	var out []StrategyInfo
	return out, c.do(ctx, http.MethodGet, "/api/strategies", nil, &out)
}

// Compare runs a comparison.
func (c *Client) Compare(ctx context.Context, req *CompareRequest) (*CompareResponse, error) {
	var out CompareResponse
	if err := c.do(ctx, http.MethodPost, "/api/compare", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Optimize runs a parameter sweep.
func (c *Client) Optimize(ctx context.Context, req *OptimizeRequest) (*OptimizeResponse, error) {
	var out OptimizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/optimize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Runs lists saved runs, newest first. An empty strategy matches all.
func (c *Client) Runs(ctx context.Context, strategy string, limit int) ([]RunView, error) {
	q := url.Values{}
	if strategy != "" {
		q.Set("strategy", strategy)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []RunView
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// Run fetches one saved run with its trades.
func (c *Client) Run(ctx context.Context, id int64) (*RunView, error) {
	var out RunView
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error  string                `json:"error"`
			Errors []api.ValidationError `json:"errors"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: e.Error, Fields: e.Errors}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
