package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kalambet/firewatch/internal/config"
)

// apiClient talks to a running firewatch server on loopback.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// newAPIClient is replaced in tests.
var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	// refresh --wait holds the request for a whole run.
	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// apiError is a non-2xx answer. Type and Message come from the server's
// {"error": {...}} envelope when it sent one.
type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) send(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firewatch server not reachable at %s (try `firewatch start`): %w", c.baseURL, err)
	}
	return resp, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.send(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, out any) error {
	resp, err := c.send(ctx, http.MethodPost, path)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

// decodeJSON closes resp.Body. Status codes of 400 and above become an
// *apiError.
func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 400 {
		return json.NewDecoder(resp.Body).Decode(out)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &apiError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	switch {
	case json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "":
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	case len(body) > 0:
		apiErr.Message = string(body)
	}
	return apiErr
}
