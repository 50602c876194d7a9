// Package upstream holds the HTTP plumbing shared by the weather and
// geocoding clients: request execution with a per-call timeout and error
// classification that the retry package understands.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 512

// Kind classifies an upstream failure.
type Kind int

const (
	// Transient failures (network, 5xx, timeout, malformed body) may succeed on retry.
	Transient Kind = iota
	// RateLimited failures carry an optional advisory wait.
	RateLimited
	// Rejected failures are 4xx responses other than 429; retrying will not help.
	Rejected
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Rejected:
		return "rejected"
	default:
		return "transient"
	}
}

// Error describes a failed upstream call.
type Error struct {
	Resource string
	URL      string
	Kind     Kind
	Status   int
	Wait     time.Duration
	Body     string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", e.Resource)
	switch {
	case e.Kind == RateLimited && e.Wait > 0:
		fmt.Fprintf(&b, "rate limited (HTTP %d, retry after %s)", e.Status, e.Wait)
	case e.Kind == RateLimited:
		fmt.Fprintf(&b, "rate limited (HTTP %d)", e.Status)
	case e.Status != 0:
		fmt.Fprintf(&b, "unexpected status %d", e.Status)
	default:
		b.WriteString("request failed")
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// RetryAfter returns the advisory wait for rate-limited responses.
func (e *Error) RetryAfter() time.Duration {
	if e.Kind != RateLimited {
		return 0
	}
	return e.Wait
}

// Retryable reports whether another attempt could succeed.
func (e *Error) Retryable() bool { return e.Kind != Rejected }

// ValidationError reports a response that parsed but lacks what the caller
// needs. It is never retried.
type ValidationError struct {
	Resource string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Resource, e.Field, e.Reason)
}

func (e *ValidationError) Retryable() bool { return false }

// IsRateLimited reports whether err is an upstream rate-limit response.
func IsRateLimited(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Kind == RateLimited
}

// ParseRetryAfter reads a Retry-After header given either as delta seconds or
// an HTTP date. It returns zero when the header is absent or unusable.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Client executes GET requests against one upstream resource.
type Client struct {
	Resource   string
	HTTPClient *http.Client
	Timeout    time.Duration
	Header     http.Header
}

// GetJSON issues a GET to url and decodes a 200 response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &ValidationError{Resource: c.Resource, Field: "url", Reason: err.Error()}
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return &Error{Resource: c.Resource, URL: url, Kind: Transient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classify(c.Resource, url, resp, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Resource: c.Resource, URL: url, Kind: Transient, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func classify(resource, url string, resp *http.Response, body string) *Error {
	e := &Error{Resource: resource, URL: url, Status: resp.StatusCode, Body: body}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = RateLimited
		e.Wait = ParseRetryAfter(resp.Header, time.Now())
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		e.Kind = Transient
	case resp.StatusCode >= 400:
		e.Kind = Rejected
	default:
		e.Kind = Transient
	}
	return e
}
