// Package backend is the typed client for the Wayne Secure System REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the backend address used by the console in development.
const DefaultBaseURL = "http://localhost:8000"

const maxBodyBytes = 8 << 20

// Client issues authenticated requests against a fixed base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient constructs a new client.
func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response is a successful (status < 400) backend answer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Do sends a request. url.Values bodies are form-encoded, other bodies JSON-encoded.
// Every failure is returned as *Error.
func (c *Client) Do(ctx context.Context, method, path string, body any, token string) (*Response, error) {
	var (
		reader      io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case url.Values:
		reader = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: "request body is not encodable", Err: err}
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, transportError(err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, payload)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}

// envelope is the {success, message, data} wrapper used by most endpoints.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// DecodeData unmarshals the envelope's data field into out. Bodies without an
// envelope are decoded whole.
func (r *Response) DecodeData(out any) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(r.Body, &env); err == nil && len(env.Data) > 0 {
		if bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Kind: KindServer, Status: r.Status, Message: "unexpected response shape", Data: r.Body, Err: err}
		}
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &Error{Kind: KindServer, Status: r.Status, Message: "unexpected response shape", Data: r.Body, Err: err}
	}
	return nil
}

// Message returns the envelope message, if any.
func (r *Response) Message() string {
	var env envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return ""
	}
	return env.Message
}

func (c *Client) getData(ctx context.Context, path, token string, out any) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil, token)
	if err != nil {
		return err
	}
	return resp.DecodeData(out)
}

func (c *Client) sendData(ctx context.Context, method, path string, body any, token string, out any) error {
	resp, err := c.Do(ctx, method, path, body, token)
	if err != nil {
		return err
	}
	return resp.DecodeData(out)
}
