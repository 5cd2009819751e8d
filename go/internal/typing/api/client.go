package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
)

// StatusError is returned for non-2xx responses. Message carries the
// server's {"error"} text when there is one.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status code: %d, response: %s", e.StatusCode, e.Message)
}

// Client calls the issuance endpoints.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// CreateRoom asks the server for a fresh room code and teacher ticket.
func (c *Client) CreateRoom(ctx context.Context) (*CreateRoomResponse, error) {
	var out CreateRoomResponse
	if err := c.do(ctx, http.MethodPost, "/api/typing/rooms", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestToken exchanges req for a capability token.
func (c *Client) RequestToken(ctx context.Context, req TokenRequest) (*realtime.TokenDetails, error) {
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/realtime/token", req, &out); err != nil {
		return nil, err
	}
	return &out.TokenRequest, nil
}

// TokenSource returns a realtime.TokenSource that requests a new token
// with req every time one is needed.
func (c *Client) TokenSource(req TokenRequest) realtime.TokenSource {
	return tokenSource{client: c, req: req}
}

type tokenSource struct {
	client *Client
	req    TokenRequest
}

func (s tokenSource) Token(ctx context.Context) (string, error) {
	details, err := s.client.RequestToken(ctx, s.req)
	if err != nil {
		return "", err
	}
	return details.Token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: string(responseBody)}
		var e errorResponse
		if json.Unmarshal(responseBody, &e) == nil && e.Error != "" {
			statusErr.Message = e.Error
		}
		return statusErr
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
