package chat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Reply is one assistant answer from the knowledge backend.
type Reply struct {
	Response       string
	Citations      []string
	GenerationTime float64
	ModelUsed      string
	Mode           string
}

// APIError reports a failed backend call. It never reaches the store: the
// caller renders it inline instead of persisting an assistant message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("chat api error: status %d, message: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("chat api error: %s", e.Message)
}

// Responder is what the sync coordinator talks to; *Client and *Mock both
// satisfy it.
type Responder interface {
	Ask(ctx context.Context, message, mode string) (*Reply, error)
	Health(ctx context.Context) error
	Examples(ctx context.Context) ([]string, error)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client

	mock *Mock
}

type chatRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode"`
}

type chatResponse struct {
	Response       string   `json:"response"`
	Citations      []string `json:"citations"`
	GenerationTime float64  `json:"generation_time"`
	ModelUsed      string   `json:"model_used"`
	Mode           string   `json:"mode"`
	Detail         string   `json:"detail,omitempty"`
}

type examplesResponse struct {
	Examples []string `json:"examples"`
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := &http.Client{Timeout: 120 * time.Second}

	// Skip TLS verification if GITA_SKIP_TLS_VERIFY is set (for container environments)
	if os.Getenv("GITA_SKIP_TLS_VERIFY") == "1" || os.Getenv("GITA_SKIP_TLS_VERIFY") == "true" {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	c := &Client{BaseURL: baseURL, HTTP: httpClient}
	if baseURL == "mock://" || strings.HasPrefix(baseURL, "mock://") {
		c.mock = NewMock()
	}
	return c
}

// Ask sends one question and blocks until the backend answers. The backend
// is stateless per request; conversation history lives in the store, not here.
func (c *Client) Ask(ctx context.Context, message, mode string) (*Reply, error) {
	if c.mock != nil {
		return c.mock.Ask(ctx, message, mode)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.New("empty message")
	}

	payload, err := json.Marshal(chatRequest{Message: message, Mode: mode})
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(request)
	if err != nil {
		return nil, &APIError{Message: userFacingNetError(err)}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		_ = json.Unmarshal(bodyBytes, &errResp)
		msg := errResp.Detail
		if msg == "" {
			msg = errResp.Error
		}
		if msg == "" {
			msg = strings.TrimSpace(string(bodyBytes))
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	var body chatResponse
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("invalid response format: %s", string(bodyBytes))}
	}
	if body.Response == "" {
		return nil, &APIError{Status: resp.StatusCode, Message: "empty response from backend"}
	}

	return &Reply{
		Response:       body.Response,
		Citations:      body.Citations,
		GenerationTime: body.GenerationTime,
		ModelUsed:      body.ModelUsed,
		Mode:           body.Mode,
	}, nil
}

// Health probes GET /health. A failure is informational; callers log it and
// keep going.
func (c *Client) Health(ctx context.Context) error {
	if c.mock != nil {
		return c.mock.Health(ctx)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(request)
	if err != nil {
		return &APIError{Message: userFacingNetError(err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

// Examples fetches suggested starter questions for the welcome screen. On any
// failure it falls back to a built-in list rather than returning an error.
func (c *Client) Examples(ctx context.Context) ([]string, error) {
	if c.mock != nil {
		return c.mock.Examples(ctx)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/examples", nil)
	if err != nil {
		return defaultExamples(), nil
	}
	resp, err := c.HTTP.Do(request)
	if err != nil {
		return defaultExamples(), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return defaultExamples(), nil
	}
	var body examplesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || len(body.Examples) == 0 {
		return defaultExamples(), nil
	}
	return body.Examples, nil
}

// userFacingNetError strips the url.Error wrapper so transport failures read
// cleanly in the transcript.
func userFacingNetError(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Sprintf("cannot reach backend: %v", ue.Err)
	}
	return fmt.Sprintf("cannot reach backend: %v", err)
}
