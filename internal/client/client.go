// Package client talks to the remote conversion service: it uploads a
// presentation and reads back the status of the resulting job.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/deckconvert/constants"
)

// APIError is returned when the service responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string // server-provided "error" field, may be empty
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("conversion api %d", e.StatusCode)
	}
	return fmt.Sprintf("conversion api %d: %s", e.StatusCode, e.Message)
}

// ErrMalformedResponse marks a body that could not be decoded or failed the schema.
var ErrMalformedResponse = errors.New("malformed response")

// StatusResponse is the body of GET /status/{jobId}.
type StatusResponse struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

type uploadResponse struct {
	JobID string `json:"jobId"`
	Error string `json:"error,omitempty"`
}

// Client is a typed client for the conversion service API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// Upload posts the presentation as multipart field "file" to /convert and
// returns the job identifier assigned by the service. It makes a single attempt.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", constants.PresentationMIME)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/convert", &body, mw.FormDataContentType())
	if err != nil {
		return "", err
	}

	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode upload response: %v", ErrMalformedResponse, err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("%w: upload response missing jobId", ErrMalformedResponse)
	}
	return out.JobID, nil
}

// Status fetches the current status of a conversion job. The body is checked
// against the status schema before it is decoded.
func (c *Client) Status(ctx context.Context, jobID string) (StatusResponse, error) {
	raw, err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(jobID), nil, "")
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || len(raw) == 0 {
			return StatusResponse{}, err
		}
		// Non-2xx bodies are still status documents; the caller decides.
	}

	if err := validateStatus(raw); err != nil {
		return StatusResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var out StatusResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return StatusResponse{}, fmt.Errorf("%w: decode status: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

// do sends one request and returns the raw body. Non-2xx responses come back as
// *APIError alongside the body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		c.logger.Error("client.http.build_request_error", "req_id", reqID, "error", err)
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.Debug("client.http.request", "req_id", reqID, "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("client.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("client.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("client.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return raw, apiErr
	}
	return raw, nil
}

// UploadErrorMessage renders an Upload failure as the single line the wizard
// shows: the server's "error" field when it sent one, the generic fallback otherwise.
func UploadErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return constants.MsgUploadFailed
}
