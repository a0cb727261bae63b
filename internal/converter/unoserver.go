package converter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Unoserver posts documents to an unoserver HTTP endpoint.
type Unoserver struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewUnoserver(baseURL string, timeout time.Duration, logger *slog.Logger) *Unoserver {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Unoserver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (u *Unoserver) Name() string { return "unoserver" }

// Convert sends the file as multipart field "file" with convert-to=pdf to /request.
func (u *Unoserver) Convert(ctx context.Context, filename string, r io.Reader) ([]byte, error) {
	reqID := uuid.New().String()
	start := time.Now()
	log := withJob(ctx, u.logger)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if err := mw.WriteField("convert-to", "pdf"); err != nil {
		return nil, fmt.Errorf("write field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/request", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Request-ID", reqID)

	log.Debug("converter.unoserver.request", "req_id", reqID, "file", filename, "bytes", body.Len())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		log.Error("converter.unoserver.send_error", "req_id", reqID, "error", err)
		return nil, fmt.Errorf("unoserver request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read unoserver response: %w", err)
	}
	log.Debug("converter.unoserver.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("unoserver returned %d: %s", resp.StatusCode, truncate(string(out), 512))
	}
	if err := checkPDF(out); err != nil {
		return nil, err
	}
	return out, nil
}
