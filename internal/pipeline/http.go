package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// HTTP calls an export service that wraps the export tool. The service
// takes {"mdb","wdb","output"} and answers {"message","output"} on success
// or {"error"} with a non-2xx status.
type HTTP struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTP returns an HTTP pipeline posting to url. A nil client selects
// http.DefaultClient; timeout, when positive, bounds every request.
func NewHTTP(url string, httpClient *http.Client, timeout time.Duration, logger *slog.Logger) *HTTP {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if timeout > 0 {
		c := *httpClient
		c.Timeout = timeout
		httpClient = &c
	}

	return &HTTP{url: url, httpClient: httpClient, logger: logger}
}

type exportRequest struct {
	MsgStore string `json:"mdb"`
	Contacts string `json:"wdb"`
	Output   string `json:"output"`
}

type exportResponse struct {
	Message string `json:"message"`
	Output  string `json:"output"`
	Error   string `json:"error"`
}

// Export posts the request and waits for the service to finish the run.
// The service writes to a filesystem shared with the monitor, so artifacts
// are listed locally afterwards.
func (h *HTTP) Export(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(exportRequest{MsgStore: req.MsgStore, Contacts: req.Contacts, Output: req.OutputDir})
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	h.logger.Info("posting export request", slog.String("url", h.url), slog.String("output", req.OutputDir))

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &Failure{Message: "request failed: " + err.Error(), Err: ErrFailed}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, &Failure{Message: "reading response: " + err.Error(), StatusCode: resp.StatusCode, Err: ErrFailed}
	}

	var decoded exportResponse
	// Error pages are not always JSON; fall back to the raw body.
	if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
		decoded.Error = string(bytes.TrimSpace(raw))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := decoded.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}

		h.logger.Warn("export service rejected request",
			slog.Int("status", resp.StatusCode), slog.String("error", msg))

		return Result{}, &Failure{Message: msg, StatusCode: resp.StatusCode, Err: ErrFailed}
	}

	artifacts, err := listArtifacts(req.OutputDir)
	if err != nil {
		return Result{}, err
	}

	h.logger.Info("export service finished",
		slog.String("message", decoded.Message), slog.Int("artifacts", len(artifacts)))

	return Result{Artifacts: artifacts, Output: decoded.Output}, nil
}

var _ Pipeline = (*HTTP)(nil)
