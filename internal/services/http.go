// Package services contains the HTTP clients the device service calls: the
// Kiosk Data Service (status reporting) and Bluefin (reader activation).
//
// Every call returns a StandardResponse. Transport failures are folded into
// a failed StandardResponse instead of surfacing as errors, so callers only
// ever inspect Success and StatusCode.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a collaborator call when none is configured.
const DefaultTimeout = 5 * time.Second

// Error is one error reported in a StandardResponse.
type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// StandardResponse is the common response envelope of collaborator APIs.
type StandardResponse struct {
	Success    bool    `json:"success"`
	StatusCode int     `json:"statusCode"`
	Errors     []Error `json:"errors,omitempty"`
}

// FailedResponse wraps err as an unsuccessful response.
func FailedResponse(err error) *StandardResponse {
	return &StandardResponse{
		Success:    false,
		StatusCode: http.StatusInternalServerError,
		Errors:     []Error{{Code: "EXCEPTION", Message: err.Error()}},
	}
}

// OK reports a successful call with HTTP 200.
func (r *StandardResponse) OK() bool {
	return r != nil && r.Success && r.StatusCode == http.StatusOK
}

// Header is one request header.
type Header struct {
	Key   string
	Value string
}

// HTTPService builds and sends JSON requests.
type HTTPService struct {
	client *http.Client
	log    *logrus.Entry
}

// NewHTTPService creates an HTTPService. A nil client uses a fresh
// http.Client; per-request timeouts are applied through the context.
func NewHTTPService(client *http.Client, log *logrus.Entry) *HTTPService {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &HTTPService{client: client, log: log.WithField("component", "http")}
}

// GenerateRequest builds a JSON request for baseURL/endpoint.
func (h *HTTPService) GenerateRequest(ctx context.Context, endpoint string, body any, method, baseURL string, headers []Header) (*http.Request, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL not configured for %s", endpoint)
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", endpoint, err)
		}
		payload = bytes.NewReader(data)
	}

	url := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}

	req.Header.Set("Content-Type", "application/json")
	for _, hd := range headers {
		req.Header.Set(hd.Key, hd.Value)
	}
	return req, nil
}

// SendRequest sends req within timeout and decodes the StandardResponse.
// It never returns nil.
func (h *HTTPService) SendRequest(req *http.Request, timeout time.Duration) *StandardResponse {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	resp, err := h.client.Do(req.WithContext(ctx))
	if err != nil {
		h.log.WithError(err).WithField("url", req.URL.String()).Warn("Request failed")
		return FailedResponse(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return FailedResponse(fmt.Errorf("failed to read response: %w", err))
	}

	sr := &StandardResponse{}
	if len(bytes.TrimSpace(data)) == 0 || json.Unmarshal(data, sr) != nil {
		// Body is not an envelope; fall back to the HTTP status.
		sr = &StandardResponse{Success: resp.StatusCode >= 200 && resp.StatusCode < 300}
	}
	sr.StatusCode = resp.StatusCode
	return sr
}

// post is GenerateRequest + SendRequest for the common POST case.
func (h *HTTPService) post(ctx context.Context, endpoint string, body any, baseURL string, headers []Header, timeout time.Duration) *StandardResponse {
	req, err := h.GenerateRequest(ctx, endpoint, body, http.MethodPost, baseURL, headers)
	if err != nil {
		return FailedResponse(err)
	}
	return h.SendRequest(req, timeout)
}
