package services

import (
	"context"
	"time"
)

const bluefinAuthHeader = "x-api-key"

// ActivationRequest is the payload of a CheckActivation command.
type ActivationRequest struct {
	KioskID           int64  `json:"kioskId"`
	BluefinServiceURL string `json:"bluefinServiceUrl,omitempty"`
	APIKey            string `json:"apiKey,omitempty"`
	TimeoutMillis     int    `json:"timeout,omitempty"`
}

// Scrub returns a copy safe to log.
func (r ActivationRequest) Scrub() ActivationRequest {
	if r.APIKey != "" {
		r.APIKey = "***"
	}
	return r
}

func (r ActivationRequest) timeout() time.Duration {
	if r.TimeoutMillis <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutMillis) * time.Millisecond
}

type activateBody struct {
	KioskID              int64     `json:"kioskId"`
	ReaderSerialNumber   string    `json:"readerSerialNumber"`
	InjectedSerialNumber string    `json:"injectedSerialNumber,omitempty"`
	LocalDateTime        time.Time `json:"localDateTime"`
}

type deactivateBody struct {
	KioskID            int64  `json:"kioskId"`
	ReaderSerialNumber string `json:"readerSerialNumber"`
}

// BluefinClient activates and deactivates readers with Bluefin.
type BluefinClient struct {
	http *HTTPService
}

// NewBluefinClient creates a client.
func NewBluefinClient(h *HTTPService) *BluefinClient {
	return &BluefinClient{http: h}
}

// Activate registers the reader's serials for kiosk req.KioskID.
func (c *BluefinClient) Activate(ctx context.Context, req ActivationRequest, mfgSerial, injectedSerial string, installed time.Time) *StandardResponse {
	body := activateBody{
		KioskID:              req.KioskID,
		ReaderSerialNumber:   mfgSerial,
		InjectedSerialNumber: injectedSerial,
		LocalDateTime:        installed,
	}
	return c.http.post(ctx, "device/activate", body, req.BluefinServiceURL, authHeaders(req.APIKey), req.timeout())
}

// Deactivate removes the reader from kiosk req.KioskID.
func (c *BluefinClient) Deactivate(ctx context.Context, req ActivationRequest, mfgSerial string) *StandardResponse {
	body := deactivateBody{KioskID: req.KioskID, ReaderSerialNumber: mfgSerial}
	return c.http.post(ctx, "device/deactivate", body, req.BluefinServiceURL, authHeaders(req.APIKey), req.timeout())
}

func authHeaders(apiKey string) []Header {
	return []Header{{Key: bluefinAuthHeader, Value: apiKey}}
}
