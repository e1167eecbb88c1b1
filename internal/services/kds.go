package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

const kioskIDHeader = "x-redbox-kioskid"

// DeviceStatus is reported to the Kiosk Data Service.
type DeviceStatus struct {
	KioskID            int64     `json:"kioskId"`
	SerialNumber       string    `json:"serialNumber"`
	DeviceSerialNumber string    `json:"deviceSerialNumber,omitempty"`
	Model              string    `json:"model,omitempty"`
	FirmwareVersion    string    `json:"firmwareVersion,omitempty"`
	IsConnected        bool      `json:"isConnected"`
	IsTampered         bool      `json:"isTampered"`
	SupportsEMV        bool      `json:"supportsEmv"`
	HealthStatus       string    `json:"healthStatus,omitempty"`
	ServiceVersion     string    `json:"serviceVersion,omitempty"`
	LastUpdate         time.Time `json:"lastUpdate"`
}

// RebootStatus records a reader reboot.
type RebootStatus struct {
	KioskID      int64     `json:"kioskId"`
	SerialNumber string    `json:"serialNumber"`
	Success      bool      `json:"success"`
	RebootTime   time.Time `json:"rebootTime"`
}

// CardStats are per-session read counters.
type CardStats struct {
	KioskID         int64 `json:"kioskId"`
	EMVReads        int   `json:"emvReads"`
	EncryptedReads  int   `json:"encryptedReads"`
	UnencryptedRead int   `json:"unencryptedReads"`
	FailedReads     int   `json:"failedReads"`
	CancelledReads  int   `json:"cancelledReads"`
}

// KDSConfig locates the Kiosk Data Service.
type KDSConfig struct {
	URL     string
	APIKey  string
	KioskID int64
	Timeout time.Duration
}

// KDSClient posts kiosk telemetry to the Kiosk Data Service.
type KDSClient struct {
	http    *HTTPService
	cfg     KDSConfig
	headers []Header
	log     *logrus.Entry
}

// NewKDSClient creates a client for cfg.
func NewKDSClient(h *HTTPService, cfg KDSConfig, log *logrus.Entry) *KDSClient {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &KDSClient{
		http: h,
		cfg:  cfg,
		headers: []Header{
			{Key: "Authorization", Value: "Bearer " + cfg.APIKey},
			{Key: kioskIDHeader, Value: jsonString(cfg.KioskID)},
		},
		log: log.WithField("component", "kds"),
	}
}

// KioskID returns the configured kiosk.
func (c *KDSClient) KioskID() int64 {
	return c.cfg.KioskID
}

// PostDeviceStatus reports reader status.
func (c *KDSClient) PostDeviceStatus(ctx context.Context, status DeviceStatus) *StandardResponse {
	return c.postAction(ctx, "DeviceStatus", status)
}

// PostRebootStatus reports a reader reboot.
func (c *KDSClient) PostRebootStatus(ctx context.Context, status RebootStatus) *StandardResponse {
	return c.postAction(ctx, "RebootStatus", status)
}

// PostCardStats reports read counters.
func (c *KDSClient) PostCardStats(ctx context.Context, stats CardStats) *StandardResponse {
	c.log.Info("Preparing to send PostCardStats to Kiosk Data Service")
	return c.postAction(ctx, "CardStats", stats)
}

func (c *KDSClient) postAction(ctx context.Context, action string, body any) *StandardResponse {
	base := ""
	if c.cfg.URL != "" {
		base = c.cfg.URL + "/api/KioskData"
	}
	resp := c.http.post(ctx, action, body, base, c.headers, c.cfg.Timeout)
	c.log.WithFields(logrus.Fields{
		"action":     action,
		"success":    resp.Success,
		"statusCode": resp.StatusCode,
	}).Infof("Post%s result", action)
	return resp
}

func jsonString(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
