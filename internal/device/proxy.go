// Package device defines the contract of the card reader proxy and the data
// it reports.
//
// The proxy owns the physical reader. Only one operation may run against it
// at a time; callers serialize access through the command queue. Immediate
// probes (IsConnected, SupportsEMV) read cached state and are safe to call
// concurrently with a running operation.
package device

import (
	"context"
	"time"
)

// InsertedStatus reports whether a card is sitting in the reader.
type InsertedStatus string

const (
	InsertedUnknown InsertedStatus = "Unknown"
	Inserted        InsertedStatus = "Inserted"
	NotInserted     InsertedStatus = "NotInserted"
)

// UnitHealth is the reader's self-reported health.
type UnitHealth struct {
	Status          string    `json:"status"`
	FirmwareVersion string    `json:"firmwareVersion"`
	BatteryPercent  int       `json:"batteryPercent,omitempty"`
	LastHeartbeat   time.Time `json:"lastHeartbeat"`
	Faults          []string  `json:"faults,omitempty"`
}

// UnitData identifies the physical unit.
type UnitData struct {
	SerialNumber       string `json:"serialNumber"`
	DeviceSerialNumber string `json:"deviceSerialNumber"`
	Model              string `json:"model"`
	FirmwareVersion    string `json:"firmwareVersion"`
	IsTampered         bool   `json:"isTampered"`
}

// CardReaderState is broadcast to sessions when they connect and whenever
// the reader's connectivity changes.
type CardReaderState struct {
	IsConnected    bool      `json:"isConnected"`
	SupportsEMV    bool      `json:"supportsEMV"`
	IsTampered     bool      `json:"isTampered"`
	SerialNumber   string    `json:"serialNumber,omitempty"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
}

// CardReadRequest parameterises a card read.
type CardReadRequest struct {
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Amount         int64  `json:"amount"`
	Title          string `json:"title,omitempty"`
	Message        string `json:"message,omitempty"`
	EnableEMV      bool   `json:"enableEmv"`
	FallbackToMSR  bool   `json:"fallbackToMsr"`
}

// Timeout returns the read timeout, or def when none was requested.
func (r CardReadRequest) Timeout(def time.Duration) time.Duration {
	if r.TimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// ResultFunc receives the single card-read result.
type ResultFunc func(CardReadResult)

// ProgressFunc receives interim device events during a read.
type ProgressFunc func(eventName, eventData string)

// Progress event names reported by a read in flight.
const (
	ProgressCardInserted = "CardInsertedResponseEvent"
	ProgressCardRemoved  = "CardRemovedResponseEvent"
	ProgressPINEntry     = "PinEntryResponseEvent"
)

// Proxy is the southbound card reader contract.
type Proxy interface {
	// IsConnected reports cached connectivity. Never blocks.
	IsConnected() bool

	// SupportsEMV reports whether the unit can read chip cards. Never blocks.
	SupportsEMV() bool

	// UnitHealth queries the reader's health.
	UnitHealth(ctx context.Context) (*UnitHealth, error)

	// Reboot restarts the reader. Returns true once the reboot was accepted.
	Reboot(ctx context.Context) (bool, error)

	// ReadConfig reads a configuration value by group and index.
	ReadConfig(ctx context.Context, group, index string) (string, error)

	// WriteConfig writes a configuration value by group and index.
	WriteConfig(ctx context.Context, group, index, value string) (bool, error)

	// ReadCard runs a card read until a result is produced, ctx is done, or
	// ReadCancel is called. onResult is called at most once; onProgress zero
	// or more times before it. ReadCard returns after onResult has returned.
	ReadCard(ctx context.Context, req CardReadRequest, onResult ResultFunc, onProgress ProgressFunc) error

	// ReadCancel asks the reader to abort the physical read in progress.
	ReadCancel()

	// CheckIfCardInserted probes the card slot.
	CheckIfCardInserted(ctx context.Context) (InsertedStatus, error)

	// StartHealthTimer resumes idle health polling.
	StartHealthTimer()

	// StopHealthTimer suspends idle health polling.
	StopHealthTimer()

	// CardReaderState returns a snapshot of the reader state.
	CardReaderState() CardReaderState

	// UnitData returns the unit identity, or nil when unknown.
	UnitData() *UnitData

	// SetAuthorizationResponse relays the payment authorization decision to
	// the reader during an EMV transaction.
	SetAuthorizationResponse(authorized bool)
}

// Unsolicited device event names.
const (
	EventCardReaderConnected    = "CardReaderConnectedEvent"
	EventCardReaderDisconnected = "CardReaderDisconnectedEvent"
	EventCardRemoved            = "CardRemovedEvent"
	EventDeviceTampered         = "DeviceTamperedEvent"
	EventCardReaderState        = "CardReaderStateEvent"
)

// Notifier receives unsolicited events raised by the proxy.
type Notifier interface {
	DeviceEvent(name string, state CardReaderState)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(name string, state CardReaderState)

// DeviceEvent calls f.
func (f NotifierFunc) DeviceEvent(name string, state CardReaderState) {
	f(name, state)
}
