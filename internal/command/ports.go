package command

import (
	"context"
	"time"

	"github.com/kiosk-device/cardhub/internal/services"
)

// AuditLogger writes one audit record per executed command.
type AuditLogger interface {
	LogCommand(ctx context.Context, action, requestID, connectionID, outcome string, latency time.Duration)
}

// Metrics receives queue and command measurements.
type Metrics interface {
	ObserveCommand(kind, result string, latency time.Duration)
	SetQueueDepth(depth int)
	IncCancellation(source string)
}

// ActivationService activates the reader with the payment processor.
type ActivationService interface {
	CheckAndActivate(ctx context.Context, req services.ActivationRequest) (bool, error)
}

// DeviceStatusService reports reader status to the kiosk back office.
type DeviceStatusService interface {
	PostDeviceStatus(ctx context.Context, status *services.DeviceStatus) *services.StandardResponse
	PostRebootStatus(ctx context.Context, success bool) *services.StandardResponse
}

// Command results used for audit outcomes and metrics labels.
const (
	ResultSuccess   = "SUCCESS"
	ResultFailure   = "FAILURE"
	ResultError     = "ERROR"
	ResultCancelled = "CANCELLED"
	ResultSkipped   = "SKIPPED"
	ResultUnknown   = "UNKNOWN"
)

// Cancellation sources used for metrics labels.
const (
	CancelSourceRegistry   = "registry"
	CancelSourceQueued     = "queued"
	CancelSourceDisconnect = "disconnect"
	CancelSourceSkipped    = "skipped"
)

type noopMetrics struct{}

func (noopMetrics) ObserveCommand(string, string, time.Duration) {}
func (noopMetrics) SetQueueDepth(int)                            {}
func (noopMetrics) IncCancellation(string)                       {}
