package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/kiosk-device/cardhub/internal/analytics"
	"github.com/kiosk-device/cardhub/internal/command"
	"github.com/kiosk-device/cardhub/internal/device"
	"github.com/kiosk-device/cardhub/internal/events"
	"github.com/kiosk-device/cardhub/internal/hub"
	"github.com/kiosk-device/cardhub/internal/lifecycle"
)

// CommandPort is what the API needs from the command orchestrator.
type CommandPort interface {
	Submit(ctx context.Context, cmd *command.Command, connectionID string, caller command.Replier)
	Cancel(requestID, target uuid.UUID, caller command.Replier) bool
	SetQueuePaused(paused bool)
	Disconnect(connectionID string)
	ReportAuthorizeResult(requestID uuid.UUID, authorized bool, caller command.Replier)
	Snapshot() command.QueueSnapshot
}

// SessionPort is what the API needs from the session hub.
type SessionPort interface {
	Register(ctx context.Context) *hub.Session
	Unregister(id string)
	Caller(id string) hub.Caller
	Broadcast(ev events.Event)
	Count() int
}

// LifecyclePort is what the API needs from shutdown coordination.
type LifecyclePort interface {
	ShutDown(ctx context.Context, force bool, reason string) bool
	SetCanShutDownClientResponse(allowed bool)
}

// DevicePort is the read-only view of the reader used on connect and by
// the health endpoint.
type DevicePort interface {
	IsConnected() bool
	CardReaderState() device.CardReaderState
	UnitData() *device.UnitData
}

// AnalyticsPort records session events.
type AnalyticsPort interface {
	Track(event string, props map[string]string)
}

// Compile-time assertions for port conformance
var (
	_ CommandPort   = (*command.Orchestrator)(nil)
	_ SessionPort   = (*hub.Hub)(nil)
	_ LifecyclePort = (*lifecycle.Controller)(nil)
	_ DevicePort    = (device.Proxy)(nil)
	_ AnalyticsPort = (*analytics.Tracker)(nil)
)
