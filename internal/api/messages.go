package api

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Inbound message types.
const (
	TypeCommand               = "command"
	TypeCancel                = "cancel"
	TypeSetQueueState         = "setQueueState"
	TypeReportAuthorizeResult = "reportAuthorizeResult"
	TypeShutdown              = "shutdown"
	TypeCanShutDown           = "canShutDown"
)

// Message is one inbound frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CancelRequest asks to cancel TargetRequestID.
type CancelRequest struct {
	RequestID       uuid.UUID `json:"requestId"`
	TargetRequestID uuid.UUID `json:"targetRequestId"`
}

// QueueStateRequest pauses or resumes the command queue.
type QueueStateRequest struct {
	Paused bool `json:"paused"`
}

// AuthorizeResultRequest relays a payment authorization decision.
type AuthorizeResultRequest struct {
	RequestID  uuid.UUID `json:"requestId"`
	Authorized bool      `json:"authorized"`
}

// ShutdownRequest asks the service to stop.
type ShutdownRequest struct {
	RequestID uuid.UUID `json:"requestId"`
	Force     bool      `json:"force"`
	Reason    string    `json:"reason"`
}

// CanShutDownAnswer is a client's reply to DeviceServiceCanShutDownEvent.
type CanShutDownAnswer struct {
	RequestID   uuid.UUID `json:"requestId"`
	CanShutDown bool      `json:"canShutDown"`
}
