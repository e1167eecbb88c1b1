package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kiosk-device/cardhub/internal/events"
)

// Kind identifies a device command.
type Kind string

const (
	KindIsConnected           Kind = "IsConnected"
	KindSupportsEMV           Kind = "SupportsEMV"
	KindGetUnitHealth         Kind = "GetUnitHealth"
	KindRebootCardReader      Kind = "RebootCardReader"
	KindReadConfiguration     Kind = "ReadConfiguration"
	KindWriteConfiguration    Kind = "WriteConfiguration"
	KindReadCard              Kind = "ReadCard"
	KindValidateVersion       Kind = "ValidateVersion"
	KindCheckActivation       Kind = "CheckActivation"
	KindCheckDeviceStatus     Kind = "CheckDeviceStatus"
	KindGetCardInsertedStatus Kind = "GetCardInsertedStatus"
)

// Kinds lists every command kind.
func Kinds() []Kind {
	return []Kind{
		KindIsConnected,
		KindSupportsEMV,
		KindGetUnitHealth,
		KindRebootCardReader,
		KindReadConfiguration,
		KindWriteConfiguration,
		KindReadCard,
		KindValidateVersion,
		KindCheckActivation,
		KindCheckDeviceStatus,
		KindGetCardInsertedStatus,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Immediate kinds read cached proxy state and bypass the queue.
func (k Kind) Immediate() bool {
	return k == KindIsConnected || k == KindSupportsEMV
}

// Errors returned when decoding commands.
var (
	ErrMalformed     = errors.New("MALFORMED_COMMAND")
	ErrMissingID     = errors.New("MISSING_REQUEST_ID")
	ErrInvalidParams = errors.New("INVALID_PARAMETER")
)

// Command is one client request for the device.
type Command struct {
	Kind      Kind            `json:"commandName"`
	RequestID uuid.UUID       `json:"requestId"`
	Request   json.RawMessage `json:"request,omitempty"`

	// IsQueueable is derived from Kind; any value sent by the client is
	// overwritten.
	IsQueueable bool `json:"isQueueable"`
}

// NewCommand builds a command with payload encoded as its request.
func NewCommand(kind Kind, requestID uuid.UUID, payload any) (*Command, error) {
	cmd := &Command{Kind: kind, RequestID: requestID, IsQueueable: !kind.Immediate()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", kind, err)
		}
		cmd.Request = data
	}
	return cmd, nil
}

// ParseCommand decodes a command from its wire form. The kind is not
// checked here; unknown kinds are rejected by the worker.
func ParseCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cmd.Kind == "" {
		return nil, fmt.Errorf("%w: missing commandName", ErrMalformed)
	}
	if cmd.RequestID == uuid.Nil {
		return nil, ErrMissingID
	}
	cmd.IsQueueable = !cmd.Kind.Immediate()
	return &cmd, nil
}

// Decode unmarshals the command's request into v. An absent request leaves
// v untouched.
func (c *Command) Decode(v any) error {
	if len(c.Request) == 0 || string(c.Request) == "null" {
		return nil
	}
	if err := json.Unmarshal(c.Request, v); err != nil {
		return fmt.Errorf("%w: %s request: %v", ErrInvalidParams, c.Kind, err)
	}
	return nil
}

// Replier delivers events to one session.
type Replier interface {
	Send(ev events.Event) error
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(ev events.Event) error

// Send calls f.
func (f ReplierFunc) Send(ev events.Event) error { return f(ev) }

// Broadcaster delivers events to every session.
type Broadcaster interface {
	Broadcast(ev events.Event)
}

// QueuedCommand is a command admitted to the queue.
type QueuedCommand struct {
	Command      *Command
	ConnectionID string
	Caller       Replier
	EnqueuedAt   time.Time

	// ctx carries the session's request values (auth claims) for auditing.
	ctx context.Context

	// cancelled and readDone are guarded by the orchestrator lock. readDone
	// is set once a card read has released its controller.
	cancelled bool
	readDone  bool
}

// ReadConfigRequest is the payload of ReadConfiguration.
type ReadConfigRequest struct {
	Group string `json:"group"`
	Index string `json:"index"`
}

// WriteConfigRequest is the payload of WriteConfiguration.
type WriteConfigRequest struct {
	Group string `json:"group"`
	Index string `json:"index"`
	Value string `json:"value"`
}

// ValidateVersionRequest is the payload of ValidateVersion.
type ValidateVersionRequest struct {
	DeviceServiceClientVersion string `json:"deviceServiceClientVersion"`
}
