// Package events defines the events delivered to client sessions.
//
// Response events answer one command and are addressed to the session that
// sent it. Broadcast events (device state, shutdown) go to every session.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/kiosk-device/cardhub/internal/device"
)

// Event names as seen by clients.
const (
	NameIsConnectedResponse           = "IsConnectedResponseEvent"
	NameSupportsEMVResponse           = "SupportsEMVResponseEvent"
	NameGetUnitHealthResponse         = "GetUnitHealthResponseEvent"
	NameRebootCardReaderResponse      = "RebootCardReaderResponseEvent"
	NameReadConfiguration             = "ReadConfiguration"
	NameWriteConfiguration            = "WriteConfiguration"
	NameValidateVersionResponse       = "ValidateVersionResponseEvent"
	NameCheckActivationResponse       = "CheckActivationResponseEvent"
	NameCheckDeviceStatusResponse     = "CheckDeviceStatusResponseEvent"
	NameGetCardInsertedStatusResponse = "GetCardInsertedStatusResponseEvent"
	NameEMVCardReadResponse           = "EMVCardReadResponseEvent"
	NameEncryptedCardReadResponse     = "EncryptedCardReadResponseEvent"
	NameUnencryptedCardReadResponse   = "UnencryptedCardReadResponseEvent"
	NameCardRemovedResponse           = "CardRemovedResponseEvent"
	NameCancelCommandResponse         = "CancelCommandResponseEvent"
	NameReportAuthorizeResultResponse = "ReportAuthorizeResultResponseEvent"
	NameShutDownResponse              = "DeviceServiceShutDownResponseEvent"

	NameHello                      = "Hello"
	NameDeviceServiceCanShutDown   = "DeviceServiceCanShutDownEvent"
	NameDeviceServiceShutDownStart = "DeviceServiceShutDownStartingEvent"
)

// Event is anything sent to a session.
type Event interface {
	EventName() string
}

// Response is an event answering a single command.
type Response interface {
	Event
	CorrelationID() uuid.UUID
	Succeeded() bool
	SetSuccess(bool)
}

// BaseEvent carries the fields common to every event.
type BaseEvent struct {
	Name      string    `json:"eventName"`
	Timestamp time.Time `json:"timestamp"`
}

// EventName returns the client-visible event name.
func (e *BaseEvent) EventName() string { return e.Name }

// BaseResponseEvent correlates an event with the command it answers.
type BaseResponseEvent struct {
	BaseEvent
	RequestID uuid.UUID `json:"requestId"`
	Success   bool      `json:"success"`
}

func (e *BaseResponseEvent) CorrelationID() uuid.UUID { return e.RequestID }
func (e *BaseResponseEvent) Succeeded() bool          { return e.Success }
func (e *BaseResponseEvent) SetSuccess(ok bool)       { e.Success = ok }

func base(name string) BaseEvent {
	return BaseEvent{Name: name, Timestamp: time.Now().UTC()}
}

func response(name string, requestID uuid.UUID) BaseResponseEvent {
	return BaseResponseEvent{BaseEvent: base(name), RequestID: requestID}
}

// IsConnectedResponse answers IsConnected.
type IsConnectedResponse struct {
	BaseResponseEvent
	IsConnected bool `json:"isConnected"`
}

func NewIsConnectedResponse(requestID uuid.UUID) *IsConnectedResponse {
	return &IsConnectedResponse{BaseResponseEvent: response(NameIsConnectedResponse, requestID)}
}

// SupportsEMVResponse answers SupportsEMV.
type SupportsEMVResponse struct {
	BaseResponseEvent
	SupportsEMV bool `json:"supportsEMV"`
}

func NewSupportsEMVResponse(requestID uuid.UUID) *SupportsEMVResponse {
	return &SupportsEMVResponse{BaseResponseEvent: response(NameSupportsEMVResponse, requestID)}
}

// UnitHealthResponse answers GetUnitHealth.
type UnitHealthResponse struct {
	BaseResponseEvent
	UnitHealth *device.UnitHealth `json:"unitHealthModel,omitempty"`
}

func NewUnitHealthResponse(requestID uuid.UUID) *UnitHealthResponse {
	return &UnitHealthResponse{BaseResponseEvent: response(NameGetUnitHealthResponse, requestID)}
}

// RebootResponse answers RebootCardReader.
type RebootResponse struct {
	BaseResponseEvent
}

func NewRebootResponse(requestID uuid.UUID) *RebootResponse {
	return &RebootResponse{BaseResponseEvent: response(NameRebootCardReaderResponse, requestID)}
}

// SimpleResponse is a named response with an optional string payload. It
// answers configuration commands and relays interim card-read progress.
type SimpleResponse struct {
	BaseResponseEvent
	Data string `json:"data,omitempty"`
}

func NewSimpleResponse(requestID uuid.UUID, name, data string) *SimpleResponse {
	return &SimpleResponse{BaseResponseEvent: response(name, requestID), Data: data}
}

// ValidateVersionModel reports client compatibility.
type ValidateVersionModel struct {
	IsCompatible         bool   `json:"isCompatible"`
	DeviceServiceVersion string `json:"deviceServiceVersion"`
}

// ValidateVersionResponse answers ValidateVersion.
type ValidateVersionResponse struct {
	BaseResponseEvent
	ValidateVersion ValidateVersionModel `json:"validateVersionModel"`
}

func NewValidateVersionResponse(requestID uuid.UUID) *ValidateVersionResponse {
	return &ValidateVersionResponse{BaseResponseEvent: response(NameValidateVersionResponse, requestID)}
}

// CheckActivationResponse answers CheckActivation.
type CheckActivationResponse struct {
	BaseResponseEvent
}

func NewCheckActivationResponse(requestID uuid.UUID) *CheckActivationResponse {
	return &CheckActivationResponse{BaseResponseEvent: response(NameCheckActivationResponse, requestID)}
}

// CheckDeviceStatusResponse answers CheckDeviceStatus.
type CheckDeviceStatusResponse struct {
	BaseResponseEvent
}

func NewCheckDeviceStatusResponse(requestID uuid.UUID) *CheckDeviceStatusResponse {
	return &CheckDeviceStatusResponse{BaseResponseEvent: response(NameCheckDeviceStatusResponse, requestID)}
}

// CardInsertedStatusResponse answers GetCardInsertedStatus.
type CardInsertedStatusResponse struct {
	BaseResponseEvent
	CardInsertedStatus device.InsertedStatus `json:"cardInsertedStatus"`
}

func NewCardInsertedStatusResponse(requestID uuid.UUID) *CardInsertedStatusResponse {
	return &CardInsertedStatusResponse{
		BaseResponseEvent:  response(NameGetCardInsertedStatusResponse, requestID),
		CardInsertedStatus: device.InsertedUnknown,
	}
}

// CardRemovedResponse tells the reading session the card was pulled.
type CardRemovedResponse struct {
	BaseResponseEvent
}

func NewCardRemovedResponse(requestID uuid.UUID) *CardRemovedResponse {
	return &CardRemovedResponse{BaseResponseEvent: response(NameCardRemovedResponse, requestID)}
}

// CancelCommandResponse acknowledges a cancel request.
type CancelCommandResponse struct {
	BaseResponseEvent
	TargetRequestID uuid.UUID `json:"targetRequestId"`
}

func NewCancelCommandResponse(requestID, target uuid.UUID) *CancelCommandResponse {
	return &CancelCommandResponse{
		BaseResponseEvent: response(NameCancelCommandResponse, requestID),
		TargetRequestID:   target,
	}
}

// ReportAuthorizeResultResponse acknowledges an authorization decision.
type ReportAuthorizeResultResponse struct {
	BaseResponseEvent
}

func NewReportAuthorizeResultResponse(requestID uuid.UUID) *ReportAuthorizeResultResponse {
	return &ReportAuthorizeResultResponse{BaseResponseEvent: response(NameReportAuthorizeResultResponse, requestID)}
}

// ShutDownResponse answers a shutdown request.
type ShutDownResponse struct {
	BaseResponseEvent
}

func NewShutDownResponse(requestID uuid.UUID) *ShutDownResponse {
	return &ShutDownResponse{BaseResponseEvent: response(NameShutDownResponse, requestID)}
}

// ShutDownStartingEvent announces that the service is about to stop.
type ShutDownStartingEvent struct {
	BaseEvent
	Reason string `json:"reason,omitempty"`
}

func NewShutDownStartingEvent(reason string) *ShutDownStartingEvent {
	return &ShutDownStartingEvent{BaseEvent: base(NameDeviceServiceShutDownStart), Reason: reason}
}

// SimpleEvent is a broadcast event with no payload.
type SimpleEvent struct {
	BaseEvent
}

func NewSimpleEvent(name string) *SimpleEvent {
	return &SimpleEvent{BaseEvent: base(name)}
}

// CardReaderStateEvent broadcasts the reader state.
type CardReaderStateEvent struct {
	BaseEvent
	State device.CardReaderState `json:"cardReaderState"`
}

func NewCardReaderStateEvent(state device.CardReaderState) *CardReaderStateEvent {
	return &CardReaderStateEvent{BaseEvent: base(device.EventCardReaderState), State: state}
}
