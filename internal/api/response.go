package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kiosk-device/cardhub/internal/command"
)

// Envelope is the body of every HTTP answer. Result is "ok" or "error".
type Envelope struct {
	Result        string     `json:"result"`
	Data          any        `json:"data,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
	CorrelationID string     `json:"correlationId"`
	Timestamp     time.Time  `json:"timestamp"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Health is the /health payload.
type Health struct {
	Status     string           `json:"status"`
	Version    string           `json:"version"`
	UptimeSec  float64          `json:"uptimeSec"`
	Subsystems HealthSubsystems `json:"subsystems"`
}

// HealthSubsystems reports the reader, the command queue and the sessions.
type HealthSubsystems struct {
	Device   DeviceHealth           `json:"device"`
	Queue    *command.QueueSnapshot `json:"queue,omitempty"`
	Sessions int                    `json:"sessions"`
}

// DeviceHealth is the reader's view in /health.
type DeviceHealth struct {
	Connected   bool `json:"connected"`
	SupportsEMV bool `json:"supportsEmv"`
	Tampered    bool `json:"tampered"`
}

// Degraded reports whether any subsystem is unavailable.
func (h *Health) Degraded() bool {
	return !h.Subsystems.Device.Connected || h.Subsystems.Queue == nil
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, Envelope{Result: "ok", Data: data})
}

func writeErr(w http.ResponseWriter, status int, code, message string, details any) {
	writeEnvelope(w, status, Envelope{
		Result: "error",
		Error:  &ErrorBody{Code: code, Message: message, Details: details},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	env.CorrelationID = uuid.NewString()
	env.Timestamp = time.Now().UTC()
	body, err := json.Marshal(env)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
