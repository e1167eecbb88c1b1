package events

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Gateway writes outbound events to the service log. Card-read responses
// are masked before they are written; the event itself is never modified.
type Gateway struct {
	log *logrus.Entry
}

// NewGateway creates a gateway logging through log.
func NewGateway(log *logrus.Entry) *Gateway {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gateway{log: log.WithField("component", "events")}
}

// LogEvent logs ev prefixed with context. It never fails.
func (g *Gateway) LogEvent(context string, ev Event) {
	if g == nil || ev == nil {
		return
	}

	text, err := Text(ev)
	if err != nil {
		g.log.WithError(err).WithField("event", ev.EventName()).Error("Failed to serialize event for logging")
		return
	}

	g.log.WithField("event", ev.EventName()).Infof("%s %s", context, text)
}

// Text renders ev as JSON for logging, masking card data.
func Text(ev Event) (string, error) {
	switch e := ev.(type) {
	case *EMVCardReadResponse:
		return redactedText(e)
	case *EncryptedCardReadResponse:
		return redactedText(e)
	case *UnencryptedCardReadResponse:
		return redactedText(e)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", ev.EventName(), err)
	}
	return string(data), nil
}

type redactable[T any] interface {
	*T
	CardReadResponse
}

// redactedText round-trips ev through JSON into a fresh value of the same
// type and masks that copy.
func redactedText[T any, P redactable[T]](ev P) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", ev.EventName(), err)
	}

	clone := P(new(T))
	if err := json.Unmarshal(data, clone); err != nil {
		return "", fmt.Errorf("unmarshal %s: %w", ev.EventName(), err)
	}
	clone.obfuscate()

	masked, err := json.Marshal(clone)
	if err != nil {
		return "", fmt.Errorf("marshal masked %s: %w", ev.EventName(), err)
	}
	return string(masked), nil
}
