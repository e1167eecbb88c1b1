// Package analytics records service lifecycle and session events. Events are
// always logged; when an MQTT broker is configured they are also published
// as JSON.
package analytics

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/kiosk-device/cardhub/internal/config"
)

// Event names.
const (
	ServiceStarting    = "ServiceStarting"
	ServiceStarted     = "ServiceStarted"
	ServiceStopping    = "ServiceStopping"
	ServiceStopped     = "ServiceStopped"
	ClientConnected    = "ClientConnected"
	ClientDisconnected = "ClientDisconnected"
)

const publishTimeout = 5 * time.Second

// Record is the published payload.
type Record struct {
	Event      string            `json:"event"`
	Timestamp  time.Time         `json:"ts"`
	KioskID    int64             `json:"kioskId,omitempty"`
	Version    string            `json:"version"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Publisher delivers encoded records to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// Tracker logs and publishes analytics events. A nil *Tracker is a no-op.
type Tracker struct {
	pub     Publisher
	topic   string
	kioskID int64
	version string
	log     *logrus.Entry

	mu     sync.Mutex
	closed bool
}

// New creates a tracker. An empty broker keeps events in the log only.
func New(cfg config.AnalyticsConfig, kioskID int64, log *logrus.Entry) (*Tracker, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "analytics")

	var pub Publisher
	if cfg.MQTTBroker != "" {
		p, err := newMQTTPublisher(cfg, log)
		if err != nil {
			return nil, err
		}
		pub = p
	} else {
		log.Info("MQTT analytics disabled (no broker configured)")
	}
	return NewWithPublisher(pub, cfg.MQTTTopic, kioskID, log), nil
}

// NewWithPublisher creates a tracker over pub, which may be nil.
func NewWithPublisher(pub Publisher, topic string, kioskID int64, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		pub:     pub,
		topic:   topic,
		kioskID: kioskID,
		version: config.Version,
		log:     log,
	}
}

// Track records event with optional properties.
func (t *Tracker) Track(event string, props map[string]string) {
	if t == nil {
		return
	}
	rec := Record{
		Event:      event,
		Timestamp:  time.Now().UTC(),
		KioskID:    t.kioskID,
		Version:    t.version,
		Properties: props,
	}

	fields := logrus.Fields{"event": event}
	for k, v := range props {
		fields[k] = v
	}
	t.log.WithFields(fields).Info("Analytics event")

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if t.pub == nil || closed {
		return
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		t.log.WithError(err).Warn("Failed to encode analytics event")
		return
	}
	if err := t.pub.Publish(t.topic, payload); err != nil {
		t.log.WithError(err).WithField("event", event).Warn("Failed to publish analytics event")
	}
}

// Close disconnects from the broker. Later events are only logged.
func (t *Tracker) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.pub != nil {
		t.pub.Close()
	}
}

type mqttPublisher struct {
	client paho.Client
	log    *logrus.Entry
}

func newMQTTPublisher(cfg config.AnalyticsConfig, log *logrus.Entry) (*mqttPublisher, error) {
	broker := cfg.MQTTBroker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	p := &mqttPublisher{log: log}
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(paho.Client) {
			log.WithField("broker", broker).Info("MQTT connection established")
		})
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	p.client = paho.NewClient(opts)
	// ConnectRetry keeps trying in the background; publishes made before the
	// first connect are buffered by the client.
	token := p.client.Connect()
	if token.WaitTimeout(100*time.Millisecond) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return p, nil
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}
