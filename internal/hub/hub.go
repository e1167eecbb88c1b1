package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kiosk-device/cardhub/internal/device"
	"github.com/kiosk-device/cardhub/internal/events"
)

// DefaultBuffer is the per-session outbound queue length.
const DefaultBuffer = 64

// Errors returned by SendTo.
var (
	ErrSessionNotFound = errors.New("SESSION_NOT_FOUND")
	ErrSessionClosed   = errors.New("SESSION_CLOSED")
	ErrSlowConsumer    = errors.New("SLOW_CONSUMER")
)

// Envelope is the frame written to a session.
type Envelope struct {
	Event string       `json:"event"`
	Data  events.Event `json:"data"`
}

// SessionGauge receives the number of connected sessions.
type SessionGauge interface {
	SetSessions(n int)
}

// Session is one connected client.
type Session struct {
	id   string
	ctx  context.Context
	send chan []byte

	// mu orders sends against close(send): senders hold the read lock,
	// close holds the write lock. Sends never block, so neither does close.
	mu     sync.RWMutex
	closed bool
}

// ID returns the session's connection ID.
func (s *Session) ID() string { return s.id }

// Context returns the context the session was registered with.
func (s *Session) Context() context.Context { return s.ctx }

// Messages returns the encoded frames to write to the client. The channel
// is closed when the session is unregistered.
func (s *Session) Messages() <-chan []byte { return s.send }

// trySend queues data without blocking.
func (s *Session) trySend(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Hub tracks connected sessions and fans events out to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	buffer  int
	gateway *events.Gateway
	gauge   SessionGauge
	log     *logrus.Entry
}

// Compile-time assertion that Hub receives device events
var _ device.Notifier = (*Hub)(nil)

// NewHub creates a hub. Broadcasts are logged through gateway.
func NewHub(buffer int, gateway *events.Gateway, log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		sessions: make(map[string]*Session),
		buffer:   buffer,
		gateway:  gateway,
		log:      log.WithField("component", "hub"),
	}
}

// SetSessionGauge sets the receiver of session counts.
func (h *Hub) SetSessionGauge(g SessionGauge) {
	h.gauge = g
}

// Register adds a session. ctx carries the connection's request values.
func (h *Hub) Register(ctx context.Context) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Session{
		id:   uuid.NewString(),
		ctx:  ctx,
		send: make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()

	h.updateGauge(n)
	h.log.WithFields(logrus.Fields{"connectionId": s.id, "sessions": n}).Info("Session connected")
	return s
}

// Unregister removes a session and closes its message channel.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	h.updateGauge(n)
	h.log.WithFields(logrus.Fields{"connectionId": id, "sessions": n}).Info("Session disconnected")
}

// SendTo queues ev for one session.
func (h *Hub) SendTo(id string, ev events.Event) error {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := s.trySend(data); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"connectionId": id,
			"event":        ev.EventName(),
		}).Warn("Event dropped")
		return err
	}
	return nil
}

// Broadcast queues ev for every session. Slow sessions miss the event.
func (h *Hub) Broadcast(ev events.Event) {
	h.gateway.LogEvent("Broadcast >>>", ev)

	data, err := Encode(ev)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode broadcast")
		return
	}

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if err := s.trySend(data); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"connectionId": s.id,
				"event":        ev.EventName(),
			}).Warn("Broadcast dropped")
		}
	}
}

// Caller returns a sender bound to one session.
func (h *Hub) Caller(id string) Caller {
	return Caller{hub: h, id: id}
}

// DeviceEvent broadcasts an unsolicited reader event.
func (h *Hub) DeviceEvent(name string, state device.CardReaderState) {
	if name == device.EventCardReaderState {
		h.Broadcast(events.NewCardReaderStateEvent(state))
		return
	}
	h.Broadcast(events.NewSimpleEvent(name))
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close unregisters every session.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	h.updateGauge(0)
}

func (h *Hub) updateGauge(n int) {
	if h.gauge != nil {
		h.gauge.SetSessions(n)
	}
}

// Caller sends events to a single session.
type Caller struct {
	hub *Hub
	id  string
}

// Send queues ev for the session.
func (c Caller) Send(ev events.Event) error {
	return c.hub.SendTo(c.id, ev)
}

// Encode renders ev as an Envelope.
func Encode(ev events.Event) ([]byte, error) {
	data, err := json.Marshal(Envelope{Event: ev.EventName(), Data: ev})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return data, nil
}
