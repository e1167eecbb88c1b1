package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kiosk-device/cardhub/internal/analytics"
	"github.com/kiosk-device/cardhub/internal/command"
	"github.com/kiosk-device/cardhub/internal/device"
	"github.com/kiosk-device/cardhub/internal/events"
	"github.com/kiosk-device/cardhub/internal/hub"
)

const maxMessageSize = 64 * 1024

// wsSession is one upgraded connection.
type wsSession struct {
	srv     *Server
	conn    *websocket.Conn
	session *hub.Session
	caller  hub.Caller
	log     *logrus.Entry
}

// handleSession handles GET /ws
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil || s.deps.Commands == nil {
		writeErr(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service not available", nil)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	// The request context ends with the handler; keep its values only.
	session := s.deps.Sessions.Register(context.WithoutCancel(r.Context()))
	ws := &wsSession{
		srv:     s,
		conn:    conn,
		session: session,
		caller:  s.deps.Sessions.Caller(session.ID()),
		log:     s.log.WithField("connectionId", session.ID()),
	}

	s.sessions.Add(2)
	go ws.writePump()
	go ws.readPump()

	ws.connected()
}

// connected greets the caller and tells every session the reader state.
func (ws *wsSession) connected() {
	s := ws.srv
	s.track(analytics.ClientConnected, ws.session.ID())

	if err := ws.caller.Send(events.NewSimpleEvent(events.NameHello)); err != nil {
		ws.log.WithError(err).Debug("Hello not delivered")
	}
	if s.deps.Device == nil {
		return
	}
	if unit := s.deps.Device.UnitData(); unit != nil && unit.IsTampered {
		s.deps.Sessions.Broadcast(events.NewSimpleEvent(device.EventDeviceTampered))
	}
	s.deps.Sessions.Broadcast(events.NewCardReaderStateEvent(s.deps.Device.CardReaderState()))
}

// disconnected purges the connection's work.
func (ws *wsSession) disconnected() {
	s := ws.srv
	s.deps.Sessions.Unregister(ws.session.ID())
	s.track(analytics.ClientDisconnected, ws.session.ID())
	s.deps.Commands.Disconnect(ws.session.ID())
}

func (s *Server) track(event, connectionID string) {
	if s.deps.Analytics == nil {
		return
	}
	s.deps.Analytics.Track(event, map[string]string{"connectionId": connectionID})
}

// readPump reads messages from the WebSocket connection.
func (ws *wsSession) readPump() {
	defer func() {
		ws.disconnected()
		_ = ws.conn.Close()
		ws.srv.sessions.Done()
	}()

	pongWait := ws.srv.opts.PongWait
	ws.conn.SetReadLimit(maxMessageSize)
	_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	ws.conn.SetPongHandler(func(string) error {
		_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.WithError(err).Warn("Session read error")
			}
			return
		}
		_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			ws.log.Debug("Ignoring non-text frame")
			continue
		}
		ws.dispatch(data)
	}
}

// writePump pumps hub frames to the WebSocket connection.
func (ws *wsSession) writePump() {
	ticker := time.NewTicker(ws.srv.opts.PingPeriod)
	writeWait := ws.srv.opts.WriteWait
	defer func() {
		ticker.Stop()
		_ = ws.conn.Close()
		ws.srv.sessions.Done()
	}()

	for {
		select {
		case frame, ok := <-ws.session.Messages():
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the session
				_ = ws.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := ws.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound frame. Undecodable frames are logged and
// dropped without a reply.
func (ws *wsSession) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		ws.log.WithError(err).Warn("Dropping malformed message")
		return
	}
	log := ws.log.WithField("type", msg.Type)

	switch msg.Type {
	case TypeCommand:
		cmd, err := command.ParseCommand(msg.Data)
		if err != nil {
			log.WithError(err).Warn("Dropping malformed command")
			return
		}
		log.WithFields(logrus.Fields{
			"kind":      cmd.Kind,
			"requestId": cmd.RequestID,
		}).Info("<<< Command")
		ws.srv.deps.Commands.Submit(ws.session.Context(), cmd, ws.session.ID(), ws.caller)

	case TypeCancel:
		var req CancelRequest
		if !ws.decode(log, msg.Data, &req) {
			return
		}
		log.WithField("targetRequestId", req.TargetRequestID).Info("<<< Cancel")
		ws.srv.deps.Commands.Cancel(req.RequestID, req.TargetRequestID, ws.caller)

	case TypeSetQueueState:
		var req QueueStateRequest
		if !ws.decode(log, msg.Data, &req) {
			return
		}
		log.WithField("paused", req.Paused).Info("<<< Set queue state")
		ws.srv.deps.Commands.SetQueuePaused(req.Paused)

	case TypeReportAuthorizeResult:
		var req AuthorizeResultRequest
		if !ws.decode(log, msg.Data, &req) {
			return
		}
		log.WithField("requestId", req.RequestID).Info("<<< Report authorize result")
		ws.srv.deps.Commands.ReportAuthorizeResult(req.RequestID, req.Authorized, ws.caller)

	case TypeShutdown:
		var req ShutdownRequest
		if !ws.decode(log, msg.Data, &req) {
			return
		}
		log.WithFields(logrus.Fields{"force": req.Force, "reason": req.Reason}).Info("<<< Shutdown")
		ws.shutDown(req)

	case TypeCanShutDown:
		var req CanShutDownAnswer
		if !ws.decode(log, msg.Data, &req) {
			return
		}
		log.WithField("canShutDown", req.CanShutDown).Info("<<< Can shut down")
		if ws.srv.deps.Lifecycle != nil {
			ws.srv.deps.Lifecycle.SetCanShutDownClientResponse(req.CanShutDown)
		}

	default:
		log.Warn("Dropping message of unknown type")
	}
}

func (ws *wsSession) decode(log *logrus.Entry, data json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.WithError(err).Warn("Dropping malformed message")
		return false
	}
	return true
}

// shutDown runs the shutdown handshake off the read loop so the caller can
// still answer the can-shut-down poll.
func (ws *wsSession) shutDown(req ShutdownRequest) {
	lc := ws.srv.deps.Lifecycle
	if lc == nil {
		ws.log.Warn("Shutdown not supported")
		return
	}
	ctx := ws.session.Context()
	go func() {
		resp := events.NewShutDownResponse(req.RequestID)
		resp.Success = lc.ShutDown(ctx, req.Force, req.Reason)
		if ws.srv.deps.Gateway != nil {
			ws.srv.deps.Gateway.LogEvent(">>>", resp)
		}
		if err := ws.caller.Send(resp); err != nil {
			ws.log.WithError(err).Debug("Shutdown response not delivered")
		}
	}()
}
