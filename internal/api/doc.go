// Package api exposes the card reader service over HTTP.
//
// Clients hold one WebSocket session each on /ws. Inbound text frames are
// {"type": ..., "data": ...} messages carrying commands, cancellations,
// queue state changes, authorization results and shutdown handshakes.
// Outbound frames are the hub's {"event": ..., "data": ...} envelopes.
// /health reports device and queue state; /metrics serves Prometheus
// collectors when enabled.
package api
