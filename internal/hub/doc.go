// Package hub fans events out to connected client sessions.
//
// Each session owns a bounded queue of encoded frames drained by its
// transport writer. Sends never block: a session whose queue is full misses
// the event and the drop is logged. Responses go to one session through a
// Caller; device and shutdown events are broadcast.
package hub
