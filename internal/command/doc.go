// Package command admits client commands and executes them against the card
// reader one at a time.
//
// Commands from every session share a single FIFO queue drained by one
// worker goroutine. IsConnected and SupportsEMV bypass the queue and are
// answered on admission. A card read registers a cancellation controller so
// that a cancel request or a disconnect can abort it while it runs; commands
// cancelled while still queued are skipped and answered as cancelled.
package command
