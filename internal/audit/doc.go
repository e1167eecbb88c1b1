// Package audit keeps an append-only trail of executed commands.
//
// Each line is a JSON object naming the user, connection, request, command
// kind, outcome and latency. The file rotates by size.
package audit
