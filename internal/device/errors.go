package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Normalized device errors.
var (
	ErrNotConnected = errors.New("NOT_CONNECTED")
	ErrBusy         = errors.New("BUSY")
	ErrUnavailable  = errors.New("UNAVAILABLE")
	ErrCancelled    = errors.New("CANCELLED")
	ErrInternal     = errors.New("INTERNAL")
)

// ErrorTokens maps driver error text onto normalized errors. Matching is
// case-insensitive substring; the first table that matches wins, checked in
// the order of errorTokenOrder.
var ErrorTokens = map[error][]string{
	ErrNotConnected: {
		"NOT_CONNECTED",
		"DEVICE_NOT_FOUND",
		"NO_DEVICE",
		"DISCONNECTED",
	},
	ErrBusy: {
		"BUSY",
		"OPERATION_IN_PROGRESS",
		"TRANSACTION_ACTIVE",
	},
	ErrUnavailable: {
		"UNAVAILABLE",
		"REBOOTING",
		"NOT_READY",
		"TIMEOUT",
	},
	ErrCancelled: {
		"CANCELLED",
		"CANCELED",
		"ABORTED",
	},
}

var errorTokenOrder = []error{ErrNotConnected, ErrBusy, ErrUnavailable, ErrCancelled}

// DeviceError wraps a driver error with its normalized code.
type DeviceError struct {
	Code     error // Normalized code
	Original error // Driver error
	Details  any   // Driver payload (opaque)
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%v (device: %v)", e.Code, e.Original)
}

func (e *DeviceError) Unwrap() error {
	return e.Code
}

// NormalizeError maps a driver error to one of the normalized codes. Errors
// already normalized are returned unchanged.
func NormalizeError(err error, payload any) error {
	if err == nil {
		return nil
	}

	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}

	return &DeviceError{
		Code:     codeFor(err),
		Original: err,
		Details:  payload,
	}
}

func codeFor(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrUnavailable
	}
	for _, code := range errorTokenOrder {
		if errors.Is(err, code) {
			return code
		}
	}

	msg := strings.ToUpper(err.Error())
	for _, code := range errorTokenOrder {
		for _, token := range ErrorTokens[code] {
			if strings.Contains(msg, token) {
				return code
			}
		}
	}

	return ErrInternal
}
