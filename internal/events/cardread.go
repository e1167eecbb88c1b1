package events

import (
	"github.com/google/uuid"

	"github.com/kiosk-device/cardhub/internal/device"
)

// CardReadResponse is one of the three card-read response events.
type CardReadResponse interface {
	Response
	Result() device.CardReadResult
	obfuscate()
}

// EMVCardReadResponse carries a chip read.
type EMVCardReadResponse struct {
	BaseResponseEvent
	Data *device.EMVCardRead `json:"data"`
}

func (e *EMVCardReadResponse) Result() device.CardReadResult {
	if e.Data == nil {
		return nil
	}
	return e.Data
}

func (e *EMVCardReadResponse) obfuscate() {
	if e.Data != nil {
		e.Data.Obfuscate()
	}
}

// EncryptedCardReadResponse carries an encrypted swipe.
type EncryptedCardReadResponse struct {
	BaseResponseEvent
	Data *device.EncryptedCardRead `json:"data"`
}

func (e *EncryptedCardReadResponse) Result() device.CardReadResult {
	if e.Data == nil {
		return nil
	}
	return e.Data
}

func (e *EncryptedCardReadResponse) obfuscate() {
	if e.Data != nil {
		e.Data.Obfuscate()
	}
}

// UnencryptedCardReadResponse carries a clear swipe. It is also used when a
// read ended without any model.
type UnencryptedCardReadResponse struct {
	BaseResponseEvent
	Data *device.UnencryptedCardRead `json:"data"`
}

func (e *UnencryptedCardReadResponse) Result() device.CardReadResult {
	if e.Data == nil {
		return nil
	}
	return e.Data
}

func (e *UnencryptedCardReadResponse) obfuscate() {
	if e.Data != nil {
		e.Data.Obfuscate()
	}
}

// NewCardReadResponse wraps result in the response event for its variant. A
// nil result yields an Unencrypted response with an empty model.
func NewCardReadResponse(requestID uuid.UUID, result device.CardReadResult) CardReadResponse {
	switch r := result.(type) {
	case *device.EMVCardRead:
		if r != nil {
			return &EMVCardReadResponse{BaseResponseEvent: response(NameEMVCardReadResponse, requestID), Data: r}
		}
	case *device.EncryptedCardRead:
		if r != nil {
			return &EncryptedCardReadResponse{BaseResponseEvent: response(NameEncryptedCardReadResponse, requestID), Data: r}
		}
	case *device.UnencryptedCardRead:
		if r != nil {
			return &UnencryptedCardReadResponse{BaseResponseEvent: response(NameUnencryptedCardReadResponse, requestID), Data: r}
		}
	}
	return &UnencryptedCardReadResponse{
		BaseResponseEvent: response(NameUnencryptedCardReadResponse, requestID),
		Data:              &device.UnencryptedCardRead{},
	}
}
