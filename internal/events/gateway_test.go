package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiosk-device/cardhub/internal/device"
)

const testPAN = "4111111111111111"

func newTestGateway() (*Gateway, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	return NewGateway(logrus.NewEntry(logger)), hook
}

func TestLogEventMasksEMVWithoutMutatingEvent(t *testing.T) {
	g, hook := newTestGateway()

	read := &device.EMVCardRead{
		CardReadBase: device.CardReadBase{ResponseStatus: device.StatusSuccess, Name: "JANE DOE"},
		PAN:          testPAN,
		Cryptogram:   "A1B2C3D4",
		Tags:         map[string]string{"5A": testPAN},
	}
	ev := NewCardReadResponse(uuid.New(), read)
	ev.SetSuccess(true)

	g.LogEvent(">>> EMVCardReadResponseEvent", ev)

	require.Len(t, hook.Entries, 1)
	line := hook.LastEntry().Message
	assert.NotContains(t, line, testPAN)
	assert.NotContains(t, line, "A1B2C3D4")
	assert.Contains(t, line, "411111******1111")
	assert.Contains(t, line, ">>> EMVCardReadResponseEvent")

	// Delivered event is untouched.
	assert.Equal(t, testPAN, read.PAN)
	assert.Equal(t, testPAN, read.Tags["5A"])
	assert.Equal(t, "JANE DOE", read.Name)
	assert.Same(t, read, ev.Result())
}

func TestTextMasksEveryCardReadVariant(t *testing.T) {
	cases := []device.CardReadResult{
		&device.EMVCardRead{PAN: testPAN},
		&device.EncryptedCardRead{MaskedPAN: testPAN, EncryptedTrack2: testPAN},
		&device.UnencryptedCardRead{PAN: testPAN, Track2: ";" + testPAN + "=2812?"},
	}

	for _, result := range cases {
		t.Run(result.Variant().String(), func(t *testing.T) {
			ev := NewCardReadResponse(uuid.New(), result)
			text, err := Text(ev)
			require.NoError(t, err)
			assert.NotContains(t, text, testPAN)

			// Masked output still decodes into the same event shape.
			var decoded map[string]any
			require.NoError(t, json.Unmarshal([]byte(text), &decoded))
			assert.Equal(t, ev.EventName(), decoded["eventName"])
			assert.Equal(t, ev.CorrelationID().String(), decoded["requestId"])
		})
	}
}

func TestNewCardReadResponseNilResult(t *testing.T) {
	ev := NewCardReadResponse(uuid.New(), nil)
	assert.Equal(t, NameUnencryptedCardReadResponse, ev.EventName())
	require.NotNil(t, ev.Result())
	assert.Equal(t, device.VariantUnencrypted, ev.Result().Variant())

	var typedNil *device.EMVCardRead
	ev = NewCardReadResponse(uuid.New(), typedNil)
	assert.Equal(t, NameUnencryptedCardReadResponse, ev.EventName())
	assert.NotNil(t, ev.Result())
}

func TestLogEventPlainEvent(t *testing.T) {
	g, hook := newTestGateway()

	ev := NewIsConnectedResponse(uuid.New())
	ev.IsConnected = true
	ev.SetSuccess(true)
	g.LogEvent(">>> IsConnected", ev)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, `"isConnected":true`)
	assert.Equal(t, NameIsConnectedResponse, hook.LastEntry().Data["event"])
}

type unserializable struct {
	BaseEvent
	Callback func() `json:"callback"`
}

func TestLogEventSerializationFailureIsSwallowed(t *testing.T) {
	g, hook := newTestGateway()

	ev := &unserializable{BaseEvent: base("Broken"), Callback: func() {}}
	assert.NotPanics(t, func() { g.LogEvent("broken", ev) })

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestLogEventNilSafe(t *testing.T) {
	var g *Gateway
	assert.NotPanics(t, func() { g.LogEvent("x", NewSimpleEvent("y")) })

	g2, hook := newTestGateway()
	g2.LogEvent("x", nil)
	assert.Empty(t, hook.Entries)
}
