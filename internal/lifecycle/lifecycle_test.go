package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiosk-device/cardhub/internal/events"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
	onCast func(events.Event)
}

func (b *recordingBroadcaster) Broadcast(ev events.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	hook := b.onCast
	b.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (b *recordingBroadcaster) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.EventName()
	}
	return out
}

func newTestController(t *testing.T, bc Broadcaster, stop func(), wait time.Duration) *Controller {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return New(bc, stop, wait, 10*time.Millisecond, logrus.NewEntry(logger))
}

func TestCanShutDownWithoutVeto(t *testing.T) {
	bc := &recordingBroadcaster{}
	c := newTestController(t, bc, nil, 20*time.Millisecond)

	assert.True(t, c.CanShutDown(context.Background()))
	assert.Equal(t, []string{events.NameDeviceServiceCanShutDown}, bc.names())
}

func TestVetoEndsPollEarly(t *testing.T) {
	bc := &recordingBroadcaster{}
	c := newTestController(t, bc, nil, time.Minute)
	bc.onCast = func(events.Event) {
		go func() {
			c.SetCanShutDownClientResponse(true)
			c.SetCanShutDownClientResponse(false)
		}()
	}

	start := time.Now()
	assert.False(t, c.CanShutDown(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPollResetsBetweenRounds(t *testing.T) {
	bc := &recordingBroadcaster{}
	c := newTestController(t, bc, nil, 20*time.Millisecond)
	bc.onCast = func(events.Event) { go c.SetCanShutDownClientResponse(false) }
	assert.False(t, c.CanShutDown(context.Background()))

	bc.mu.Lock()
	bc.onCast = nil
	bc.mu.Unlock()
	assert.True(t, c.CanShutDown(context.Background()))
}

func TestAnswerOutsidePollIsIgnored(t *testing.T) {
	c := newTestController(t, &recordingBroadcaster{}, nil, 20*time.Millisecond)
	assert.NotPanics(t, func() { c.SetCanShutDownClientResponse(false) })
	assert.True(t, c.CanShutDown(context.Background()))
}

func TestCanShutDownHonoursContext(t *testing.T) {
	c := newTestController(t, &recordingBroadcaster{}, nil, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, c.CanShutDown(ctx))
}

func TestForcedShutDownStops(t *testing.T) {
	bc := &recordingBroadcaster{}
	stopped := make(chan struct{})
	c := newTestController(t, bc, func() { close(stopped) }, time.Minute)

	require.True(t, c.ShutDown(context.Background(), true, "update"))
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop not called")
	}
	assert.True(t, c.Stopping())
	assert.Equal(t, []string{events.NameDeviceServiceShutDownStart}, bc.names(), "forced shutdown skips the poll")

	// A second request does not start another task.
	assert.True(t, c.ShutDown(context.Background(), true, "again"))
}

func TestVetoedShutDownDoesNotStart(t *testing.T) {
	bc := &recordingBroadcaster{}
	stopped := false
	c := newTestController(t, bc, func() { stopped = true }, time.Minute)
	bc.onCast = func(ev events.Event) {
		if ev.EventName() == events.NameDeviceServiceCanShutDown {
			go c.SetCanShutDownClientResponse(false)
		}
	}

	assert.False(t, c.ShutDown(context.Background(), false, "maintenance"))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, c.Stopping())
	assert.False(t, stopped)
}

func TestShutDownStartingCarriesReason(t *testing.T) {
	bc := &recordingBroadcaster{}
	done := make(chan struct{})
	c := newTestController(t, bc, func() { close(done) }, 10*time.Millisecond)

	require.True(t, c.ShutDown(context.Background(), false, "maintenance"))
	<-done

	bc.mu.Lock()
	defer bc.mu.Unlock()
	require.Len(t, bc.events, 2)
	starting, ok := bc.events[1].(*events.ShutDownStartingEvent)
	require.True(t, ok)
	assert.Equal(t, "maintenance", starting.Reason)
}
