package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiosk-device/cardhub/internal/device"
	"github.com/kiosk-device/cardhub/internal/events"
	"github.com/kiosk-device/cardhub/internal/services"
)

func TestProcessorTableCoversEveryKind(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	for _, k := range Kinds() {
		_, ok := o.processors[k]
		assert.True(t, ok, "no processor for %s", k)
	}
	assert.Len(t, o.processors, len(Kinds()))
}

func TestSubmitDropsMalformedCommands(t *testing.T) {
	o, hook := newTestOrchestrator(t, &MockProxy{})
	caller := &recordingReplier{}

	o.Submit(context.Background(), nil, "c1", caller)
	o.Submit(context.Background(), &Command{Kind: KindGetUnitHealth}, "c1", caller)
	o.Submit(context.Background(), &Command{RequestID: uuid.New()}, "c1", caller)

	assert.Equal(t, 0, caller.len())
	assert.Equal(t, 0, o.Snapshot().Depth)

	dropped := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "Dropping malformed command" {
			dropped++
		}
	}
	assert.Equal(t, 3, dropped)
}

func TestImmediateCommandBypassesQueue(t *testing.T) {
	proxy := &MockProxy{IsConnectedFunc: func() bool { return true }}
	o, _ := newTestOrchestrator(t, proxy)
	caller := &recordingReplier{}

	o.SetQueuePaused(true)
	read := mustCommand(t, KindReadCard, nil)
	o.Submit(context.Background(), read, "c1", caller)
	require.Equal(t, 1, o.Snapshot().Depth)

	probe := mustCommand(t, KindIsConnected, nil)
	o.Submit(context.Background(), probe, "c1", caller)

	// Answered before Submit returned, without touching the queue.
	evs := caller.all()
	require.Len(t, evs, 1)
	resp, ok := evs[0].(*events.IsConnectedResponse)
	require.True(t, ok)
	assert.Equal(t, probe.RequestID, resp.RequestID)
	assert.True(t, resp.IsConnected)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, o.Snapshot().Depth)

	readCards, _, stops, _ := proxy.counts()
	assert.Zero(t, readCards)
	assert.Zero(t, stops, "immediate commands do not suspend health polling")
}

func TestSubmitOverridesQueueableFlag(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	caller := &recordingReplier{}

	o.SetQueuePaused(true)
	cmd := &Command{Kind: KindIsConnected, RequestID: uuid.New(), IsQueueable: true}
	o.Submit(context.Background(), cmd, "c1", caller)

	assert.False(t, cmd.IsQueueable)
	assert.Equal(t, 0, o.Snapshot().Depth)
	assert.Equal(t, 1, caller.len())
}

func TestQueueExecutesInSubmissionOrder(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	callers := map[string]*recordingReplier{"a": {}, "b": {}, "c": {}}
	order := make([]uuid.UUID, 0, 30)

	o.SetQueuePaused(true)
	conns := []string{"a", "b", "c"}
	for i := 0; i < 30; i++ {
		conn := conns[i%len(conns)]
		cmd := mustCommand(t, KindGetCardInsertedStatus, nil)
		order = append(order, cmd.RequestID)
		o.Submit(context.Background(), cmd, conn, callers[conn])
	}

	var (
		mu       sync.Mutex
		executed []uuid.UUID
	)
	all := ReplierFunc(func(ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		executed = append(executed, ev.(events.Response).CorrelationID())
		return nil
	})
	// Route every reply through one recorder to observe the global order.
	o.mu.Lock()
	for _, qc := range o.queue {
		qc.Caller = all
	}
	o.mu.Unlock()

	o.SetQueuePaused(false)
	waitIdle(t, o)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, order, executed)
}

func TestAtMostOneCommandActive(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	proxy := &MockProxy{
		CheckIfCardInsertedFunc: func(ctx context.Context) (device.InsertedStatus, error) {
			n := inflight.Add(1)
			for {
				m := maxInflight.Load()
				if n <= m || maxInflight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inflight.Add(-1)
			return device.NotInserted, nil
		},
	}
	o, _ := newTestOrchestrator(t, proxy)
	caller := &recordingReplier{}

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		batch := make([]*Command, 10)
		for i := range batch {
			batch[i] = mustCommand(t, KindGetCardInsertedStatus, nil)
		}
		wg.Add(1)
		go func(conn string, batch []*Command) {
			defer wg.Done()
			for _, cmd := range batch {
				o.Submit(context.Background(), cmd, conn, caller)
			}
		}(uuid.NewString(), batch)
	}
	wg.Wait()

	caller.waitFor(t, 80)
	assert.Equal(t, int32(1), maxInflight.Load())
}

func TestPauseHaltsDequeueAndResumeDrainsInOrder(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	caller := &recordingReplier{}

	o.SetQueuePaused(true)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		cmd := mustCommand(t, KindGetUnitHealth, nil)
		ids = append(ids, cmd.RequestID)
		o.Submit(context.Background(), cmd, "c1", caller)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, caller.len())
	snap := o.Snapshot()
	assert.True(t, snap.Paused)
	assert.False(t, snap.Running)
	assert.Equal(t, 3, snap.Depth)

	o.SetQueuePaused(false)
	evs := caller.waitFor(t, 3)
	for i, resp := range responsesOf(evs) {
		assert.Equal(t, ids[i], resp.CorrelationID())
		assert.True(t, resp.Succeeded())
	}
}

func TestPauseLetsActiveCommandFinish(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	proxy := &MockProxy{ReadCardFunc: blockingRead(started, release)}
	o, _ := newTestOrchestrator(t, proxy)
	caller := &recordingReplier{}

	o.Submit(context.Background(), mustCommand(t, KindReadCard, nil), "c1", caller)
	<-started
	o.Submit(context.Background(), mustCommand(t, KindGetUnitHealth, nil), "c1", caller)

	o.SetQueuePaused(true)
	close(release)

	evs := caller.waitFor(t, 1)
	assert.IsType(t, &events.EMVCardReadResponse{}, evs[0])

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, caller.len(), "paused queue must not dequeue")
	assert.Equal(t, 1, o.Snapshot().Depth)

	o.SetQueuePaused(false)
	caller.waitFor(t, 2)
}

func TestUnknownKindIsDroppedAndWorkerContinues(t *testing.T) {
	o, hook := newTestOrchestrator(t, &MockProxy{})
	metrics := newMockMetrics()
	o.SetMetrics(metrics)
	caller := &recordingReplier{}

	o.Submit(context.Background(), &Command{Kind: "FormatDisk", RequestID: uuid.New()}, "c1", caller)
	next := mustCommand(t, KindGetUnitHealth, nil)
	o.Submit(context.Background(), next, "c1", caller)

	evs := caller.waitFor(t, 1)
	waitIdle(t, o)
	require.Len(t, evs, 1)
	assert.Equal(t, next.RequestID, evs[0].(events.Response).CorrelationID())
	assert.Equal(t, 1, metrics.result("FormatDisk/unknown"))

	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == "Unknown command kind, dropping" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestProcessorFailureYieldsFailedResponse(t *testing.T) {
	calls := 0
	proxy := &MockProxy{
		UnitHealthFunc: func(ctx context.Context) (*device.UnitHealth, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("device not_ready")
			}
			return &device.UnitHealth{Status: "OK"}, nil
		},
	}
	o, _ := newTestOrchestrator(t, proxy)
	audit := &MockAuditLogger{}
	o.SetAuditLogger(audit)
	caller := &recordingReplier{}

	o.Submit(context.Background(), mustCommand(t, KindGetUnitHealth, nil), "c1", caller)
	o.Submit(context.Background(), mustCommand(t, KindGetUnitHealth, nil), "c1", caller)

	resps := responsesOf(caller.waitFor(t, 2))
	assert.False(t, resps[0].Succeeded())
	assert.True(t, resps[1].Succeeded())
	assert.Equal(t, "OK", resps[1].(*events.UnitHealthResponse).UnitHealth.Status)

	waitIdle(t, o)
	records := audit.snapshot()
	require.Len(t, records, 2)
	assert.Equal(t, ResultError, records[0].Outcome)
	assert.Equal(t, ResultSuccess, records[1].Outcome)
	assert.Equal(t, "c1", records[0].ConnectionID)
}

func TestProcessorPanicIsRecovered(t *testing.T) {
	proxy := &MockProxy{
		CheckIfCardInsertedFunc: func(ctx context.Context) (device.InsertedStatus, error) {
			panic("driver exploded")
		},
	}
	o, _ := newTestOrchestrator(t, proxy)
	caller := &recordingReplier{}

	o.Submit(context.Background(), mustCommand(t, KindGetCardInsertedStatus, nil), "c1", caller)
	o.Submit(context.Background(), mustCommand(t, KindGetUnitHealth, nil), "c1", caller)

	resps := responsesOf(caller.waitFor(t, 2))
	assert.IsType(t, &events.CardInsertedStatusResponse{}, resps[0])
	assert.False(t, resps[0].Succeeded())
	assert.True(t, resps[1].Succeeded())
}

func TestHealthTimerSuspendedPerQueuedCommand(t *testing.T) {
	proxy := &MockProxy{}
	o, _ := newTestOrchestrator(t, proxy)
	caller := &recordingReplier{}

	o.Submit(context.Background(), mustCommand(t, KindGetUnitHealth, nil), "c1", caller)
	o.Submit(context.Background(), mustCommand(t, KindGetCardInsertedStatus, nil), "c1", caller)
	caller.waitFor(t, 2)
	waitIdle(t, o)

	_, _, stops, starts := proxy.counts()
	assert.Equal(t, 2, stops)
	assert.Equal(t, 2, starts)
}

func TestCancelQueuedCommandSkipsProcessor(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	proxy := &MockProxy{ReadCardFunc: blockingRead(started, release)}
	o, _ := newTestOrchestrator(t, proxy)
	metrics := newMockMetrics()
	o.SetMetrics(metrics)
	caller := &recordingReplier{}

	a := mustCommand(t, KindReadCard, nil)
	b := mustCommand(t, KindReadCard, nil)
	o.Submit(context.Background(), a, "c1", caller)
	o.Submit(context.Background(), b, "c1", caller)
	<-started

	cancelID := uuid.New()
	assert.True(t, o.Cancel(cancelID, b.RequestID, caller))

	evs := caller.waitFor(t, 1)
	ack, ok := evs[0].(*events.CancelCommandResponse)
	require.True(t, ok)
	assert.True(t, ack.Success)
	assert.Equal(t, cancelID, ack.RequestID)
	assert.Equal(t, b.RequestID, ack.TargetRequestID)

	close(release)
	evs = caller.waitFor(t, 3)
	waitIdle(t, o)

	first, ok := evs[1].(*events.EMVCardReadResponse)
	require.True(t, ok)
	assert.Equal(t, a.RequestID, first.RequestID)
	assert.True(t, first.Success)

	second, ok := evs[2].(*events.UnencryptedCardReadResponse)
	require.True(t, ok)
	assert.Equal(t, b.RequestID, second.RequestID)
	assert.False(t, second.Success)
	assert.Equal(t, device.StatusCancelled, second.Data.Status())

	readCards, _, _, _ := proxy.counts()
	assert.Equal(t, 1, readCards, "cancelled command never reaches the device")
	assert.Equal(t, 0, o.Snapshot().Depth)
	assert.Equal(t, 1, metrics.cancellation(CancelSourceQueued))
	assert.Equal(t, 1, metrics.cancellation(CancelSourceSkipped))
}

func TestCancelUnknownTarget(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	caller := &recordingReplier{}

	assert.False(t, o.Cancel(uuid.New(), uuid.New(), caller))
	evs := caller.all()
	require.Len(t, evs, 1)
	assert.False(t, evs[0].(*events.CancelCommandResponse).Success)
}

func TestCancelActiveNonReadCommandIsNotFound(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	proxy := &MockProxy{
		RebootFunc: func(ctx context.Context) (bool, error) {
			close(entered)
			<-release
			return true, nil
		},
	}
	o, _ := newTestOrchestrator(t, proxy)
	caller := &recordingReplier{}

	reboot := mustCommand(t, KindRebootCardReader, nil)
	o.Submit(context.Background(), reboot, "c1", caller)
	<-entered

	assert.False(t, o.Cancel(uuid.New(), reboot.RequestID, caller))
	close(release)

	resps := responsesOf(caller.waitFor(t, 2))
	assert.True(t, resps[1].Succeeded())
}

func TestDisconnectPurgesOnlyThatConnection(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	metrics := newMockMetrics()
	o.SetMetrics(metrics)
	gone := &recordingReplier{}
	stays := &recordingReplier{}

	o.SetQueuePaused(true)
	var kept []uuid.UUID
	for i := 0; i < 6; i++ {
		cmd := mustCommand(t, KindGetUnitHealth, nil)
		if i%2 == 0 {
			o.Submit(context.Background(), cmd, "gone", gone)
		} else {
			kept = append(kept, cmd.RequestID)
			o.Submit(context.Background(), cmd, "stays", stays)
		}
	}

	o.Disconnect("gone")
	assert.False(t, o.Snapshot().Paused, "disconnect leaves the queue running")

	resps := responsesOf(stays.waitFor(t, 3))
	waitIdle(t, o)
	for i, r := range resps {
		assert.Equal(t, kept[i], r.CorrelationID())
	}
	assert.Equal(t, 0, gone.len())
	assert.Equal(t, 3, metrics.cancellation(CancelSourceDisconnect))
}

func TestDisconnectCancelsActiveReadCard(t *testing.T) {
	started := make(chan struct{}, 1)
	proxy := &MockProxy{ReadCardFunc: blockingRead(started, make(chan struct{}))}
	o, _ := newTestOrchestrator(t, proxy)
	caller := &recordingReplier{}
	other := &recordingReplier{}

	read := mustCommand(t, KindReadCard, nil)
	o.Submit(context.Background(), read, "c1", caller)
	<-started
	o.Submit(context.Background(), mustCommand(t, KindGetUnitHealth, nil), "c2", other)

	o.Disconnect("c1")

	evs := caller.waitFor(t, 1)
	resp, ok := evs[0].(*events.UnencryptedCardReadResponse)
	require.True(t, ok)
	assert.False(t, resp.Success)
	assert.Equal(t, device.StatusCancelled, resp.Data.Status())

	other.waitFor(t, 1)
	waitIdle(t, o)

	_, cancels, _, _ := proxy.counts()
	assert.Equal(t, 1, cancels)
	assert.Equal(t, 0, o.Registry().Len())
}

func TestReportAuthorizeResult(t *testing.T) {
	proxy := &MockProxy{}
	o, _ := newTestOrchestrator(t, proxy)
	caller := &recordingReplier{}

	id := uuid.New()
	o.ReportAuthorizeResult(id, true, caller)

	evs := caller.all()
	require.Len(t, evs, 1)
	resp := evs[0].(*events.ReportAuthorizeResultResponse)
	assert.Equal(t, id, resp.RequestID)
	assert.True(t, resp.Success)

	proxy.mu.Lock()
	defer proxy.mu.Unlock()
	assert.Equal(t, []bool{true}, proxy.authorized)
}

func TestStopRejectsNewCommands(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	caller := &recordingReplier{}

	o.SetQueuePaused(true)
	o.Submit(context.Background(), mustCommand(t, KindGetUnitHealth, nil), "c1", caller)
	<-o.Stop()

	o.Submit(context.Background(), mustCommand(t, KindGetUnitHealth, nil), "c1", caller)
	o.SetQueuePaused(false)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, caller.len())
	assert.Equal(t, 0, o.Snapshot().Depth)
}

func TestServiceBackedCommands(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	caller := &recordingReplier{}

	// No services configured.
	o.Submit(context.Background(), mustCommand(t, KindCheckActivation, nil), "c1", caller)
	o.Submit(context.Background(), mustCommand(t, KindCheckDeviceStatus, nil), "c1", caller)
	resps := responsesOf(caller.waitFor(t, 2))
	assert.False(t, resps[0].Succeeded())
	assert.False(t, resps[1].Succeeded())

	activation := &MockActivation{Result: true}
	status := &MockDeviceStatus{Response: &services.StandardResponse{Success: true, StatusCode: 200}}
	o.SetActivationService(activation)
	o.SetDeviceStatusService(status)

	o.Submit(context.Background(), mustCommand(t, KindCheckActivation, services.ActivationRequest{KioskID: 12}), "c1", caller)
	o.Submit(context.Background(), mustCommand(t, KindCheckDeviceStatus, nil), "c1", caller)
	resps = responsesOf(caller.waitFor(t, 4))
	assert.IsType(t, &events.CheckActivationResponse{}, resps[2])
	assert.True(t, resps[2].Succeeded())
	assert.True(t, resps[3].Succeeded())

	activation.mu.Lock()
	assert.Equal(t, int64(12), activation.reqs[0].KioskID)
	activation.mu.Unlock()

	status.mu.Lock()
	assert.Nil(t, status.statuses[0], "empty request asks the service to build the status")
	status.mu.Unlock()

	status.Response = &services.StandardResponse{Success: true, StatusCode: 202}
	o.Submit(context.Background(), mustCommand(t, KindCheckDeviceStatus, services.DeviceStatus{KioskID: 4}), "c1", caller)
	resps = responsesOf(caller.waitFor(t, 5))
	assert.False(t, resps[4].Succeeded(), "only a 200 counts as success")
}

func TestRebootPostsStatus(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	status := &MockDeviceStatus{Reboots: make(chan bool, 1)}
	o.SetDeviceStatusService(status)
	caller := &recordingReplier{}

	o.Submit(context.Background(), mustCommand(t, KindRebootCardReader, nil), "c1", caller)
	resps := responsesOf(caller.waitFor(t, 1))
	assert.True(t, resps[0].Succeeded())

	select {
	case ok := <-status.Reboots:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("reboot status not posted")
	}
}

func TestConfigurationCommands(t *testing.T) {
	proxy := &MockProxy{
		ReadConfigFunc: func(ctx context.Context, group, index string) (string, error) {
			return group + ":" + index, nil
		},
		WriteConfigFunc: func(ctx context.Context, group, index, value string) (bool, error) {
			return value != "", nil
		},
	}
	o, _ := newTestOrchestrator(t, proxy)
	caller := &recordingReplier{}

	o.Submit(context.Background(), mustCommand(t, KindReadConfiguration, ReadConfigRequest{Group: "3", Index: "7"}), "c1", caller)
	o.Submit(context.Background(), mustCommand(t, KindWriteConfiguration, WriteConfigRequest{Group: "3", Index: "7", Value: "1"}), "c1", caller)
	o.Submit(context.Background(), mustCommand(t, KindWriteConfiguration, WriteConfigRequest{Group: "3", Index: "7"}), "c1", caller)

	resps := responsesOf(caller.waitFor(t, 3))
	read := resps[0].(*events.SimpleResponse)
	assert.Equal(t, events.NameReadConfiguration, read.EventName())
	assert.Equal(t, "3:7", read.Data)
	assert.True(t, read.Success)
	assert.Equal(t, events.NameWriteConfiguration, resps[1].EventName())
	assert.True(t, resps[1].Succeeded())
	assert.False(t, resps[2].Succeeded())
}

func TestValidateVersionCommand(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	caller := &recordingReplier{}

	o.Submit(context.Background(), mustCommand(t, KindValidateVersion, ValidateVersionRequest{DeviceServiceClientVersion: "2.0.9"}), "c1", caller)
	o.Submit(context.Background(), mustCommand(t, KindValidateVersion, ValidateVersionRequest{DeviceServiceClientVersion: "1.9.0"}), "c1", caller)

	resps := responsesOf(caller.waitFor(t, 2))
	ok := resps[0].(*events.ValidateVersionResponse)
	assert.True(t, ok.Success)
	assert.True(t, ok.ValidateVersion.IsCompatible)
	assert.Equal(t, "2.4.1", ok.ValidateVersion.DeviceServiceVersion)

	old := resps[1].(*events.ValidateVersionResponse)
	assert.True(t, old.Success, "success reports that the check ran")
	assert.False(t, old.ValidateVersion.IsCompatible)
}

func TestInvalidPayloadFailsCommand(t *testing.T) {
	o, _ := newTestOrchestrator(t, &MockProxy{})
	caller := &recordingReplier{}

	cmd := &Command{Kind: KindReadConfiguration, RequestID: uuid.New(), Request: []byte(`"not an object"`)}
	o.Submit(context.Background(), cmd, "c1", caller)

	resps := responsesOf(caller.waitFor(t, 1))
	assert.Equal(t, cmd.RequestID, resps[0].CorrelationID())
	assert.False(t, resps[0].Succeeded())
}
