package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/kiosk-device/cardhub/internal/device"
	"github.com/kiosk-device/cardhub/internal/events"
	"github.com/kiosk-device/cardhub/internal/services"
)

// MockProxy is a device.Proxy whose behaviour is set per test.
type MockProxy struct {
	IsConnectedFunc         func() bool
	UnitHealthFunc          func(ctx context.Context) (*device.UnitHealth, error)
	RebootFunc              func(ctx context.Context) (bool, error)
	ReadConfigFunc          func(ctx context.Context, group, index string) (string, error)
	WriteConfigFunc         func(ctx context.Context, group, index, value string) (bool, error)
	ReadCardFunc            func(ctx context.Context, req device.CardReadRequest, onResult device.ResultFunc, onProgress device.ProgressFunc) error
	CheckIfCardInsertedFunc func(ctx context.Context) (device.InsertedStatus, error)

	mu           sync.Mutex
	readCards    int
	readCancels  int
	healthStops  int
	healthStarts int
	authorized   []bool
}

var _ device.Proxy = (*MockProxy)(nil)

func (m *MockProxy) IsConnected() bool {
	if m.IsConnectedFunc != nil {
		return m.IsConnectedFunc()
	}
	return true
}

func (m *MockProxy) SupportsEMV() bool { return true }

func (m *MockProxy) UnitHealth(ctx context.Context) (*device.UnitHealth, error) {
	if m.UnitHealthFunc != nil {
		return m.UnitHealthFunc(ctx)
	}
	return &device.UnitHealth{Status: "OK"}, nil
}

func (m *MockProxy) Reboot(ctx context.Context) (bool, error) {
	if m.RebootFunc != nil {
		return m.RebootFunc(ctx)
	}
	return true, nil
}

func (m *MockProxy) ReadConfig(ctx context.Context, group, index string) (string, error) {
	if m.ReadConfigFunc != nil {
		return m.ReadConfigFunc(ctx, group, index)
	}
	return "", nil
}

func (m *MockProxy) WriteConfig(ctx context.Context, group, index, value string) (bool, error) {
	if m.WriteConfigFunc != nil {
		return m.WriteConfigFunc(ctx, group, index, value)
	}
	return true, nil
}

func (m *MockProxy) ReadCard(ctx context.Context, req device.CardReadRequest, onResult device.ResultFunc, onProgress device.ProgressFunc) error {
	m.mu.Lock()
	m.readCards++
	m.mu.Unlock()
	if m.ReadCardFunc != nil {
		return m.ReadCardFunc(ctx, req, onResult, onProgress)
	}
	onResult(&device.EMVCardRead{CardReadBase: device.CardReadBase{ResponseStatus: device.StatusSuccess}})
	return nil
}

func (m *MockProxy) ReadCancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCancels++
}

func (m *MockProxy) CheckIfCardInserted(ctx context.Context) (device.InsertedStatus, error) {
	if m.CheckIfCardInsertedFunc != nil {
		return m.CheckIfCardInsertedFunc(ctx)
	}
	return device.NotInserted, nil
}

func (m *MockProxy) StartHealthTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthStarts++
}

func (m *MockProxy) StopHealthTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthStops++
}

func (m *MockProxy) CardReaderState() device.CardReaderState {
	return device.CardReaderState{IsConnected: m.IsConnected(), SupportsEMV: true}
}

func (m *MockProxy) UnitData() *device.UnitData {
	return &device.UnitData{SerialNumber: "MOCK-1"}
}

func (m *MockProxy) SetAuthorizationResponse(authorized bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorized = append(m.authorized, authorized)
}

func (m *MockProxy) counts() (readCards, readCancels, stops, starts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCards, m.readCancels, m.healthStops, m.healthStarts
}

// blockingRead returns a ReadCardFunc that blocks until release is closed
// or ctx is done. started receives once the read is in flight.
func blockingRead(started chan<- struct{}, release <-chan struct{}) func(context.Context, device.CardReadRequest, device.ResultFunc, device.ProgressFunc) error {
	return func(ctx context.Context, _ device.CardReadRequest, onResult device.ResultFunc, _ device.ProgressFunc) error {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-release:
			onResult(&device.EMVCardRead{CardReadBase: device.CardReadBase{ResponseStatus: device.StatusSuccess}})
		case <-ctx.Done():
			onResult(&device.UnencryptedCardRead{CardReadBase: device.CardReadBase{ResponseStatus: device.StatusCancelled}})
		}
		return nil
	}
}

// MockAuditLogger records audit calls.
type MockAuditLogger struct {
	mu      sync.Mutex
	Records []AuditRecord
}

type AuditRecord struct {
	Action       string
	RequestID    string
	ConnectionID string
	Outcome      string
	Latency      time.Duration
}

func (m *MockAuditLogger) LogCommand(_ context.Context, action, requestID, connectionID, outcome string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, AuditRecord{
		Action:       action,
		RequestID:    requestID,
		ConnectionID: connectionID,
		Outcome:      outcome,
		Latency:      latency,
	})
}

func (m *MockAuditLogger) snapshot() []AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditRecord(nil), m.Records...)
}

// MockMetrics records metric observations.
type MockMetrics struct {
	mu            sync.Mutex
	results       map[string]int
	cancellations map[string]int
	depth         int
}

func newMockMetrics() *MockMetrics {
	return &MockMetrics{results: map[string]int{}, cancellations: map[string]int{}}
}

func (m *MockMetrics) ObserveCommand(kind, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[kind+"/"+result]++
}

func (m *MockMetrics) SetQueueDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = depth
}

func (m *MockMetrics) IncCancellation(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancellations[source]++
}

func (m *MockMetrics) result(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[key]
}

func (m *MockMetrics) cancellation(source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancellations[source]
}

// MockActivation is an ActivationService.
type MockActivation struct {
	Result bool
	Err    error

	mu   sync.Mutex
	reqs []services.ActivationRequest
}

func (m *MockActivation) CheckAndActivate(_ context.Context, req services.ActivationRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return m.Result, m.Err
}

// MockDeviceStatus is a DeviceStatusService.
type MockDeviceStatus struct {
	Response *services.StandardResponse
	Reboots  chan bool

	mu       sync.Mutex
	statuses []*services.DeviceStatus
}

func (m *MockDeviceStatus) PostDeviceStatus(_ context.Context, status *services.DeviceStatus) *services.StandardResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return m.Response
}

func (m *MockDeviceStatus) PostRebootStatus(_ context.Context, success bool) *services.StandardResponse {
	if m.Reboots != nil {
		m.Reboots <- success
	}
	return &services.StandardResponse{Success: true, StatusCode: 200}
}

// recordingReplier collects events sent to one session.
type recordingReplier struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingReplier) Send(ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingReplier) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recordingReplier) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// waitFor blocks until n events arrived and returns them.
func (r *recordingReplier) waitFor(t *testing.T, n int) []events.Event {
	t.Helper()
	require.Eventually(t, func() bool { return r.len() >= n }, 3*time.Second, 5*time.Millisecond,
		"expected %d events", n)
	return r.all()
}

// responses returns the events that answer a command, in order.
func responsesOf(evs []events.Event) []events.Response {
	var out []events.Response
	for _, ev := range evs {
		if resp, ok := ev.(events.Response); ok {
			out = append(out, resp)
		}
	}
	return out
}

func newTestOrchestrator(t *testing.T, proxy device.Proxy) (*Orchestrator, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	entry := logrus.NewEntry(logger)

	o := NewOrchestrator(proxy, events.NewGateway(entry), entry)
	o.SetVersion("2.4.1")
	t.Cleanup(func() {
		select {
		case <-o.Stop():
		case <-time.After(3 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return o, hook
}

func mustCommand(t *testing.T, kind Kind, payload any) *Command {
	t.Helper()
	cmd, err := NewCommand(kind, uuid.New(), payload)
	require.NoError(t, err)
	return cmd
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := o.Snapshot()
		return s.Depth == 0 && !s.Running
	}, 3*time.Second, 5*time.Millisecond)
}
