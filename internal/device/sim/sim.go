// Package sim provides a simulated card reader driven by a YAML scenario.
//
// The simulator is used when no physical reader is attached and by tests
// that need a Proxy with realistic timing and cancellation behaviour.
package sim

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kiosk-device/cardhub/internal/device"
)

const defaultReadTimeout = 30 * time.Second

// Simulator implements device.Proxy.
type Simulator struct {
	mu       sync.Mutex
	scenario *Scenario
	notifier device.Notifier
	log      *logrus.Entry

	// Read in flight
	abort     chan struct{}
	abortOnce *sync.Once
	authCh    chan bool

	// Health polling
	healthInterval time.Duration
	healthStop     chan struct{}
	healthPolls    atomic.Int64
	lastHeartbeat  time.Time
}

// Compile-time assertion that Simulator implements device.Proxy
var _ device.Proxy = (*Simulator)(nil)

// New creates a simulator for scenario. A nil scenario uses DefaultScenario.
func New(scenario *Scenario, log *logrus.Entry) *Simulator {
	if scenario == nil {
		scenario = DefaultScenario()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Simulator{
		scenario:       scenario,
		log:            log.WithField("component", "simulator"),
		healthInterval: 10 * time.Second,
		lastHeartbeat:  time.Now(),
	}
}

// SetNotifier registers the receiver of unsolicited device events.
func (s *Simulator) SetNotifier(n device.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// SetHealthInterval sets the idle polling period.
func (s *Simulator) SetHealthInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthInterval = d
}

// SetConnected simulates the reader being plugged in or unplugged.
func (s *Simulator) SetConnected(connected bool) {
	s.mu.Lock()
	changed := s.scenario.Connected != connected
	s.scenario.Connected = connected
	s.mu.Unlock()

	if !changed {
		return
	}
	if connected {
		s.notify(device.EventCardReaderConnected)
	} else {
		s.notify(device.EventCardReaderDisconnected)
	}
	s.notify(device.EventCardReaderState)
}

// SetTampered simulates the tamper switch.
func (s *Simulator) SetTampered(tampered bool) {
	s.mu.Lock()
	s.scenario.Tampered = tampered
	s.mu.Unlock()

	if tampered {
		s.notify(device.EventDeviceTampered)
	}
}

// RemoveCard simulates a card being pulled while idle.
func (s *Simulator) RemoveCard() {
	s.mu.Lock()
	s.scenario.Inserted = device.NotInserted
	s.mu.Unlock()
	s.notify(device.EventCardRemoved)
}

// SetFailure makes op fail with a driver error carrying msg. An empty msg
// clears the failure.
func (s *Simulator) SetFailure(op, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scenario.Failures == nil {
		s.scenario.Failures = make(map[string]string)
	}
	if msg == "" {
		delete(s.scenario.Failures, op)
		return
	}
	s.scenario.Failures[op] = msg
}

// SetReadScript replaces the card-read script.
func (s *Simulator) SetReadScript(r ReadScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenario.Read = r
}

// HealthPolls returns how many idle health polls have run.
func (s *Simulator) HealthPolls() int64 {
	return s.healthPolls.Load()
}

// HealthTimerRunning reports whether idle polling is active.
func (s *Simulator) HealthTimerRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthStop != nil
}

// IsConnected reports the simulated connectivity.
func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenario.Connected
}

// SupportsEMV reports the simulated chip capability.
func (s *Simulator) SupportsEMV() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenario.SupportsEMV
}

// UnitHealth returns the scripted health.
func (s *Simulator) UnitHealth(ctx context.Context) (*device.UnitHealth, error) {
	if err := s.check(ctx, "UnitHealth"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.scenario.Health
	return &device.UnitHealth{
		Status:          h.Status,
		FirmwareVersion: h.FirmwareVersion,
		BatteryPercent:  h.BatteryPercent,
		LastHeartbeat:   s.lastHeartbeat,
		Faults:          append([]string(nil), h.Faults...),
	}, nil
}

// Reboot simulates a reader restart. The reader reports disconnected for
// RebootDelay and then reconnects.
func (s *Simulator) Reboot(ctx context.Context) (bool, error) {
	if err := s.check(ctx, "Reboot"); err != nil {
		return false, err
	}

	s.mu.Lock()
	delay := s.scenario.RebootDelay
	s.mu.Unlock()

	s.SetConnected(false)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		s.SetConnected(true)
		return false, ctx.Err()
	}
	s.SetConnected(true)
	return true, nil
}

// ReadConfig returns the configured value for group/index.
func (s *Simulator) ReadConfig(ctx context.Context, group, index string) (string, error) {
	if err := s.check(ctx, "ReadConfig"); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.scenario.Config[group][index]
	if !ok {
		return "", device.NormalizeError(errors.New("INVALID_PARAMETER: unknown config "+group+"/"+index), nil)
	}
	return v, nil
}

// WriteConfig stores value under group/index.
func (s *Simulator) WriteConfig(ctx context.Context, group, index, value string) (bool, error) {
	if err := s.check(ctx, "WriteConfig"); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scenario.Config == nil {
		s.scenario.Config = make(map[string]map[string]string)
	}
	if s.scenario.Config[group] == nil {
		s.scenario.Config[group] = make(map[string]string)
	}
	s.scenario.Config[group][index] = value
	return true, nil
}

// CheckIfCardInserted returns the scripted slot state.
func (s *Simulator) CheckIfCardInserted(ctx context.Context) (device.InsertedStatus, error) {
	if err := s.check(ctx, "CheckIfCardInserted"); err != nil {
		return device.InsertedUnknown, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scenario.Inserted == "" {
		return device.InsertedUnknown, nil
	}
	return s.scenario.Inserted, nil
}

// ReadCard plays the read script. Cancellation through ctx or ReadCancel
// produces a Cancelled result; running past the timeout produces Timeout.
func (s *Simulator) ReadCard(ctx context.Context, req device.CardReadRequest, onResult device.ResultFunc, onProgress device.ProgressFunc) error {
	if err := s.check(ctx, "ReadCard"); err != nil {
		return err
	}

	abort, authCh, err := s.beginRead()
	if err != nil {
		return err
	}
	defer s.endRead()

	s.mu.Lock()
	script := s.scenario.Read
	s.mu.Unlock()

	timeout := req.Timeout(script.Timeout)
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	finish := func(status device.ResponseStatus) error {
		s.log.WithField("status", status).Info("Card read ended early")
		if onResult != nil {
			onResult(&device.UnencryptedCardRead{CardReadBase: device.CardReadBase{ResponseStatus: status}})
		}
		return nil
	}

	for _, step := range script.Progress {
		if status := wait(ctx, abort, deadline.C, step.After); status != "" {
			return finish(status)
		}
		if step.Name == device.ProgressCardInserted {
			s.setInserted(device.Inserted)
		}
		if step.Name == device.ProgressCardRemoved {
			s.setInserted(device.NotInserted)
		}
		if onProgress != nil {
			onProgress(step.Name, step.Data)
		}
	}

	if status := wait(ctx, abort, deadline.C, script.Delay); status != "" {
		return finish(status)
	}

	result := script.Result.build()

	if script.AwaitAuthorization && result != nil && result.Status() == device.StatusSuccess {
		if onProgress != nil {
			onProgress("AuthorizationRequestedEvent", "")
		}
		select {
		case authorized := <-authCh:
			if !authorized {
				result.SetStatus(device.StatusFailed)
			}
		case <-ctx.Done():
			return finish(device.StatusCancelled)
		case <-abort:
			return finish(device.StatusCancelled)
		case <-deadline.C:
			return finish(device.StatusTimeout)
		}
	}

	if onResult != nil {
		onResult(result)
	}
	return nil
}

// ReadCancel aborts the read in flight, if any.
func (s *Simulator) ReadCancel() {
	s.mu.Lock()
	abort, once := s.abort, s.abortOnce
	s.mu.Unlock()

	if abort == nil {
		return
	}
	once.Do(func() { close(abort) })
}

// SetAuthorizationResponse delivers the authorization decision to a read
// that is waiting for one. Decisions with no waiting read are dropped.
func (s *Simulator) SetAuthorizationResponse(authorized bool) {
	s.mu.Lock()
	ch := s.authCh
	s.mu.Unlock()

	if ch == nil {
		s.log.Warn("Authorization response with no read in progress")
		return
	}
	select {
	case ch <- authorized:
	default:
	}
}

// CardReaderState returns a snapshot of the simulated reader.
func (s *Simulator) CardReaderState() device.CardReaderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// UnitData returns the simulated unit identity.
func (s *Simulator) UnitData() *device.UnitData {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.scenario.Unit
	return &device.UnitData{
		SerialNumber:       u.SerialNumber,
		DeviceSerialNumber: u.DeviceSerialNumber,
		Model:              u.Model,
		FirmwareVersion:    u.FirmwareVersion,
		IsTampered:         s.scenario.Tampered,
	}
}

// StartHealthTimer resumes idle polling. Calling it while running is a no-op.
func (s *Simulator) StartHealthTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthStop != nil {
		return
	}
	stop := make(chan struct{})
	s.healthStop = stop
	go s.pollHealth(stop, s.healthInterval)
}

// StopHealthTimer suspends idle polling.
func (s *Simulator) StopHealthTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthStop == nil {
		return
	}
	close(s.healthStop)
	s.healthStop = nil
}

func (s *Simulator) pollHealth(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.healthPolls.Add(1)
			s.mu.Lock()
			if s.scenario.Connected {
				s.lastHeartbeat = time.Now()
			}
			s.mu.Unlock()
		}
	}
}

func (s *Simulator) beginRead() (chan struct{}, chan bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abort != nil {
		return nil, nil, device.NormalizeError(errors.New("OPERATION_IN_PROGRESS"), nil)
	}
	s.abort = make(chan struct{})
	s.abortOnce = &sync.Once{}
	s.authCh = make(chan bool, 1)
	return s.abort, s.authCh, nil
}

func (s *Simulator) endRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abort = nil
	s.abortOnce = nil
	s.authCh = nil
}

func (s *Simulator) setInserted(status device.InsertedStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenario.Inserted = status
}

// check applies context, connectivity and scripted failures to op.
func (s *Simulator) check(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return device.NormalizeError(ctx.Err(), nil)
	default:
	}

	s.mu.Lock()
	connected := s.scenario.Connected
	msg := s.scenario.Failures[op]
	s.mu.Unlock()

	if !connected {
		return device.NormalizeError(device.ErrNotConnected, op)
	}
	if msg != "" {
		return device.NormalizeError(errors.New(strings.ToUpper(msg)), op)
	}
	return nil
}

func (s *Simulator) notify(name string) {
	s.mu.Lock()
	n := s.notifier
	state := s.stateLocked()
	s.mu.Unlock()

	if n != nil {
		n.DeviceEvent(name, state)
	}
}

func (s *Simulator) stateLocked() device.CardReaderState {
	return device.CardReaderState{
		IsConnected:    s.scenario.Connected,
		SupportsEMV:    s.scenario.SupportsEMV,
		IsTampered:     s.scenario.Tampered,
		SerialNumber:   s.scenario.Unit.SerialNumber,
		LastUpdateTime: time.Now(),
	}
}

// wait sleeps for d. It returns "" when d elapsed, or the status that ended
// the wait early.
func wait(ctx context.Context, abort <-chan struct{}, deadline <-chan time.Time, d time.Duration) device.ResponseStatus {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return ""
	case <-ctx.Done():
		return device.StatusCancelled
	case <-abort:
		return device.StatusCancelled
	case <-deadline:
		return device.StatusTimeout
	}
}
