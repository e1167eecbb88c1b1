package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kiosk-device/cardhub/internal/cancel"
	"github.com/kiosk-device/cardhub/internal/device"
	"github.com/kiosk-device/cardhub/internal/events"
)

// processor executes one command kind. It returns the response to deliver
// to the caller; a returned error marks that response failed.
type processor func(ctx context.Context, qc *QueuedCommand) (events.Response, error)

// Orchestrator admits commands and executes them one at a time against the
// card reader.
type Orchestrator struct {
	proxy    device.Proxy
	gateway  *events.Gateway
	registry *cancel.Registry
	log      *logrus.Entry

	auditLogger  AuditLogger
	metrics      Metrics
	activation   ActivationService
	deviceStatus DeviceStatusService
	version      string

	processors map[Kind]processor

	// mu guards the queue state below. Immediate commands also execute
	// under it so they cannot interleave with a dequeue.
	mu      sync.Mutex
	queue   []*QueuedCommand
	active  *QueuedCommand
	paused  bool
	running bool
	stopped bool
	done    chan struct{} // closed when the current loop exits

	baseCtx context.Context
	stop    context.CancelFunc
}

// QueueSnapshot is a point-in-time view of the queue.
type QueueSnapshot struct {
	Depth           int       `json:"depth"`
	Paused          bool      `json:"paused"`
	Running         bool      `json:"running"`
	ActiveKind      Kind      `json:"activeKind,omitempty"`
	ActiveRequestID uuid.UUID `json:"activeRequestId,omitempty"`
}

// NewOrchestrator creates an orchestrator for proxy. Outbound events are
// logged through gateway.
func NewOrchestrator(proxy device.Proxy, gateway *events.Gateway, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if gateway == nil {
		gateway = events.NewGateway(log)
	}
	ctx, stop := context.WithCancel(context.Background())
	closed := make(chan struct{})
	close(closed)

	o := &Orchestrator{
		proxy:    proxy,
		gateway:  gateway,
		registry: cancel.NewRegistry(),
		log:      log.WithField("component", "orchestrator"),
		metrics:  noopMetrics{},
		done:     closed,
		baseCtx:  ctx,
		stop:     stop,
	}
	o.processors = o.processorTable()
	return o
}

// SetAuditLogger sets the audit logger.
func (o *Orchestrator) SetAuditLogger(logger AuditLogger) {
	o.auditLogger = logger
}

// SetMetrics sets the metrics sink. nil disables metrics.
func (o *Orchestrator) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	o.metrics = m
}

// SetActivationService sets the service behind CheckActivation.
func (o *Orchestrator) SetActivationService(s ActivationService) {
	o.activation = s
}

// SetDeviceStatusService sets the service behind CheckDeviceStatus and
// reboot reporting.
func (o *Orchestrator) SetDeviceStatusService(s DeviceStatusService) {
	o.deviceStatus = s
}

// SetVersion sets the service version reported by ValidateVersion.
func (o *Orchestrator) SetVersion(v string) {
	o.version = v
}

// Registry exposes the cancellation registry.
func (o *Orchestrator) Registry() *cancel.Registry {
	return o.registry
}

// Submit admits cmd from connectionID. Immediate kinds execute before Submit
// returns; all others are queued. Malformed commands are dropped.
func (o *Orchestrator) Submit(ctx context.Context, cmd *Command, connectionID string, caller Replier) {
	if cmd == nil || cmd.Kind == "" || cmd.RequestID == uuid.Nil {
		o.log.WithField("connectionId", connectionID).Warn("Dropping malformed command")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.IsQueueable = !cmd.Kind.Immediate()

	qc := &QueuedCommand{
		Command:      cmd,
		ConnectionID: connectionID,
		Caller:       caller,
		EnqueuedAt:   time.Now(),
		ctx:          ctx,
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		o.commandLog(qc).Warn("Orchestrator stopped, dropping command")
		return
	}

	if !cmd.IsQueueable {
		o.execute(qc, o.processors[cmd.Kind])
		return
	}

	o.queue = append(o.queue, qc)
	o.metrics.SetQueueDepth(len(o.queue))
	o.commandLog(qc).WithField("depth", len(o.queue)).Info("Command queued")
	o.ensureRunningLocked()
}

// ensureRunningLocked starts the worker loop unless one is running or the
// queue is paused. o.mu must be held.
func (o *Orchestrator) ensureRunningLocked() {
	if o.running || o.paused || o.stopped || len(o.queue) == 0 {
		return
	}
	o.running = true
	o.done = make(chan struct{})
	go o.run(o.done)
}

func (o *Orchestrator) run(done chan struct{}) {
	defer close(done)
	for {
		qc := o.next()
		if qc == nil {
			return
		}
		o.process(qc)
		o.finish()
	}
}

// next pops the queue head into the active slot, or marks the loop stopped
// when there is nothing to do.
func (o *Orchestrator) next() *QueuedCommand {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.paused || o.stopped || len(o.queue) == 0 {
		o.running = false
		return nil
	}
	qc := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	o.active = qc
	o.metrics.SetQueueDepth(len(o.queue))
	return qc
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.active = nil
	o.mu.Unlock()
}

func (o *Orchestrator) process(qc *QueuedCommand) {
	proc, ok := o.processors[qc.Command.Kind]
	if !ok {
		o.commandLog(qc).Error("Unknown command kind, dropping")
		o.metrics.ObserveCommand(string(qc.Command.Kind), strings.ToLower(ResultUnknown), 0)
		return
	}

	o.mu.Lock()
	skipped := qc.cancelled
	o.mu.Unlock()
	if skipped {
		o.skip(qc)
		return
	}

	o.proxy.StopHealthTimer()
	defer o.proxy.StartHealthTimer()

	o.execute(qc, proc)
}

// execute runs proc and delivers its response.
func (o *Orchestrator) execute(qc *QueuedCommand, proc processor) {
	start := time.Now()
	resp, err := o.invoke(qc, proc)
	latency := time.Since(start)

	if err != nil {
		o.commandLog(qc).WithError(err).Error("Command failed")
		if resp == nil {
			resp = o.failureFor(qc, device.StatusError)
		}
		resp.SetSuccess(false)
	}
	if resp != nil {
		o.deliver(qc.Caller, resp)
	}
	o.record(qc, outcomeOf(resp, err), latency)
}

// invoke calls proc, turning a panic into an error.
func (o *Orchestrator) invoke(qc *QueuedCommand, proc processor) (resp events.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("%w: processor panic: %v", device.ErrInternal, r)
		}
	}()
	return proc(o.baseCtx, qc)
}

// skip answers a command that was cancelled while queued.
func (o *Orchestrator) skip(qc *QueuedCommand) {
	o.commandLog(qc).Info("Skipping cancelled command")
	o.metrics.IncCancellation(CancelSourceSkipped)
	o.deliver(qc.Caller, o.failureFor(qc, device.StatusCancelled))
	o.record(qc, ResultSkipped, 0)
}

// failureFor builds the kind's response with Success=false. Card reads get
// an empty Unencrypted model carrying status.
func (o *Orchestrator) failureFor(qc *QueuedCommand, status device.ResponseStatus) events.Response {
	id := qc.Command.RequestID
	var resp events.Response
	switch qc.Command.Kind {
	case KindIsConnected:
		resp = events.NewIsConnectedResponse(id)
	case KindSupportsEMV:
		resp = events.NewSupportsEMVResponse(id)
	case KindGetUnitHealth:
		resp = events.NewUnitHealthResponse(id)
	case KindRebootCardReader:
		resp = events.NewRebootResponse(id)
	case KindReadConfiguration:
		resp = events.NewSimpleResponse(id, events.NameReadConfiguration, "")
	case KindWriteConfiguration:
		resp = events.NewSimpleResponse(id, events.NameWriteConfiguration, "")
	case KindReadCard:
		result := &device.UnencryptedCardRead{}
		result.SetStatus(status)
		resp = events.NewCardReadResponse(id, result)
	case KindValidateVersion:
		resp = events.NewValidateVersionResponse(id)
	case KindCheckActivation:
		resp = events.NewCheckActivationResponse(id)
	case KindCheckDeviceStatus:
		resp = events.NewCheckDeviceStatusResponse(id)
	case KindGetCardInsertedStatus:
		resp = events.NewCardInsertedStatusResponse(id)
	default:
		resp = events.NewSimpleResponse(id, string(qc.Command.Kind)+"ResponseEvent", "")
	}
	resp.SetSuccess(false)
	return resp
}

// deliver logs ev and sends it to caller.
func (o *Orchestrator) deliver(caller Replier, ev events.Event) {
	o.gateway.LogEvent(">>>", ev)
	if caller == nil {
		return
	}
	if err := caller.Send(ev); err != nil {
		o.log.WithError(err).WithField("event", ev.EventName()).Debug("Caller unavailable, event not delivered")
	}
}

func (o *Orchestrator) record(qc *QueuedCommand, outcome string, latency time.Duration) {
	kind := string(qc.Command.Kind)
	o.metrics.ObserveCommand(kind, strings.ToLower(outcome), latency)
	if o.auditLogger != nil {
		o.auditLogger.LogCommand(qc.ctx, kind, qc.Command.RequestID.String(), qc.ConnectionID, outcome, latency)
	}
}

func outcomeOf(resp events.Response, err error) string {
	switch {
	case err != nil:
		return ResultError
	case resp == nil:
		return ResultFailure
	case resp.Succeeded():
		return ResultSuccess
	}
	if cr, ok := resp.(events.CardReadResponse); ok {
		if r := cr.Result(); r != nil && r.Status() == device.StatusCancelled {
			return ResultCancelled
		}
	}
	return ResultFailure
}

// Cancel cancels target on behalf of caller and acknowledges with a
// CancelCommandResponseEvent. A live card read is aborted; a queued command
// is flagged so the worker skips it. Returns whether target was found.
func (o *Orchestrator) Cancel(requestID, target uuid.UUID, caller Replier) bool {
	found := false
	if o.registry.Cancel(target) {
		o.proxy.ReadCancel()
		o.metrics.IncCancellation(CancelSourceRegistry)
		found = true
	} else {
		found = o.flagCancelled(target)
	}

	o.log.WithFields(logrus.Fields{
		"requestId": requestID,
		"target":    target,
		"found":     found,
	}).Info("Cancel requested")

	resp := events.NewCancelCommandResponse(requestID, target)
	resp.Success = found
	o.deliver(caller, resp)
	return found
}

// flagCancelled marks queued entries matching target. An active card read
// that has not registered its controller yet is flagged too; a read that
// has already finished is not.
func (o *Orchestrator) flagCancelled(target uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	found := false
	for _, qc := range o.queue {
		if qc.Command.RequestID == target && !qc.cancelled {
			qc.cancelled = true
			found = true
		}
	}
	if found {
		o.metrics.IncCancellation(CancelSourceQueued)
		return true
	}

	if a := o.active; a != nil && a.Command.RequestID == target && a.Command.Kind == KindReadCard && !a.readDone {
		a.cancelled = true
		// The read may have registered since the first lookup.
		if o.registry.Cancel(target) {
			o.proxy.ReadCancel()
		}
		o.metrics.IncCancellation(CancelSourceRegistry)
		return true
	}
	return false
}

// SetQueuePaused pauses or resumes dequeuing. The active command is not
// affected.
func (o *Orchestrator) SetQueuePaused(paused bool) {
	o.mu.Lock()
	o.setPausedLocked(paused)
	o.mu.Unlock()

	if paused {
		o.log.Info("Queue paused")
	} else {
		o.log.Info("Queue restarted")
	}
}

func (o *Orchestrator) setPausedLocked(paused bool) {
	o.paused = paused
	if !paused {
		o.ensureRunningLocked()
	}
}

// Disconnect discards the queued work of connectionID and cancels its active
// command. Other connections' commands keep their order. The queue is
// always left running.
func (o *Orchestrator) Disconnect(connectionID string) {
	o.mu.Lock()
	o.setPausedLocked(true)

	kept := make([]*QueuedCommand, 0, len(o.queue))
	var purged []*QueuedCommand
	for _, qc := range o.queue {
		if qc.ConnectionID == connectionID {
			purged = append(purged, qc)
		} else {
			kept = append(kept, qc)
		}
	}
	o.queue = kept
	o.metrics.SetQueueDepth(len(kept))

	abortRead := false
	if a := o.active; a != nil && a.ConnectionID == connectionID {
		a.cancelled = true
		o.registry.Cancel(a.Command.RequestID)
		abortRead = a.Command.Kind == KindReadCard
		o.metrics.IncCancellation(CancelSourceDisconnect)
	}

	o.setPausedLocked(false)
	o.mu.Unlock()

	for _, qc := range purged {
		o.registry.Cancel(qc.Command.RequestID)
		o.registry.Unregister(qc.Command.RequestID)
		o.metrics.IncCancellation(CancelSourceDisconnect)
	}
	if abortRead {
		o.proxy.ReadCancel()
	}

	o.log.WithFields(logrus.Fields{
		"connectionId": connectionID,
		"purged":       len(purged),
		"activeAbort":  abortRead,
	}).Info("Connection work purged")
}

// ReportAuthorizeResult relays a payment authorization decision to the
// reader and acknowledges it.
func (o *Orchestrator) ReportAuthorizeResult(requestID uuid.UUID, authorized bool, caller Replier) {
	o.proxy.SetAuthorizationResponse(authorized)
	resp := events.NewReportAuthorizeResultResponse(requestID)
	resp.Success = true
	o.deliver(caller, resp)
}

// Idle returns a channel closed once the worker loop is not running.
func (o *Orchestrator) Idle() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Snapshot reports the queue state.
func (o *Orchestrator) Snapshot() QueueSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := QueueSnapshot{
		Depth:   len(o.queue),
		Paused:  o.paused,
		Running: o.running,
	}
	if o.active != nil {
		s.ActiveKind = o.active.Command.Kind
		s.ActiveRequestID = o.active.Command.RequestID
	}
	return s
}

// Stop rejects further commands, drops queued ones and cancels the active
// command. It returns a channel closed when the worker has exited.
func (o *Orchestrator) Stop() <-chan struct{} {
	o.mu.Lock()
	o.stopped = true
	dropped := len(o.queue)
	o.queue = nil
	o.metrics.SetQueueDepth(0)
	done := o.done
	o.mu.Unlock()

	o.stop()
	o.log.WithField("dropped", dropped).Info("Orchestrator stopped")
	return done
}

func (o *Orchestrator) commandLog(qc *QueuedCommand) *logrus.Entry {
	return o.log.WithFields(logrus.Fields{
		"requestId":    qc.Command.RequestID,
		"kind":         qc.Command.Kind,
		"connectionId": qc.ConnectionID,
	})
}
