package command

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/kiosk-device/cardhub/internal/cancel"
	"github.com/kiosk-device/cardhub/internal/device"
	"github.com/kiosk-device/cardhub/internal/events"
)

// readCard runs one card-read session. Progress is relayed to the caller as
// it happens; the single result becomes the returned response. The
// controller registered for the request is always released.
func (o *Orchestrator) readCard(ctx context.Context, qc *QueuedCommand) (events.Response, error) {
	id := qc.Command.RequestID

	var req device.CardReadRequest
	if err := qc.Command.Decode(&req); err != nil {
		o.markReadDone(qc)
		return o.failureFor(qc, device.StatusError), err
	}

	ctrl := o.registry.Register(ctx, id)
	defer func() {
		o.markReadDone(qc)
		o.registry.UnregisterController(ctrl)
	}()

	// A cancel that raced with dequeue flagged the command instead of
	// finding a controller.
	o.mu.Lock()
	flagged := qc.cancelled
	o.mu.Unlock()
	if flagged {
		o.registry.Cancel(id)
	}

	var (
		once sync.Once
		resp events.CardReadResponse
	)
	onResult := func(result device.CardReadResult) {
		once.Do(func() {
			resp = cardReadResponse(id, ctrl, result)
		})
	}
	onProgress := func(name, data string) {
		o.deliver(qc.Caller, progressEvent(id, name, data))
	}

	o.commandLog(qc).WithField("timeoutSeconds", req.TimeoutSeconds).Info("Card read started")
	err := o.proxy.ReadCard(ctrl.Context(), req, onResult, onProgress)
	if err != nil {
		err = device.NormalizeError(err, nil)
	}

	// No result was produced; answer with an empty model.
	once.Do(func() {
		status := device.StatusError
		if ctrl.Cancelled() || errors.Is(err, device.ErrCancelled) {
			status = device.StatusCancelled
		}
		resp = cardReadResponse(id, ctrl, &device.UnencryptedCardRead{
			CardReadBase: device.CardReadBase{ResponseStatus: status},
		})
	})

	if errors.Is(err, device.ErrCancelled) {
		return resp, nil
	}
	return resp, err
}

// markReadDone stops late cancels from matching the active read.
func (o *Orchestrator) markReadDone(qc *QueuedCommand) {
	o.mu.Lock()
	qc.readDone = true
	o.mu.Unlock()
}

// cardReadResponse wraps result for delivery. A cancelled controller forces
// the Cancelled status; success means the read itself succeeded.
func cardReadResponse(id uuid.UUID, ctrl *cancel.Controller, result device.CardReadResult) events.CardReadResponse {
	resp := events.NewCardReadResponse(id, result)
	model := resp.Result()
	if ctrl.Cancelled() && model.Status() != device.StatusCancelled {
		model.SetStatus(device.StatusCancelled)
	}
	resp.SetSuccess(model.Status() == device.StatusSuccess)
	return resp
}

// progressEvent translates an interim device event for the reading session.
func progressEvent(id uuid.UUID, name, data string) events.Response {
	if name == device.ProgressCardRemoved {
		resp := events.NewCardRemovedResponse(id)
		resp.Success = true
		return resp
	}
	resp := events.NewSimpleResponse(id, name, data)
	resp.Success = true
	return resp
}
