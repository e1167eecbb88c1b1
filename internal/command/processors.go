package command

import (
	"context"

	"github.com/kiosk-device/cardhub/internal/device"
	"github.com/kiosk-device/cardhub/internal/events"
	"github.com/kiosk-device/cardhub/internal/services"
)

// processorTable maps every Kind to its processor.
func (o *Orchestrator) processorTable() map[Kind]processor {
	return map[Kind]processor{
		KindIsConnected:           o.isConnected,
		KindSupportsEMV:           o.supportsEMV,
		KindGetUnitHealth:         o.getUnitHealth,
		KindRebootCardReader:      o.rebootCardReader,
		KindReadConfiguration:     o.readConfiguration,
		KindWriteConfiguration:    o.writeConfiguration,
		KindReadCard:              o.readCard,
		KindValidateVersion:       o.validateVersion,
		KindCheckActivation:       o.checkActivation,
		KindCheckDeviceStatus:     o.checkDeviceStatus,
		KindGetCardInsertedStatus: o.getCardInsertedStatus,
	}
}

func (o *Orchestrator) isConnected(_ context.Context, qc *QueuedCommand) (events.Response, error) {
	resp := events.NewIsConnectedResponse(qc.Command.RequestID)
	resp.IsConnected = o.proxy.IsConnected()
	resp.Success = true
	return resp, nil
}

func (o *Orchestrator) supportsEMV(_ context.Context, qc *QueuedCommand) (events.Response, error) {
	resp := events.NewSupportsEMVResponse(qc.Command.RequestID)
	resp.SupportsEMV = o.proxy.SupportsEMV()
	resp.Success = true
	return resp, nil
}

func (o *Orchestrator) getUnitHealth(ctx context.Context, qc *QueuedCommand) (events.Response, error) {
	resp := events.NewUnitHealthResponse(qc.Command.RequestID)
	health, err := o.proxy.UnitHealth(ctx)
	if err != nil {
		return resp, device.NormalizeError(err, nil)
	}
	resp.UnitHealth = health
	resp.Success = health != nil
	return resp, nil
}

func (o *Orchestrator) rebootCardReader(ctx context.Context, qc *QueuedCommand) (events.Response, error) {
	resp := events.NewRebootResponse(qc.Command.RequestID)
	ok, err := o.proxy.Reboot(ctx)
	if err != nil {
		return resp, device.NormalizeError(err, nil)
	}
	resp.Success = ok

	if o.deviceStatus != nil {
		go o.postRebootStatus(ok)
	}
	return resp, nil
}

// postRebootStatus reports the reboot outcome. Failures are only logged.
func (o *Orchestrator) postRebootStatus(success bool) {
	sr := o.deviceStatus.PostRebootStatus(o.baseCtx, success)
	if sr == nil || !sr.Success {
		o.log.WithField("rebootSuccess", success).Warn("Failed to post reboot status")
	}
}

func (o *Orchestrator) readConfiguration(ctx context.Context, qc *QueuedCommand) (events.Response, error) {
	resp := events.NewSimpleResponse(qc.Command.RequestID, events.NameReadConfiguration, "")
	var req ReadConfigRequest
	if err := qc.Command.Decode(&req); err != nil {
		return resp, err
	}
	value, err := o.proxy.ReadConfig(ctx, req.Group, req.Index)
	if err != nil {
		return resp, device.NormalizeError(err, req)
	}
	resp.Data = value
	resp.Success = true
	return resp, nil
}

func (o *Orchestrator) writeConfiguration(ctx context.Context, qc *QueuedCommand) (events.Response, error) {
	resp := events.NewSimpleResponse(qc.Command.RequestID, events.NameWriteConfiguration, "")
	var req WriteConfigRequest
	if err := qc.Command.Decode(&req); err != nil {
		return resp, err
	}
	ok, err := o.proxy.WriteConfig(ctx, req.Group, req.Index, req.Value)
	if err != nil {
		return resp, device.NormalizeError(err, req)
	}
	resp.Success = ok
	return resp, nil
}

func (o *Orchestrator) validateVersion(_ context.Context, qc *QueuedCommand) (events.Response, error) {
	resp := events.NewValidateVersionResponse(qc.Command.RequestID)
	var req ValidateVersionRequest
	if err := qc.Command.Decode(&req); err != nil {
		return resp, err
	}
	resp.ValidateVersion = events.ValidateVersionModel{
		IsCompatible:         IsClientVersionCompatible(req.DeviceServiceClientVersion, o.version),
		DeviceServiceVersion: o.version,
	}
	resp.Success = true
	return resp, nil
}

func (o *Orchestrator) checkActivation(ctx context.Context, qc *QueuedCommand) (events.Response, error) {
	resp := events.NewCheckActivationResponse(qc.Command.RequestID)
	if o.activation == nil {
		return resp, device.ErrUnavailable
	}
	var req services.ActivationRequest
	if err := qc.Command.Decode(&req); err != nil {
		return resp, err
	}
	ok, err := o.activation.CheckAndActivate(ctx, req)
	resp.Success = ok
	return resp, err
}

func (o *Orchestrator) checkDeviceStatus(ctx context.Context, qc *QueuedCommand) (events.Response, error) {
	resp := events.NewCheckDeviceStatusResponse(qc.Command.RequestID)
	if o.deviceStatus == nil {
		return resp, device.ErrUnavailable
	}
	var status *services.DeviceStatus
	if err := qc.Command.Decode(&status); err != nil {
		return resp, err
	}
	sr := o.deviceStatus.PostDeviceStatus(ctx, status)
	resp.Success = sr != nil && sr.OK()
	return resp, nil
}

func (o *Orchestrator) getCardInsertedStatus(ctx context.Context, qc *QueuedCommand) (events.Response, error) {
	resp := events.NewCardInsertedStatusResponse(qc.Command.RequestID)
	status, err := o.proxy.CheckIfCardInserted(ctx)
	if err != nil {
		return resp, device.NormalizeError(err, nil)
	}
	resp.CardInsertedStatus = status
	resp.Success = true
	return resp, nil
}
