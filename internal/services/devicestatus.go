package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kiosk-device/cardhub/internal/device"
)

// DeviceStatusService reports the reader's status to the Kiosk Data Service.
type DeviceStatusService struct {
	kds     *KDSClient
	proxy   device.Proxy
	version string
	log     *logrus.Entry
}

// NewDeviceStatusService creates the service. version is the service
// version included in every report.
func NewDeviceStatusService(kds *KDSClient, proxy device.Proxy, version string, log *logrus.Entry) *DeviceStatusService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DeviceStatusService{
		kds:     kds,
		proxy:   proxy,
		version: version,
		log:     log.WithField("component", "device-status"),
	}
}

// PostDeviceStatus posts status, or the reader's current status when status
// is nil.
func (s *DeviceStatusService) PostDeviceStatus(ctx context.Context, status *DeviceStatus) *StandardResponse {
	if status == nil {
		current := s.CurrentStatus(ctx)
		status = &current
	}
	if status.KioskID == 0 {
		status.KioskID = s.kds.KioskID()
	}
	return s.kds.PostDeviceStatus(ctx, *status)
}

// PostRebootStatus records the outcome of a reader reboot.
func (s *DeviceStatusService) PostRebootStatus(ctx context.Context, success bool) *StandardResponse {
	serial := ""
	if unit := s.proxy.UnitData(); unit != nil {
		serial = unit.SerialNumber
	}
	return s.kds.PostRebootStatus(ctx, RebootStatus{
		KioskID:      s.kds.KioskID(),
		SerialNumber: serial,
		Success:      success,
		RebootTime:   time.Now().UTC(),
	})
}

// CurrentStatus assembles a DeviceStatus from the reader.
func (s *DeviceStatusService) CurrentStatus(ctx context.Context) DeviceStatus {
	state := s.proxy.CardReaderState()
	status := DeviceStatus{
		KioskID:        s.kds.KioskID(),
		IsConnected:    state.IsConnected,
		IsTampered:     state.IsTampered,
		SupportsEMV:    state.SupportsEMV,
		SerialNumber:   state.SerialNumber,
		ServiceVersion: s.version,
		LastUpdate:     time.Now().UTC(),
	}

	if unit := s.proxy.UnitData(); unit != nil {
		status.SerialNumber = unit.SerialNumber
		status.DeviceSerialNumber = unit.DeviceSerialNumber
		status.Model = unit.Model
		status.FirmwareVersion = unit.FirmwareVersion
	}

	if state.IsConnected {
		if health, err := s.proxy.UnitHealth(ctx); err == nil && health != nil {
			status.HealthStatus = health.Status
		} else if err != nil {
			s.log.WithError(err).Warn("Unit health unavailable for status report")
		}
	}
	return status
}
