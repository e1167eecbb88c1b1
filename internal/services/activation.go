package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kiosk-device/cardhub/internal/device"
)

// ErrNoUnitData is returned when the reader cannot report its serials.
var ErrNoUnitData = errors.New("NO_UNIT_DATA")

// ActivationService makes sure the attached reader is activated with
// Bluefin for this kiosk.
type ActivationService struct {
	bluefin  *BluefinClient
	proxy    device.Proxy
	defaults ActivationRequest
	log      *logrus.Entry

	mu        sync.Mutex
	activated map[string]int64 // reader serial -> kiosk ID
}

// NewActivationService creates the service. Fields left empty in a request
// are filled from defaults.
func NewActivationService(bluefin *BluefinClient, proxy device.Proxy, defaults ActivationRequest, log *logrus.Entry) *ActivationService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ActivationService{
		bluefin:   bluefin,
		proxy:     proxy,
		defaults:  defaults,
		log:       log.WithField("component", "activation"),
		activated: make(map[string]int64),
	}
}

// CheckAndActivate returns true when the reader is activated for the
// requested kiosk, activating it first if needed.
func (s *ActivationService) CheckAndActivate(ctx context.Context, req ActivationRequest) (bool, error) {
	req = s.withDefaults(req)
	s.log.WithField("kioskId", req.KioskID).Debug("CheckActivation called")

	unit := s.proxy.UnitData()
	if unit == nil || unit.SerialNumber == "" {
		return false, ErrNoUnitData
	}

	s.mu.Lock()
	kiosk, ok := s.activated[unit.SerialNumber]
	s.mu.Unlock()
	if ok && kiosk == req.KioskID {
		return true, nil
	}

	resp := s.bluefin.Activate(ctx, req, unit.SerialNumber, unit.DeviceSerialNumber, time.Now())
	if !resp.Success {
		return false, fmt.Errorf("activation of %s failed with status %d", unit.SerialNumber, resp.StatusCode)
	}

	s.mu.Lock()
	s.activated[unit.SerialNumber] = req.KioskID
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"kioskId": req.KioskID,
		"serial":  unit.SerialNumber,
	}).Info("Reader activated")
	return true, nil
}

func (s *ActivationService) withDefaults(req ActivationRequest) ActivationRequest {
	if req.KioskID == 0 {
		req.KioskID = s.defaults.KioskID
	}
	if req.BluefinServiceURL == "" {
		req.BluefinServiceURL = s.defaults.BluefinServiceURL
	}
	if req.APIKey == "" {
		req.APIKey = s.defaults.APIKey
	}
	if req.TimeoutMillis <= 0 {
		req.TimeoutMillis = s.defaults.TimeoutMillis
	}
	return req
}
