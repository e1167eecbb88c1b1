package sim

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kiosk-device/cardhub/internal/device"
)

// Scenario describes how the simulated reader behaves.
type Scenario struct {
	Connected   bool                         `yaml:"connected"`
	SupportsEMV bool                         `yaml:"supportsEmv"`
	Tampered    bool                         `yaml:"tampered"`
	Unit        UnitScript                   `yaml:"unit"`
	Health      HealthScript                 `yaml:"health"`
	Config      map[string]map[string]string `yaml:"config"`
	Inserted    device.InsertedStatus        `yaml:"inserted"`
	RebootDelay time.Duration                `yaml:"rebootDelay"`
	Read        ReadScript                   `yaml:"read"`

	// Failures maps an operation name (UnitHealth, Reboot, ReadConfig,
	// WriteConfig, ReadCard, CheckIfCardInserted) to a driver error message.
	Failures map[string]string `yaml:"failures"`
}

// UnitScript is the identity reported by the unit.
type UnitScript struct {
	SerialNumber       string `yaml:"serialNumber"`
	DeviceSerialNumber string `yaml:"deviceSerialNumber"`
	Model              string `yaml:"model"`
	FirmwareVersion    string `yaml:"firmwareVersion"`
}

// HealthScript is the health reported by the unit.
type HealthScript struct {
	Status          string   `yaml:"status"`
	FirmwareVersion string   `yaml:"firmwareVersion"`
	BatteryPercent  int      `yaml:"batteryPercent"`
	Faults          []string `yaml:"faults"`
}

// ReadScript drives a simulated card read.
type ReadScript struct {
	Timeout            time.Duration  `yaml:"timeout"`
	Progress           []ProgressStep `yaml:"progress"`
	Delay              time.Duration  `yaml:"delay"`
	AwaitAuthorization bool           `yaml:"awaitAuthorization"`
	Result             ResultScript   `yaml:"result"`
}

// ProgressStep is one interim event emitted after waiting After.
type ProgressStep struct {
	After time.Duration `yaml:"after"`
	Name  string        `yaml:"name"`
	Data  string        `yaml:"data"`
}

// ResultScript is the card-read result produced at the end of the script.
type ResultScript struct {
	Variant   string                `yaml:"variant"` // EMV, Encrypted, Unencrypted or none
	Status    device.ResponseStatus `yaml:"status"`
	CardType  string                `yaml:"cardType"`
	BrandName string                `yaml:"brandName"`
	PAN       string                `yaml:"pan"`
	Name      string                `yaml:"name"`
	Expiry    string                `yaml:"expiry"`

	Track1 string `yaml:"track1"`
	Track2 string `yaml:"track2"`

	KSN             string `yaml:"ksn"`
	EncryptedTrack1 string `yaml:"encryptedTrack1"`
	EncryptedTrack2 string `yaml:"encryptedTrack2"`

	ApplicationID    string            `yaml:"applicationId"`
	ApplicationLabel string            `yaml:"applicationLabel"`
	Cryptogram       string            `yaml:"cryptogram"`
	Tags             map[string]string `yaml:"tags"`
}

// DefaultScenario is a connected EMV-capable reader that returns an EMV
// read after a short delay.
func DefaultScenario() *Scenario {
	return &Scenario{
		Connected:   true,
		SupportsEMV: true,
		Unit: UnitScript{
			SerialNumber:       "SIM-0001",
			DeviceSerialNumber: "SIMDEV-0001",
			Model:              "Simulated Reader",
			FirmwareVersion:    "1.0.0",
		},
		Health: HealthScript{
			Status:          "OK",
			FirmwareVersion: "1.0.0",
			BatteryPercent:  100,
		},
		Config: map[string]map[string]string{
			"1": {"1": "0"},
		},
		Inserted:    device.NotInserted,
		RebootDelay: 500 * time.Millisecond,
		Read: ReadScript{
			Timeout: 30 * time.Second,
			Progress: []ProgressStep{
				{After: 500 * time.Millisecond, Name: device.ProgressCardInserted},
			},
			Delay: time.Second,
			Result: ResultScript{
				Variant:       "EMV",
				Status:        device.StatusSuccess,
				CardType:      "Credit",
				BrandName:     "VISA",
				PAN:           "4761739001010010",
				Name:          "TEST CARD",
				Expiry:        "2812",
				ApplicationID: "A0000000031010",
				Cryptogram:    "3AB1F72E93C7A01B",
			},
		},
	}
}

// LoadScenario reads a YAML scenario file. Fields absent from the file keep
// the DefaultScenario values.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario over DefaultScenario.
func ParseScenario(data []byte) (*Scenario, error) {
	s := DefaultScenario()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scenario) validate() error {
	switch strings.ToLower(s.Read.Result.Variant) {
	case "emv", "encrypted", "unencrypted", "none", "":
	default:
		return fmt.Errorf("unknown result variant %q", s.Read.Result.Variant)
	}
	if s.Read.Timeout < 0 || s.Read.Delay < 0 || s.RebootDelay < 0 {
		return fmt.Errorf("scenario durations must be non-negative")
	}
	return nil
}

// build returns the scripted result, or nil for variant "none".
func (r ResultScript) build() device.CardReadResult {
	base := device.CardReadBase{
		ResponseStatus: r.Status,
		CardType:       r.CardType,
		BrandName:      r.BrandName,
		Name:           r.Name,
		Expiry:         r.Expiry,
	}
	if base.ResponseStatus == "" {
		base.ResponseStatus = device.StatusSuccess
	}
	if len(r.PAN) >= 10 {
		base.FirstSix = r.PAN[:6]
		base.LastFour = r.PAN[len(r.PAN)-4:]
	}

	switch strings.ToLower(r.Variant) {
	case "none":
		return nil
	case "encrypted":
		return &device.EncryptedCardRead{
			CardReadBase:    base,
			MaskedPAN:       r.PAN,
			KSN:             r.KSN,
			EncryptedTrack1: r.EncryptedTrack1,
			EncryptedTrack2: r.EncryptedTrack2,
			EncryptedMode:   "DUKPT",
		}
	case "unencrypted":
		return &device.UnencryptedCardRead{
			CardReadBase: base,
			PAN:          r.PAN,
			Track1:       r.Track1,
			Track2:       r.Track2,
		}
	default:
		tags := make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			tags[k] = v
		}
		return &device.EMVCardRead{
			CardReadBase:     base,
			PAN:              r.PAN,
			ApplicationID:    r.ApplicationID,
			ApplicationLabel: r.ApplicationLabel,
			Cryptogram:       r.Cryptogram,
			CryptogramType:   "ARQC",
			Tags:             tags,
		}
	}
}
