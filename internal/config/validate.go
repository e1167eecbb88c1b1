package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate checks a loaded configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("server validation failed: addr must be set")
	}
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}
	if err := ValidateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}
	if cfg.Device.HealthInterval <= 0 {
		return fmt.Errorf("device validation failed: health interval must be positive, got %v", cfg.Device.HealthInterval)
	}
	if err := validateServices(&cfg.Services); err != nil {
		return fmt.Errorf("services validation failed: %w", err)
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" && cfg.Auth.RSAPublicKeyPEM == "" {
		return fmt.Errorf("auth validation failed: enabled auth needs hmacSecret or rsaPublicKeyPem")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics validation failed: path must start with /, got %q", cfg.Metrics.Path)
	}
	return nil
}

// ValidateTiming checks timing parameters.
func ValidateTiming(t *TimingConfig) error {
	if t.WSWriteWait <= 0 {
		return fmt.Errorf("ws write wait must be positive, got %v", t.WSWriteWait)
	}
	if t.WSPongWait <= 0 {
		return fmt.Errorf("ws pong wait must be positive, got %v", t.WSPongWait)
	}
	if t.WSPingPeriod <= 0 || t.WSPingPeriod >= t.WSPongWait {
		return fmt.Errorf("ws ping period %v must be positive and below pong wait %v", t.WSPingPeriod, t.WSPongWait)
	}
	if t.SessionBuffer <= 0 {
		return fmt.Errorf("session buffer must be positive, got %d", t.SessionBuffer)
	}
	if t.CanShutDownWait <= 0 {
		return fmt.Errorf("can-shut-down wait must be positive, got %v", t.CanShutDownWait)
	}
	if t.ShutDownDelay < 0 {
		return fmt.Errorf("shut-down delay must be non-negative, got %v", t.ShutDownDelay)
	}
	if t.ServiceTimeout <= 0 {
		return fmt.Errorf("service timeout must be positive, got %v", t.ServiceTimeout)
	}
	return nil
}

func validateLog(l *LogConfig) error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("format must be json or text, got %q", l.Format)
	}
	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.File == "" {
			return fmt.Errorf("file output needs a file path")
		}
	default:
		return fmt.Errorf("output must be stdout, stderr or file, got %q", l.Output)
	}
	return nil
}

func validateServices(s *ServicesConfig) error {
	for name, raw := range map[string]string{"kdsUrl": s.KDSURL, "bluefinUrl": s.BluefinURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must be http or https, got %q", name, raw)
		}
	}
	return nil
}
