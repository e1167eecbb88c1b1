package config

import "time"

// Version is the service version. Overridden at build time with
// -ldflags "-X github.com/kiosk-device/cardhub/internal/config.Version=...".
var Version = "2.4.0"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Timing    TimingConfig    `mapstructure:"timing"`
	Device    DeviceConfig    `mapstructure:"device"`
	Services  ServicesConfig  `mapstructure:"services"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`
}

// LogConfig configures the service log.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	Output     string `mapstructure:"output"` // stdout, stderr or file
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
	Compress   bool   `mapstructure:"compress"`
}

// AuditConfig configures the command audit trail.
type AuditConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
}

// DeviceConfig selects and tunes the card reader.
type DeviceConfig struct {
	UseSimulator   bool          `mapstructure:"useSimulator"`
	SimulatorFile  string        `mapstructure:"simulatorFile"`
	HealthInterval time.Duration `mapstructure:"healthInterval"`
}

// ServicesConfig points at the back-office services.
type ServicesConfig struct {
	KDSURL        string `mapstructure:"kdsUrl"`
	KDSAPIKey     string `mapstructure:"kdsApiKey"`
	KioskID       int64  `mapstructure:"kioskId"`
	BluefinURL    string `mapstructure:"bluefinUrl"`
	BluefinAPIKey string `mapstructure:"bluefinApiKey"`
}

// AnalyticsConfig configures the MQTT analytics publisher. An empty broker
// keeps analytics in the log only.
type AnalyticsConfig struct {
	MQTTBroker   string `mapstructure:"mqttBroker"`
	MQTTClientID string `mapstructure:"mqttClientId"`
	MQTTTopic    string `mapstructure:"mqttTopic"`
	MQTTUsername string `mapstructure:"mqttUsername"`
	MQTTPassword string `mapstructure:"mqttPassword"`
}

// AuthConfig configures bearer token verification on the session endpoint.
type AuthConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	HMACSecret      string `mapstructure:"hmacSecret"`
	RSAPublicKeyPEM string `mapstructure:"rsaPublicKeyPem"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8001",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			File:       "logs/cardhub.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Audit: AuditConfig{
			Dir:        "audit",
			MaxSizeMB:  20,
			MaxBackups: 10,
		},
		Timing: LoadTimingBaseline(),
		Device: DeviceConfig{
			UseSimulator:   true,
			HealthInterval: 10 * time.Second,
		},
		Analytics: AnalyticsConfig{
			MQTTClientID: "cardhub",
			MQTTTopic:    "kiosk/cardhub/analytics",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
