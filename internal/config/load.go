package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CARDHUB_SERVER_ADDR.
const EnvPrefix = "CARDHUB"

// ConfigPathEnv names the config file when no path is given.
const ConfigPathEnv = "CARDHUB_CONFIG"

// Load merges defaults, the optional YAML file at path and CARDHUB_*
// environment overrides, then validates the result. An empty path falls back
// to $CARDHUB_CONFIG; with neither set only defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := newViper()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || os.IsNotExist(err) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Defaults())
	return v
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.readTimeout", d.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", d.Server.WriteTimeout)
	v.SetDefault("server.idleTimeout", d.Server.IdleTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.maxSizeMB", d.Log.MaxSizeMB)
	v.SetDefault("log.maxBackups", d.Log.MaxBackups)
	v.SetDefault("log.maxAgeDays", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("audit.dir", d.Audit.Dir)
	v.SetDefault("audit.maxSizeMB", d.Audit.MaxSizeMB)
	v.SetDefault("audit.maxBackups", d.Audit.MaxBackups)

	v.SetDefault("timing.wsWriteWait", d.Timing.WSWriteWait)
	v.SetDefault("timing.wsPongWait", d.Timing.WSPongWait)
	v.SetDefault("timing.wsPingPeriod", d.Timing.WSPingPeriod)
	v.SetDefault("timing.sessionBuffer", d.Timing.SessionBuffer)
	v.SetDefault("timing.canShutDownWait", d.Timing.CanShutDownWait)
	v.SetDefault("timing.shutDownDelay", d.Timing.ShutDownDelay)
	v.SetDefault("timing.serviceTimeout", d.Timing.ServiceTimeout)

	v.SetDefault("device.useSimulator", d.Device.UseSimulator)
	v.SetDefault("device.simulatorFile", d.Device.SimulatorFile)
	v.SetDefault("device.healthInterval", d.Device.HealthInterval)

	v.SetDefault("services.kdsUrl", d.Services.KDSURL)
	v.SetDefault("services.kdsApiKey", d.Services.KDSAPIKey)
	v.SetDefault("services.kioskId", d.Services.KioskID)
	v.SetDefault("services.bluefinUrl", d.Services.BluefinURL)
	v.SetDefault("services.bluefinApiKey", d.Services.BluefinAPIKey)

	v.SetDefault("analytics.mqttBroker", d.Analytics.MQTTBroker)
	v.SetDefault("analytics.mqttClientId", d.Analytics.MQTTClientID)
	v.SetDefault("analytics.mqttTopic", d.Analytics.MQTTTopic)
	v.SetDefault("analytics.mqttUsername", d.Analytics.MQTTUsername)
	v.SetDefault("analytics.mqttPassword", d.Analytics.MQTTPassword)

	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.hmacSecret", d.Auth.HMACSecret)
	v.SetDefault("auth.rsaPublicKeyPem", d.Auth.RSAPublicKeyPEM)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}
