package config

import "time"

// TimingConfig holds the service's timing parameters.
type TimingConfig struct {
	// WebSocket session
	WSWriteWait   time.Duration `mapstructure:"wsWriteWait"`
	WSPongWait    time.Duration `mapstructure:"wsPongWait"`
	WSPingPeriod  time.Duration `mapstructure:"wsPingPeriod"`
	SessionBuffer int           `mapstructure:"sessionBuffer"`

	// Shutdown coordination
	CanShutDownWait time.Duration `mapstructure:"canShutDownWait"`
	ShutDownDelay   time.Duration `mapstructure:"shutDownDelay"`

	// Collaborator HTTP calls
	ServiceTimeout time.Duration `mapstructure:"serviceTimeout"`
}

// LoadTimingBaseline returns the default timing values.
func LoadTimingBaseline() TimingConfig {
	return TimingConfig{
		WSWriteWait:   10 * time.Second,
		WSPongWait:    60 * time.Second,
		WSPingPeriod:  54 * time.Second, // 90% of pong wait
		SessionBuffer: 64,

		CanShutDownWait: 5 * time.Second,
		ShutDownDelay:   3 * time.Second,

		ServiceTimeout: 5 * time.Second,
	}
}
