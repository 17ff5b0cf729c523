package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ClientConfig is the operator CLI configuration
type ClientConfig struct {
	DeviceID      string     `mapstructure:"device_id"`
	SubjectPrefix string     `mapstructure:"subject_prefix"`
	Service       string     `mapstructure:"service"`
	NATS          NATSConfig `mapstructure:"nats"`
	Poll          PollConfig `mapstructure:"poll"`
}

// flagKeys maps CLI flag names to config keys
var flagKeys = map[string]string{
	"device":   "device_id",
	"prefix":   "subject_prefix",
	"service":  "service",
	"nats":     "nats.urls",
	"deadline": "poll.deadline",
	"interval": "poll.interval",
	"timeout":  "nats.request_timeout",
}

// LoadClient builds the CLI configuration from an optional YAML file,
// SHAPERCTL_* environment variables and command-line flags, in increasing
// order of precedence
func LoadClient(path string, flags *pflag.FlagSet) (*ClientConfig, error) {
	v := viper.New()
	setClientDefaults(v)

	v.SetEnvPrefix("SHAPERCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateClient(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("subject_prefix", "agents")
	v.SetDefault("service", "mac-shaper")
	v.SetDefault("nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("nats.auth.type", "none")
	v.SetDefault("nats.max_reconnects", 3)
	v.SetDefault("nats.reconnect_wait", 1*time.Second)
	v.SetDefault("nats.drain_timeout", 5*time.Second)
	v.SetDefault("nats.request_timeout", 2*time.Second)
	v.SetDefault("poll.deadline", 4000*time.Millisecond)
	v.SetDefault("poll.interval", 300*time.Millisecond)
}

func validateClient(cfg *ClientConfig) error {
	if cfg.DeviceID == "" {
		return fmt.Errorf("device_id is required (set --device or device_id)")
	}
	if !deviceIDPattern.MatchString(cfg.DeviceID) {
		return fmt.Errorf("device_id must contain only alphanumeric characters, dashes, and underscores")
	}
	if cfg.Service == "" {
		return fmt.Errorf("service is required")
	}
	if err := validateSubjectPrefix(cfg.SubjectPrefix); err != nil {
		return err
	}
	if err := validateNATS(&cfg.NATS); err != nil {
		return err
	}
	if cfg.NATS.RequestTimeout <= 0 {
		return fmt.Errorf("nats request_timeout must be positive")
	}
	return validatePoll(cfg.Poll)
}
