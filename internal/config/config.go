package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the device agent configuration
type Config struct {
	DeviceID      string        `mapstructure:"device_id"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	NATS          NATSConfig    `mapstructure:"nats"`
	Service       ServiceConfig `mapstructure:"service"`
	Tasks         TasksConfig   `mapstructure:"tasks"`
	Logging       LoggingConfig `mapstructure:"logging"`
}

// NATSConfig holds connection settings shared by the agent and the CLI
type NATSConfig struct {
	URLs           []string      `mapstructure:"urls" validate:"min=1,dive,required"`
	Auth           AuthConfig    `mapstructure:"auth"`
	TLS            TLSConfig     `mapstructure:"tls"`
	MaxReconnects  int           `mapstructure:"max_reconnects" validate:"gte=-1"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait" validate:"gte=0"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout" validate:"gte=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
}

// AuthConfig selects how the NATS connection authenticates
type AuthConfig struct {
	Type      string `mapstructure:"type"` // creds, token, userpass, none
	CredsFile string `mapstructure:"creds_file"`
	Token     string `mapstructure:"token"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig holds optional TLS / mTLS settings
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ServiceConfig describes the managed shaper service on the device
type ServiceConfig struct {
	Name            string        `mapstructure:"name" validate:"required"`
	Manager         string        `mapstructure:"manager" validate:"oneof=initd systemd rcd"`
	InitDir         string        `mapstructure:"init_dir"`
	AllowedServices []string      `mapstructure:"allowed_services"`
	StatusProbe     string        `mapstructure:"status_probe" validate:"oneof=manager ubus process pidfile"`
	UbusObject      string        `mapstructure:"ubus_object"`
	ProcessName     string        `mapstructure:"process_name"`
	PIDFile         string        `mapstructure:"pid_file"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
}

// TasksConfig holds scheduled task settings
type TasksConfig struct {
	Heartbeat    HeartbeatConfig    `mapstructure:"heartbeat"`
	ServiceCheck ServiceCheckConfig `mapstructure:"service_check"`
}

// HeartbeatConfig controls the heartbeat telemetry task
type HeartbeatConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ServiceCheckConfig controls the periodic service status telemetry task
type ServiceCheckConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig controls log level and rotation
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file" validate:"required"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gt=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
}

// PollConfig bounds how the CLI waits for a service to settle after an action
type PollConfig struct {
	Deadline time.Duration `mapstructure:"deadline"`
	Interval time.Duration `mapstructure:"interval"`
}

var (
	deviceIDPattern     = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	subjectTokenPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	structValidator     = validator.New()
)

// Load reads the agent configuration from a YAML file, applies defaults and
// SHAPER_* environment overrides, and validates the result
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("SHAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// The service being managed is always allowed
	if len(cfg.Service.AllowedServices) == 0 && cfg.Service.Name != "" {
		cfg.Service.AllowedServices = []string{cfg.Service.Name}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every default value with viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("subject_prefix", "agents")

	v.SetDefault("nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("nats.auth.type", "none")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.drain_timeout", 30*time.Second)
	v.SetDefault("nats.request_timeout", 2*time.Second)

	v.SetDefault("service.name", "mac-shaper")
	v.SetDefault("service.status_probe", "manager")
	v.SetDefault("service.ubus_object", "luci.mac-shaper")
	v.SetDefault("service.process_name", "mac-shaper")
	v.SetDefault("service.command_timeout", 30*time.Second)

	v.SetDefault("tasks.heartbeat.enabled", true)
	v.SetDefault("tasks.heartbeat.interval", 1*time.Minute)
	v.SetDefault("tasks.service_check.enabled", true)
	v.SetDefault("tasks.service_check.interval", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)

	applyPlatformDefaults(v)
}

// validate checks the agent configuration for consistency
func validate(cfg *Config) error {
	if cfg.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if !deviceIDPattern.MatchString(cfg.DeviceID) {
		return fmt.Errorf("device_id must contain only alphanumeric characters, dashes, and underscores")
	}

	if err := validateSubjectPrefix(cfg.SubjectPrefix); err != nil {
		return err
	}

	if err := validateNATS(&cfg.NATS); err != nil {
		return err
	}

	if err := structValidator.Struct(cfg.Service); err != nil {
		return fmt.Errorf("service: %w", err)
	}
	if cfg.Service.StatusProbe == "pidfile" && cfg.Service.PIDFile == "" {
		return fmt.Errorf("service.pid_file is required for the pidfile status probe")
	}
	if cfg.Service.StatusProbe == "ubus" && cfg.Service.UbusObject == "" {
		return fmt.Errorf("service.ubus_object is required for the ubus status probe")
	}
	if cfg.Service.StatusProbe == "process" && cfg.Service.ProcessName == "" {
		return fmt.Errorf("service.process_name is required for the process status probe")
	}
	if cfg.Service.CommandTimeout < 5*time.Second {
		return fmt.Errorf("service.command_timeout must be at least 5 seconds")
	}
	if cfg.Service.CommandTimeout > 5*time.Minute {
		return fmt.Errorf("service.command_timeout must not exceed 5 minutes")
	}

	if cfg.Tasks.Heartbeat.Enabled && cfg.Tasks.Heartbeat.Interval < 10*time.Second {
		return fmt.Errorf("heartbeat interval must be at least 10 seconds")
	}
	if cfg.Tasks.ServiceCheck.Enabled && cfg.Tasks.ServiceCheck.Interval < 10*time.Second {
		return fmt.Errorf("service check interval must be at least 10 seconds")
	}

	if err := structValidator.Struct(cfg.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	return nil
}

// validateNATS checks connection, authentication and TLS settings
func validateNATS(cfg *NATSConfig) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("nats: %w", err)
	}

	switch cfg.Auth.Type {
	case "none":
	case "creds":
		if cfg.Auth.CredsFile == "" {
			return fmt.Errorf("creds_file is required for creds auth")
		}
	case "token":
		if cfg.Auth.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
	case "userpass":
		if cfg.Auth.Username == "" || cfg.Auth.Password == "" {
			return fmt.Errorf("username and password are required for userpass auth")
		}
	default:
		return fmt.Errorf("invalid auth type: %s (must be creds, token, userpass, or none)", cfg.Auth.Type)
	}

	return validateTLS(&cfg.TLS)
}

// validateTLS checks that referenced certificate files exist
func validateTLS(cfg *TLSConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.CertFile != "" && cfg.KeyFile == "" {
		return fmt.Errorf("tls key_file is required when cert_file is set")
	}
	if cfg.KeyFile != "" && cfg.CertFile == "" {
		return fmt.Errorf("tls cert_file is required when key_file is set")
	}

	if cfg.CertFile != "" {
		if _, err := os.Stat(cfg.CertFile); err != nil {
			return fmt.Errorf("tls certificate file not found: %s", cfg.CertFile)
		}
	}
	if cfg.KeyFile != "" {
		if _, err := os.Stat(cfg.KeyFile); err != nil {
			return fmt.Errorf("tls key file not found: %s", cfg.KeyFile)
		}
	}
	if cfg.CAFile != "" {
		if _, err := os.Stat(cfg.CAFile); err != nil {
			return fmt.Errorf("tls CA file not found: %s", cfg.CAFile)
		}
	}

	return nil
}

// validateSubjectPrefix checks that the prefix is one or more dot-separated
// NATS subject tokens without wildcards
func validateSubjectPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("subject_prefix is required")
	}
	if len(prefix) > 50 {
		return fmt.Errorf("subject_prefix must not exceed 50 characters")
	}
	if strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		return fmt.Errorf("subject_prefix cannot start or end with a dot")
	}

	for _, token := range strings.Split(prefix, ".") {
		if token == "" {
			return fmt.Errorf("subject_prefix: consecutive dots not allowed")
		}
		if !subjectTokenPattern.MatchString(token) {
			return fmt.Errorf("subject_prefix token %q contains invalid characters", token)
		}
	}

	return nil
}

// validatePoll enforces the poll contract: a positive interval and a
// non-negative deadline
func validatePoll(cfg PollConfig) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if cfg.Deadline < 0 {
		return fmt.Errorf("poll deadline must not be negative")
	}
	if cfg.Deadline > 5*time.Minute {
		return fmt.Errorf("poll deadline must not exceed 5 minutes")
	}
	return nil
}
