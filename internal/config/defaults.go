package config

import (
	"runtime"

	"github.com/spf13/viper"
)

// PlatformDefaults holds the per-OS paths and init system
type PlatformDefaults struct {
	LogFile    string
	ConfigPath string
	Manager    string
	InitDir    string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS
func GetPlatformDefaults() PlatformDefaults {
	switch runtime.GOOS {
	case "linux":
		// OpenWrt routers use procd init scripts; systemd hosts override service.manager
		return PlatformDefaults{
			LogFile:    "/var/log/shaper-agent/agent.log",
			ConfigPath: "/etc/shaper-agent/config.yaml",
			Manager:    "initd",
			InitDir:    "/etc/init.d",
		}
	case "freebsd":
		return PlatformDefaults{
			LogFile:    "/var/log/shaper-agent/agent.log",
			ConfigPath: "/usr/local/etc/shaper-agent/config.yaml",
			Manager:    "rcd",
			InitDir:    "/usr/local/etc/rc.d",
		}
	default:
		return PlatformDefaults{
			LogFile:    "/var/log/shaper-agent/agent.log",
			ConfigPath: "/etc/shaper-agent/config.yaml",
			Manager:    "initd",
			InitDir:    "/etc/init.d",
		}
	}
}

// GetDefaultConfigPath returns the platform-specific default config path
func GetDefaultConfigPath() string {
	return GetPlatformDefaults().ConfigPath
}

// applyPlatformDefaults sets the init system and log file defaults for this OS
func applyPlatformDefaults(v *viper.Viper) {
	defaults := GetPlatformDefaults()
	v.SetDefault("service.manager", defaults.Manager)
	v.SetDefault("service.init_dir", defaults.InitDir)
	v.SetDefault("logging.file", defaults.LogFile)
}
