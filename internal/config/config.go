// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/log"
)

// Driver names accepted in devices[].driver.
const (
	DriverLoopback = "loopback"
	DriverPipe     = "pipe"
	DriverAFPacket = "afpacket"
)

// Config is the top-level configuration, found under the `ustack:` root key.
type Config struct {
	Log     log.Config     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Stack   StackConfig    `mapstructure:"stack" yaml:"stack"`
	Devices []DeviceConfig `mapstructure:"devices" yaml:"devices"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// StackConfig tunes the protocol dispatcher.
type StackConfig struct {
	QueueLimit int `mapstructure:"queue_limit" yaml:"queue_limit"` // 0 = unbounded
}

// DeviceConfig describes one device. Devices are registered in list order
// and named net0, net1, ...
type DeviceConfig struct {
	Driver  string         `mapstructure:"driver" yaml:"driver"` // loopback | pipe | afpacket
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
	IP      *IPConfig      `mapstructure:"ip" yaml:"ip,omitempty"`
}

// IPConfig assigns an IPv4 interface to a device.
type IPConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
	Netmask string `mapstructure:"netmask" yaml:"netmask"`
}

// configRoot is the wrapper matching the YAML structure `ustack: ...`.
type configRoot struct {
	Ustack Config `mapstructure:"ustack"`
}

// Load loads configuration from file.
// The YAML file uses `ustack:` as root key; env vars use the USTACK_ prefix
// (e.g. USTACK_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// key "ustack.log.level" maps to env "USTACK_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Ustack

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values. All keys carry the "ustack." prefix to
// match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("ustack.log.level", "info")
	v.SetDefault("ustack.log.formatter", log.FormatterPattern)
	v.SetDefault("ustack.log.pattern", log.DefaultPattern)
	v.SetDefault("ustack.log.time", log.DefaultTime)
	v.SetDefault("ustack.log.console", true)
	v.SetDefault("ustack.log.file.enabled", false)
	v.SetDefault("ustack.log.file.filename", "/var/log/ustack/ustack.log")
	v.SetDefault("ustack.log.file.max_size", 100)
	v.SetDefault("ustack.log.file.max_backups", 5)
	v.SetDefault("ustack.log.file.max_age", 30)
	v.SetDefault("ustack.log.file.compress", true)

	// Metrics defaults
	v.SetDefault("ustack.metrics.enabled", false)
	v.SetDefault("ustack.metrics.listen", ":9091")
	v.SetDefault("ustack.metrics.path", "/metrics")

	// Stack defaults
	v.SetDefault("ustack.stack.queue_limit", 0)
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults. With no devices configured a loopback device owning 127.0.0.1/8
// is added.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s: %w", cfg.Log.Level, core.ErrConfigInvalid)
	}
	switch cfg.Log.Formatter {
	case log.FormatterPattern, log.FormatterPrefixed, log.FormatterJSON:
	default:
		return fmt.Errorf("invalid log formatter: %s (must be pattern/prefixed/json): %w", cfg.Log.Formatter, core.ErrConfigInvalid)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Filename == "" {
		return fmt.Errorf("log.file.filename is required when log.file.enabled=true: %w", core.ErrConfigInvalid)
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true: %w", core.ErrConfigInvalid)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// ── Stack validation ──
	if cfg.Stack.QueueLimit < 0 {
		return fmt.Errorf("invalid stack.queue_limit: %d: %w", cfg.Stack.QueueLimit, core.ErrConfigInvalid)
	}

	// ── Devices ──
	if len(cfg.Devices) == 0 {
		cfg.Devices = []DeviceConfig{{
			Driver: DriverLoopback,
			IP:     &IPConfig{Address: "127.0.0.1", Netmask: "255.0.0.0"},
		}}
	}
	for i := range cfg.Devices {
		if err := cfg.Devices[i].validate(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
	}
	return nil
}

func (d *DeviceConfig) validate() error {
	d.Driver = strings.ToLower(d.Driver)
	switch d.Driver {
	case DriverLoopback, DriverPipe, DriverAFPacket:
	default:
		return fmt.Errorf("unsupported driver: %q (must be loopback/pipe/afpacket): %w", d.Driver, core.ErrConfigInvalid)
	}

	if d.IP == nil {
		return nil
	}
	if _, err := core.ParseIPAddr(d.IP.Address); err != nil {
		return fmt.Errorf("invalid ip.address %q: %w", d.IP.Address, core.ErrConfigInvalid)
	}
	if d.IP.Netmask == "" {
		d.IP.Netmask = "255.255.255.255"
	}
	if _, err := core.ParseIPAddr(d.IP.Netmask); err != nil {
		return fmt.Errorf("invalid ip.netmask %q: %w", d.IP.Netmask, core.ErrConfigInvalid)
	}
	return nil
}

// YAML renders the effective configuration under its root key.
func (cfg *Config) YAML() ([]byte, error) {
	return yaml.Marshal(map[string]*Config{"ustack": cfg})
}
