package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig       `yaml:"log"`
	Database        DatabaseConfig  `yaml:"database"`
	Bluetooth       BluetoothConfig `yaml:"bluetooth"`
	Animation       AnimationConfig `yaml:"animation"`
	Protocol        ProtocolConfig  `yaml:"protocol"`
	HomeKit         HomeKitConfig   `yaml:"homekit"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	API             APIConfig       `yaml:"api"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BluetoothConfig contains discovery and connection settings
type BluetoothConfig struct {
	Identity          string     `yaml:"identity"`            // address or name
	ConnectRate       float64    `yaml:"connect_rate"`        // connect attempts per second, negative disables pacing
	PowerQueryTimeout Duration   `yaml:"power_query_timeout"` // bound on the notify reply to a power query
	Scan              ScanConfig `yaml:"scan"`
}

// ScanConfig contains the scan restart policy
type ScanConfig struct {
	SettleWindow Duration `yaml:"settle_window"` // startup window during which scans always restart
	Restart      string   `yaml:"restart"`       // always, missing or never once the window is over
}

// AnimationConfig contains fade settings
type AnimationConfig struct {
	FrameInterval Duration `yaml:"frame_interval"`
	Rate          float64  `yaml:"rate"` // max change per channel per frame
}

// ProtocolConfig contains frame encoding settings
type ProtocolConfig struct {
	WhiteThreshold *float64 `yaml:"white_threshold"` // saturation at or below which white mode is used; nil means unset
}

// HomeKitConfig contains accessory exposure settings
type HomeKitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Pin         string `yaml:"pin"`
	StoragePath string `yaml:"storage_path"`
	// BasePort is the lowest accessory port. Each fixture keeps the port it was first given.
	// Zero lets the system pick.
	BasePort int `yaml:"base_port"`
}

// MQTTConfig contains the MQTT mirror settings
type MQTTConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	TopicPrefix    string   `yaml:"topic_prefix"`
	QoS            byte     `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	KeepAlive      Duration `yaml:"keep_alive"`
}

// APIConfig contains status HTTP API settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port.
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LedgerConfig contains connection ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// Retention returns the retention period.
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, expanding environment variables and applying defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./ledbridge.sqlite"
	}

	// Bluetooth defaults
	if cfg.Bluetooth.Identity == "" {
		cfg.Bluetooth.Identity = "address"
	}
	if cfg.Bluetooth.ConnectRate == 0 {
		cfg.Bluetooth.ConnectRate = 1.0
	}
	if cfg.Bluetooth.PowerQueryTimeout == 0 {
		cfg.Bluetooth.PowerQueryTimeout = Duration(2 * time.Second)
	}
	if cfg.Bluetooth.Scan.SettleWindow == 0 {
		cfg.Bluetooth.Scan.SettleWindow = Duration(60 * time.Second)
	}
	if cfg.Bluetooth.Scan.Restart == "" {
		cfg.Bluetooth.Scan.Restart = "missing"
	}

	// Animation defaults
	if cfg.Animation.FrameInterval == 0 {
		cfg.Animation.FrameInterval = Duration(20 * time.Millisecond)
	}
	if cfg.Animation.Rate == 0 {
		cfg.Animation.Rate = 4
	}

	if cfg.Protocol.WhiteThreshold == nil {
		threshold := 5.0
		cfg.Protocol.WhiteThreshold = &threshold
	}

	// HomeKit defaults
	if cfg.HomeKit.Pin == "" {
		cfg.HomeKit.Pin = "00102003"
	}
	if cfg.HomeKit.StoragePath == "" {
		cfg.HomeKit.StoragePath = "./homekit"
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "ledbridge"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "ledbridge"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = Duration(60 * time.Second)
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 9090
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Event bus defaults
	if cfg.EventBus.Workers <= 0 {
		cfg.EventBus.Workers = 4
	}
	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 100
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

var pinPattern = regexp.MustCompile(`^\d{8}$`)

func (cfg *Config) validate() error {
	switch cfg.Bluetooth.Identity {
	case "address", "name":
	default:
		return fmt.Errorf("bluetooth.identity: unknown value %q (want address or name)", cfg.Bluetooth.Identity)
	}
	switch cfg.Bluetooth.Scan.Restart {
	case "always", "missing", "never":
	default:
		return fmt.Errorf("bluetooth.scan.restart: unknown value %q (want always, missing or never)", cfg.Bluetooth.Scan.Restart)
	}
	if cfg.Animation.Rate < 0 {
		return fmt.Errorf("animation.rate must be positive, got %v", cfg.Animation.Rate)
	}
	if t := *cfg.Protocol.WhiteThreshold; t < 0 || t > 100 {
		return fmt.Errorf("protocol.white_threshold must be within 0..100, got %v", t)
	}
	if cfg.HomeKit.Enabled && !pinPattern.MatchString(cfg.HomeKit.Pin) {
		return fmt.Errorf("homekit.pin must be 8 digits")
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	return nil
}

// GetShutdownTimeout returns the shutdown timeout
func (cfg *Config) GetShutdownTimeout() time.Duration {
	return cfg.ShutdownTimeout.Duration()
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
