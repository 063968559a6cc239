// Package config handles Sayang configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // scheduler.timezone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/sayang/config.yaml, /etc/sayang/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sayang", "config.yaml"))
	}

	paths = append(paths, "/etc/sayang/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Sayang configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // "text" (default) or "json"
}

// TelegramConfig defines the Bot API connection.
type TelegramConfig struct {
	Token string `yaml:"token"`
	// APIURL overrides the Bot API base URL. Tests and self-hosted
	// bot API servers set this; leave empty for api.telegram.org.
	APIURL string `yaml:"api_url"`
	// Username is the bot's @handle without the "@". Used only by
	// init to print a t.me link.
	Username string `yaml:"username"`
	// PollTimeoutSec is the long-poll timeout passed to getUpdates.
	PollTimeoutSec int `yaml:"poll_timeout_sec"`
	// SendRatePerSec caps outbound sendMessage calls across all chats.
	SendRatePerSec float64 `yaml:"send_rate_per_sec"`
	// ChatRateLimit caps inbound messages handled per chat per minute.
	// 0 means unlimited.
	ChatRateLimit int `yaml:"chat_rate_limit"`
}

// StoreConfig selects and locates the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "postgres"
	Path   string `yaml:"path"`   // SQLite file; defaults to <data_dir>/sayang.db
	DSN    string `yaml:"dsn"`    // Postgres connection string
}

// SchedulerConfig controls the hourly greeting and ping fan-out.
type SchedulerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Interval        Duration `yaml:"interval"`
	InitialDelay    Duration `yaml:"initial_delay"`
	Timezone        string   `yaml:"timezone"`
	MorningHour     int      `yaml:"morning_hour"`
	NightHour       int      `yaml:"night_hour"`
	PingProbability float64  `yaml:"ping_probability"`
}

// Location resolves the configured IANA timezone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// MQTTConfig defines the optional Home Assistant status publisher.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // e.g. mqtt://homeassistant.local:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker has been set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Duration wraps time.Duration so YAML can carry values like "1h" or "10s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file. A .env file beside the
// config (and one in the working directory) is loaded first so that
// ${VAR} references can point at secrets kept out of the YAML. Values
// already present in the environment are never overridden.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// PeekTelegramUsername reads telegram.username from raw YAML without
// expanding variables or validating anything else. A leading "@" is
// dropped.
func PeekTelegramUsername(data []byte) (string, error) {
	var partial struct {
		Telegram struct {
			Username string `yaml:"username"`
		} `yaml:"telegram"`
	}
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.TrimSpace(partial.Telegram.Username), "@"), nil
}

// loadDotEnv loads each existing file in order. Missing files are not
// an error; godotenv keeps the first value seen for a key.
func loadDotEnv(paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		_ = godotenv.Load(abs)
	}
}

// applyEnvOverrides honours the environment variables the bot has
// always accepted. The SAYANG_ names win over the legacy ones.
func (c *Config) applyEnvOverrides() {
	if v := firstEnv("SAYANG_BOT_TOKEN", "BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := firstEnv("SAYANG_DB_PATH", "DB_PATH"); v != "" {
		c.Store.Path = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func (c *Config) applyDerivedDefaults() {
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "sayang.db")
	}
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeoutSec: 30,
			SendRatePerSec: 25,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			Interval:        Duration{time.Hour},
			InitialDelay:    Duration{10 * time.Second},
			Timezone:        "Asia/Singapore",
			MorningHour:     8,
			NightHour:       23,
			PingProbability: 0.03,
		},
		MQTT: MQTTConfig{
			DeviceName:         "sayang",
			DiscoveryPrefix:    "homeassistant",
			PublishIntervalSec: 60,
		},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate checks the configuration for values that would prevent the
// bot from running correctly.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("config error: telegram.token cannot be empty (set it or SAYANG_BOT_TOKEN)")
	}
	if c.Telegram.PollTimeoutSec < 0 {
		return fmt.Errorf("config error: telegram.poll_timeout_sec must not be negative")
	}
	if c.Telegram.SendRatePerSec <= 0 {
		return fmt.Errorf("config error: telegram.send_rate_per_sec must be greater than 0")
	}
	if c.Telegram.ChatRateLimit < 0 {
		return fmt.Errorf("config error: telegram.chat_rate_limit must not be negative")
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("config error: store.path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config error: store.dsn cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("config error: store.driver %q (valid: sqlite, postgres)", c.Store.Driver)
	}

	s := c.Scheduler
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("config error: scheduler.timezone %q: %w", s.Timezone, err)
	}
	if s.Interval.Duration <= 0 {
		return fmt.Errorf("config error: scheduler.interval must be greater than 0")
	}
	if s.InitialDelay.Duration < 0 {
		return fmt.Errorf("config error: scheduler.initial_delay must not be negative")
	}
	if s.MorningHour < 0 || s.MorningHour > 23 {
		return fmt.Errorf("config error: scheduler.morning_hour must be between 0 and 23")
	}
	if s.NightHour < 0 || s.NightHour > 23 {
		return fmt.Errorf("config error: scheduler.night_hour must be between 0 and 23")
	}
	if s.PingProbability < 0 || s.PingProbability > 1 {
		return fmt.Errorf("config error: scheduler.ping_probability must be between 0 and 1")
	}

	if c.MQTT.Configured() {
		if c.MQTT.DeviceName == "" {
			return fmt.Errorf("config error: mqtt.device_name cannot be empty")
		}
		if c.MQTT.PublishIntervalSec <= 0 {
			return fmt.Errorf("config error: mqtt.publish_interval_sec must be greater than 0")
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config error: log_format %q (valid: text, json)", c.LogFormat)
	}

	return nil
}

// String returns a human-readable summary with secrets redacted.
func (c *Config) String() string {
	return fmt.Sprintf(`Sayang Configuration:
  Telegram:
    Token: %s
    API URL: %s
    Poll Timeout: %ds
    Send Rate: %.1f/s
  Store:
    Driver: %s
    Path: %s
    DSN: %s
  Scheduler:
    Enabled: %v
    Interval: %s
    Timezone: %s
    Morning/Night: %02d:00 / %02d:00
    Ping Probability: %.3f
  MQTT:
    Broker: %s
  Log: %s (%s)`,
		redact(c.Telegram.Token),
		c.Telegram.APIURL,
		c.Telegram.PollTimeoutSec,
		c.Telegram.SendRatePerSec,
		c.Store.Driver,
		c.Store.Path,
		redact(c.Store.DSN),
		c.Scheduler.Enabled,
		c.Scheduler.Interval,
		c.Scheduler.Timezone,
		c.Scheduler.MorningHour,
		c.Scheduler.NightHour,
		c.Scheduler.PingProbability,
		c.MQTT.Broker,
		c.LogLevel,
		c.LogFormat,
	)
}

func redact(value string) string {
	if value == "" {
		return "(not configured)"
	}
	if len(value) > 8 {
		return value[:8] + "..."
	}
	return "***"
}
