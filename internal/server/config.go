package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/petero-dk/danfoss-air-api/internal/dfair"
)

// Config holds all daemon configuration.
type Config struct {
	mu sync.RWMutex

	Device    DeviceConfig    `yaml:"device" json:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Recording RecordingConfig `yaml:"recording" json:"recording"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Server    ServerConfig    `yaml:"server" json:"server"`

	path string // file path for save/load
}

type DeviceConfig struct {
	Type          string         `yaml:"type" json:"type"` // "danfoss" or "demo"
	IP            string         `yaml:"ip" json:"ip"`
	Port          int            `yaml:"port" json:"port"`
	Transport     string         `yaml:"transport" json:"transport"` // "tcp" or "serial"
	PortPath      string         `yaml:"port_path" json:"portPath"`  // serial bridge, e.g. /dev/ttyUSB0
	BaudRate      int            `yaml:"baud_rate" json:"baudRate"`
	DelaySeconds  int            `yaml:"delay_seconds" json:"delaySeconds"`
	Debug         bool           `yaml:"debug" json:"debug"`
	ReadTimeoutMs int            `yaml:"read_timeout_ms" json:"readTimeoutMs"`
	Intervals     map[string]int `yaml:"intervals" json:"intervals"` // per-parameter poll interval overrides, seconds
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Broker      string `yaml:"broker" json:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id" json:"clientId"`
	TopicPrefix string `yaml:"topic_prefix" json:"topicPrefix"`
	QoS         byte   `yaml:"qos" json:"qos"`
	Retain      bool   `yaml:"retain" json:"retain"`
}

type RecordingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
	Metrics    bool   `yaml:"metrics" json:"metrics"` // expose /metrics
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Type:          "danfoss",
			Port:          dfair.DefaultPort,
			Transport:     "tcp",
			PortPath:      "/dev/ttyUSB0",
			BaudRate:      115200,
			DelaySeconds:  30,
			ReadTimeoutMs: 3000,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "danfoss-air",
			TopicPrefix: "danfoss/air",
		},
		Recording: RecordingConfig{
			Path: "/var/log/danfoss-air",
		},
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
			Metrics:    true,
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string, log zerolog.Logger) *Config {
	log = log.With().Str("component", "config").Logger()

	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info().Str("path", path).Msg("no config file, using defaults")
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Error().Err(err).Str("path", path).Msg("parse failed, using defaults")
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Info().Str("path", path).Msg("loaded")
	}

	// .env next to the config wins over one in the working directory
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if loadEnvFile(ep) {
			log.Info().Str("path", ep).Msg("loaded .env")
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file into the process
// environment. Variables already set take precedence.
func loadEnvFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
	return true
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: DFAIR_TYPE, DFAIR_IP, DFAIR_PORT, DFAIR_DELAY, DFAIR_DEBUG,
// DFAIR_TRANSPORT, DFAIR_SERIAL_PORT, MQTT_ENABLED, MQTT_BROKER, MQTT_PREFIX,
// LISTEN_ADDR, LOG_LEVEL, LOG_ENABLED, LOG_PATH
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DFAIR_TYPE"); v != "" {
		c.Device.Type = v
	}
	if v := os.Getenv("DFAIR_IP"); v != "" {
		c.Device.IP = v
	}
	if v := os.Getenv("DFAIR_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Device.Port = n
		}
	}
	if v := os.Getenv("DFAIR_DELAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Device.DelaySeconds = n
		}
	}
	if v := os.Getenv("DFAIR_DEBUG"); v != "" {
		c.Device.Debug = truthy(v)
	}
	if v := os.Getenv("DFAIR_TRANSPORT"); v != "" {
		c.Device.Transport = v
	}
	if v := os.Getenv("DFAIR_SERIAL_PORT"); v != "" {
		c.Device.PortPath = v
	}
	if v := os.Getenv("MQTT_ENABLED"); v != "" {
		c.MQTT.Enabled = truthy(v)
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_PREFIX"); v != "" {
		c.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	// CSV recording
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Recording.Enabled = truthy(v)
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Recording.Path = v
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	d := cfg.Device
	switch d.Type {
	case "danfoss", "demo":
	default:
		return fmt.Errorf("device.type %q: must be danfoss or demo", d.Type)
	}
	switch d.Transport {
	case "tcp":
		if d.Type == "danfoss" && d.IP == "" {
			return fmt.Errorf("device.ip is required for the tcp transport")
		}
	case "serial":
		if d.PortPath == "" {
			return fmt.Errorf("device.port_path is required for the serial transport")
		}
		if d.BaudRate <= 0 {
			return fmt.Errorf("device.baud_rate %d: must be positive", d.BaudRate)
		}
	default:
		return fmt.Errorf("device.transport %q: must be tcp or serial", d.Transport)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("device.port %d: out of range", d.Port)
	}
	if d.DelaySeconds <= 0 {
		return fmt.Errorf("device.delay_seconds %d: must be positive", d.DelaySeconds)
	}
	if d.ReadTimeoutMs <= 0 {
		return fmt.Errorf("device.read_timeout_ms %d: must be positive", d.ReadTimeoutMs)
	}

	cat := dfair.DefaultCatalog()
	for _, id := range sortedKeys(d.Intervals) {
		if _, err := cat.Get(id); err != nil {
			return fmt.Errorf("device.intervals: %w", err)
		}
		if d.Intervals[id] < 0 {
			return fmt.Errorf("device.intervals[%s] %d: must not be negative", id, d.Intervals[id])
		}
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos %d: must be 0, 1 or 2", cfg.MQTT.QoS)
		}
		if strings.TrimSpace(cfg.MQTT.TopicPrefix) == "" {
			return fmt.Errorf("mqtt.topic_prefix must not be empty")
		}
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level %q: %w", cfg.Log.Level, err)
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Catalog returns the default parameter catalog with the configured
// interval overrides applied.
func (c *Config) Catalog() (*dfair.Catalog, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat := dfair.DefaultCatalog()
	for _, id := range sortedKeys(c.Device.Intervals) {
		if err := cat.SetInterval(id, c.Device.Intervals[id]); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

// Dialer returns the transport selected by the device config. It is nil for
// tcp, leaving the engine to dial ip:port itself.
func (c *Config) Dialer() dfair.Dialer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Device.Transport == "serial" {
		return dfair.SerialDialer{PortPath: c.Device.PortPath, BaudRate: c.Device.BaudRate}
	}
	return nil
}

// ReadTimeout returns the per-request response timeout.
func (c *Config) ReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Device.ReadTimeoutMs) * time.Millisecond
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = "/etc/danfoss-air/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. Nested maps are merged rather
// than replaced; everything else in src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
