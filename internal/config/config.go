// Package config loads huddle's YAML configuration through koanf, fills
// defaults and applies HUDDLE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HUDDLE_"

type Config struct {
	Device   DeviceConfig   `koanf:"device"`
	Registry RegistryConfig `koanf:"registry"`
	Log      LogConfig      `koanf:"log"`
	Sync     SyncConfig     `koanf:"sync"`
	Host     HostConfig     `koanf:"host"`
	Client   ClientConfig   `koanf:"client"`
}

type DeviceConfig struct {
	Name string `koanf:"name"`
	UUID string `koanf:"uuid"`
}

type RegistryConfig struct {
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
}

type SyncConfig struct {
	BroadcastPolicy        string `koanf:"broadcast_policy"`
	RequestResyncOnPartial bool   `koanf:"request_resync_on_partial"`
}

type HostConfig struct {
	Listen     string `koanf:"listen"`
	GroupName  string `koanf:"group_name"`
	Passphrase string `koanf:"passphrase"`
	EventName  string `koanf:"event_name"`
}

type ClientConfig struct {
	Candidates   []string      `koanf:"candidates"`
	Passphrase   string        `koanf:"passphrase"`
	ScanInterval time.Duration `koanf:"scan_interval"`
	ScanTimeout  time.Duration `koanf:"scan_timeout"`
}

// Load reads path (when non-empty), then defaults, then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with overrides applied last, keyed by koanf
// path ("registry.path"). Command-line flags use it.
func LoadWithOverrides(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)
	applyEnvOverrides(k)
	for key, v := range overrides {
		k.Set(key, v)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	setDefault(k, "registry.path", "huddle.db")

	setDefault(k, "log.level", "info")
	setDefault(k, "log.encoding", "console")

	setDefault(k, "sync.broadcast_policy", "change")
	setDefault(k, "sync.request_resync_on_partial", true)

	setDefault(k, "host.listen", ":7788")

	setDefault(k, "client.candidates", []string{"127.0.0.1:7788"})
	setDefault(k, "client.scan_interval", 2*time.Second)
	setDefault(k, "client.scan_timeout", 30*time.Second)
}

func applyEnvOverrides(k *koanf.Koanf) {
	setFromEnv(k, "DEVICE_NAME", "device.name")
	setFromEnv(k, "DEVICE_UUID", "device.uuid")
	setFromEnv(k, "REGISTRY_PATH", "registry.path")
	setFromEnv(k, "LOG_LEVEL", "log.level")
	setFromEnv(k, "LOG_ENCODING", "log.encoding")
	setFromEnv(k, "BROADCAST_POLICY", "sync.broadcast_policy")
	setFromEnv(k, "HOST_LISTEN", "host.listen")
	setFromEnv(k, "GROUP_NAME", "host.group_name")
	setFromEnv(k, "HOST_PASSPHRASE", "host.passphrase")
	setFromEnv(k, "EVENT_NAME", "host.event_name")
	setFromEnv(k, "CLIENT_PASSPHRASE", "client.passphrase")

	if v, ok := lookupEnv("REQUEST_RESYNC_ON_PARTIAL"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			k.Set("sync.request_resync_on_partial", b)
		}
	}
	if v, ok := lookupEnv("CANDIDATES"); ok {
		k.Set("client.candidates", splitList(v))
	}
	if v, ok := lookupEnv("SCAN_TIMEOUT_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k.Set("client.scan_timeout", time.Duration(n)*time.Second)
		}
	}
}

// resolve derives the values that depend on other settings.
func (c *Config) resolve() {
	if c.Device.Name == "" {
		if h, err := os.Hostname(); err == nil {
			c.Device.Name = h
		}
	}
	if c.Device.UUID == "" && c.Device.Name != "" {
		c.Device.UUID = DeviceUUID(c.Device.Name)
	}
	if c.Host.GroupName == "" {
		c.Host.GroupName = c.Device.Name
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.Name) == "" {
		return fmt.Errorf("device.name is required")
	}
	switch c.Sync.BroadcastPolicy {
	case "change", "growth":
	default:
		return fmt.Errorf("sync.broadcast_policy: unknown policy %q (want change or growth)", c.Sync.BroadcastPolicy)
	}
	switch c.Log.Encoding {
	case "console", "json":
	default:
		return fmt.Errorf("log.encoding: unknown encoding %q (want console or json)", c.Log.Encoding)
	}
	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}
	return nil
}

// DeviceUUID derives a stable identifier from a device name so a device
// keeps its identity across runs without persisting one.
func DeviceUUID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("huddle:"+name)).String()
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value interface{}) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}

func setFromEnv(k *koanf.Koanf, name, key string) {
	if v, ok := lookupEnv(name); ok && v != "" {
		k.Set(key, v)
	}
}

func lookupEnv(name string) (string, bool) {
	return os.LookupEnv(EnvPrefix + name)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
