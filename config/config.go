// Package config loads and validates FieldEdge service configuration from
// YAML, with environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
)

// Environment variable overrides. Values present in the environment win
// over the file.
const (
	EnvMQTTURL      = "FIELDEDGE_MQTT_URL"
	EnvMQTTUsername = "FIELDEDGE_MQTT_USERNAME"
	EnvMQTTPassword = "FIELDEDGE_MQTT_PASSWORD"
	EnvServiceTag   = "FIELDEDGE_SERVICE_TAG"
)

// Config is the complete configuration of a FieldEdge microservice.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	ISC     ISCConfig     `yaml:"isc"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServiceConfig identifies the service on the bus.
type ServiceConfig struct {
	// Tag is the service's routing name, lowercase snake_case.
	Tag         string `yaml:"tag"`
	Environment string `yaml:"environment,omitempty"`
}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	URL            string        `yaml:"url"`
	ClientID       string        `yaml:"clientId,omitempty"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	QoS            byte     `yaml:"qos"`
	KeepAlive      Duration `yaml:"keepAlive"`
	ConnectTimeout Duration `yaml:"connectTimeout"`
}

// ISCConfig tunes the property coordination layer.
type ISCConfig struct {
	QueryTimeout  Duration `yaml:"queryTimeout"`
	CacheTTL      Duration `yaml:"cacheTtl"`
	SweepInterval Duration `yaml:"sweepInterval"`
	// Tagged qualifies wire property names with the service tag.
	Tagged             bool     `yaml:"tagged,omitempty"`
	RollcallProperties []string `yaml:"rollcallProperties,omitempty"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level   string   `yaml:"level,omitempty"`
	Verbose []string `yaml:"verbose,omitempty"`
}

// Default returns a configuration suitable for a service on the local
// broker. The service tag must still be set.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			URL:            "tcp://127.0.0.1:1883",
			QoS:            1,
			KeepAlive:      Duration(30 * time.Second),
			ConnectTimeout: Duration(10 * time.Second),
		},
		ISC: ISCConfig{
			QueryTimeout:  Duration(10 * time.Second),
			CacheTTL:      Duration(5 * time.Second),
			SweepInterval: Duration(time.Second),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "malformed yaml")
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvMQTTURL); v != "" {
		c.MQTT.URL = v
	}
	if v := os.Getenv(EnvMQTTUsername); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv(EnvServiceTag); v != "" {
		c.Service.Tag = v
	}
}

// Validate checks the configuration for deployment mistakes that would
// otherwise surface as runtime failures.
func (c *Config) Validate() error {
	var problems []string

	if c.Service.Tag == "" {
		problems = append(problems, "service.tag is required")
	} else if c.Service.Tag != strings.ToLower(c.Service.Tag) {
		problems = append(problems, "service.tag must be lowercase")
	}
	if c.MQTT.URL == "" {
		problems = append(problems, "mqtt.url is required")
	}
	if c.MQTT.QoS > 2 {
		problems = append(problems, fmt.Sprintf("mqtt.qos %d is out of range", c.MQTT.QoS))
	}
	if c.ISC.QueryTimeout <= 0 {
		problems = append(problems, "isc.queryTimeout must be positive")
	}
	if c.ISC.SweepInterval <= 0 {
		problems = append(problems, "isc.sweepInterval must be positive")
	}
	if c.ISC.CacheTTL < 0 {
		problems = append(problems, "isc.cacheTtl must not be negative")
	}
	if c.ISC.QueryTimeout > 0 && c.ISC.SweepInterval > c.ISC.QueryTimeout {
		problems = append(problems, "isc.sweepInterval exceeds isc.queryTimeout")
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			strings.Join(problems, "; "))
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.ISC.RollcallProperties = append([]string(nil), c.ISC.RollcallProperties...)
	clone.Logging.Verbose = append([]string(nil), c.Logging.Verbose...)
	return &clone
}

// SafeConfig provides thread-safe access to a configuration that may be
// reloaded while the service runs.
type SafeConfig struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSafeConfig wraps a configuration. A nil config starts from defaults.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{cfg: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cfg.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "SafeConfig.Update", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	sc.cfg = cfg
	sc.mu.Unlock()
	return nil
}
