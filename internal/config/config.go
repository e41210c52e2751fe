// Package config holds the trivial configuration bags for both executables
// and the YAML loader used to apply file-based overrides on top of flag
// defaults. The structs themselves carry no behaviour.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GenAppConfig is the optional YAML override file for gen-app. Every field
// mirrors a CLI flag; a zero value means "use the flag/default instead".
type GenAppConfig struct {
	Addr        string `yaml:"addr"`
	Mode        string `yaml:"mode"`
	Connections int    `yaml:"connections"`
	Seed        uint32 `yaml:"seed"`
}

// SnifferConfig is the optional YAML override file for sniffer.
type SnifferConfig struct {
	Interface     string           `yaml:"interface"`
	Log           bool             `yaml:"log"`
	TopN          int              `yaml:"top_n"`
	ClickHouse    ClickHouseConfig `yaml:"clickhouse"`
	NATS          NATSConfig       `yaml:"nats"`
	IdleTimeout   time.Duration    `yaml:"idle_timeout"`
	CleanupPeriod time.Duration    `yaml:"cleanup_period"`
}

// ClickHouseConfig describes the optional flow-snapshot export sink.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NATSConfig describes the optional flow-update publisher sink.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// LoadGenApp reads a YAML override file for gen-app. A missing file is an
// error; the caller only calls this when --config was given.
func LoadGenApp(path string) (*GenAppConfig, error) {
	var cfg GenAppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSniffer reads a YAML override file for sniffer.
func LoadSniffer(path string) (*SnifferConfig, error) {
	var cfg SnifferConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	return nil
}
