// Package config loads the gateway configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

type ServerConfig struct {
	Address             string    `yaml:"address"`
	Port                int       `yaml:"port"`
	ShutdownTimeoutSecs int       `yaml:"shutdown_timeout_secs"`
	TLS                 TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// BackendConfig selects and parameterizes the backend adapter. Mode "swift"
// talks to a native object API over HTTP; mode "dev" serves from a local
// bbolt file.
type BackendConfig struct {
	Mode        string `yaml:"mode"`
	Endpoint    string `yaml:"endpoint"`
	Account     string `yaml:"account"`
	AuthToken   string `yaml:"auth_token"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	DevPath     string `yaml:"dev_path"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	AccessEnabled bool   `yaml:"access_enabled"`
	AccessPath    string `yaml:"access_path"`
}

type NotificationsConfig struct {
	MaxWorkers   int      `yaml:"max_workers"`
	QueueSize    int      `yaml:"queue_size"`
	TimeoutSecs  int      `yaml:"timeout_secs"`
	NATSUrl      string   `yaml:"nats_url"`
	NATSSubject  string   `yaml:"nats_subject"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	RedisAddr    string   `yaml:"redis_addr"`
	RedisChan    string   `yaml:"redis_channel"`
	RedisList    string   `yaml:"redis_list"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// Load reads the config file at path, applying defaults before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:             "0.0.0.0",
			Port:                8080,
			ShutdownTimeoutSecs: 30,
		},
		Backend: BackendConfig{
			Mode:        "swift",
			Endpoint:    "http://127.0.0.1:8888",
			Account:     "AUTH_gateway",
			TimeoutSecs: 60,
			DevPath:     "./swiftgate.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			AccessPath: "./access.log",
		},
		Notifications: NotificationsConfig{
			MaxWorkers:  4,
			QueueSize:   256,
			TimeoutSecs: 10,
		},
		RateLimit: RateLimitConfig{
			RPS:   100,
			Burst: 200,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Backend.Mode != "swift" && cfg.Backend.Mode != "dev" {
		return nil, fmt.Errorf("backend mode %q: must be \"swift\" or \"dev\"", cfg.Backend.Mode)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	return cfg, nil
}
