// Package config loads gateway configuration from a YAML file or from the
// environment, mirroring the two loaders of the original core/config.py
// (load_from_file / load_from_env).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ShuttleConfig describes how to reach one physical shuttle.
type ShuttleConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RedisConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	DB         int    `yaml:"db"`
	Password   string `yaml:"password"`
	TLSEnabled bool   `yaml:"tls_enabled"`
}

type WMSConfig struct {
	APIURL       string        `yaml:"api_url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PollInterval time.Duration `yaml:"poll_interval"`
	WebhookURL   string        `yaml:"webhook_url"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogDir  string `yaml:"log_dir"`
	LogName string `yaml:"log_name"`
}

// GatewayConfig is the root configuration object, mirroring
// core/config.py's GatewayConfig dataclass.
type GatewayConfig struct {
	Shuttles       map[string]ShuttleConfig `yaml:"shuttles"`
	StockToShuttle map[string][]string      `yaml:"stock_to_shuttle"`

	Redis   RedisConfig   `yaml:"redis"`
	WMS     WMSConfig     `yaml:"wms"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`

	CommandQueueMaxSize        int           `yaml:"command_queue_max_size"`
	CommandProcessorWorkers    int           `yaml:"command_processor_workers"`
	TCPConnectTimeout          time.Duration `yaml:"tcp_connect_timeout"`
	TCPReadTimeout             time.Duration `yaml:"tcp_read_timeout"`
	TCPWriteTimeout            time.Duration `yaml:"tcp_write_timeout"`
	ShuttleListenerPort        int           `yaml:"shuttle_listener_port"`
	ShuttleHealthCheckInterval time.Duration `yaml:"shuttle_health_check_interval"`
	StatusAPIPort              int           `yaml:"status_api_port"`
	SnapshotInterval           time.Duration `yaml:"snapshot_interval"`
}

// Defaults mirrors the dataclass field defaults in core/config.py.
func Defaults() GatewayConfig {
	return GatewayConfig{
		Shuttles:                   map[string]ShuttleConfig{},
		StockToShuttle:             map[string][]string{},
		Redis:                      RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		WMS:                        WMSConfig{PollInterval: 60 * time.Second},
		Logging:                    LoggingConfig{Level: "info"},
		Metrics:                    MetricsConfig{Enabled: true, Port: 9090},
		CommandQueueMaxSize:        1000,
		CommandProcessorWorkers:    2,
		TCPConnectTimeout:          5 * time.Second,
		TCPReadTimeout:             20 * time.Second,
		TCPWriteTimeout:            5 * time.Second,
		ShuttleListenerPort:        8181,
		ShuttleHealthCheckInterval: 30 * time.Second,
		StatusAPIPort:              8000,
		SnapshotInterval:           10 * time.Second,
	}
}

// LoadFromFile reads a YAML config file over the defaults, mirroring
// load_from_file's json/yaml dispatch (this gateway only ships the YAML
// loader, since the pack carries gopkg.in/yaml.v3 and no JSON-schema dep).
func LoadFromFile(path string) (GatewayConfig, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv builds a GatewayConfig from environment variables over the
// defaults, mirroring load_from_env's REDIS_*, WMS_*, COMMAND_* keys.
func LoadFromEnv() GatewayConfig {
	cfg := Defaults()

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v, ok := envInt("REDIS_PORT"); ok {
		cfg.Redis.Port = v
	}
	if v, ok := envInt("REDIS_DB"); ok {
		cfg.Redis.DB = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_TLS_ENABLE"); v != "" {
		cfg.Redis.TLSEnabled = v == "true" || v == "1"
	}

	if v := os.Getenv("WMS_API_URL"); v != "" {
		cfg.WMS.APIURL = v
	}
	if v := os.Getenv("WMS_USERNAME"); v != "" {
		cfg.WMS.Username = v
	}
	if v := os.Getenv("WMS_PASSWORD"); v != "" {
		cfg.WMS.Password = v
	}
	if v := os.Getenv("WMS_WEBHOOK_URL"); v != "" {
		cfg.WMS.WebhookURL = v
	}
	if v, ok := envDuration("WMS_POLL_INTERVAL"); ok {
		cfg.WMS.PollInterval = v
	}

	if v, ok := envInt("COMMAND_QUEUE_MAX_SIZE"); ok {
		cfg.CommandQueueMaxSize = v
	}
	if v, ok := envInt("COMMAND_PROCESSOR_WORKERS"); ok {
		cfg.CommandProcessorWorkers = v
	}
	if v, ok := envInt("SHUTTLE_LISTENER_PORT"); ok {
		cfg.ShuttleListenerPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}

// Load chooses a loader the way load_config does: a configured file path
// wins, otherwise fall back to the environment.
func Load(path string) (GatewayConfig, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadFromFile(path)
		}
	}
	return LoadFromEnv(), nil
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
