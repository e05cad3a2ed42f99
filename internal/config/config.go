package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full server configuration. Values come from defaults,
// then an optional YAML file, then environment overrides, in that order.
type Config struct {
	// Network settings
	ListenAddr string `yaml:"listen_addr"`
	Transport  string `yaml:"transport"` // "websocket" or "quic"
	CORSOrigin string `yaml:"cors_origin"`

	// TLS, required by the quic transport
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// Simulation settings
	TickRate       int    `yaml:"tick_rate"` // ticks per second
	PhysicsWorkers int    `yaml:"physics_workers"`
	DefaultRoom    string `yaml:"default_room"`

	// Room reaping; zero disables it and empty rooms live forever.
	RoomReapInterval time.Duration `yaml:"room_reap_interval"`

	// Storage; empty URLs select the in-memory implementations.
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	// Message settings
	MaxMessageSize   int `yaml:"max_message_size"`
	MessageQueueSize int `yaml:"message_queue_size"`

	// Static token table for the built-in authenticator (token -> user id).
	// Production deployments inject their own Authenticator instead.
	StaticTokens map[string]string `yaml:"static_tokens"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		ListenAddr:       "127.0.0.1:3301",
		Transport:        "websocket",
		CORSOrigin:       "*",
		TickRate:         30,
		PhysicsWorkers:   4,
		DefaultRoom:      "lobby",
		MaxMessageSize:   1024 * 1024, // 1MB
		MessageQueueSize: 1024,
		LogLevel:         "info",
	}
}

// Load builds the configuration from the optional YAML file at path and the
// environment. A missing file is not an error; an unreadable one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err = yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "AETHER_LISTEN_ADDR")
	setString(&c.Transport, "AETHER_TRANSPORT")
	setString(&c.CORSOrigin, "AETHER_CORS_ORIGIN")
	setString(&c.TLSCertFile, "AETHER_TLS_CERT_FILE")
	setString(&c.TLSKeyFile, "AETHER_TLS_KEY_FILE")
	setString(&c.RedisURL, "AETHER_REDIS_URL")
	setString(&c.DatabaseURL, "AETHER_DATABASE_URL")
	setString(&c.DefaultRoom, "AETHER_DEFAULT_ROOM")
	setString(&c.LogLevel, "AETHER_LOG_LEVEL")
	setInt(&c.TickRate, "AETHER_TICK_RATE")
	setInt(&c.PhysicsWorkers, "AETHER_PHYSICS_WORKERS")
	setDuration(&c.RoomReapInterval, "AETHER_ROOM_REAP_INTERVAL")
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("tick_rate must be positive, got %d", c.TickRate)
	}
	if c.Transport != "websocket" && c.Transport != "quic" {
		return fmt.Errorf("transport must be websocket or quic, got %q", c.Transport)
	}
	if c.Transport == "quic" && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("quic transport requires tls_cert_file and tls_key_file")
	}
	return nil
}

// TickInterval is the wall-clock duration of one tick.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
