package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Env             string           `json:"env"`
	HTTP            *HTTPConfig      `json:"http"`
	Auth            *AuthConfig      `json:"auth"`
	WebSocket       *WebSocketConfig `json:"websocket"`
	RateLimit       *RateLimitConfig `json:"rate_limit"`
	Store           *StoreConfig     `json:"store"`
	ShutdownTimeout time.Duration    `json:"shutdown_timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// FUNCTIONAL DISCOVERY: The secret is shared with whatever service issues tokens
type AuthConfig struct {
	Secret string `json:"-"`
	Issuer string `json:"issuer"`
}

type WebSocketConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	SendBuffer        int           `json:"send_buffer"`
	MaxPayloadBytes   int64         `json:"max_payload_bytes"`
}

type RateLimitConfig struct {
	Messages int           `json:"messages"`
	Window   time.Duration `json:"window"`
}

type StoreConfig struct {
	Backend         string `json:"backend"`
	SQLitePath      string `json:"sqlite_path"`
	RedisURL        string `json:"redis_url"`
	QueueCapacity   int    `json:"queue_capacity"`
	HistoryCapacity int    `json:"history_capacity"`
}

// DefaultConfig returns every setting except the JWT secret, which has no safe default
func DefaultConfig() *Config {
	return &Config{
		Env: "development",
		HTTP: &HTTPConfig{
			Port:         3001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		Auth: &AuthConfig{
			Issuer: "courier",
		},
		WebSocket: &WebSocketConfig{
			HeartbeatInterval: 30 * time.Second,
			WriteTimeout:      5 * time.Second,
			SendBuffer:        256,
			MaxPayloadBytes:   64 * 1024,
		},
		RateLimit: &RateLimitConfig{
			Messages: 30,
			Window:   60 * time.Second,
		},
		Store: &StoreConfig{
			Backend:         "memory",
			QueueCapacity:   500,
			HistoryCapacity: 1000,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// A missing secret is fatal at startup rather than silently falling back to a dev key.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.Auth == nil || c.Auth.Secret == "" {
		return ErrMissingJWTSecret
	}
	if c.Auth.Issuer == "" {
		return fmt.Errorf("JWT issuer cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.HeartbeatInterval <= 0 {
		return fmt.Errorf("WebSocket heartbeat interval must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WebSocket send buffer must be positive")
	}
	if c.WebSocket.MaxPayloadBytes <= 0 {
		return fmt.Errorf("WebSocket max payload must be positive")
	}

	if c.RateLimit == nil || c.RateLimit.Messages <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit messages and window must be positive")
	}

	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	switch c.Store.Backend {
	case "memory", "sqlite":
	case "redis":
		if c.Store.RedisURL == "" {
			return ErrMissingRedisURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Store.Backend)
	}
	if c.Store.QueueCapacity <= 0 || c.Store.HistoryCapacity <= 0 {
		return fmt.Errorf("store capacities must be positive")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays environment variables on the defaults.
// A .env file in the working directory is loaded first if present; variables
// already set in the environment win over it.
func LoadFromEnv() *Config {
	_ = godotenv.Load()

	config := DefaultConfig()
	applyEnv(config)
	return config
}

// FUNCTIONAL DISCOVERY: Unprefixed WS_PORT, JWT_SECRET and JWT_ISSUER keep
// existing deployments working; the COURIER_ names take precedence.
func applyEnv(config *Config) {
	config.Env = envString(config.Env, "COURIER_ENV", "ENV")
	config.HTTP.Host = envString(config.HTTP.Host, "COURIER_HTTP_HOST")
	config.HTTP.Port = envInt(config.HTTP.Port, "COURIER_HTTP_PORT", "WS_PORT")
	config.HTTP.ReadTimeout = envDuration(config.HTTP.ReadTimeout, "COURIER_HTTP_READ_TIMEOUT")
	config.HTTP.WriteTimeout = envDuration(config.HTTP.WriteTimeout, "COURIER_HTTP_WRITE_TIMEOUT")

	config.Auth.Secret = envString(config.Auth.Secret, "COURIER_JWT_SECRET", "JWT_SECRET")
	config.Auth.Issuer = envString(config.Auth.Issuer, "COURIER_JWT_ISSUER", "JWT_ISSUER")

	config.WebSocket.HeartbeatInterval = envDuration(config.WebSocket.HeartbeatInterval, "COURIER_HEARTBEAT_INTERVAL")
	config.WebSocket.WriteTimeout = envDuration(config.WebSocket.WriteTimeout, "COURIER_WRITE_TIMEOUT")
	config.WebSocket.SendBuffer = envInt(config.WebSocket.SendBuffer, "COURIER_SEND_BUFFER")
	config.WebSocket.MaxPayloadBytes = int64(envInt(int(config.WebSocket.MaxPayloadBytes), "COURIER_MAX_PAYLOAD_BYTES"))

	config.RateLimit.Messages = envInt(config.RateLimit.Messages, "COURIER_RATE_LIMIT_MESSAGES", "RATE_LIMIT_MESSAGES")
	if ms := envInt(0, "COURIER_RATE_LIMIT_WINDOW_MS", "RATE_LIMIT_WINDOW_MS"); ms > 0 {
		config.RateLimit.Window = time.Duration(ms) * time.Millisecond
	}

	config.Store.Backend = envString(config.Store.Backend, "COURIER_STORE_BACKEND")
	config.Store.SQLitePath = envString(config.Store.SQLitePath, "COURIER_SQLITE_PATH")
	config.Store.RedisURL = envString(config.Store.RedisURL, "COURIER_REDIS_URL", "REDIS_URL")
	config.Store.QueueCapacity = envInt(config.Store.QueueCapacity, "COURIER_OFFLINE_QUEUE_CAPACITY")
	config.Store.HistoryCapacity = envInt(config.Store.HistoryCapacity, "COURIER_HISTORY_CAPACITY")

	config.ShutdownTimeout = envDuration(config.ShutdownTimeout, "COURIER_SHUTDOWN_TIMEOUT")
}

// envString returns the first non-empty variable among keys, or fallback
func envString(fallback string, keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return fallback
}

// envInt is envString for integers; unparseable values are ignored
func envInt(fallback int, keys ...string) int {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			if n, err := strconv.Atoi(value); err == nil {
				return n
			}
		}
	}
	return fallback
}

// envDuration is envString for durations such as "30s"
func envDuration(fallback time.Duration, keys ...string) time.Duration {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			if d, err := time.ParseDuration(value); err == nil {
				return d
			}
		}
	}
	return fallback
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Env             string               `json:"env"`
	HTTP            *HTTPConfigFile      `json:"http"`
	Auth            *AuthConfigFile      `json:"auth"`
	WebSocket       *WebSocketConfigFile `json:"websocket"`
	RateLimit       *RateLimitConfigFile `json:"rate_limit"`
	Store           *StoreConfig         `json:"store"`
	ShutdownTimeout string               `json:"shutdown_timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type AuthConfigFile struct {
	Secret string `json:"secret"`
	Issuer string `json:"issuer"`
}

type WebSocketConfigFile struct {
	HeartbeatInterval string `json:"heartbeat_interval"`
	WriteTimeout      string `json:"write_timeout"`
	SendBuffer        int    `json:"send_buffer"`
	MaxPayloadBytes   int64  `json:"max_payload_bytes"`
}

type RateLimitConfigFile struct {
	Messages int    `json:"messages"`
	Window   string `json:"window"`
}

// LoadFromFile reads a JSON config file over the defaults and validates it
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := ApplyFile(config, filepath); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// ApplyFile overlays the non-zero settings of a JSON config file onto config
func ApplyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if file.Env != "" {
		config.Env = file.Env
	}
	setDuration(&config.ShutdownTimeout, file.ShutdownTimeout)

	if file.HTTP != nil {
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		setDuration(&config.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		setDuration(&config.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}

	if file.Auth != nil {
		if file.Auth.Secret != "" {
			config.Auth.Secret = file.Auth.Secret
		}
		if file.Auth.Issuer != "" {
			config.Auth.Issuer = file.Auth.Issuer
		}
	}

	if file.WebSocket != nil {
		setDuration(&config.WebSocket.HeartbeatInterval, file.WebSocket.HeartbeatInterval)
		setDuration(&config.WebSocket.WriteTimeout, file.WebSocket.WriteTimeout)
		if file.WebSocket.SendBuffer > 0 {
			config.WebSocket.SendBuffer = file.WebSocket.SendBuffer
		}
		if file.WebSocket.MaxPayloadBytes > 0 {
			config.WebSocket.MaxPayloadBytes = file.WebSocket.MaxPayloadBytes
		}
	}

	if file.RateLimit != nil {
		if file.RateLimit.Messages > 0 {
			config.RateLimit.Messages = file.RateLimit.Messages
		}
		setDuration(&config.RateLimit.Window, file.RateLimit.Window)
	}

	if file.Store != nil {
		if file.Store.Backend != "" {
			config.Store.Backend = file.Store.Backend
		}
		if file.Store.SQLitePath != "" {
			config.Store.SQLitePath = file.Store.SQLitePath
		}
		if file.Store.RedisURL != "" {
			config.Store.RedisURL = file.Store.RedisURL
		}
		if file.Store.QueueCapacity > 0 {
			config.Store.QueueCapacity = file.Store.QueueCapacity
		}
		if file.Store.HistoryCapacity > 0 {
			config.Store.HistoryCapacity = file.Store.HistoryCapacity
		}
	}

	return nil
}

func setDuration(target *time.Duration, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*target = d
	}
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// The result is validated; a missing JWT secret surfaces here.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()

	if filepath != "" {
		if err := ApplyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
