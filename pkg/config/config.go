package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-http-capture/pkg/logging"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "CAPTURE"

// Observer names accepted in the observers list
const (
	ObserverConsole = "console"
	ObserverLog     = "log"
	ObserverHistory = "history"
	ObserverStream  = "stream"
)

// ValidObservers lists all observer names
var ValidObservers = []string{ObserverConsole, ObserverLog, ObserverHistory, ObserverStream}

// Config represents the application configuration
type Config struct {
	Listener  ListenerConfig `yaml:"listener" envconfig:"LISTENER"`
	Admin     AdminConfig    `yaml:"admin" envconfig:"ADMIN"`
	History   HistoryConfig  `yaml:"history" envconfig:"HISTORY"`
	Logging   logging.Config `yaml:"logging" envconfig:"LOGGING"`
	Observers []string       `yaml:"observers" envconfig:"OBSERVERS"`
}

// ListenerConfig configures the capture ports
type ListenerConfig struct {
	Host  string `yaml:"host" envconfig:"HOST"`
	Ports []int  `yaml:"ports" envconfig:"PORTS"`
	// ClosePauseMS is slept between closing two ports so the OS can release them
	ClosePauseMS int `yaml:"close_pause_ms" envconfig:"CLOSE_PAUSE_MS"`
	// SuppressPaths are answered but not passed to observers
	SuppressPaths []string `yaml:"suppress_paths" envconfig:"SUPPRESS_PATHS"`
	// StrictPairs rejects requests with a key=value piece missing '='
	StrictPairs bool `yaml:"strict_pairs" envconfig:"STRICT_PAIRS"`

	ReadTimeout  int `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`   // seconds
	WriteTimeout int `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"` // seconds
	IdleTimeout  int `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`   // seconds

	CORS CORSConfig `yaml:"cors" envconfig:"CORS"`
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled" envconfig:"ENABLED"`
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `yaml:"exposed_headers" envconfig:"EXPOSED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"` // seconds
}

// AdminConfig contains the admin API server configuration
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	Host    string `yaml:"host" envconfig:"HOST"`
	Port    int    `yaml:"port" envconfig:"PORT"`
	Token   string `yaml:"token" envconfig:"TOKEN"` // Bearer token (auto-generated if empty)

	RateLimit AuthRateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// AuthRateLimitConfig limits admin API requests per client IP.
// Failed token checks count double.
type AuthRateLimitConfig struct {
	Enabled        bool `yaml:"enabled" envconfig:"ENABLED"`
	MaxAttempts    int  `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	WindowSeconds  int  `yaml:"window_seconds" envconfig:"WINDOW_SECONDS"`
	LockoutSeconds int  `yaml:"lockout_seconds" envconfig:"LOCKOUT_SECONDS"`
}

// SetDefaults fills zero values with defaults
func (c *AuthRateLimitConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 60
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 60
	}
	if c.LockoutSeconds <= 0 {
		c.LockoutSeconds = 300
	}
}

// HistoryConfig contains capture history storage configuration
type HistoryConfig struct {
	Type     string        `yaml:"type" envconfig:"TYPE"` // memory, sqlite, mongodb
	Capacity int           `yaml:"capacity" envconfig:"CAPACITY"`
	SQLite   SQLiteConfig  `yaml:"sqlite" envconfig:"SQLITE"`
	MongoDB  MongoDBConfig `yaml:"mongodb" envconfig:"MONGODB"`
}

// SQLiteConfig contains SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path" envconfig:"DB_PATH"`
}

// MongoDBConfig contains MongoDB-specific configuration
type MongoDBConfig struct {
	URI        string `yaml:"uri" envconfig:"URI"`
	Database   string `yaml:"database" envconfig:"DATABASE"`
	Collection string `yaml:"collection" envconfig:"COLLECTION"`
	Timeout    int    `yaml:"timeout" envconfig:"TIMEOUT"` // seconds
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			Host:          "127.0.0.1",
			Ports:         []int{8080},
			ClosePauseMS:  100,
			SuppressPaths: []string{"/favicon.ico"},
			ReadTimeout:   15,
			WriteTimeout:  15,
			IdleTimeout:   60,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         12 * 60 * 60,
			},
		},
		Admin: AdminConfig{
			Host: "127.0.0.1",
			Port: 9090,
			RateLimit: AuthRateLimitConfig{
				Enabled:        true,
				MaxAttempts:    60,
				WindowSeconds:  60,
				LockoutSeconds: 300,
			},
		},
		History: HistoryConfig{
			Type:     "memory",
			Capacity: 1000,
			SQLite: SQLiteConfig{
				Path: "captures.db",
			},
			MongoDB: MongoDBConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "capture",
				Collection: "captures",
				Timeout:    10,
			},
		},
		Logging:   logging.DefaultConfig(),
		Observers: []string{ObserverConsole},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Listener.Ports) == 0 {
		return fmt.Errorf("at least one listener port is required")
	}

	seen := make(map[int]bool, len(c.Listener.Ports))
	for _, p := range c.Listener.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("invalid listener port: %d", p)
		}
		if seen[p] {
			return fmt.Errorf("duplicate listener port: %d", p)
		}
		seen[p] = true
	}

	if c.Admin.Enabled {
		if c.Admin.Port < 1 || c.Admin.Port > 65535 {
			return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
		}
		if seen[c.Admin.Port] {
			return fmt.Errorf("admin port %d collides with a listener port", c.Admin.Port)
		}
	}

	switch c.History.Type {
	case "memory", "sqlite", "mongodb":
	default:
		return fmt.Errorf("invalid history type: %s (must be memory, sqlite, or mongodb)", c.History.Type)
	}

	if c.History.Type == "memory" && c.History.Capacity < 1 {
		return fmt.Errorf("history capacity must be positive")
	}

	if c.History.Type == "mongodb" && c.History.MongoDB.URI == "" {
		return fmt.Errorf("mongodb uri is required when using mongodb history")
	}

	if c.History.Type == "sqlite" && c.History.SQLite.Path == "" {
		return fmt.Errorf("sqlite path is required when using sqlite history")
	}

	for _, o := range c.Observers {
		if !isValidObserver(o) {
			return fmt.Errorf("invalid observer %q, valid observers: %v", o, ValidObservers)
		}
	}

	return nil
}

// HasObserver reports whether the named observer is enabled
func (c *Config) HasObserver(name string) bool {
	for _, o := range c.Observers {
		if o == name {
			return true
		}
	}
	return false
}

// ClosePause returns the pause between port closes
func (c *ListenerConfig) ClosePause() time.Duration {
	return time.Duration(c.ClosePauseMS) * time.Millisecond
}

// Address returns the admin server address
func (c *AdminConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func isValidObserver(name string) bool {
	for _, valid := range ValidObservers {
		if name == valid {
			return true
		}
	}
	return false
}
