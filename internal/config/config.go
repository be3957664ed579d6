package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// Environment variables that override values read from the config file.
const (
	EnvDatabasePath = "RIFFSTORE_DB_PATH"
	EnvLogLevel     = "RIFFSTORE_LOG_LEVEL"
	EnvNgrokToken   = "NGROK_AUTHTOKEN"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Library  LibraryConfig  `toml:"library"`
	Logging  LoggingConfig  `toml:"logging"`
	Server   ServerConfig   `toml:"server"`
	Ngrok    NgrokConfig    `toml:"ngrok"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path                  string `toml:"path"`
	MaxConnections        int    `toml:"max_connections"`
	MaxIdleConnections    int    `toml:"max_idle_connections"`
	BusyTimeoutMillis     int    `toml:"busy_timeout_ms"`
	AcquireTimeoutSeconds int    `toml:"acquire_timeout_seconds"`
	StatsCacheTTLSeconds  int    `toml:"stats_cache_ttl_seconds"`
	DefaultPageSize       int    `toml:"default_page_size"`
	MaxPageSize           int    `toml:"max_page_size"`
}

// LibraryConfig contains media library configuration
type LibraryConfig struct {
	Path             string   `toml:"path"`
	SupportedFormats []string `toml:"supported_formats"`
	VideoFormats     []string `toml:"video_formats"`
	WatchForChanges  bool     `toml:"watch_for_changes"`
	ScanWorkers      int      `toml:"scan_workers"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// ServerConfig contains API server configuration
type ServerConfig struct {
	Port        string `toml:"port"`
	Host        string `toml:"host"`
	EnableCORS  bool   `toml:"enable_cors"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled      bool   `toml:"enabled"`
	AuthToken    string `toml:"auth_token"`
	Domain       string `toml:"domain"`
	EnableAuth   bool   `toml:"enable_auth"`
	AuthProvider string `toml:"auth_provider"` // OAuth provider: google, github, microsoft, etc.
}

// DefaultDatabasePath returns the database location under the XDG data home,
// falling back to the working directory when it cannot be resolved.
func DefaultDatabasePath() string {
	path, err := xdg.DataFile(filepath.Join("riffstore", "riffstore.db"))
	if err != nil {
		return "./riffstore.db"
	}
	return path
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:                  DefaultDatabasePath(),
			MaxConnections:        5,
			MaxIdleConnections:    2,
			BusyTimeoutMillis:     5000,
			AcquireTimeoutSeconds: 10,
			StatsCacheTTLSeconds:  5,
			DefaultPageSize:       50,
			MaxPageSize:           500,
		},
		Library: LibraryConfig{
			Path:             "./downloads",
			SupportedFormats: []string{".mp3", ".flac", ".wav", ".m4a", ".mp4", ".webm", ".mkv"},
			VideoFormats:     []string{".mp4", ".webm", ".mkv"},
			WatchForChanges:  false,
			ScanWorkers:      4,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: true,
		},
		Server: ServerConfig{
			Port:        "8080",
			Host:        "127.0.0.1",
			EnableCORS:  true,
			ReadTimeout: 30,
		},
		Ngrok: NgrokConfig{
			Enabled:      false,
			EnableAuth:   true,
			AuthProvider: "google",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating it with defaults
// when it does not exist, then applies environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file values with any set environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDatabasePath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvNgrokToken); v != "" && c.Ngrok.AuthToken == "" {
		c.Ngrok.AuthToken = v
	}
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# riffstore configuration
# Database, library, logging and API server settings for the download store.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	if err := toml.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate database config
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}
	if c.Database.MaxIdleConnections < 0 || c.Database.MaxIdleConnections > c.Database.MaxConnections {
		return fmt.Errorf("database max idle connections must be between 0 and max connections")
	}
	if c.Database.BusyTimeoutMillis < 0 {
		return fmt.Errorf("database busy timeout cannot be negative")
	}
	if c.Database.AcquireTimeoutSeconds < 1 {
		return fmt.Errorf("database acquire timeout must be at least 1 second")
	}
	if c.Database.StatsCacheTTLSeconds < 0 {
		return fmt.Errorf("statistics cache TTL cannot be negative")
	}
	if c.Database.DefaultPageSize < 1 || c.Database.MaxPageSize < c.Database.DefaultPageSize {
		return fmt.Errorf("page sizes must satisfy 1 <= default_page_size <= max_page_size")
	}

	// Validate library config
	if len(c.Library.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported media format must be specified")
	}
	if c.Library.ScanWorkers < 1 {
		return fmt.Errorf("library scan workers must be at least 1")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	// Validate ngrok config
	if c.Ngrok.Enabled && c.Ngrok.EnableAuth && c.Ngrok.AuthProvider == "" {
		return fmt.Errorf("ngrok auth provider must be set when enable_auth is on")
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// AcquireTimeout returns how long a caller may wait for a pooled connection.
func (d DatabaseConfig) AcquireTimeout() time.Duration {
	return time.Duration(d.AcquireTimeoutSeconds) * time.Second
}

// StatsCacheTTL returns the statistics snapshot cache lifetime; zero disables it.
func (d DatabaseConfig) StatsCacheTTL() time.Duration {
	return time.Duration(d.StatsCacheTTLSeconds) * time.Second
}

// IsFormatSupported checks if a media file extension is supported
func (c *Config) IsFormatSupported(ext string) bool {
	for _, supported := range c.Library.SupportedFormats {
		if supported == ext {
			return true
		}
	}
	return false
}
