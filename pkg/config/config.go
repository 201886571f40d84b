package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/unklstewy/ffc-tracker/internal/logging"
	"github.com/unklstewy/ffc-tracker/pkg/adsb"
)

// Config represents the complete application configuration.
// It is read from a JSON or YAML file; secrets usually come from the
// environment or a .env file next to the config file.
type Config struct {
	Server   ServerConfig    `json:"server" yaml:"server"`
	Database DatabaseConfig  `json:"database" yaml:"database"`
	OpenSky  OpenSkyConfig   `json:"opensky" yaml:"opensky"`
	Fleet    Fleet           `json:"fleet" yaml:"fleet" validate:"required,min=1,dive"`
	Refresh  RefreshConfig   `json:"refresh" yaml:"refresh"`
	Map      MapConfig       `json:"map" yaml:"map"`
	Logging  logging.Config  `json:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 5000)
	Port string `json:"port" yaml:"port" validate:"required,numeric"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host" yaml:"host"`

	// CORSOrigins lists allowed browser origins (default: all)
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`

	// JWTSecret signs admin tokens. Should be loaded from environment.
	JWTSecret string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`

	// AdminUsername may call the refresh control endpoints
	AdminUsername string `json:"admin_username" yaml:"admin_username"`

	// AdminPasswordHash is the bcrypt hash of the admin password
	AdminPasswordHash string `json:"admin_password_hash,omitempty" yaml:"admin_password_hash,omitempty"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Enabled turns on Postgres persistence of states and flights
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Host is the database server hostname
	Host string `json:"host" yaml:"host"`

	// Port is the database server port
	Port int `json:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`

	// Database is the database name
	Database string `json:"database" yaml:"database"`

	// Username for database authentication
	Username string `json:"username" yaml:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" yaml:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`

	// RetentionHours is how long status and flight rows are kept (default: 48)
	RetentionHours int `json:"retention_hours" yaml:"retention_hours" validate:"omitempty,min=1"`
}

// OpenSkyConfig contains OpenSky Network API settings.
type OpenSkyConfig struct {
	BaseURL  string `json:"base_url" yaml:"base_url" validate:"required,url"`
	TokenURL string `json:"token_url" yaml:"token_url" validate:"required,url"`

	// ClientID and ClientSecret are OAuth2 client credentials.
	// The flights endpoint requires them.
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`

	// RequestsPerSecond limits calls to OpenSky
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`

	// TimeoutSeconds bounds a single HTTP request
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds" validate:"min=1"`

	// LiveHistoryHours is the history window of the comprehensive snapshot
	LiveHistoryHours int `json:"live_history_hours" yaml:"live_history_hours" validate:"min=1"`

	// HistoryHours is the window of the per-aircraft history endpoint
	HistoryHours int `json:"history_hours" yaml:"history_hours" validate:"min=1"`
}

// AircraftEntry maps a tail number to its transponder address.
type AircraftEntry struct {
	Registration string `json:"registration" yaml:"registration" validate:"required"`
	ICAO24       string `json:"icao24" yaml:"icao24" validate:"required,len=6,hexadecimal"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
}

// RefreshConfig controls the auto-refresh loop.
type RefreshConfig struct {
	// IntervalSeconds between automatic refreshes (default: 30)
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds" validate:"min=1"`

	// AutoStart begins auto-refresh when the server starts
	AutoStart bool `json:"auto_start" yaml:"auto_start"`
}

// MapConfig is the initial map view of terminal clients.
type MapConfig struct {
	CenterLatitude  float64 `json:"center_latitude" yaml:"center_latitude" validate:"min=-90,max=90"`
	CenterLongitude float64 `json:"center_longitude" yaml:"center_longitude" validate:"min=-180,max=180"`
	Zoom            int     `json:"zoom" yaml:"zoom" validate:"min=1,max=18"`
}

// Load reads configuration from a JSON or YAML file (chosen by extension).
// A .env file in the same directory is loaded into the environment first.
// If the config file doesn't exist, defaults are returned with environment
// overrides applied.
func Load(path string) (*Config, error) {
	loadEnvFile(filepath.Join(filepath.Dir(path), ".env"))

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

// Save writes the configuration to a JSON or YAML file (chosen by extension).
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Fleet))
	for _, a := range c.Fleet {
		key := strings.ToUpper(a.Registration)
		if seen[key] {
			return fmt.Errorf("invalid configuration: duplicate registration %s", a.Registration)
		}
		seen[key] = true
	}

	if c.Server.AdminUsername != "" && c.Server.JWTSecret == "" {
		return errors.New("invalid configuration: server.jwt_secret is required when admin_username is set")
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
// The fleet is the four FFC training aircraft.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "5000",
			Host:          "0.0.0.0",
			CORSOrigins:   []string{"*"},
			AdminUsername: "admin",
		},
		Database: DatabaseConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           5432,
			Database:       "ffctracker",
			Username:       "ffctracker",
			SSLMode:        "disable",
			MaxOpenConns:   10,
			MaxIdleConns:   2,
			RetentionHours: 48,
		},
		OpenSky: OpenSkyConfig{
			BaseURL:           adsb.DefaultOpenSkyBaseURL,
			TokenURL:          adsb.DefaultOpenSkyTokenURL,
			RequestsPerSecond: 1,
			TimeoutSeconds:    10,
			LiveHistoryHours:  24,
			HistoryHours:      48,
		},
		Fleet: []AircraftEntry{
			{Registration: "N31401", ICAO24: "a3581f", Description: "FFC Training Aircraft N31401"},
			{Registration: "N773SP", ICAO24: "aa75ca", Description: "FFC Training Aircraft N773SP"},
			{Registration: "N41598", ICAO24: "a4ea67", Description: "FFC Training Aircraft N41598"},
			{Registration: "N700ZG", ICAO24: "a956d4", Description: "FFC Training Aircraft N700ZG"},
		},
		Refresh: RefreshConfig{
			IntervalSeconds: 30,
			AutoStart:       true,
		},
		Map: MapConfig{
			CenterLatitude:  41.92,
			CenterLongitude: -88.2417,
			Zoom:            10,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Fleet is the list of tracked aircraft in configured order.
type Fleet []AircraftEntry

// ICAO24s returns the lowercase transponder addresses of the fleet.
func (f Fleet) ICAO24s() []string {
	out := make([]string, 0, len(f))
	for _, a := range f {
		out = append(out, strings.ToLower(a.ICAO24))
	}
	return out
}

// Lookup finds a fleet entry by tail number (case-insensitive).
func (f Fleet) Lookup(registration string) (AircraftEntry, bool) {
	for _, a := range f {
		if strings.EqualFold(a.Registration, registration) {
			return a, true
		}
	}
	return AircraftEntry{}, false
}

// ClientConfig converts the OpenSky section into client settings.
func (c OpenSkyConfig) ClientConfig() adsb.OpenSkyConfig {
	return adsb.OpenSkyConfig{
		BaseURL:           c.BaseURL,
		TokenURL:          c.TokenURL,
		ClientID:          c.ClientID,
		ClientSecret:      c.ClientSecret,
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           time.Duration(c.TimeoutSeconds) * time.Second,
	}
}

// Interval returns the auto-refresh period.
func (r RefreshConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// Retention returns how long persisted rows are kept.
func (d DatabaseConfig) Retention() time.Duration {
	return time.Duration(d.RetentionHours) * time.Hour
}

// DSN builds a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	parts := []string{
		"host=" + d.Host,
		"port=" + strconv.Itoa(d.Port),
		"user=" + d.Username,
		"dbname=" + d.Database,
		"sslmode=" + d.SSLMode,
	}
	if d.Password != "" {
		parts = append(parts, "password="+d.Password)
	}
	return strings.Join(parts, " ")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

// loadEnvFile loads a .env file if present. Existing variables win.
func loadEnvFile(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows secrets like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("FFC_TRACKER_PORT"); port != "" {
		c.Server.Port = port
	}
	if secret := os.Getenv("FFC_TRACKER_JWT_SECRET"); secret != "" {
		c.Server.JWTSecret = secret
	}
	if hash := os.Getenv("FFC_TRACKER_ADMIN_PASSWORD_HASH"); hash != "" {
		c.Server.AdminPasswordHash = hash
	}
	if dbPassword := os.Getenv("FFC_TRACKER_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if dbHost := os.Getenv("FFC_TRACKER_DB_HOST"); dbHost != "" {
		c.Database.Host = dbHost
	}
	if enabled, err := strconv.ParseBool(os.Getenv("FFC_TRACKER_DB_ENABLED")); err == nil {
		c.Database.Enabled = enabled
	}
	if id := os.Getenv("FFC_TRACKER_OPENSKY_CLIENT_ID"); id != "" {
		c.OpenSky.ClientID = id
	}
	if secret := os.Getenv("FFC_TRACKER_OPENSKY_CLIENT_SECRET"); secret != "" {
		c.OpenSky.ClientSecret = secret
	}
	if level := os.Getenv("FFC_TRACKER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
