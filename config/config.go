package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/qmiloc/loc"
)

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config is the complete qmiloc configuration.
type Config struct {
	Client    ClientConfig    `json:"client"`
	NATS      NATSConfig      `json:"nats"`
	Metrics   MetricsConfig   `json:"metrics"`
	Log       LogConfig       `json:"log"`
	Simulator SimulatorConfig `json:"simulator"`
}

// ClientConfig tunes the Location Service client.
type ClientConfig struct {
	// Revision is sent with InformClientRevision. Zero uses the catalog
	// revision.
	Revision       uint32        `json:"revision,omitempty"`
	RequestTimeout time.Duration `json:"request_timeout"`
	// Events are event names as accepted by loc.ParseEvents.
	Events    []string `json:"events,omitempty"`
	QueueSize int      `json:"queue_size"`
	// RateLimit is requests per second. Zero disables pacing.
	RateLimit float64       `json:"rate_limit,omitempty"`
	RateBurst int           `json:"rate_burst,omitempty"`
	NITimeout time.Duration `json:"ni_timeout"`
	// Catalog is an optional YAML catalog replacing the embedded one.
	Catalog string `json:"catalog,omitempty"`
}

// EventMask parses Events.
func (c ClientConfig) EventMask() (loc.EventMask, error) {
	return loc.ParseEvents(c.Events)
}

// NATSConfig defines the NATS connection and the channel frames travel on.
type NATSConfig struct {
	URLs          []string      `json:"urls"`
	Prefix        string        `json:"prefix"`
	Channel       string        `json:"channel"`
	MaxReconnects int           `json:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
	PingInterval  time.Duration `json:"ping_interval"`
	DrainTimeout  time.Duration `json:"drain_timeout"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// URL joins URLs the way nats.Connect accepts a server list.
func (c NATSConfig) URL() string {
	return strings.Join(c.URLs, ",")
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// SimulatorConfig tunes cmd/locsim.
type SimulatorConfig struct {
	ServiceRevision uint32        `json:"service_revision,omitempty"`
	Version         string        `json:"version,omitempty"`
	MaxGeofences    int           `json:"max_geofences,omitempty"`
	MaxBatchSize    uint32        `json:"max_batch_size,omitempty"`
	FixInterval     time.Duration `json:"fix_interval,omitempty"`
	Latitude        float64       `json:"latitude,omitempty"`
	Longitude       float64       `json:"longitude,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			RequestTimeout: 5 * time.Second,
			Events:         []string{"position_report", "fix_session_state", "nmea"},
			QueueSize:      256,
			NITimeout:      20 * time.Second,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Prefix:        "qmiloc",
			Channel:       "modem0",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			PingInterval:  30 * time.Second,
			DrainTimeout:  5 * time.Second,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatJSON,
		},
		Simulator: SimulatorConfig{
			MaxGeofences: 64,
			MaxBatchSize: 100,
		},
	}
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate checks the configuration and reports the first problem found.
func (c *Config) Validate() error {
	if err := c.Client.validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if err := c.NATS.validate(); err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
		}
	}
	if err := c.Log.validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Simulator.validate(); err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	return nil
}

func (c ClientConfig) validate() error {
	switch {
	case c.RequestTimeout <= 0:
		return errors.New("request_timeout must be positive")
	case c.QueueSize <= 0:
		return errors.New("queue_size must be positive")
	case c.NITimeout <= 0:
		return errors.New("ni_timeout must be positive")
	case c.RateLimit < 0 || math.IsNaN(c.RateLimit):
		return fmt.Errorf("rate_limit %v must not be negative", c.RateLimit)
	case c.RateLimit > 0 && c.RateBurst < 1:
		return errors.New("rate_burst must be at least 1 when rate_limit is set")
	}
	if _, err := c.EventMask(); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	return nil
}

func (c NATSConfig) validate() error {
	if len(c.URLs) == 0 {
		return errors.New("urls is required")
	}
	for i, u := range c.URLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("urls[%d] is empty", i)
		}
	}
	for _, part := range strings.Split(c.Prefix, ".") {
		if !isValidNATSSubjectPart(part) {
			return fmt.Errorf("prefix %q is not a valid subject prefix", c.Prefix)
		}
	}
	if !isValidNATSSubjectPart(c.Channel) || strings.Contains(c.Channel, ".") {
		return fmt.Errorf("channel %q must be a single subject token", c.Channel)
	}
	if c.ReconnectWait < 0 {
		return errors.New("reconnect_wait must not be negative")
	}
	if c.PingInterval <= 0 {
		return errors.New("ping_interval must be positive")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain_timeout must be positive")
	}
	if c.Token != "" && c.Username != "" {
		return errors.New("token and username are mutually exclusive")
	}
	return nil
}

func (c LogConfig) validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case FormatJSON, FormatText:
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	return nil
}

func (c SimulatorConfig) validate() error {
	switch {
	case c.MaxGeofences < 0:
		return errors.New("max_geofences must not be negative")
	case c.FixInterval < 0:
		return errors.New("fix_interval must not be negative")
	case c.Latitude < -90 || c.Latitude > 90:
		return fmt.Errorf("latitude %v out of range", c.Latitude)
	case c.Longitude < -180 || c.Longitude > 180:
		return fmt.Errorf("longitude %v out of range", c.Longitude)
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	cp := c.Clone()
	if cp.NATS.Password != "" {
		cp.NATS.Password = "***"
	}
	if cp.NATS.Token != "" {
		cp.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(cp, "", "  ")
	return string(data)
}
