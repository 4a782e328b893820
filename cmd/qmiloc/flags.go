package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	Channel     string
	SessionID   uint
	Recurrence  string
	Accuracy    string
	Duration    time.Duration
	Geofence    string
	Batch       bool
	ShowVersion bool
	Validate    bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config", getEnv("QMILOC_CONFIG", ""),
		"Path to a JSON configuration file (env: QMILOC_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("QMILOC_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides the config file")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("QMILOC_LOG_FORMAT", ""),
		"Log format: json, text; overrides the config file")
	fs.StringVar(&cfg.Channel, "channel", "", "NATS channel of the modem; overrides the config file")
	fs.UintVar(&cfg.SessionID, "session", 1, "Fix session ID")
	fs.StringVar(&cfg.Recurrence, "recurrence", "periodic", "Fix recurrence: periodic, single")
	fs.StringVar(&cfg.Accuracy, "accuracy", "", "Horizontal accuracy: low, med, high")
	fs.DurationVar(&cfg.Duration, "duration", getEnvDuration("QMILOC_DURATION", 0),
		"Stop after this long, 0 runs until interrupted (env: QMILOC_DURATION)")
	fs.StringVar(&cfg.Geofence, "geofence", "", "Add a circular geofence: lat,lon,radius_m")
	fs.BoolVar(&cfg.Batch, "batch", false, "Batch fixes instead of streaming them, drained on exit")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "%s - Location Service client\n\nUsage: %s [flags]\n\n", appName, appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, validateFlags(cfg)
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if cfg.SessionID > 255 {
		return fmt.Errorf("invalid session id: %d", cfg.SessionID)
	}
	switch cfg.Recurrence {
	case "periodic", "single":
	default:
		return fmt.Errorf("invalid recurrence: %s", cfg.Recurrence)
	}
	switch cfg.Accuracy {
	case "", "low", "med", "high":
	default:
		return fmt.Errorf("invalid accuracy: %s", cfg.Accuracy)
	}
	if cfg.Duration < 0 {
		return fmt.Errorf("invalid duration: %s", cfg.Duration)
	}
	if cfg.Geofence != "" {
		if _, _, _, err := parseGeofence(cfg.Geofence); err != nil {
			return err
		}
	}
	return nil
}

func parseGeofence(s string) (lat, lon float64, radius uint32, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid geofence %q: want lat,lon,radius", s)
	}
	if lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid geofence latitude: %w", err)
	}
	if lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid geofence longitude: %w", err)
	}
	r, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid geofence radius: %w", err)
	}
	return lat, lon, uint32(r), nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
