package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	Channel     string
	FixInterval time.Duration
	ShowVersion bool
	Validate    bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config", os.Getenv("LOCSIM_CONFIG"),
		"Path to a JSON configuration file (env: LOCSIM_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error; overrides the config file")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format: json, text; overrides the config file")
	fs.StringVar(&cfg.Channel, "channel", "", "NATS channel to serve; overrides the config file")
	fs.DurationVar(&cfg.FixInterval, "fix-interval", 0,
		"Period of generated fixes; overrides simulator.fix_interval")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "%s - simulated Location Service engine\n\nUsage: %s [flags]\n\n", appName, appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.FixInterval < 0 {
		return nil, fmt.Errorf("invalid fix interval: %s", cfg.FixInterval)
	}
	return cfg, nil
}
