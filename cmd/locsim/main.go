// Package main implements locsim, a simulated Location Service engine that
// answers qmiloc clients over NATS. It is meant for development and demos
// where no modem is attached.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/qmiloc/catalog"
	"github.com/c360/qmiloc/config"
	"github.com/c360/qmiloc/engine"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/metric"
	"github.com/c360/qmiloc/natsclient"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "locsim"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Simulator failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args)
	if err != nil {
		return err
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	loader := config.NewLoader()
	loader.EnableValidation(false)
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.Channel != "" {
		cfg.NATS.Channel = cli.Channel
	}
	if cli.FixInterval > 0 {
		cfg.Simulator.FixInterval = cli.FixInterval
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := setupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	if cli.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	reg := catalog.Default()
	if cfg.Client.Catalog != "" {
		f, err := os.Open(cfg.Client.Catalog)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		reg, err = catalog.Load(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := metric.NewMetricsRegistry()
	id := uuid.NewString()

	opts := []natsclient.ClientOption{
		natsclient.WithName(appName + "-" + id),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metrics.CoreMetrics()),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithPingInterval(cfg.NATS.PingInterval),
		natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	nc, err := natsclient.NewClient(cfg.NATS.URL(), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := nc.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := nc.Close(closeCtx); err != nil {
			logger.Warn("Failed to close NATS connection", "error", err)
		}
	}()
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = nc.WaitForConnection(connCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	tr, err := natsclient.NewFrameTransport(nc, natsclient.TransportConfig{
		Prefix:   cfg.NATS.Prefix,
		Channel:  cfg.NATS.Channel,
		Role:     natsclient.RoleService,
		ClientID: id,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	defer tr.Close()

	sc := cfg.Simulator
	sim := engine.NewSimulator(tr, reg, engine.Config{
		ServiceRevision: sc.ServiceRevision,
		Version:         sc.Version,
		MaxGeofences:    sc.MaxGeofences,
		MaxBatchSize:    sc.MaxBatchSize,
		FixInterval:     sc.FixInterval,
		Origin: loc.Position{
			Latitude:  sc.Latitude,
			Longitude: sc.Longitude,
			HorUnc:    5,
		},
	}, engine.WithLogger(logger), engine.WithMetrics(metrics))

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})
	}
	g.Go(func() error {
		defer cancelRun()
		return sim.Run(gctx)
	})

	logger.Info("Serving simulated engine",
		"subject_prefix", cfg.NATS.Prefix, "channel", cfg.NATS.Channel)
	return g.Wait()
}
