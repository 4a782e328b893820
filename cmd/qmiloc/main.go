// Package main implements qmiloc, a command-line Location Service client.
// It connects to a modem channel over NATS, registers for indications,
// runs one fix or batching session and logs what the engine reports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/qmiloc/batching"
	"github.com/c360/qmiloc/catalog"
	"github.com/c360/qmiloc/client"
	"github.com/c360/qmiloc/config"
	"github.com/c360/qmiloc/geofence"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/metric"
	"github.com/c360/qmiloc/natsclient"
	"github.com/c360/qmiloc/ni"
	"github.com/c360/qmiloc/pkg/retry"
	"github.com/c360/qmiloc/session"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "qmiloc"
)

const cleanupTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Application failed", "error", err, "exit_code", 1)
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

	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	reg, err := loadCatalog(cfg.Client.Catalog)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cli.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Duration)
		defer cancel()
	}

	id := uuid.New()
	metrics := metric.NewMetricsRegistry()
	logger = logger.With("client_id", id.String())
	logger.Info("Starting qmiloc", "version", Version, "channel", cfg.NATS.Channel)

	hooks := &connHooks{logger: logger}
	nc, err := connectNATS(ctx, cfg.NATS, appName+"-"+id.String(), metrics.CoreMetrics(), hooks, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := nc.Close(closeCtx); err != nil {
			logger.Warn("Failed to close NATS connection", "error", err)
		}
	}()

	tr, err := natsclient.NewFrameTransport(nc, natsclient.TransportConfig{
		Prefix:   cfg.NATS.Prefix,
		Channel:  cfg.NATS.Channel,
		Role:     natsclient.RoleClient,
		ClientID: id.String(),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithMetrics(metrics.CoreMetrics(), metrics),
		client.WithInstanceID(id),
		client.WithRegistry(reg),
		client.WithRequestTimeout(cfg.Client.RequestTimeout),
		client.WithQueueSize(cfg.Client.QueueSize),
		client.WithNITimeout(cfg.Client.NITimeout),
		client.WithRateLimit(cfg.Client.RateLimit, cfg.Client.RateBurst),
	}
	if cfg.Client.Revision != 0 {
		opts = append(opts, client.WithClientRevision(cfg.Client.Revision))
	}
	c := client.New(tr, opts...)
	hooks.attach(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})
		logger.Info("Serving metrics", "address", server.Address())
	}

	g.Go(func() error {
		defer cancel()
		return runSession(gctx, c, cli, cfg, logger)
	})
	return g.Wait()
}

func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
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
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadCatalog(path string) (*catalog.Registry, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	reg, err := catalog.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return reg, nil
}

// connectNATS connects to the servers in cfg. The transport created on the
// connection closes itself once reconnects are exhausted, which fails
// pending requests with errors.ErrConnectionLost.
func connectNATS(ctx context.Context, cfg config.NATSConfig, name string, m *metric.Metrics, hooks *connHooks, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(name),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(m),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
		natsclient.WithPingInterval(cfg.PingInterval),
		natsclient.WithDrainTimeout(cfg.DrainTimeout),
		natsclient.WithDisconnectCallback(hooks.disconnected),
		natsclient.WithReconnectCallback(hooks.reconnected),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	nc, err := natsclient.NewClient(cfg.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", cfg.URL())
	if err := nc.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := nc.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nc, nil
}

var accuracies = map[string]loc.Accuracy{
	"low":  loc.AccuracyLow,
	"med":  loc.AccuracyMed,
	"high": loc.AccuracyHigh,
}

func startRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		AddJitter:    true,
	}
}

// runSession drives one client from handshake to cleanup. It returns when
// ctx is done or a single-shot fix completes.
func runSession(ctx context.Context, c *client.Client, cli *CLIConfig, cfg *config.Config, logger *slog.Logger) error {
	if err := c.Start(context.Background()); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close client", "error", err)
		}
	}()

	if err := c.InformClientRevision(ctx); err != nil {
		return err
	}
	rev, err := c.GetServiceRevision(ctx)
	if err != nil {
		return err
	}
	logger.Info("Connected to Location Service",
		"revision", rev.Revision, "software", rev.Software, "firmware", rev.MEFirmware)

	if ids, err := c.GetSupportedMessages(ctx); err != nil {
		logger.Warn("Supported messages unavailable", "error", err)
	} else {
		logger.Debug("Supported messages", "count", len(ids))
	}

	mask, err := cfg.Client.EventMask()
	if err != nil {
		return err
	}
	mask |= loc.EventNiNotifyVerifyReq
	if cli.Geofence != "" {
		mask |= loc.EventGeofenceBreach | loc.EventGeofenceBatchBreach
	}
	if cli.Batch {
		mask |= loc.EventBatchFull | loc.EventLiveBatchedPosition
	}

	done := make(chan struct{})
	var once sync.Once
	attachLogging(c, logger, func(ev client.PositionEvent) {
		if ev.Session.Recurrence == loc.RecurrenceSingle && ev.Final {
			once.Do(func() { close(done) })
		}
	})

	if err := c.RegisterEvents(ctx, mask); err != nil {
		return err
	}

	var fence *geofence.Geofence
	if cli.Geofence != "" {
		lat, lon, radius, _ := parseGeofence(cli.Geofence)
		g, err := c.AddCircularGeofence(ctx, geofence.Circle{Latitude: lat, Longitude: lon, Radius: radius},
			loc.BreachMaskEntering|loc.BreachMaskLeaving, client.GeofenceOptions{IncludePosition: true})
		if err != nil {
			return err
		}
		fence = &g
	}

	sessionID := uint8(cli.SessionID)
	if cli.Batch {
		err = client.Retry(ctx, startRetry(), func() error {
			return c.StartBatching(ctx, batching.Params{Accuracy: accuracies[cli.Accuracy]})
		})
	} else {
		rec := loc.RecurrencePeriodic
		if cli.Recurrence == "single" {
			rec = loc.RecurrenceSingle
		}
		err = client.Retry(ctx, startRetry(), func() error {
			_, err := c.StartFix(ctx, client.FixRequest{
				SessionID:  sessionID,
				Recurrence: rec,
				Accuracy:   accuracies[cli.Accuracy],
			})
			return err
		})
	}
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-done:
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	return cleanup(cleanupCtx, c, cli.Batch, sessionID, fence, logger)
}

func cleanup(ctx context.Context, c *client.Client, batch bool, sessionID uint8, fence *geofence.Geofence, logger *slog.Logger) error {
	var errs []error
	if batch {
		if err := c.StopBatching(ctx); err != nil {
			errs = append(errs, err)
		} else {
			fixes, err := c.ReadAll(ctx)
			if err != nil {
				errs = append(errs, err)
			}
			for _, p := range fixes {
				logger.Info("Batched fix", "fix_id", p.FixID, "lat", p.Latitude, "lon", p.Longitude,
					"timestamp", p.Timestamp)
			}
			errs = append(errs, c.ReleaseBatch(ctx))
		}
	} else if err := c.StopFix(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotActive) {
		errs = append(errs, err)
	}
	if fence != nil {
		errs = append(errs, c.DeleteGeofence(ctx, fence.ID))
	}
	return errors.Join(errs...)
}

// attachLogging logs every delivered indication. onPosition runs after the
// position is logged.
func attachLogging(c *client.Client, logger *slog.Logger, onPosition func(client.PositionEvent)) {
	c.OnPosition(func(ev client.PositionEvent) {
		p := ev.Position
		logger.Info("Position",
			"session_id", ev.Session.ID, "status", ev.Status.String(), "final", ev.Final,
			"lat", p.Latitude, "lon", p.Longitude, "hor_unc", p.HorUnc, "fix_id", p.FixID)
		onPosition(ev)
	})
	c.OnNMEA(func(ev client.NMEAEvent) {
		if ev.Sentence == nil {
			logger.Debug("NMEA", "raw", ev.Raw)
			return
		}
		logger.Debug("NMEA", "type", ev.Sentence.DataType(), "raw", ev.Raw)
	})
	c.OnBreach(func(ev client.BreachEvent) {
		attrs := []any{"geofence_id", ev.Geofence.ID, "breach", ev.Breach.String()}
		if ev.Position != nil {
			attrs = append(attrs, "lat", ev.Position.Latitude, "lon", ev.Position.Longitude)
		}
		logger.Info("Geofence breach", attrs...)
	})
	c.OnBatchFull(func(count uint32) {
		logger.Info("Batch full", "count", count)
	})
	c.OnLiveBatched(func(p loc.Position) {
		logger.Debug("Live batched fix", "fix_id", p.FixID, "lat", p.Latitude, "lon", p.Longitude)
	})
	c.OnNI(func(r ni.Request) {
		if r.State == ni.Informational {
			logger.Info("NI notification", "request_id", r.ID, "notify_type", r.NotifyType.String())
			return
		}
		logger.Warn("NI verification left unanswered",
			"request_id", r.ID, "notify_type", r.NotifyType.String(), "deadline", r.Deadline)
	})
}
