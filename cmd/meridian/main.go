package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FairForge/meridian/internal/api"
	"github.com/FairForge/meridian/internal/audit"
	"github.com/FairForge/meridian/internal/config"
	"github.com/FairForge/meridian/internal/failover"
	"github.com/FairForge/meridian/internal/health"
	"github.com/FairForge/meridian/internal/notify"
	"github.com/FairForge/meridian/internal/replication"
	"github.com/FairForge/meridian/internal/traffic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	exitOK         = 0
	exitConfig     = 1
	exitDependency = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		return exitConfig
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := api.NewMetrics()

	// Audit log: durable when a DSN is configured, in-memory otherwise.
	var auditLog *audit.Log
	if cfg.Audit.DSN != "" {
		auditLog, err = audit.NewLogWithDB(cfg.Audit.DSN, logger)
		if err != nil {
			logger.Error("audit database unavailable", zap.Error(err))
			return exitDependency
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
		err = auditLog.Ping(pingCtx)
		if err == nil {
			err = auditLog.Migrate(pingCtx)
		}
		pingCancel()
		if err != nil {
			logger.Error("audit database unavailable", zap.Error(err))
			return exitDependency
		}
	} else {
		auditLog = audit.NewLog(logger)
		logger.Warn("no audit DSN configured, audit entries are in-memory only")
	}
	auditLog.Start(ctx)
	defer auditLog.Stop()

	provider, err := newTrafficProvider(ctx, cfg, logger)
	if err != nil {
		logger.Error("traffic provider init failed", zap.Error(err))
		return exitDependency
	}

	// Reachability check before taking over traffic control.
	weightsCtx, weightsCancel := context.WithTimeout(ctx, 15*time.Second)
	_, err = provider.Weights(weightsCtx)
	weightsCancel()
	if err != nil {
		logger.Error("traffic provider unreachable", zap.Error(err))
		return exitDependency
	}

	regionIDs := make([]string, 0, len(cfg.Regions))
	regions := make([]failover.Region, 0, len(cfg.Regions))
	probeTargets := make([]health.Target, 0, len(cfg.Regions))
	for _, r := range cfg.Regions {
		role := failover.RoleStandby
		if r.Primary {
			role = failover.RoleActive
		}
		regionIDs = append(regionIDs, r.ID)
		regions = append(regions, failover.Region{
			ID:             r.ID,
			Role:           role,
			HealthEndpoint: r.HealthEndpoint,
		})
		probeTargets = append(probeTargets, health.Target{
			RegionID: r.ID,
			Endpoint: r.HealthEndpoint,
		})
	}

	controller, err := traffic.NewController(provider, regionIDs, logger)
	if err != nil {
		logger.Error("traffic controller init failed", zap.Error(err))
		return exitConfig
	}

	channels, measured, err := buildChannels(ctx, cfg, logger)
	if err != nil {
		logger.Error("replication channel init failed", zap.Error(err))
		return exitDependency
	}

	coord, err := failover.NewCoordinator(failover.Config{
		RPOMax:         cfg.RPOMax(),
		PromoteTimeout: cfg.PromoteTimeout(),
	}, regions, channels, controller, logger)
	if err != nil {
		logger.Error("coordinator init failed", zap.Error(err))
		return exitConfig
	}
	coord.SetMetrics(metrics)
	coord.SetAuditor(auditLog)

	if len(cfg.Notify.Targets) > 0 {
		targets := make([]notify.Target, 0, len(cfg.Notify.Targets))
		for _, t := range cfg.Notify.Targets {
			targets = append(targets, notify.Target{URL: t.URL, Secret: t.Secret})
		}
		dispatcher := notify.NewDispatcher(notify.DefaultConfig(), targets, logger)
		dispatcher.Start(ctx)
		defer dispatcher.Stop()
		coord.SetNotifier(dispatcher)
	}

	coord.Start(ctx)
	defer coord.Stop()

	monitor, err := health.NewMonitor(health.Config{
		Interval:      cfg.Health.PollInterval,
		Timeout:       cfg.Health.ProbeTimeout,
		WindowSize:    cfg.Health.Window,
		DownThreshold: cfg.Health.DownThreshold,
	}, probeTargets, coord, logger)
	if err != nil {
		logger.Error("health monitor init failed", zap.Error(err))
		return exitConfig
	}
	monitor.SetMetrics(metrics)
	monitor.Start(ctx)
	defer monitor.Stop()

	if len(measured) > 0 {
		trackerCfg := replication.DefaultConfig()
		trackerCfg.Interval = cfg.Replication.PollInterval
		tracker, err := replication.NewTracker(trackerCfg, measured, coord, logger)
		if err != nil {
			logger.Error("replication tracker init failed", zap.Error(err))
			return exitConfig
		}
		tracker.SetMetrics(metrics)
		tracker.Start(ctx)
		defer tracker.Stop()
	}

	// Hot reload of the runtime tunables; topology changes need a restart.
	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, logger, func(next *config.Config) {
				if err := coord.UpdateTunables(ctx, next.RPOMax(), next.PromoteTimeout()); err != nil {
					logger.Warn("tunable update rejected", zap.Error(err))
				}
			})
			if err != nil {
				logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	server := api.NewServer(cfg, logger, coord, auditLog, metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		return exitDependency
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return exitOK
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("config: invalid log level %q", level)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func newTrafficProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (traffic.Provider, error) {
	switch cfg.Traffic.Provider {
	case "route53":
		return traffic.NewRoute53Provider(ctx, traffic.Route53Config{
			HostedZoneID: cfg.Traffic.HostedZoneID,
			RecordName:   cfg.Traffic.RecordName,
			RecordType:   cfg.Traffic.RecordType,
			TTL:          cfg.Traffic.TTL,
			Endpoints:    cfg.Traffic.Endpoints,
			AccessKey:    os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Region:       os.Getenv("AWS_REGION"),
		}, logger)
	default:
		return traffic.NewMemoryProvider(cfg.PrimaryRegion().ID, regionIDsOf(cfg)), nil
	}
}

// buildChannels returns the coordinator's channel topology plus the subset
// the tracker can actually measure. kv channels need a programmatic canary
// store and are skipped when configured from a file.
func buildChannels(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]failover.ReplicationChannel, []replication.Channel, error) {
	channels := make([]failover.ReplicationChannel, 0, len(cfg.Channels))
	measured := make([]replication.Channel, 0, len(cfg.Channels))

	for _, ch := range cfg.Channels {
		var measurer replication.Measurer
		var err error

		switch ch.Kind {
		case "relational":
			measurer, err = replication.NewPostgresLag(ch.ReplicaDSN, logger)
		case "object":
			measurer, err = replication.NewS3Canary(ctx, replication.S3CanaryConfig{
				SourceRegion: ch.SourceRegion,
				TargetRegion: ch.TargetRegion,
				SourceBucket: ch.SourceBucket,
				TargetBucket: ch.TargetBucket,
				AccessKey:    os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
				Endpoint:     ch.Endpoint,
			}, logger)
		case "kv":
			logger.Warn("kv channel has no file-configurable measurer, skipping",
				zap.String("channel", ch.ID))
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("channel %s: %w", ch.ID, err)
		}

		channels = append(channels, failover.ReplicationChannel{
			ID:           ch.ID,
			SourceRegion: ch.SourceRegion,
			TargetRegion: ch.TargetRegion,
			Kind:         failover.StoreKind(ch.Kind),
		})
		measured = append(measured, replication.Channel{
			ID:       ch.ID,
			Kind:     failover.StoreKind(ch.Kind),
			Measurer: measurer,
		})
	}
	return channels, measured, nil
}

func regionIDsOf(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.Regions))
	for _, r := range cfg.Regions {
		ids = append(ids, r.ID)
	}
	return ids
}
