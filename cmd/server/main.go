package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/api"
	"github.com/good-yellow-bee/lognexus/internal/api/health"
	"github.com/good-yellow-bee/lognexus/internal/api/stream"
	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/monitor"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/scheduler"
	"github.com/good-yellow-bee/lognexus/internal/storage"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "lognexus-server",
	Short: "LogNexus Server - job monitoring and alerting",
	Long: `LogNexus Server ingests logs, heartbeats and job executions,
evaluates alert rules against them and pushes events to subscribers.`,
	RunE:         runServer,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.VersionString("lognexus-server"))
	},
}

var checkRulesCmd = &cobra.Command{
	Use:   "check-rules <file>",
	Short: "Validate an alert rules file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := alerting.LoadRulesFromFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK\n", args[0], len(specs))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkRulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	cfg.Verbose = verbose

	level := cfg.Logging.Level
	if cfg.Verbose {
		level = "debug"
	}
	if err := logger.Init(level, cfg.Logging.File, true); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("starting lognexus-server %s", config.Version)
	if err := run(ctx, cfg); err != nil {
		return err
	}
	logger.Infof("server stopped")
	return nil
}

// run wires every component and blocks until ctx is cancelled or one of
// the long-running parts fails.
func run(ctx context.Context, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Infof("database initialized at %s", cfg.Database.Path)

	logs, clickhouse, err := openLogStorage(ctx, cfg, store)
	if err != nil {
		return err
	}
	if clickhouse != nil {
		defer clickhouse.Close()
	}

	buffer := storage.NewLogBuffer(logs, storage.LogBufferConfig{
		BatchSize:     cfg.LogBuffer.BatchSize,
		FlushInterval: cfg.LogBuffer.FlushInterval,
		MaxSize:       cfg.LogBuffer.MaxSize,
	})
	buffer.OnFlush(func(inserted int, err error) {
		metrics.ObserveFlush(inserted, err)
		metrics.BufferPending.Set(float64(buffer.Stats().Pending))
	})
	defer func() {
		if err := buffer.Close(); err != nil {
			logger.Errorf("flush log buffer: %v", err)
		}
	}()

	hub := notifier.NewHub()
	transports := []notifier.Transport{hub}
	var relay *notifier.RedisRelay
	redisClient := newRedisClient(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
		node := nodeID(cfg.Redis.NodeID)
		transports = append(transports, notifier.NewRedisTransport(redisClient, node, cfg.Redis.ChannelPrefix))
		relay = notifier.NewRedisRelay(redisClient, node, cfg.Redis.ChannelPrefix, hub)
		logger.Infof("redis fan-out enabled at %s as node %s", cfg.Redis.Addr, node)
	}
	broadcaster := notifier.NewBroadcaster(transports...)

	dispatcher, err := newDispatcher(cfg.Notifications)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	alerts := alerting.NewService(store.Rules(), store.Instances(), broadcaster, dispatcher)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := alerts.Drain(drainCtx); err != nil {
			logger.Warnf("pending notifications cancelled at shutdown: %v", err)
		}
	}()
	engine := alerting.NewEngine(store.Rules(), alerting.StateQuery{Logs: logs, Executions: store.Executions()}, alerts)

	var provisioner *alerting.Provisioner
	if cfg.RulesFile != "" {
		provisioner = alerting.NewProvisioner(cfg.RulesFile, store.Rules())
		res, err := provisioner.Sync(ctx)
		if err != nil {
			return fmt.Errorf("sync rules: %w", err)
		}
		logger.Infof("rules synced from %s: %d created, %d updated, %d unchanged",
			cfg.RulesFile, res.Created, res.Updated, res.Unchanged)
	}

	runners := monitor.Runners(monitor.Deps{
		Store:     store,
		Logs:      logs,
		Vacuumer:  store,
		Alerts:    alerts,
		Engine:    engine,
		Publisher: broadcaster,
	}, monitor.ResolveIntervals(cfg.Settings))

	srv, err := api.New(&api.Config{
		Address:         cfg.Server.HTTPAddress,
		TLSEnabled:      cfg.Server.TLS.Enabled,
		TLSCertFile:     cfg.Server.TLS.CertFile,
		TLSKeyFile:      cfg.Server.TLS.KeyFile,
		QueryTimeout:    cfg.Server.QueryTimeout,
		IngestRateLimit: cfg.Server.IngestRateLimit,
		TrustedProxies:  cfg.Server.TrustedProxies,
		MaxBatchSize:    cfg.Server.MaxBatchSize,
		Stream: stream.Config{
			HeartbeatInterval: cfg.Stream.HeartbeatInterval,
			PingInterval:      cfg.Stream.PingInterval,
			MaxDuration:       cfg.Stream.MaxDuration,
			Buffer:            cfg.Stream.Buffer,
		},
		Verbose: cfg.Verbose,
	}, api.Deps{
		Store:     store,
		Logs:      logs,
		Sink:      buffer,
		Alerts:    alerts,
		Hub:       hub,
		Publisher: broadcaster,
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	srv.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	if clickhouse != nil {
		srv.RegisterHealthChecker(health.NewClickHouseChecker(clickhouse))
	}
	if redisClient != nil {
		srv.RegisterHealthChecker(health.NewRedisChecker(redisClient))
	}
	loops := health.NewLoopChecker()
	for _, r := range runners {
		loops.Track(r.Name(), r.Interval(), r.FirstTickDelay())
		r.Observe(loops.Observe)
	}
	srv.RegisterHealthChecker(loops)

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gCtx) })
	g.Go(func() error { return scheduler.RunAll(gCtx, runners...) })
	if relay != nil {
		g.Go(func() error {
			// Without the relay this node still serves its own subscribers.
			if err := relay.Run(gCtx); err != nil {
				logger.Errorf("redis relay stopped: %v", err)
			}
			return nil
		})
	}
	if provisioner != nil && cfg.RulesWatch {
		g.Go(func() error { return provisioner.Watch(gCtx) })
	}
	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Address)
		g.Go(func() error { return ms.Run(gCtx) })
	}

	return g.Wait()
}
