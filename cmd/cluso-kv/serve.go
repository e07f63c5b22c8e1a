package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-kv/pkg/config"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/lsm"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
	"github.com/dd0wney/cluso-kv/pkg/protocol"
	"github.com/dd0wney/cluso-kv/pkg/server"
	tlspkg "github.com/dd0wney/cluso-kv/pkg/tls"
)

const (
	shutdownTimeout       = 30 * time.Second
	metricsUpdateInterval = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve [wal_dir segment_dir flush_threshold]",
	Short: "Start the key-value server",
	Long: `Open the engine, replay the write-ahead log and accept client connections
until SIGINT or SIGTERM. SIGHUP re-reads the log level from the config file.`,
	Args: cobra.MaximumNArgs(3),
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	logger.Info("starting cluso-kv",
		logging.Path(cfg.WALDir),
		logging.String("segment_dir", cfg.SegmentDir),
		logging.Int("flush_threshold", cfg.FlushThreshold),
		logging.Int("compaction_levels", cfg.CompactionLevels))

	tlsConfig, err := tlspkg.LoadTLSConfig(cfg.TLS)
	if err != nil {
		logger.Error("failed to load TLS configuration", logging.Error(err))
		return err
	}
	if tlsConfig != nil {
		if info, err := tlspkg.GetCertificateInfo(cfg.TLS.CertFile); err == nil {
			logger.Info("TLS enabled",
				logging.String("subject", info.Subject),
				logging.Duration("expires_in", info.ExpiresIn()))
		}
	}

	reg := metrics.DefaultRegistry()

	engine, err := lsm.Open(cfg.Options(), logger, reg)
	if err != nil {
		logger.Error("failed to open engine", logging.Error(err))
		return err
	}

	protoServer := protocol.NewServer(engine, protocol.Config{
		Addr:            cfg.ListenAddr,
		IdleTimeout:     cfg.IdleTimeout,
		MaxConnections:  cfg.MaxConnections,
		RequirePassHash: cfg.RequirePassHash,
		TLSConfig:       tlsConfig,
	}, logger, reg)

	admin := server.NewAdmin(engine, reg, cfg.CompactionFileLimit, logger)
	gs := server.NewGracefulServer(cfg.AdminAddr, admin.Handler(), logger)

	// Hooks run newest first: stop taking commands, then close the engine.
	gs.OnShutdown("engine", func(ctx context.Context) error {
		return engine.Close()
	})
	gs.OnShutdown("protocol", protoServer.Shutdown)

	gs.SetConfigReloadFunc(func() error {
		next, err := config.Load(configPath)
		if err != nil {
			return err
		}
		level := logging.ParseLevel(next.LogLevel)
		logger.SetLevel(level)
		logger.Info("log level updated", logging.String("level", level.String()))
		return nil
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// A listener that fails stops the process; its error becomes the exit
	// status.
	failed := make(chan error, 2)
	fail := func(err error) {
		failed <- err
		cancel()
	}

	go func() {
		if err := protoServer.ListenAndServe(); err != nil && !errors.Is(err, protocol.ErrServerClosed) {
			logger.Error("protocol server failed", logging.Error(err))
			fail(err)
		}
	}()

	if cfg.AdminAddr != "" {
		go func() {
			if err := gs.Start(); err != nil {
				logger.Error("admin server failed", logging.Error(err))
				fail(err)
			}
		}()
		go admin.RunMetricsUpdater(ctx, metricsUpdateInterval)
	}

	err = gs.WaitForSignal(ctx, shutdownTimeout)
	select {
	case serveErr := <-failed:
		return errors.Join(serveErr, err)
	default:
		return err
	}
}
