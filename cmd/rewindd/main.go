// Command rewindd runs rewind as a standalone service behind the NATS
// transport, with a configurable event store and a Prometheus endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/contrib/metrics/vm"
	"github.com/arloliu/rewind/internal/config"
	"github.com/arloliu/rewind/transport"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "rewindd",
		Short:         "Missed-event replay service",
		Long:          "rewindd records channel publishes and replays missed events to reconnecting clients.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("REWIND_CONFIG"), "Path to YAML configuration file (optional)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error (overrides config)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text|json (overrides config)")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the replay service",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg, logger)
		},
	}
	rootCmd.AddCommand(serveCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one inactivity sweep against the configured store and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return sweepOnce(ctx, cfg, logger)
		},
	}
	rootCmd.AddCommand(sweepCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)

			return err
		},
	}
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rewindd:", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFormat, _ := cmd.Flags().GetString("log-format")

	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, nil, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	collector := vm.New(vm.WithPrefix(cfg.Metrics.Prefix))

	opts := append(cfg.Options(),
		rewind.WithLogger(logger),
		rewind.WithMetrics(collector),
		rewind.WithOnSweep(func(result rewind.SweepResult, err error) {
			logger.Debug("sweep finished", "removed", result.Removed, "errors", result.Errors, "error", err)
		}),
	)
	r, err := rewind.New(st, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	logger.Info("rewindd starting",
		"store", cfg.Store.Type,
		"mode", cfg.Retention.Mode,
		"count_limit", cfg.Retention.CountLimit,
		"max_age", cfg.Retention.MaxAge,
		"inactivity_ttl", cfg.Retention.InactivityTTL,
	)

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", collector.Handler)
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 3 * time.Second,
		}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if cfg.Transport.NATSURL != "" {
		nc, err := nats.Connect(cfg.Transport.NATSURL, nats.Name("rewindd"))
		if err != nil {
			return fmt.Errorf("failed to connect transport: %w", err)
		}
		defer nc.Close()

		hub, err := transport.NewNATS(nc,
			transport.WithSubjectPrefix(cfg.Transport.SubjectPrefix),
			transport.WithQueueGroup(cfg.Transport.QueueGroup),
			transport.WithNATSDefaultChannel(cfg.Retention.DefaultChannel),
			transport.WithNATSLogger(logger),
		)
		if err != nil {
			return err
		}
		r.Attach(hub)

		if err := hub.Serve(ctx, r); err != nil {
			return err
		}
	} else {
		logger.Info("no transport configured; waiting for shutdown")
		<-ctx.Done()
	}

	logger.Info("shutting down")
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}

	return nil
}

func sweepOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer func() { _ = closeStore() }()

	manager, err := rewind.NewRetentionManager(st, append(cfg.Options(), rewind.WithLogger(logger))...)
	if err != nil {
		return err
	}

	result, err := manager.Sweep(ctx)
	logger.Info("sweep completed",
		"scanned", result.Scanned,
		"removed", result.Removed,
		"errors", result.Errors,
	)

	return err
}
