package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentional for simulation
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arloliu/rewind/test/simulation"
	"github.com/arloliu/rewind/test/simulation/config"
	"github.com/arloliu/rewind/test/simulation/scenarios"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// Parse flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	profile := flag.String("profile", "quick", "Simulation profile (quick, comprehensive)")
	storeType := flag.String("store", "", "Store backend (memory, redis); overrides the config file")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	settings := config.Default()
	if *configPath != "" {
		var err error
		settings, err = config.Load(*configPath)
		if err != nil {
			logger.Error("Failed to load configuration", "path", *configPath, "error", err)
			return err
		}
		if settings.Simulation.Seed != 0 {
			*seed = settings.Simulation.Seed
		}
	}
	if *storeType != "" {
		settings.Store.Type = *storeType
	}

	logger.Info("Starting Rewind Simulation",
		"profile", *profile,
		"seed", *seed,
		"store", settings.Store.Type,
	)

	// Start pprof server
	go func() {
		logger.Info("Starting pprof server on :6060")
		server := &http.Server{
			Addr:              ":6060",
			ReadHeaderTimeout: 3 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			logger.Error("pprof server failed", "error", err)
		}
	}()

	// Handle signals for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sim, err := simulation.New(simulation.Config{
		Seed:     *seed,
		Duration: settings.Simulation.Duration,
		Profile:  *profile,
		Settings: settings,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize simulation", "error", err)
		return err
	}

	// Register scenarios based on profile
	registerScenarios(sim, *profile, settings)

	// Run simulation
	if err := sim.Run(ctx); err != nil {
		logger.Error("Simulation failed", "error", err)
		return err
	}

	logger.Info("Simulation completed successfully")

	return nil
}

func registerScenarios(sim *simulation.Simulation, profile string, settings *config.Config) {
	// Basic scenarios always included
	sim.RegisterScenario(&scenarios.ClientChurn{})
	sim.RegisterScenario(&scenarios.StoreOutage{})
	sim.RegisterScenario(&scenarios.IdleSweep{TTL: settings.Rewind.InactivityTTL})

	// Add more scenarios based on profile
	if profile == "comprehensive" {
		sim.RegisterScenario(&scenarios.ReplayOutage{})
		sim.RegisterScenario(&scenarios.SlowStore{})
	}
}
