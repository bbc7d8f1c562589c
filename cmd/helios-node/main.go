package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/helioscoin/helios-blockchain/config"
	"github.com/helioscoin/helios-blockchain/internal/chain"
	"github.com/helioscoin/helios-blockchain/internal/storage"
	"github.com/helioscoin/helios-blockchain/internal/types"
	"github.com/helioscoin/helios-blockchain/pkg/api"
	"github.com/helioscoin/helios-blockchain/pkg/logging"
	"github.com/helioscoin/helios-blockchain/pkg/metrics"
)

// Build information, set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file (JSON)")
		dataDir     = flag.String("datadir", "", "Override data directory")
		logLevel    = flag.String("loglevel", "", "Override log level (debug|info|warn|error)")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("helios-node %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Node.LogLevel = *logLevel
	}

	logger, err := logging.NewLogger(&logging.LogConfig{
		Level:       cfg.Node.LogLevel,
		OutputPath:  cfg.Node.LogFile,
		Development: cfg.Node.LogDev,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting helios-node",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.Uint64("network_id", cfg.Chain.NetworkID))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Node failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	db, err := storage.NewDB(&storage.DBConfig{
		Path:       cfg.Database.Path,
		CacheSize:  cfg.Database.CacheSize,
		GCInterval: cfg.Database.GCInterval,
		SyncWrites: cfg.Database.SyncWrites,
		InMemory:   cfg.Database.InMemory,
		GCEnabled:  !cfg.Database.InMemory,
	}, logger.Storage().Zap())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	checkpoints := chain.NewCheckpointManager(
		logger.Chain().Zap(),
		cfg.Chain.CheckpointFile,
		checkpointEnforcement(cfg.Chain.CheckpointPolicy),
	)

	var chainMetrics *metrics.ChainMetrics
	if cfg.Node.MetricsEnabled {
		chainMetrics = metrics.NewChainMetrics()
	}

	chainState, err := chain.NewChainState(db, logger.Zap(), checkpoints, chainMetrics, chain.Config{
		MaxReorgDepth:      cfg.Chain.MaxReorgDepth,
		MaxForkDistance:    cfg.Chain.MaxForkDistance,
		UtxoLookback:       cfg.Chain.UtxoLookback,
		ForkPruneAge:       cfg.Chain.ForkPruneAge,
		MaxInvalidAttempts: cfg.Chain.MaxInvalidAttempts,
		InvalidRetention:   cfg.Chain.ForkPruneAge,
	})
	if err != nil {
		return fmt.Errorf("failed to create chain state: %w", err)
	}

	genesis, err := loadGenesis(cfg.Chain.GenesisFile)
	if err != nil {
		return fmt.Errorf("failed to load genesis: %w", err)
	}
	if err := chainState.InitGenesis(genesis); err != nil {
		return fmt.Errorf("failed to initialize genesis: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	var metricsServer *metrics.MetricsServer
	if cfg.Node.MetricsEnabled {
		metricsServer = metrics.NewMetricsServer(cfg.Node.MetricsAddr, chainMetrics, logger.Logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	var apiServer *api.Server
	if cfg.RPC.Enabled {
		apiServer = api.NewServer(&api.Config{
			ChainState:       chainState,
			Logger:           logger.API().Zap(),
			Address:          cfg.RPC.ListenAddr,
			ReadTimeout:      cfg.RPC.ReadTimeout,
			WriteTimeout:     cfg.RPC.WriteTimeout,
			IdleTimeout:      cfg.RPC.IdleTimeout,
			RateLimitEnabled: cfg.RPC.RateLimitEnabled,
			RateLimitPerSec:  cfg.RPC.RateLimitPerSec,
			RateLimitBurst:   cfg.RPC.RateLimitBurst,
		})
		go func() {
			if err := apiServer.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	// Periodic fork pruning keeps the tracker and invalid records from
	// growing without bound.
	pruneInterval := cfg.Chain.ForkPruneInterval
	if pruneInterval <= 0 {
		pruneInterval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				chainState.PruneForkPoints(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("Node started",
		zap.Uint64("height", chainState.GetHeight()),
		zap.String("tip", chainState.GetBestBlockHash().Short()))

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("Server failure, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Warn("API shutdown error", zap.Error(err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics shutdown error", zap.Error(err))
		}
	}

	logger.Info("Node stopped")
	return nil
}

func checkpointEnforcement(policy string) chain.CheckpointEnforcement {
	switch policy {
	case "warn":
		return chain.EnforcementWarn
	case "disabled":
		return chain.EnforcementDisabled
	default:
		return chain.EnforcementStrict
	}
}

// loadGenesis reads a genesis block from file, falling back to the
// built-in genesis when no file is configured.
func loadGenesis(path string) (*types.Block, error) {
	if path == "" {
		return types.NewGenesisBlock(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis file: %w", err)
	}
	block, err := types.DeserializeBlock(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse genesis file: %w", err)
	}
	return block, nil
}
