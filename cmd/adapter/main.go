package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/GLiquid/dexscreener-adapter/internal/api"
	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/config"
	"github.com/GLiquid/dexscreener-adapter/internal/discovery"
	"github.com/GLiquid/dexscreener-adapter/internal/ingest"
	"github.com/GLiquid/dexscreener-adapter/internal/metrics"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
	"github.com/GLiquid/dexscreener-adapter/internal/reconcile"
	"github.com/GLiquid/dexscreener-adapter/internal/registry"
	"github.com/GLiquid/dexscreener-adapter/internal/scanner"
	"github.com/GLiquid/dexscreener-adapter/internal/storage"
	"github.com/GLiquid/dexscreener-adapter/internal/storage/postgres"
	"github.com/GLiquid/dexscreener-adapter/internal/subgraph"
)

func main() {
	root := &cobra.Command{
		Use:          "adapter",
		Short:        "DEX Screener adapter for Algebra and Uniswap V3 pools",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scanners and the HTTP API",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().String("postgres-dsn", "", "Postgres DSN for persistence (optional)")
	serveCmd.Flags().String("redis-addr", "", "Redis address for the response cache (optional)")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, err := newCache(ctx, cfg, logger)
	if err != nil {
		return err
	}

	networks := cfg.NetworkNames()
	reg := registry.New(networks)
	tokens := registry.NewTokenCache(networks)
	cursors := reconcile.NewCursorStore(networks)

	var (
		runners  []*scanner.Runner
		backends = make(map[string]*api.NetworkBackend, len(cfg.Networks))
		closers  []func()
	)
	defer func() {
		for _, close := range closers {
			close()
		}
	}()

	for _, nc := range cfg.Networks {
		backend, networkRunners, closer, err := buildNetwork(ctx, nc, reg, tokens, cursors, cache, store, m, logger)
		if err != nil {
			return fmt.Errorf("network %s: %w", nc.Name, err)
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		backends[nc.Name] = backend
		runners = append(runners, networkRunners...)
	}

	server := api.NewServer(api.Config{
		Registry: reg,
		Tokens:   tokens,
		Cache:    cache,
		Networks: backends,
		Runners:  runners,
		Metrics:  m,
		Gatherer: promRegistry,
		TTLs: api.CacheTTLs{
			Blocks: cfg.CacheTTL.Blocks,
			Assets: cfg.CacheTTL.Assets,
			Pairs:  cfg.CacheTTL.Pairs,
			Events: cfg.CacheTTL.Events,
		},
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("adapter start",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Strings("networks", networks),
		zap.Bool("postgres", cfg.PostgresDSN != ""),
		zap.Bool("redis", cfg.RedisAddr != ""),
	)

	group, groupCtx := errgroup.WithContext(ctx)

	for _, runner := range runners {
		runner := runner
		group.Go(func() error {
			return runner.Run(groupCtx)
		})
	}

	group.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("adapter stopped")
	return nil
}

// buildNetwork constructs the per-network pipeline: data source, scan
// engines, and the backend the API handlers read from. In subgraph mode one
// source satisfies every engine dependency; in RPC mode the chain client
// does, with factory log decoding layered on top.
func buildNetwork(
	ctx context.Context,
	nc config.NetworkConfig,
	reg *registry.Registry,
	tokens *registry.TokenCache,
	cursors *reconcile.CursorStore,
	cache reconcile.Cache,
	store storage.Store,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*api.NetworkBackend, []*scanner.Runner, func(), error) {
	var (
		heads      chain.HeadSource
		timestamps chain.TimestampSource
		fetcher    registry.TokenFetcher
		creations  discovery.PoolCreationSource
		events     ingest.EventSource
		closer     func()
	)

	switch nc.Source {
	case config.SourceRPC:
		client, err := chain.NewClient(ctx, chain.ClientConfig{
			Network:      nc.Name,
			RPCURL:       nc.RPCURL,
			BatchSize:    nc.BatchSize,
			RateLimit:    nc.RateLimit,
			MaxRetries:   nc.MaxRetries,
			RetryBackoff: nc.RetryBackoff,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect rpc: %w", err)
		}
		closer = client.Close

		factories := make([]discovery.Factory, 0, len(nc.Factories))
		for _, fc := range nc.Factories {
			factories = append(factories, discovery.Factory{
				Address: common.HexToAddress(fc.Address),
				Version: fc.Version,
			})
		}
		creationSource, err := discovery.NewRPCSource(nc.Name, client, client, client, factories, m, logger)
		if err != nil {
			client.Close()
			return nil, nil, nil, err
		}

		eventSource, err := ingest.NewRPCSource(nc.Name, client, client, m, logger)
		if err != nil {
			client.Close()
			return nil, nil, nil, err
		}

		heads = client
		timestamps = client
		fetcher = registry.CallerFetcher{Caller: client, Logger: logger}
		creations = creationSource
		events = eventSource

	case config.SourceSubgraph:
		client, err := subgraph.NewClient(subgraph.ClientConfig{
			Endpoint:   nc.SubgraphURL,
			MaxRetries: nc.MaxRetries,
			Backoff:    nc.RetryBackoff,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		source := subgraph.NewSource(nc.Name, client, tokens, m, logger)

		heads = source
		timestamps = source
		fetcher = source
		creations = source
		events = source

	default:
		return nil, nil, nil, fmt.Errorf("unknown source %q", nc.Source)
	}

	if err := hydrateNetwork(ctx, nc.Name, reg, cursors, store, logger); err != nil {
		if closer != nil {
			closer()
		}
		return nil, nil, nil, err
	}

	detector := reconcile.NewDetector(cursors, cache, nc.RollbackDepth, logger)

	discoveryEngine := discovery.NewEngine(discovery.Config{
		Network:         nc.Name,
		StartBlock:      nc.StartBlock,
		ConfirmationLag: nc.ConfirmationLag,
		BatchSize:       nc.BatchSize,
	}, heads, creations, reg, cursors, detector, store, m, logger)

	ingestEngine := ingest.NewEngine(ingest.Config{
		Network:         nc.Name,
		StartBlock:      nc.StartBlock,
		ConfirmationLag: nc.ConfirmationLag,
		BatchSize:       nc.BatchSize,
		MaxRangeSpan:    nc.MaxRangeSpan,
	}, heads, events, reg, cursors, detector, store, m, logger)

	runners := []*scanner.Runner{
		scanner.NewRunner(nc.Name, model.ScanDiscovery, nc.ScanInterval, discoveryEngine, m, logger),
		scanner.NewRunner(nc.Name, model.ScanIngestion, nc.ScanInterval, ingestEngine, m, logger),
	}

	backend := &api.NetworkBackend{
		Heads:           heads,
		Timestamps:      timestamps,
		Tokens:          fetcher,
		Ingest:          ingestEngine,
		ConfirmationLag: nc.ConfirmationLag,
	}

	return backend, runners, closer, nil
}

// hydrateNetwork loads persisted pools and cursors so a restart resumes
// where the last run stopped instead of rescanning from the start block.
func hydrateNetwork(ctx context.Context, network string, reg *registry.Registry, cursors *reconcile.CursorStore, store storage.Store, logger *zap.Logger) error {
	pools, err := store.LoadPools(ctx, network)
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}
	if len(pools) > 0 {
		if err := reg.Hydrate(network, pools); err != nil {
			return err
		}
		logger.Info("registry hydrated", zap.String("network", network), zap.Int("pools", len(pools)))
	}

	for _, scanType := range []model.ScanType{model.ScanDiscovery, model.ScanIngestion} {
		cursor, ok, err := store.LoadCursor(ctx, network, scanType)
		if err != nil {
			return fmt.Errorf("load %s cursor: %w", scanType, err)
		}
		if !ok {
			continue
		}
		if err := cursors.Hydrate(network, scanType, cursor); err != nil {
			return err
		}
		logger.Info("cursor hydrated",
			zap.String("network", network),
			zap.String("scan_type", string(scanType)),
			zap.Uint64("block", cursor.Block),
		)
	}
	return nil
}

func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.PostgresDSN == "" {
		return storage.NewMemoryStore(), nil
	}
	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	logger.Info("postgres persistence enabled")
	return store, nil
}

func newCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (reconcile.Cache, error) {
	if cfg.RedisAddr == "" {
		return reconcile.NewMemoryCache(), nil
	}
	cache, err := reconcile.NewRedisCache(ctx, cfg.RedisAddr, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("redis cache enabled", zap.String("addr", cfg.RedisAddr))
	return cache, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
