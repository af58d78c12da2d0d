package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gorm.io/gorm"

	"tronnode/chain"
	"tronnode/node"
	"tronnode/observability/logging"
	telemetry "tronnode/observability/otel"
	"tronnode/services/walletd/config"
	"tronnode/services/walletd/refresh"
	"tronnode/services/walletd/server"
	"tronnode/services/walletd/storage"
	kv "tronnode/storage"
	"tronnode/walletindex"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/walletd/config.yaml", "path to walletd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("walletd: load config: %v", err)
	}
	logger := logging.Setup("walletd", cfg.Env,
		logging.WithLevel(cfg.Logging.Level),
		logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "walletd",
		Environment: cfg.Env,
		Network:     cfg.Network,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("walletd: init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("walletd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	network := cfg.NetworkID()

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	contracts, err := storage.NewContractStore(db)
	if err != nil {
		return err
	}
	seeded, err := contracts.SeedTokens(ctx, network)
	if err != nil {
		return fmt.Errorf("seed contracts: %w", err)
	}
	if seeded > 0 {
		logger.Info("seeded contract table", slog.Int("contracts", seeded), slog.String("network", string(network)))
	}

	indexStore, closeIndex, err := openIndexStore(ctx, cfg.WalletIndex, db)
	if err != nil {
		return err
	}
	defer closeIndex()
	allocator, err := walletindex.New(indexStore, walletindex.WithLogger(logger))
	if err != nil {
		return err
	}

	client, err := chain.NewClient(chain.Config{
		URL:               cfg.Node.URL,
		APIKey:            cfg.Node.APIKey,
		Timeout:           cfg.Node.Timeout.Duration,
		RequestsPerSecond: cfg.Node.RequestsPerSecond,
		Burst:             cfg.Node.Burst,
	})
	if err != nil {
		return err
	}
	policy := chain.RetryPolicy{
		MaxRetries:      uint64(cfg.Node.Retry.Retries()),
		InitialInterval: cfg.Node.Retry.InitialInterval.Duration,
		MaxInterval:     cfg.Node.Retry.MaxInterval.Duration,
		MaxElapsedTime:  cfg.Node.Retry.MaxElapsed.Duration,
	}

	facade, err := node.New(node.Config{
		Network:           network,
		Chain:             client,
		Contracts:         contracts,
		Allocator:         allocator,
		CentralMnemonic:   cfg.Central.Mnemonic,
		CentralPassphrase: cfg.Central.Passphrase,
		Tokens:            cfg.Tokens,
		RetryPolicy:       &policy,
		CallTimeout:       cfg.Node.CallTimeout.Duration,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	mgr, err := refresh.New(facade, cfg.Refresh.Interval.Duration,
		refresh.WithLogger(logger),
		refresh.WithTimeout(cfg.Refresh.Timeout.Duration))
	if err != nil {
		return err
	}

	var auth *server.Authenticator
	if cfg.Admin.BearerToken != "" {
		if auth, err = server.NewAuthenticator(cfg.Admin.BearerToken); err != nil {
			return err
		}
	} else {
		logger.Warn("admin bearer token not configured; admin endpoints disabled")
	}
	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Contracts:     facade.Registry(),
		Refresher:     mgr,
		Index:         facade,
		Accounts:      facade,
		Wallets:       facade,
		Auth:          auth,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("contract refresh exited", slog.Any("error", err))
			cancel()
		}
	}()

	logger.Info("walletd starting",
		slog.String("network", string(network)),
		slog.String("index_backend", cfg.WalletIndex.Backend))
	return srv.Run(ctx)
}

func openIndexStore(ctx context.Context, cfg config.IndexConfig, db *gorm.DB) (walletindex.Store, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.IndexBackendSQL:
		store, err := walletindex.NewSQLStore(ctx, db, cfg.Counter)
		return store, noop, err
	case config.IndexBackendLevelDB:
		ldb, err := kv.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open wallet index leveldb: %w", err)
		}
		key := walletindex.DefaultKVKey
		if cfg.Counter != "" {
			key = "walletindex/" + cfg.Counter
		}
		store, err := walletindex.NewKVStore(ldb, key)
		if err != nil {
			_ = ldb.Close()
			return nil, noop, err
		}
		return store, func() { _ = ldb.Close() }, nil
	case config.IndexBackendBolt:
		store, err := walletindex.OpenBoltStore(cfg.Path, cfg.Counter, nil)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := walletindex.NewFileStore(cfg.Path)
		return store, noop, err
	}
}
