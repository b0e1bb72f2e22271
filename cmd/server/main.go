// Package main provides the entry point for the token faucet: the HTTP API and the drip worker in one process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/token-faucet/internal/adapter"
	"github.com/token-faucet/internal/api"
	"github.com/token-faucet/internal/captcha"
	"github.com/token-faucet/internal/circuitbreaker"
	"github.com/token-faucet/internal/config"
	"github.com/token-faucet/internal/job"
	"github.com/token-faucet/internal/logging"
	"github.com/token-faucet/internal/service"
	"github.com/token-faucet/internal/storage"
	"github.com/token-faucet/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		logging.WithError(err).Error("Faucet exited with error")
		_ = logging.GetGlobalLogger().Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.WithError(err).Error("Failed to load configuration")
		return err
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ledger
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer postgres.Close()

	ledger := storage.NewDistributionRepository(postgres)
	if err := ledger.EnsureSchema(ctx); err != nil {
		return err
	}

	// Queue backend
	redisClient, err := storage.NewRedisClient(&cfg.Database.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	logger.Info("Database connections established")

	// Chain
	ethClient, err := adapter.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return err
	}
	defer ethClient.Close()

	network, err := adapter.EnsureConnected(ctx, ethClient)
	if err != nil {
		return err
	}

	key, err := adapter.ParsePrivateKey(cfg.Chain.PrivateKey)
	if err != nil {
		return err
	}

	rpc := adapter.NewGuardedClient(ethClient, circuitbreaker.DefaultConfig("rpc"))

	engine, err := adapter.NewSubmissionEngine(rpc, key, adapter.EngineConfigFrom(&cfg.Chain))
	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"network": network.Name,
		"chainId": network.ChainID.String(),
		"signer":  engine.SignerAddress().Hex(),
		"amount":  engine.Amount().String(),
		"symbol":  cfg.Chain.TokenSymbol,
	}).Info("Submission engine ready")

	// Queue and worker
	queue := job.NewDripQueue(job.NewRedisBackend(redisClient.Client(), cfg.Queue.Name))

	dripWorker, err := worker.NewDripWorker(&worker.DripWorkerConfig{
		Queue:        queue,
		Engine:       engine,
		Ledger:       ledger,
		StallTimeout: cfg.Queue.StallTimeout,
		PopTimeout:   cfg.Queue.PopTimeout,
	})
	if err != nil {
		return err
	}

	if _, err := dripWorker.Recover(ctx); err != nil {
		return err
	}

	// API
	verifier, err := captcha.NewVerifier(&cfg.Captcha)
	if err != nil {
		return err
	}

	dripService := service.NewDripService(ledger, queue, service.DripServiceConfig{
		TokenAmount:  cfg.Chain.TokenAmount,
		TokenSymbol:  cfg.Chain.TokenSymbol,
		ExplorerURL:  cfg.Chain.ExplorerURL,
		AwaitTimeout: cfg.Queue.AwaitTimeout,
	})

	server := api.NewServer(&api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    cfg.Queue.AwaitTimeout + 15*time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     cfg.CORS.Origins,
		RateLimitRPS:    cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst:  cfg.RateLimit.Burst,
		TrustProxy:      cfg.RateLimit.TrustProxy,
	}, &api.Dependencies{
		DripService: dripService,
		Captcha:     verifier,
		Queue:       queue,
		Worker:      dripWorker,
		HealthChecks: map[string]api.HealthCheck{
			"postgres": postgres.Ping,
			"redis":    redisClient.Ping,
			"chain": func(ctx context.Context) error {
				if err := rpc.Healthy(ctx); err != nil {
					return err
				}
				_, err := ethClient.BlockNumber(ctx)
				return err
			},
		},
	})

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dripWorker.Run(groupCtx, shutdownTimeout)
	})

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Faucet started")

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Faucet stopped")
	return nil
}
