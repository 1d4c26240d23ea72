package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeByMAB/Falconer/internal/agent"
	"github.com/CodeByMAB/Falconer/internal/approval"
	"github.com/CodeByMAB/Falconer/internal/clients/bitcoind"
	"github.com/CodeByMAB/Falconer/internal/clients/electrs"
	"github.com/CodeByMAB/Falconer/internal/clients/lnbits"
	"github.com/CodeByMAB/Falconer/internal/clients/mempool"
	"github.com/CodeByMAB/Falconer/internal/config"
	"github.com/CodeByMAB/Falconer/internal/database"
	"github.com/CodeByMAB/Falconer/internal/events"
	"github.com/CodeByMAB/Falconer/internal/feebrief"
	"github.com/CodeByMAB/Falconer/internal/funding"
	"github.com/CodeByMAB/Falconer/internal/ledger"
	"github.com/CodeByMAB/Falconer/internal/market"
	"github.com/CodeByMAB/Falconer/internal/policy"
	"github.com/CodeByMAB/Falconer/internal/reliability"
	"github.com/CodeByMAB/Falconer/internal/scheduler"
	"github.com/CodeByMAB/Falconer/internal/server"
	"github.com/CodeByMAB/Falconer/internal/validation"
	"github.com/CodeByMAB/Falconer/internal/wallet"
	"github.com/CodeByMAB/Falconer/pkg/logger"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLog := logger.New(logger.Config{Level: "error"})
		errLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		File:   cfg.LogFile,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("version", version).Str("env", cfg.Env).Msg("Starting Falconer")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	db, err := database.New(database.Config{
		Path: cfg.DatabasePath(),
		Name: "falconer",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledger database")
	}
	defer db.Close()

	store, err := ledger.NewStore(db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledger store")
	}

	bus := events.NewBus(log)

	engine, err := policy.NewEngine(cfg.SpendingPolicy(), store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize policy engine")
	}

	manager := funding.NewManager(funding.Config{
		Enabled:           cfg.FundingEnabled,
		ThresholdSats:     cfg.FundingThresholdSats,
		DefaultAmountSats: cfg.FundingDefaultAmountSats,
		MaxPending:        cfg.FundingMaxPending,
		MaxAgeHours:       cfg.FundingMaxAgeHours,
	}, funding.DefaultTunables(), store, bus, log)

	var notifier *funding.Notifier
	if cfg.ReviewWebhookURL != "" {
		notifier = funding.NewNotifier(cfg.ReviewWebhookURL, cfg.ReviewWebhookToken, 15*time.Second, log)
	}

	verifier := approval.NewVerifier(cfg.WebhookSecret, cfg.Production(), log)
	channel := approval.NewChannel(manager, log)

	bitcoindClient := bitcoind.NewClient(cfg.BitcoindURL, cfg.BitcoindRPCUser, cfg.BitcoindRPCPass, log)
	electrsClient := electrs.NewClient(cfg.ElectrsURL, log)
	lnbitsClient := lnbits.NewClient(cfg.LNbitsURL, cfg.LNbitsAPIKey, log)
	mempoolClient := mempool.NewClient(cfg.MempoolURL, cfg.MempoolWSURL, log)

	spender := wallet.NewLNbitsWallet(lnbitsClient, validation.Network(cfg.Network), log)
	analyzer := market.NewAnalyzer(cfg.DataDir, log)
	briefService := feebrief.NewService(bitcoindClient, store, bus, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Live fee feed supplements the agent's cycle sampling; one sample
	// per minute at most.
	go runFeeFeed(ctx, mempoolClient, analyzer, log)

	sched := scheduler.New(log)
	registerJobs(cfg, sched, db, store, manager, briefService, log)
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  !cfg.Production(),
		Version:  version,
		DB:       db,
		Engine:   engine,
		Manager:  manager,
		Verifier: verifier,
		Channel:  channel,
		FeeBrief: briefService,
		Market:   analyzer,
		Bus:      bus,
		Electrs:  electrsClient,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	ag := agent.New(agent.Config{
		CycleInterval: time.Duration(cfg.AgentCycleSeconds) * time.Second,
		ErrorBackoff:  time.Duration(cfg.AgentErrorBackoffSeconds) * time.Second,
	}, agent.Deps{
		Engine:   engine,
		Manager:  manager,
		Notifier: notifier,
		Analyzer: analyzer,
		Wallet:   spender,
		Bitcoind: bitcoindClient,
		Mempool:  mempoolClient,
		Bus:      bus,
	}, log)
	go func() {
		if err := ag.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Agent stopped unexpectedly")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Falconer started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Falconer stopped")
}

// runFeeFeed keeps the live fee websocket connected, feeding throttled
// samples into the market analyzer.
func runFeeFeed(ctx context.Context, client *mempool.Client, analyzer *market.Analyzer, log zerolog.Logger) {
	for {
		err := client.StreamFees(ctx, func(u mempool.FeeUpdate) {
			analyzer.ObserveStream(market.Sample{
				Timestamp:   u.Timestamp,
				FeeFastest:  u.Fees.FastestFee,
				FeeHalfHour: u.Fees.HalfHourFee,
			}, time.Minute)
		})
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("Fee feed disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(30 * time.Second):
		}
	}
}

func registerJobs(
	cfg *config.Config,
	sched *scheduler.Scheduler,
	db *database.DB,
	store *ledger.Store,
	manager *funding.Manager,
	briefService *feebrief.Service,
	log zerolog.Logger,
) {
	mustAdd := func(schedule string, job scheduler.Job) {
		if err := sched.AddJob(schedule, job); err != nil {
			log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to register job")
		}
	}

	mustAdd("@hourly", &scheduler.ExpireProposalsJob{
		Manager:     manager,
		MaxAgeHours: cfg.FundingMaxAgeHours,
		Log:         log,
	})
	mustAdd("30 3 * * *", &scheduler.LedgerCleanupJob{
		Store:         store,
		RetentionDays: cfg.RetentionDays,
		Log:           log,
	})
	mustAdd("*/30 * * * *", &scheduler.FeeBriefJob{Service: briefService})

	if cfg.BackupEnabled {
		s3, err := reliability.NewS3Client(
			cfg.BackupEndpoint, cfg.BackupRegion,
			cfg.BackupAccessKey, cfg.BackupSecretKey,
			cfg.BackupBucket, log,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup client")
		}
		backup := reliability.NewBackupService(db, s3, cfg.DataDir, version, log)
		mustAdd("0 4 * * *", &scheduler.LedgerBackupJob{
			Service:       backup,
			RetentionDays: cfg.RetentionDays,
		})
	}
}
