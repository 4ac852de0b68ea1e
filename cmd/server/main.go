package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Cocopuffff/TraderJoe/internal/clients/oanda"
	"github.com/Cocopuffff/TraderJoe/internal/config"
	"github.com/Cocopuffff/TraderJoe/internal/database"
	"github.com/Cocopuffff/TraderJoe/internal/modules/accounts"
	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
	"github.com/Cocopuffff/TraderJoe/internal/modules/orders"
	"github.com/Cocopuffff/TraderJoe/internal/modules/review"
	"github.com/Cocopuffff/TraderJoe/internal/modules/strategies"
	syncmod "github.com/Cocopuffff/TraderJoe/internal/modules/sync"
	"github.com/Cocopuffff/TraderJoe/internal/modules/trading"
	"github.com/Cocopuffff/TraderJoe/internal/modules/watchlist"
	"github.com/Cocopuffff/TraderJoe/internal/reliability"
	"github.com/Cocopuffff/TraderJoe/internal/scheduler"
	"github.com/Cocopuffff/TraderJoe/internal/server"
	"github.com/Cocopuffff/TraderJoe/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	if err != nil {
		panic("failed to configure logging: " + err.Error())
	}
	logger.SetGlobalLogger(log)

	log.Info().
		Int("port", cfg.Port).
		Bool("dev_mode", cfg.DevMode).
		Str("data_dir", cfg.DataDir).
		Msg("Starting traderjoe")

	// Ledger database
	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply ledger schema")
	}

	// The trade-state catalog is loaded once; an incomplete catalog is a
	// deployment error, not something to limp through.
	states, err := catalog.Load(db.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load trade-state catalog")
	}

	// Broker client
	broker := oanda.NewClient(oanda.Config{
		BaseURL:   cfg.OandaPlatformURL,
		AccountID: cfg.OandaAccountID,
		APIKey:    cfg.OandaAPIKey,
	}, log)

	// Repositories
	tradeRepo := trading.NewTradeRepository(db.Conn(), log)
	orderRepo := trading.NewOrderRepository(db.Conn(), log)
	cashRepo := accounts.NewCashRepository(db.Conn(), log)
	auditRepo := accounts.NewAuditRepository(db.Conn(), log)
	strategyRepo := strategies.NewRepository(db.Conn(), log)
	watchlistRepo := watchlist.NewRepository(db.Conn(), log)
	cursorRepo := syncmod.NewCursorRepository(db.Conn(), log)
	archiveRepo := syncmod.NewArchiveRepository(db.Conn(), log)
	reviewRepo := review.NewRepository(db.Conn(), log)

	// Strategy runs do not survive a restart; drop slots that never
	// resolved to a trade before serving traffic.
	if _, err := strategyRepo.ResetRunState(); err != nil {
		log.Fatal().Err(err).Msg("Failed to reset strategy run state")
	}

	runner := strategies.NopRunner{}

	// Reconciliation core
	upsertEngine := syncmod.NewUpsertEngine(tradeRepo, strategyRepo, states, cfg.FallbackTraderID, log)
	linker := syncmod.NewLinker(orderRepo, tradeRepo, strategyRepo, log)
	aggregator := syncmod.NewAggregator(tradeRepo, auditRepo, cashRepo, strategyRepo, log)
	syncService := syncmod.NewService(
		db.Conn(), broker, states, upsertEngine, linker, aggregator,
		cursorRepo, archiveRepo, runner, cfg.SyncStartCursor, log,
	)

	orderService := orders.NewService(broker, orderRepo, tradeRepo, strategyRepo, cashRepo, states, runner, syncService, cfg.Leverage, log)
	reviewService := review.NewService(reviewRepo, tradeRepo, cashRepo, states, syncService, log)

	// Maintenance scheduler: checkpoints, archive pruning, backups.
	// Reconciliation itself is trigger-on-demand, never scheduled.
	sched := scheduler.New(log)

	maintenance := reliability.NewMaintenanceJob(db, archiveRepo, 30*24*time.Hour, log)
	if err := sched.Register("0 0 2 * * *", maintenance); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}

	if cfg.Backup.Enabled {
		storage, err := reliability.NewStorageClient(context.Background(), reliability.StorageConfig{
			Bucket:    cfg.Backup.Bucket,
			Region:    cfg.Backup.Region,
			Endpoint:  cfg.Backup.Endpoint,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup storage client")
		}

		backupService := reliability.NewBackupService(db, storage, cfg.DataDir, log)
		backupJob := reliability.NewBackupJob(backupService, 30, log)
		if err := sched.Register(cfg.Backup.Schedule, backupJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:        log,
		Cfg:        cfg,
		DB:         db,
		Sync:       syncService,
		Orders:     orderService,
		Review:     reviewService,
		Cash:       cashRepo,
		Strategies: strategyRepo,
		Watchlist:  watchlistRepo,
		Scheduler:  sched,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
