// Package di provides dependency injection for services.
package di

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/address"
	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/config"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/ledger"
	"github.com/aristath/shadowtrade/internal/metrics"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
	"github.com/aristath/shadowtrade/internal/modules/computation"
	computationhandlers "github.com/aristath/shadowtrade/internal/modules/computation/handlers"
	"github.com/aristath/shadowtrade/internal/modules/registry"
	registryhandlers "github.com/aristath/shadowtrade/internal/modules/registry/handlers"
	"github.com/aristath/shadowtrade/internal/modules/settlement"
	settlementhandlers "github.com/aristath/shadowtrade/internal/modules/settlement/handlers"
	"github.com/aristath/shadowtrade/internal/mpc"
	"github.com/aristath/shadowtrade/internal/reliability"
	"github.com/aristath/shadowtrade/internal/server"
	"github.com/aristath/shadowtrade/internal/wallet"
)

// addressCacheSize bounds the derived-address LRU cache.
const addressCacheSize = 1024

// InitializeRepositories creates the ledger and the repositories built on it
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil || container.LedgerDB == nil {
		return fmt.Errorf("container has no ledger database")
	}
	cfg := container.Config
	clock := clockwork.NewRealClock()

	deriver, err := address.NewDeriver(cfg.Program(), addressCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create address deriver: %w", err)
	}
	container.Deriver = deriver

	container.Metrics = metrics.New()
	container.Bus = events.NewBus(log)
	container.Events = events.NewManager(container.Bus, log)
	container.Journal = events.NewLog(container.LedgerDB.Conn(), log)
	container.Ledger = ledger.New(ledger.Config{
		DB:      container.LedgerDB.Conn(),
		Journal: container.Journal,
		Events:  container.Events,
		Metrics: container.Metrics,
		Clock:   clock,
	}, log)

	container.Store = accounts.NewStore(container.LedgerDB.Conn(), deriver, log)
	container.Inputs = computation.NewInputRepository(container.LedgerDB.Conn(), log)

	container.Gate = auth.NewGate(deriver)
	container.Authenticator = auth.NewAuthenticator(cfg.AuthSkew(), clock)
	container.Wallets = wallet.NewStore(cfg.WalletDir, clock, log)

	log.Info().
		Str("program_id", deriver.ProgramID().String()).
		Msg("Repositories initialized")
	return nil
}

// InitializeServices creates the instruction services and their handlers,
// the MPC dispatcher and the backup service
func InitializeServices(ctx context.Context, container *Container, log zerolog.Logger) error {
	cfg := container.Config

	container.RegistryService = registry.NewService(container.Ledger, container.Store, container.Gate, log)
	container.ComputationService = computation.NewService(
		container.Ledger,
		container.Store,
		container.Gate,
		container.Inputs,
		cfg.MaxInputBytes,
		log,
	)
	container.SettlementService = settlement.NewService(container.Ledger, container.Store, container.Gate, log)

	container.RegistryHandler = registryhandlers.NewHandler(container.RegistryService, container.Store, log)
	container.ComputationHandler = computationhandlers.NewHandler(container.ComputationService, log)
	container.SettlementHandler = settlementhandlers.NewHandler(container.SettlementService, log)

	if cfg.MPC.ClusterURL != "" {
		container.Dispatcher = newDispatcher(container, cfg, log)
	} else {
		log.Warn().Msg("MPC cluster not configured, requests stay pending until settled by a client")
	}

	backups, err := newBackupService(ctx, container, cfg, log)
	if err != nil {
		return err
	}
	container.BackupService = backups

	return nil
}

// InitializeServer creates the HTTP server. It runs last so the status
// endpoint sees the scheduler and dispatcher.
func InitializeServer(container *Container, log zerolog.Logger) {
	cfg := container.Config

	serverCfg := server.Config{
		Log:           log,
		Port:          cfg.Port,
		DevMode:       cfg.DevMode,
		MaxBodyBytes:  int64(cfg.MaxInputBytes)*4 + 64*1024,
		DB:            container.LedgerDB,
		Journal:       container.Journal,
		Bus:           container.Bus,
		Metrics:       container.Metrics,
		Authenticator: container.Authenticator,
		Registry:      container.RegistryHandler,
		Computation:   container.ComputationHandler,
		Settlement:    container.SettlementHandler,
		Scheduler:     container.Scheduler,
		Backups:       container.BackupService,
	}
	// Keep the interface nil when dispatching is disabled.
	if container.Dispatcher != nil {
		serverCfg.Dispatcher = container.Dispatcher
	}
	container.Server = server.New(serverCfg)
}

func newDispatcher(container *Container, cfg *config.Config, log zerolog.Logger) *mpc.Dispatcher {
	return mpc.NewDispatcher(mpc.Config{
		Executor: mpc.NewHTTPExecutor(cfg.MPC.ClusterURL, cfg.MPCTimeout(), log),
		Inputs:   container.ComputationService,
		Settler:  container.SettlementService,
		Jobs:     mpc.NewJobStore(container.LedgerDB.Conn(), log),
		Keyring:  container.Wallets,
		Metrics:  container.Metrics,
		Workers:  cfg.MPC.Workers,
		Timeout:  cfg.MPCTimeout(),
	}, log)
}

func newBackupService(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) (*reliability.BackupService, error) {
	backupCfg := reliability.BackupConfig{
		DB:       container.LedgerDB,
		Dir:      cfg.BackupDir(),
		Keep:     cfg.Backup.Keep,
		Sequence: container.Journal,
		Metrics:  container.Metrics,
	}

	if cfg.Backup.S3Bucket != "" {
		remote, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Bucket:    cfg.Backup.S3Bucket,
			Region:    cfg.Backup.S3Region,
			Endpoint:  cfg.Backup.S3Endpoint,
			AccessKey: cfg.Backup.S3AccessKey,
			SecretKey: cfg.Backup.S3SecretKey,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create backup object store: %w", err)
		}
		backupCfg.Remote = remote
	}

	return reliability.NewBackupService(backupCfg, log), nil
}
