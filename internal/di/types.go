// Package di provides dependency injection type definitions.
//
// The Container holds every long-lived collaborator of the shadowtrade
// server. It is built once by Wire and owned by main.
package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/address"
	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/config"
	"github.com/aristath/shadowtrade/internal/database"
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
	"github.com/aristath/shadowtrade/internal/scheduler"
	"github.com/aristath/shadowtrade/internal/server"
	"github.com/aristath/shadowtrade/internal/wallet"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	// Database
	LedgerDB *database.DB

	// Infrastructure
	Deriver *address.Deriver
	Bus     *events.Bus
	Events  *events.Manager
	Journal *events.Log
	Metrics *metrics.Metrics
	Ledger  *ledger.Ledger

	// Repositories
	Store  *accounts.Store
	Inputs *computation.InputRepository

	// Access control
	Gate          *auth.Gate
	Authenticator *auth.Authenticator
	Wallets       *wallet.Store

	// Services
	RegistryService    *registry.Service
	ComputationService *computation.Service
	SettlementService  *settlement.Service

	// Handlers
	RegistryHandler    *registryhandlers.Handler
	ComputationHandler *computationhandlers.Handler
	SettlementHandler  *settlementhandlers.Handler

	// Background work
	Dispatcher    *mpc.Dispatcher // nil when no MPC cluster is configured
	BackupService *reliability.BackupService
	Scheduler     *scheduler.Scheduler

	Server *server.Server
}
