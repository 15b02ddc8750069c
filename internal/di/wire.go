// Package di provides dependency injection wiring and initialization.
package di

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/config"
)

// Wire initializes all dependencies and returns a fully configured container
// Order of operations:
// 1. Initialize the ledger database
// 2. Initialize the ledger and repositories
// 3. Initialize services and background workers
// 4. Register jobs
// 5. Create the HTTP server
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, *JobInstances, error) {
	// Step 1: Initialize databases
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	// Step 2: Initialize repositories
	if err := InitializeRepositories(container, log); err != nil {
		container.LedgerDB.Close()
		return nil, nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	// Step 3: Initialize services
	if err := InitializeServices(ctx, container, log); err != nil {
		container.LedgerDB.Close()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 4: Register jobs
	jobs, err := RegisterJobs(container, log)
	if err != nil {
		container.LedgerDB.Close()
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	// Step 5: HTTP server
	InitializeServer(container, log)

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, jobs, nil
}

// Start launches the background workers. The HTTP server is started by the
// caller.
func (c *Container) Start(ctx context.Context) error {
	if c.Dispatcher != nil {
		if err := c.Dispatcher.Start(ctx, c.Bus); err != nil {
			return fmt.Errorf("failed to start MPC dispatcher: %w", err)
		}
	}
	c.Scheduler.Start()
	return nil
}

// Close stops background workers and closes the database. It is safe to
// call after a failed Start.
func (c *Container) Close() error {
	var result *multierror.Error

	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Dispatcher != nil {
		c.Dispatcher.Stop()
	}

	if c.LedgerDB != nil {
		if err := c.LedgerDB.WALCheckpoint("TRUNCATE"); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to checkpoint ledger database: %w", err))
		}
		if err := c.LedgerDB.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close ledger database: %w", err))
		}
	}

	return result.ErrorOrNil()
}
