// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/reliability"
	"github.com/aristath/shadowtrade/internal/scheduler"
)

// Maintenance schedules (cron with seconds)
const (
	CheckpointSchedule     = "0 0 * * * *"    // hourly
	IntegritySchedule      = "0 30 4 * * *"   // daily at 04:30
	SignaturePruneSchedule = "0 */10 * * * *" // every 10 minutes
)

// JobInstances holds the registered jobs for manual triggering
type JobInstances struct {
	Checkpoint scheduler.Job
	Integrity  scheduler.Job
	Backup     scheduler.Job
	Prune      scheduler.Job
}

// RegisterJobs creates the scheduler and registers the maintenance jobs
func RegisterJobs(container *Container, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	sched := scheduler.New(log)
	instances := &JobInstances{
		Checkpoint: reliability.NewCheckpointJob(container.LedgerDB, log),
		Integrity:  reliability.NewIntegrityJob(container.LedgerDB, log),
		Backup:     reliability.NewBackupJob(container.BackupService),
		Prune:      reliability.NewSignaturePruneJob(container.Ledger, log),
	}

	if err := sched.AddJob(CheckpointSchedule, instances.Checkpoint); err != nil {
		return nil, fmt.Errorf("failed to register checkpoint job: %w", err)
	}
	if err := sched.AddJob(IntegritySchedule, instances.Integrity); err != nil {
		return nil, fmt.Errorf("failed to register integrity job: %w", err)
	}
	if err := sched.AddJob(SignaturePruneSchedule, instances.Prune); err != nil {
		return nil, fmt.Errorf("failed to register signature prune job: %w", err)
	}
	if container.Config.Backup.Schedule != "" {
		if err := sched.AddJob(container.Config.Backup.Schedule, instances.Backup); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
	} else {
		log.Warn().Msg("Backup schedule empty, scheduled backups disabled")
	}

	container.Scheduler = sched
	return instances, nil
}
