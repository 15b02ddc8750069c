package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/database"
)

const maintenanceTimeout = 10 * time.Minute

// CheckpointJob truncates the WAL and pings the database (hourly).
type CheckpointJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewCheckpointJob creates a new checkpoint job
func NewCheckpointJob(db *database.DB, log zerolog.Logger) *CheckpointJob {
	return &CheckpointJob{db: db, log: log.With().Str("job", "wal_checkpoint").Logger()}
}

// Name returns the job name
func (j *CheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run executes the checkpoint
func (j *CheckpointJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	if err := j.db.QuickCheck(ctx); err != nil {
		return fmt.Errorf("quick check failed: %w", err)
	}
	if err := j.db.WALCheckpoint(""); err != nil {
		return err
	}

	stats, err := j.db.GetStats()
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read database stats")
		return nil
	}
	j.log.Debug().
		Int64("size_bytes", stats.SizeBytes).
		Int64("wal_size_bytes", stats.WALSizeBytes).
		Msg("WAL checkpoint completed")
	return nil
}

// IntegrityJob runs a full integrity check (daily).
type IntegrityJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewIntegrityJob creates a new integrity job
func NewIntegrityJob(db *database.DB, log zerolog.Logger) *IntegrityJob {
	return &IntegrityJob{db: db, log: log.With().Str("job", "integrity_check").Logger()}
}

// Name returns the job name
func (j *IntegrityJob) Name() string {
	return "integrity_check"
}

// Run executes the integrity check
func (j *IntegrityJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	start := time.Now()
	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("CRITICAL: ledger integrity check failed")
		return err
	}
	j.log.Info().Dur("duration", time.Since(start)).Msg("Integrity check passed")
	return nil
}

// BackupJob runs the backup service on a schedule.
type BackupJob struct {
	service *BackupService
}

// NewBackupJob creates a new backup job
func NewBackupJob(service *BackupService) *BackupJob {
	return &BackupJob{service: service}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates one backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	_, err := j.service.CreateBackup(ctx)
	return err
}

// SignaturePruner deletes spent request signatures that can no longer verify.
type SignaturePruner interface {
	PruneSignatures(ctx context.Context) (int64, error)
}

// SignaturePruneJob keeps the spent-signature table bounded.
type SignaturePruneJob struct {
	pruner SignaturePruner
	log    zerolog.Logger
}

// NewSignaturePruneJob creates a new signature prune job
func NewSignaturePruneJob(pruner SignaturePruner, log zerolog.Logger) *SignaturePruneJob {
	return &SignaturePruneJob{pruner: pruner, log: log.With().Str("job", "prune_signatures").Logger()}
}

// Name returns the job name
func (j *SignaturePruneJob) Name() string {
	return "prune_signatures"
}

// Run deletes expired signatures
func (j *SignaturePruneJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	n, err := j.pruner.PruneSignatures(ctx)
	if err != nil {
		return err
	}
	j.log.Debug().Int64("pruned", n).Msg("Signature prune completed")
	return nil
}
