package reliability

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/aristath/shadowtrade/internal/testing"
)

func TestMaintenanceJobs(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	defer cleanup()

	checkpoint := NewCheckpointJob(db, zerolog.Nop())
	assert.Equal(t, "wal_checkpoint", checkpoint.Name())
	require.NoError(t, checkpoint.Run())

	integrity := NewIntegrityJob(db, zerolog.Nop())
	assert.Equal(t, "integrity_check", integrity.Name())
	require.NoError(t, integrity.Run())
}

func TestMaintenanceJobs_ClosedDatabase(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	cleanup()

	assert.Error(t, NewCheckpointJob(db, zerolog.Nop()).Run())
	assert.Error(t, NewIntegrityJob(db, zerolog.Nop()).Run())
}

func TestBackupJob(t *testing.T) {
	svc, _, _ := newBackupService(t, nil, 1)
	job := NewBackupJob(svc)
	assert.Equal(t, "backup", job.Name())
	require.NoError(t, job.Run())

	backups, err := svc.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

type countingPruner struct {
	calls int
	err   error
}

func (p *countingPruner) PruneSignatures(ctx context.Context) (int64, error) {
	p.calls++
	return 2, p.err
}

func TestSignaturePruneJob(t *testing.T) {
	pruner := &countingPruner{}
	job := NewSignaturePruneJob(pruner, zerolog.Nop())
	assert.Equal(t, "prune_signatures", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, pruner.calls)

	pruner.err = errors.New("locked")
	assert.Error(t, job.Run())
}
