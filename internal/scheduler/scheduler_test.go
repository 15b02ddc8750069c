package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func (j *countingJob) Name() string {
	return j.name
}

func TestAddJob_InvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", &countingJob{name: "bad"}))
	assert.Empty(t, s.Jobs())
}

func TestRunNow_RecordsStatus(t *testing.T) {
	s := New(zerolog.Nop())
	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "failing", err: errors.New("disk full")}

	require.NoError(t, s.AddJob("0 0 3 * * *", ok))
	require.NoError(t, s.AddJob("@hourly", failing))

	require.NoError(t, s.RunNow(ok))
	assert.EqualError(t, s.RunNow(failing), "disk full")

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "failing", jobs[0].Name)
	assert.Equal(t, 1, jobs[0].Runs)
	assert.Equal(t, "disk full", jobs[0].LastError)
	assert.Equal(t, "ok", jobs[1].Name)
	assert.Equal(t, "0 0 3 * * *", jobs[1].Schedule)
	assert.Empty(t, jobs[1].LastError)
	assert.False(t, jobs[1].LastRun.IsZero())
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, s.Jobs()[0].Next.IsZero())
}
