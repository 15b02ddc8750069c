package mpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/modules/computation"
	"github.com/aristath/shadowtrade/internal/modules/settlement"
	"github.com/aristath/shadowtrade/internal/testing/ledgertest"
)

// fakeExecutor records jobs and answers from a script. When hold is set every
// call waits for it to be closed.
type fakeExecutor struct {
	mu       sync.Mutex
	jobs     []*Job
	failures int
	summary  *settlement.Summary
	hold     chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, job *Job) (*Result, error) {
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("cluster unavailable")
	}
	res := &Result{RequestID: job.RequestID, Output: domain.Ciphertext("encrypted-result")}
	if job.Kind == computation.KindPerformance && f.summary != nil {
		s := *f.summary
		res.Summary = &s
	}
	return res, nil
}

func (f *fakeExecutor) Jobs() []*Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Job(nil), f.jobs...)
}

type fakeKeyring map[domain.Pubkey]*auth.Signer

func (k fakeKeyring) SignerFor(p domain.Pubkey) (*auth.Signer, bool) {
	s, ok := k[p]
	return s, ok
}

type fixture struct {
	env     *ledgertest.Env
	comp    *computation.Service
	settle  *settlement.Service
	exec    *fakeExecutor
	keyring fakeKeyring
	jobs    *JobStore
	owner   *auth.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := ledgertest.New(t)
	env.InitRegistry(t, env.Signer(t, "authority"))
	return &fixture{
		env:     env,
		comp:    computation.NewService(env.Ledger, env.Store, env.Gate, computation.NewInputRepository(env.DB.Conn(), env.Log), 0, env.Log),
		settle:  settlement.NewService(env.Ledger, env.Store, env.Gate, env.Log),
		exec:    &fakeExecutor{},
		keyring: fakeKeyring{},
		jobs:    NewJobStore(env.DB.Conn(), env.Log),
		owner:   env.Signer(t, "owner"),
	}
}

func (f *fixture) dispatcher(workers, queueSize int) *Dispatcher {
	return NewDispatcher(Config{
		Executor:   f.exec,
		Inputs:     f.comp,
		Settler:    f.settle,
		Jobs:       f.jobs,
		Keyring:    f.keyring,
		Metrics:    f.env.Metrics,
		Workers:    workers,
		QueueSize:  queueSize,
		Timeout:    5 * time.Second,
		RetryDelay: time.Millisecond,
	}, f.env.Log)
}

func (f *fixture) startWith(t *testing.T, workers, queueSize int) *Dispatcher {
	t.Helper()
	d := f.dispatcher(workers, queueSize)
	require.NoError(t, d.Start(context.Background(), f.env.Bus))
	t.Cleanup(d.Stop)
	return d
}

func (f *fixture) start(t *testing.T) *Dispatcher {
	t.Helper()
	return f.startWith(t, 2, 0)
}

func (f *fixture) requestRSI(t *testing.T) *computation.Receipt {
	t.Helper()
	r, err := f.comp.RequestRSI(context.Background(), f.owner.Caller(), domain.Ciphertext("prices"),
		computation.RSIParams{Period: 14, Oversold: 30, Overbought: 70})
	require.NoError(t, err)
	return r
}

// waitRecovered blocks until the first recovery scan has queued its backlog.
func waitRecovered(t *testing.T, d *Dispatcher) {
	t.Helper()
	select {
	case <-d.recovered:
	case <-time.After(5 * time.Second):
		t.Fatal("recovery did not finish")
	}
}

func (f *fixture) requestPerformance(t *testing.T) *computation.Receipt {
	t.Helper()
	r, err := f.comp.RequestPerformance(context.Background(), f.owner.Caller(), domain.Ciphertext("trades"), domain.Ciphertext("balance"))
	require.NoError(t, err)
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}

func TestDispatcher_RunsRequestJobs(t *testing.T) {
	f := newFixture(t)
	d := f.start(t)

	r, err := f.comp.RequestRSI(context.Background(), f.owner.Caller(), domain.Ciphertext("prices"),
		computation.RSIParams{Period: 14, Oversold: 30, Overbought: 70})
	require.NoError(t, err)

	waitFor(t, func() bool { return d.Stats().Completed == 1 })

	jobs := f.exec.Jobs()
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, r.RequestID, job.RequestID)
	assert.Equal(t, computation.KindRSI, job.Kind)
	assert.Equal(t, f.owner.Pubkey(), job.Requester)
	require.Len(t, job.Inputs, 1)
	assert.Equal(t, computation.SlotPrices, job.Inputs[0].Slot)
	assert.Equal(t, domain.Ciphertext("prices"), job.Inputs[0].Data)
	assert.Equal(t, computation.RSIParams{Period: 14, Oversold: 30, Overbought: 70}, job.Params)
}

func TestDispatcher_SettlesWhenOwnerKeyIsLocal(t *testing.T) {
	f := newFixture(t)
	f.keyring[f.owner.Pubkey()] = f.owner
	f.exec.summary = &settlement.Summary{TotalReturn: 250, WinRate: 6000, TotalTrades: 10, WinTrades: 6}
	d := f.start(t)

	r := f.requestPerformance(t)
	waitFor(t, func() bool { return d.Stats().Settled == 1 })

	st, err := f.settle.Get(context.Background(), f.owner.Pubkey())
	require.NoError(t, err)
	assert.Equal(t, int64(250), st.TotalReturn)
	assert.Equal(t, uint16(6000), st.WinRate)

	pending, err := f.comp.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	correlated, err := f.env.Journal.ByRequestID(context.Background(), nil, r.RequestID)
	require.NoError(t, err)
	assert.Len(t, correlated, 2)
}

func TestDispatcher_LeavesForeignResultsUnsettled(t *testing.T) {
	f := newFixture(t)
	f.exec.summary = &settlement.Summary{TotalReturn: 1, WinRate: 1, TotalTrades: 1, WinTrades: 1}
	d := f.start(t)

	f.requestPerformance(t)
	waitFor(t, func() bool { return d.Stats().Completed == 1 })

	assert.Zero(t, d.Stats().Settled)
	pending, err := f.comp.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDispatcher_Retries(t *testing.T) {
	f := newFixture(t)
	f.exec.failures = MaxAttempts - 1
	d := f.start(t)

	f.requestPerformance(t)
	waitFor(t, func() bool { return d.Stats().Completed == 1 })
	assert.Len(t, f.exec.Jobs(), MaxAttempts)
	assert.Zero(t, d.Stats().Failed)
}

func TestDispatcher_GivesUp(t *testing.T) {
	f := newFixture(t)
	f.exec.failures = 100
	d := f.start(t)

	r := f.requestPerformance(t)
	waitFor(t, func() bool { return d.Stats().Failed == 1 })
	assert.Len(t, f.exec.Jobs(), MaxAttempts)
	assert.Zero(t, d.Stats().InFlight)

	rec, err := f.jobs.Get(context.Background(), r.RequestID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, rec.Status)
	assert.Equal(t, MaxAttempts, rec.Attempts)
	assert.Contains(t, rec.LastError, "cluster unavailable")
}

func TestDispatcher_RecoversPendingOnStart(t *testing.T) {
	f := newFixture(t)
	r := f.requestPerformance(t)

	d := f.start(t)
	waitFor(t, func() bool { return d.Stats().Completed == 1 })
	assert.Equal(t, r.RequestID, f.exec.Jobs()[0].RequestID)
	assert.Equal(t, int64(1), d.Stats().Recovered)
}

func TestDispatcher_RestartSkipsFinishedJobs(t *testing.T) {
	f := newFixture(t)
	// No summary, so the result stays unsettled.
	r := f.requestPerformance(t)

	for i := 0; i < 3; i++ {
		d := f.dispatcher(2, 0)
		require.NoError(t, d.Start(context.Background(), f.env.Bus))
		waitRecovered(t, d)
		if i == 0 {
			waitFor(t, func() bool { return d.Stats().Completed == 1 })
		} else {
			assert.Zero(t, d.Stats().Recovered)
		}
		d.Stop()
	}

	assert.Len(t, f.exec.Jobs(), 1)
	rec, err := f.jobs.Get(context.Background(), r.RequestID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
}

func TestDispatcher_RecoversBacklogLargerThanQueue(t *testing.T) {
	f := newFixture(t)
	const n = 10
	want := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		want[f.requestRSI(t).RequestID] = true
	}

	d := f.startWith(t, 1, 2)
	waitFor(t, func() bool { return d.Stats().Completed == n })

	got := make(map[string]bool, n)
	for _, job := range f.exec.Jobs() {
		got[job.RequestID] = true
	}
	assert.Equal(t, want, got)
	assert.Equal(t, int64(n), d.Stats().Recovered)
}

func TestDispatcher_RecoversEventsDroppedOnFullQueue(t *testing.T) {
	f := newFixture(t)
	f.exec.hold = make(chan struct{})
	d := f.startWith(t, 1, 1)
	waitRecovered(t, d)

	const n = 5
	for i := 0; i < n; i++ {
		f.requestRSI(t)
	}
	close(f.exec.hold)

	waitFor(t, func() bool { return d.Stats().Completed == n })
	assert.Len(t, f.exec.Jobs(), n)
	assert.Zero(t, d.Stats().Failed)
}

func TestDispatcher_Stop(t *testing.T) {
	f := newFixture(t)
	d := f.start(t)
	d.Stop()
	d.Stop()

	assert.ErrorIs(t, d.Enqueue(&computation.Receipt{RequestID: "x"}), ErrStopped)
	assert.Error(t, d.Start(context.Background(), f.env.Bus))
}
