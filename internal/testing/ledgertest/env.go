// Package ledgertest assembles a ledger over a temporary database for tests of
// the modules built on top of it.
package ledgertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/shadowtrade/internal/address"
	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/database"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/ledger"
	"github.com/aristath/shadowtrade/internal/metrics"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
	testingpkg "github.com/aristath/shadowtrade/internal/testing"
)

// Start is the fake clock's initial time.
var Start = time.Unix(1700000000, 0).UTC()

// Env bundles the collaborators a module test needs.
type Env struct {
	DB      *database.DB
	Clock   clockwork.FakeClock
	Bus     *events.Bus
	Journal *events.Log
	Metrics *metrics.Metrics
	Ledger  *ledger.Ledger
	Store   *accounts.Store
	Gate    *auth.Gate
	Log     zerolog.Logger

	mu        sync.Mutex
	published []*events.Event
}

// New creates an Env whose database is removed when the test ends.
func New(t *testing.T) *Env {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)

	deriver, err := address.NewDeriver(testingpkg.TestProgramID(), 64)
	require.NoError(t, err)

	log := zerolog.Nop()
	env := &Env{
		DB:      db,
		Clock:   clockwork.NewFakeClockAt(Start),
		Bus:     events.NewBus(log),
		Journal: events.NewLog(db.Conn(), log),
		Metrics: metrics.New(),
		Store:   accounts.NewStore(db.Conn(), deriver, log),
		Gate:    auth.NewGate(deriver),
		Log:     log,
	}
	env.Ledger = ledger.New(ledger.Config{
		DB:      db.Conn(),
		Journal: env.Journal,
		Events:  events.NewManager(env.Bus, log),
		Metrics: env.Metrics,
		Clock:   env.Clock,
	}, log)

	env.Bus.SubscribeAll(func(e *events.Event) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.published = append(env.published, e)
	})
	return env
}

// Signer returns the deterministic signer for name.
func (e *Env) Signer(t *testing.T, name string) *auth.Signer {
	t.Helper()
	s, err := auth.NewSigner(testingpkg.NewKeyFixture(name).Private)
	require.NoError(t, err)
	return s
}

// InitRegistry creates the registry directly through the store.
func (e *Env) InitRegistry(t *testing.T, authority *auth.Signer) *accounts.Registry {
	t.Helper()
	var reg *accounts.Registry
	err := e.Ledger.Execute(context.Background(), "init_registry", func(tx *ledger.Tx) error {
		var err error
		reg, err = e.Store.CreateRegistry(tx.Context(), tx.SQL(), authority.Pubkey(), tx.Now())
		return err
	})
	require.NoError(t, err)
	return reg
}

// Published returns the events delivered on the bus so far.
func (e *Env) Published() []*events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*events.Event(nil), e.published...)
}

// Logged returns every event committed to the audit log.
func (e *Env) Logged(t *testing.T) []*events.Event {
	t.Helper()
	logged, err := e.Journal.Since(context.Background(), 0, events.MaxPageSize)
	require.NoError(t, err)
	return logged
}

// Registry loads the registry.
func (e *Env) Registry(t *testing.T) *accounts.Registry {
	t.Helper()
	reg, err := e.Store.LoadRegistry(context.Background(), nil)
	require.NoError(t, err)
	return reg
}
