package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/shadowtrade/internal/address"
	"github.com/aristath/shadowtrade/internal/domain"
	testingpkg "github.com/aristath/shadowtrade/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)

	deriver, err := address.NewDeriver(testingpkg.TestProgramID(), 64)
	require.NoError(t, err)
	return NewStore(db.Conn(), deriver, zerolog.Nop())
}

func TestRegistry_CreateOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	authority := testingpkg.NewKeyFixture("authority").Pubkey
	now := time.Unix(1700000000, 0)

	_, err := s.LoadRegistry(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	reg, err := s.CreateRegistry(ctx, nil, authority, now)
	require.NoError(t, err)

	want, err := s.Deriver().Registry()
	require.NoError(t, err)
	assert.Equal(t, want.Address, reg.Address)
	assert.Equal(t, want.Bump, reg.Bump)

	_, err = s.CreateRegistry(ctx, nil, testingpkg.NewKeyFixture("bob").Pubkey, now.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	loaded, err := s.LoadRegistry(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, authority, loaded.Authority, "second create must not overwrite")
	assert.Equal(t, now.Unix(), loaded.CreatedAt)
}

func TestRegistry_IncrementComputations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.IncrementComputations(ctx, nil, 1, 0), domain.ErrNotFound)

	_, err := s.CreateRegistry(ctx, nil, testingpkg.NewKeyFixture("authority").Pubkey, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.IncrementComputations(ctx, nil, 1, 0))
	require.NoError(t, s.IncrementComputations(ctx, nil, 2, 1))

	reg, err := s.LoadRegistry(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reg.TotalComputations)
	assert.Equal(t, uint64(1), reg.SuccessfulComputations)
}

func TestStrategy_LoadOrCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := testingpkg.NewKeyFixture("alice").Pubkey
	now := time.Unix(1700000000, 0)

	_, err := s.LoadStrategy(ctx, nil, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	st, created, err := s.LoadOrCreateStrategy(ctx, nil, alice, now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, alice, st.Owner)
	assert.Zero(t, st.LastUpdated)

	d, err := s.Deriver().Strategy(alice)
	require.NoError(t, err)
	assert.Equal(t, d.Address, st.Address)

	again, created, err := s.LoadOrCreateStrategy(ctx, nil, alice, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, st.CreatedAt, again.CreatedAt)
}

func TestStrategy_SaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := testingpkg.NewKeyFixture("alice").Pubkey

	st, _, err := s.LoadOrCreateStrategy(ctx, nil, alice, time.Unix(1, 0))
	require.NoError(t, err)

	st.TotalReturn = -125
	st.WinRate = 5000
	st.TotalTrades = 4
	st.WinTrades = 2
	st.LastUpdated = 1700000000
	require.NoError(t, s.SaveStrategy(ctx, nil, st))

	loaded, err := s.LoadStrategy(ctx, nil, alice)
	require.NoError(t, err)
	assert.Equal(t, st, loaded)

	list, err := s.ListStrategies(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	ghost := &Strategy{Address: testingpkg.NewKeyFixture("ghost").Pubkey, Owner: alice}
	assert.ErrorIs(t, s.SaveStrategy(ctx, nil, ghost), domain.ErrNotFound)
}

func TestLoadAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := testingpkg.NewKeyFixture("alice").Pubkey

	reg, err := s.CreateRegistry(ctx, nil, alice, time.Unix(10, 0))
	require.NoError(t, err)
	st, _, err := s.LoadOrCreateStrategy(ctx, nil, alice, time.Unix(10, 0))
	require.NoError(t, err)

	acct, err := s.LoadAccount(ctx, reg.Address)
	require.NoError(t, err)
	raw, err := acct.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, "registry", AccountKind(raw))

	acct, err = s.LoadAccount(ctx, st.Address)
	require.NoError(t, err)
	raw, err = acct.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, "strategy", AccountKind(raw))

	_, err = s.LoadAccount(ctx, testingpkg.NewKeyFixture("nobody").Pubkey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBinaryLayout(t *testing.T) {
	owner := testingpkg.NewKeyFixture("alice").Pubkey

	reg := &Registry{Authority: owner, Bump: 254, TotalComputations: 3, SuccessfulComputations: 1, CreatedAt: 1700000000}
	raw, err := reg.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, raw, RegistrySize)
	assert.Equal(t, 65, RegistrySize)
	assert.Equal(t, owner[:], raw[8:40])
	assert.Equal(t, byte(254), raw[40])

	var decodedReg Registry
	require.NoError(t, decodedReg.UnmarshalBinary(raw))
	assert.Equal(t, *reg, decodedReg)

	st := &Strategy{Owner: owner, Bump: 253, TotalReturn: -250, WinRate: 6000, TotalTrades: 10, WinTrades: 6, LastUpdated: 42}
	raw, err = st.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, raw, StrategySize)
	assert.Equal(t, 67, StrategySize)

	var decodedSt Strategy
	require.NoError(t, decodedSt.UnmarshalBinary(raw))
	assert.Equal(t, *st, decodedSt)

	assert.Error(t, decodedReg.UnmarshalBinary(raw), "strategy bytes are not a registry")
	assert.Error(t, decodedSt.UnmarshalBinary(raw[:10]))
	assert.Empty(t, AccountKind([]byte{1, 2}))
}

func TestStrategyView(t *testing.T) {
	st := &Strategy{TotalReturn: 250, WinRate: 6000, LastUpdated: 1700000000}
	v := st.View()
	assert.Equal(t, "2.50", v.TotalReturnPercent)
	assert.Equal(t, "60.00", v.WinRatePercent)
	assert.Equal(t, "2023-11-14T22:13:20Z", v.LastUpdatedAt)

	assert.Equal(t, "-0.05", BasisPointsToPercent(-5))
	assert.Empty(t, (&Strategy{}).View().LastUpdatedAt)
}
