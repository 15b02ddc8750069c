package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/modules/computation"
	"github.com/aristath/shadowtrade/internal/testing/ledgertest"
)

func newTestService(t *testing.T) (*Service, *ledgertest.Env) {
	t.Helper()
	env := ledgertest.New(t)
	env.InitRegistry(t, env.Signer(t, "authority"))
	return NewService(env.Ledger, env.Store, env.Gate, env.Log), env
}

func TestSummary_Validate(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		wantErr error
	}{
		{"typical", Summary{TotalReturn: 250, WinRate: 6000, TotalTrades: 10, WinTrades: 6}, nil},
		{"negative return", Summary{TotalReturn: -9000}, nil},
		{"perfect", Summary{WinRate: 10000, TotalTrades: 3, WinTrades: 3}, nil},
		{"win rate above 100%", Summary{WinRate: 10001}, domain.ErrInvalidWinRate},
		{"more wins than trades", Summary{TotalTrades: 5, WinTrades: 6}, domain.ErrInvalidTradeCounts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.summary.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSettle_CreatesOnFirstWrite(t *testing.T) {
	svc, env := newTestService(t)
	alice := env.Signer(t, "alice")
	ctx := context.Background()

	_, err := svc.Get(ctx, alice.Pubkey())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	st, err := svc.Settle(ctx, alice.Caller(), alice.Pubkey(), Summary{TotalReturn: 250, WinRate: 6000, TotalTrades: 10, WinTrades: 6})
	require.NoError(t, err)
	assert.Equal(t, alice.Pubkey(), st.Owner)
	assert.Equal(t, ledgertest.Start.Unix(), st.LastUpdated)

	d, err := env.Store.Deriver().Strategy(alice.Pubkey())
	require.NoError(t, err)
	assert.Equal(t, d.Address, st.Address)

	assert.Equal(t, uint64(1), env.Registry(t).SuccessfulComputations)
}

func TestSettle_IdempotentUnderRetry(t *testing.T) {
	svc, env := newTestService(t)
	alice := env.Signer(t, "alice")
	ctx := context.Background()
	summary := Summary{TotalReturn: -40, WinRate: 2500, TotalTrades: 8, WinTrades: 2}

	first, err := svc.Settle(ctx, alice.Caller(), alice.Pubkey(), summary)
	require.NoError(t, err)

	env.Clock.Advance(time.Minute)
	second, err := svc.Settle(ctx, alice.Caller(), alice.Pubkey(), summary)
	require.NoError(t, err)

	assert.Equal(t, first.TotalReturn, second.TotalReturn)
	assert.Equal(t, first.WinRate, second.WinRate)
	assert.Equal(t, first.TotalTrades, second.TotalTrades)
	assert.Equal(t, first.WinTrades, second.WinTrades)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, first.LastUpdated+60, second.LastUpdated)
}

func TestSettle_OtherOwnerIsRejected(t *testing.T) {
	svc, env := newTestService(t)
	alice := env.Signer(t, "alice")
	bob := env.Signer(t, "bob")
	ctx := context.Background()

	before, err := svc.Settle(ctx, alice.Caller(), alice.Pubkey(), Summary{TotalReturn: 100, WinRate: 5000, TotalTrades: 2, WinTrades: 1})
	require.NoError(t, err)
	eventsBefore := len(env.Logged(t))

	_, err = svc.Settle(ctx, bob.Caller(), alice.Pubkey(), Summary{TotalReturn: -100, WinRate: 0, TotalTrades: 2, WinTrades: 0})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	after, err := svc.Get(ctx, alice.Pubkey())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, env.Logged(t), eventsBefore)

	_, err = svc.Settle(ctx, auth.Caller{}, alice.Pubkey(), Summary{})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestSettle_LastWriterWins(t *testing.T) {
	svc, env := newTestService(t)
	alice := env.Signer(t, "alice")
	ctx := context.Background()

	_, err := svc.Settle(ctx, alice.Caller(), alice.Pubkey(), Summary{WinRate: 5000, TotalTrades: 4, WinTrades: 2})
	require.NoError(t, err)
	env.Clock.Advance(time.Second)
	_, err = svc.Settle(ctx, alice.Caller(), alice.Pubkey(), Summary{WinRate: 7500, TotalTrades: 4, WinTrades: 3})
	require.NoError(t, err)

	st, err := svc.Get(ctx, alice.Pubkey())
	require.NoError(t, err)
	assert.Equal(t, uint16(7500), st.WinRate)
	assert.Equal(t, uint32(3), st.WinTrades)
	assert.Equal(t, uint64(2), env.Registry(t).SuccessfulComputations)
}

func TestSettle_RangeErrorsLeaveNoTrace(t *testing.T) {
	svc, env := newTestService(t)
	alice := env.Signer(t, "alice")
	ctx := context.Background()

	_, err := svc.Settle(ctx, alice.Caller(), alice.Pubkey(), Summary{WinRate: 10001})
	assert.ErrorIs(t, err, domain.ErrInvalidWinRate)
	_, err = svc.Settle(ctx, alice.Caller(), alice.Pubkey(), Summary{TotalTrades: 1, WinTrades: 2})
	assert.ErrorIs(t, err, domain.ErrInvalidTradeCounts)

	_, err = svc.Get(ctx, alice.Pubkey())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, env.Registry(t).SuccessfulComputations)
}

func TestSettle_RequestCorrelation(t *testing.T) {
	svc, env := newTestService(t)
	alice := env.Signer(t, "alice")
	bob := env.Signer(t, "bob")
	ctx := context.Background()

	comp := computation.NewService(env.Ledger, env.Store, env.Gate,
		computation.NewInputRepository(env.DB.Conn(), env.Log), 0, env.Log)
	perf, err := comp.RequestPerformance(ctx, alice.Caller(), domain.Ciphertext("t"), domain.Ciphertext("b"))
	require.NoError(t, err)
	rsi, err := comp.RequestRSI(ctx, alice.Caller(), domain.Ciphertext("p"), computation.RSIParams{Period: 14, Oversold: 30, Overbought: 70})
	require.NoError(t, err)
	bobs, err := comp.RequestPerformance(ctx, bob.Caller(), domain.Ciphertext("t"), domain.Ciphertext("b"))
	require.NoError(t, err)

	summary := Summary{TotalReturn: 10, WinRate: 5000, TotalTrades: 2, WinTrades: 1}

	summary.RequestID = rsi.RequestID
	_, err = svc.Settle(ctx, alice.Caller(), alice.Pubkey(), summary)
	assert.ErrorIs(t, err, domain.ErrRequestMismatch)

	summary.RequestID = "unknown"
	_, err = svc.Settle(ctx, alice.Caller(), alice.Pubkey(), summary)
	assert.ErrorIs(t, err, domain.ErrRequestMismatch)

	summary.RequestID = bobs.RequestID
	_, err = svc.Settle(ctx, alice.Caller(), alice.Pubkey(), summary)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	summary.RequestID = perf.RequestID
	_, err = svc.Settle(ctx, alice.Caller(), alice.Pubkey(), summary)
	require.NoError(t, err)

	pending, err := comp.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, bobs.RequestID, pending[0].RequestID)
}

func TestEndToEnd(t *testing.T) {
	env := ledgertest.New(t)
	ctx := context.Background()
	owner := env.Signer(t, "owner")

	env.InitRegistry(t, env.Signer(t, "authority"))

	comp := computation.NewService(env.Ledger, env.Store, env.Gate,
		computation.NewInputRepository(env.DB.Conn(), env.Log), 0, env.Log)
	receipt, err := comp.RequestRSI(ctx, owner.Caller(), domain.Ciphertext("prices"), computation.RSIParams{Period: 14, Oversold: 30, Overbought: 70})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.RequestID)

	logged := env.Logged(t)
	require.Len(t, logged, 1)
	rsi := logged[0].Data.(*events.RSIRequestedData)
	assert.Equal(t, receipt.RequestID, logged[0].RequestID)
	assert.Equal(t, [3]uint8{14, 30, 70}, [3]uint8{rsi.Period, rsi.Oversold, rsi.Overbought})

	env.Clock.Advance(5 * time.Second)
	svc := NewService(env.Ledger, env.Store, env.Gate, env.Log)
	_, err = svc.Settle(ctx, owner.Caller(), owner.Pubkey(), Summary{TotalReturn: 250, WinRate: 6000, TotalTrades: 10, WinTrades: 6})
	require.NoError(t, err)

	st, err := svc.Get(ctx, owner.Pubkey())
	require.NoError(t, err)
	assert.Equal(t, int64(250), st.TotalReturn)
	assert.Equal(t, uint16(6000), st.WinRate)
	assert.Equal(t, uint32(10), st.TotalTrades)
	assert.Equal(t, uint32(6), st.WinTrades)
	assert.Equal(t, ledgertest.Start.Add(5*time.Second).Unix(), st.LastUpdated)

	reg := env.Registry(t)
	assert.Equal(t, uint64(1), reg.TotalComputations)
	assert.Equal(t, uint64(1), reg.SuccessfulComputations)

	published := env.Published()
	require.Len(t, published, 2)
	assert.Equal(t, events.StrategyPerformanceUpdated, published[1].Type)
}
