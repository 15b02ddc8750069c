package computation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/testing/ledgertest"
)

const maxInput = 1024

func newTestService(t *testing.T) (*Service, *ledgertest.Env) {
	t.Helper()
	env := ledgertest.New(t)
	inputs := NewInputRepository(env.DB.Conn(), env.Log)
	return NewService(env.Ledger, env.Store, env.Gate, inputs, maxInput, env.Log), env
}

func TestParams_Validate(t *testing.T) {
	rsi := []struct {
		name   string
		params RSIParams
		ok     bool
	}{
		{"standard", RSIParams{14, 30, 70}, true},
		{"bounds", RSIParams{1, 0, 100}, true},
		{"zero period", RSIParams{0, 30, 70}, false},
		{"inverted", RSIParams{14, 70, 30}, false},
		{"equal", RSIParams{14, 50, 50}, false},
		{"overbought above 100", RSIParams{14, 30, 101}, false},
	}
	for _, tt := range rsi {
		t.Run("rsi "+tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidRSIParameters)
			}
		})
	}

	position := []struct {
		name    string
		params  PositionSizeParams
		wantErr error
	}{
		{"half risk", PositionSizeParams{50, 100}, nil},
		{"zero risk", PositionSizeParams{0, 1}, nil},
		{"full risk", PositionSizeParams{100, 1}, nil},
		{"risk 101", PositionSizeParams{101, 100}, domain.ErrInvalidRiskPercentage},
		{"zero price", PositionSizeParams{0, 0}, domain.ErrInvalidCurrentPrice},
	}
	for _, tt := range position {
		t.Run("position "+tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, domain.KindValidation, domain.KindOf(err))
			}
		})
	}
}

func TestRequestRSI(t *testing.T) {
	svc, env := newTestService(t)
	env.InitRegistry(t, env.Signer(t, "authority"))
	alice := env.Signer(t, "alice")
	prices := domain.Ciphertext("encrypted-price-series")

	receipt, err := svc.RequestRSI(context.Background(), alice.Caller(), prices, RSIParams{14, 30, 70})
	require.NoError(t, err)

	_, err = uuid.Parse(receipt.RequestID)
	assert.NoError(t, err)
	assert.Equal(t, KindRSI, receipt.Kind)
	assert.Equal(t, alice.Pubkey(), receipt.Requester)
	assert.Equal(t, []domain.BlobRef{prices.Ref(SlotPrices)}, receipt.Inputs)
	assert.Equal(t, ledgertest.Start.Unix(), receipt.RequestedAt)

	logged := env.Logged(t)
	require.Len(t, logged, 1)
	assert.Equal(t, receipt.Sequence, logged[0].Sequence)
	assert.Equal(t, receipt.RequestID, logged[0].RequestID)
	data := logged[0].Data.(*events.RSIRequestedData)
	assert.Equal(t, uint8(14), data.Period)
	assert.Equal(t, uint8(30), data.Oversold)
	assert.Equal(t, uint8(70), data.Overbought)

	stored, ref, err := svc.Input(context.Background(), receipt.RequestID, SlotPrices)
	require.NoError(t, err)
	assert.Equal(t, prices, stored)
	assert.Equal(t, receipt.Inputs[0], ref)

	assert.Equal(t, uint64(1), env.Registry(t).TotalComputations)
}

func TestRequestPositionSize_Ranges(t *testing.T) {
	svc, env := newTestService(t)
	env.InitRegistry(t, env.Signer(t, "authority"))
	alice := env.Signer(t, "alice")
	balance := domain.Ciphertext("encrypted-balance")
	ctx := context.Background()

	_, err := svc.RequestPositionSize(ctx, alice.Caller(), balance, PositionSizeParams{RiskPercentage: 101, CurrentPrice: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidRiskPercentage)

	_, err = svc.RequestPositionSize(ctx, alice.Caller(), balance, PositionSizeParams{RiskPercentage: 0, CurrentPrice: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrentPrice)

	assert.Empty(t, env.Logged(t), "rejected requests leave no event")
	assert.Zero(t, env.Registry(t).TotalComputations)

	receipt, err := svc.RequestPositionSize(ctx, alice.Caller(), balance, PositionSizeParams{RiskPercentage: 50, CurrentPrice: 100})
	require.NoError(t, err)
	assert.Equal(t, PositionSizeParams{50, 100}, receipt.Params)
	assert.Len(t, env.Logged(t), 1)
}

func TestRequestPerformance(t *testing.T) {
	svc, env := newTestService(t)
	env.InitRegistry(t, env.Signer(t, "authority"))
	alice := env.Signer(t, "alice")
	ctx := context.Background()

	receipt, err := svc.RequestPerformance(ctx, alice.Caller(), domain.Ciphertext("trades"), domain.Ciphertext("balance"))
	require.NoError(t, err)
	require.Len(t, receipt.Inputs, 2)
	assert.Equal(t, SlotTrades, receipt.Inputs[0].Slot)
	assert.Equal(t, SlotInitialBalance, receipt.Inputs[1].Slot)

	pending, err := svc.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, receipt.RequestID, pending[0].RequestID)

	found, err := svc.Request(ctx, receipt.RequestID)
	require.NoError(t, err)
	assert.Equal(t, receipt.Inputs, found.Inputs)
	assert.Equal(t, KindPerformance, found.Kind)

	_, err = svc.Request(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequest_Preconditions(t *testing.T) {
	svc, env := newTestService(t)
	alice := env.Signer(t, "alice")
	ctx := context.Background()
	prices := domain.Ciphertext("x")

	_, err := svc.RequestRSI(ctx, alice.Caller(), prices, RSIParams{14, 30, 70})
	assert.ErrorIs(t, err, domain.ErrNotFound, "registry must be initialized")

	env.InitRegistry(t, env.Signer(t, "authority"))

	_, err = svc.RequestRSI(ctx, auth.Caller{}, prices, RSIParams{14, 30, 70})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.RequestRSI(ctx, alice.Caller(), nil, RSIParams{14, 30, 70})
	assert.ErrorIs(t, err, domain.ErrInvalidEncryptedInput)

	_, err = svc.RequestRSI(ctx, alice.Caller(), make(domain.Ciphertext, maxInput+1), RSIParams{14, 30, 70})
	assert.ErrorIs(t, err, domain.ErrInvalidEncryptedInput)

	_, err = svc.RequestPerformance(ctx, alice.Caller(), prices, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidEncryptedInput)

	assert.Empty(t, env.Logged(t))
	assert.Empty(t, env.Published())

	var n int
	require.NoError(t, env.DB.Conn().QueryRow(`SELECT COUNT(*) FROM encrypted_inputs`).Scan(&n))
	assert.Zero(t, n)
}

func TestRequest_NeverExposesCiphertext(t *testing.T) {
	svc, env := newTestService(t)
	env.InitRegistry(t, env.Signer(t, "authority"))
	alice := env.Signer(t, "alice")
	ctx := context.Background()

	secret := domain.Ciphertext("SECRET-CIPHERTEXT-MARKER-0123456789")
	encoded := base64.StdEncoding.EncodeToString(secret)

	var outputs [][]byte
	r1, err := svc.RequestRSI(ctx, alice.Caller(), secret, RSIParams{14, 30, 70})
	require.NoError(t, err)
	r2, err := svc.RequestPositionSize(ctx, alice.Caller(), secret, PositionSizeParams{10, 5})
	require.NoError(t, err)
	r3, err := svc.RequestPerformance(ctx, alice.Caller(), secret, secret)
	require.NoError(t, err)

	for _, r := range []*Receipt{r1, r2, r3} {
		b, err := json.Marshal(r)
		require.NoError(t, err)
		outputs = append(outputs, b)
	}
	for _, e := range env.Published() {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		outputs = append(outputs, b)
	}

	var payloads [][]byte
	rows, err := env.DB.Conn().Query(`SELECT payload FROM audit_events`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var p []byte
		require.NoError(t, rows.Scan(&p))
		payloads = append(payloads, p)
	}
	outputs = append(outputs, payloads...)

	require.Len(t, outputs, 6+3)
	for _, out := range outputs {
		assert.False(t, bytes.Contains(out, secret))
		assert.False(t, bytes.Contains(out, []byte(encoded)))
	}
}

func TestRequest_CountsEveryRequest(t *testing.T) {
	svc, env := newTestService(t)
	env.InitRegistry(t, env.Signer(t, "authority"))
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := svc.RequestPerformance(ctx, env.Signer(t, name).Caller(), domain.Ciphertext("t"), domain.Ciphertext("b"))
		require.NoError(t, err)
	}

	reg := env.Registry(t)
	assert.Equal(t, uint64(3), reg.TotalComputations)
	assert.Zero(t, reg.SuccessfulComputations)
}
