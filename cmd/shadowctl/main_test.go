package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/shadowtrade/internal/config"
	"github.com/aristath/shadowtrade/internal/di"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
	"github.com/aristath/shadowtrade/internal/modules/computation"
	"github.com/aristath/shadowtrade/internal/wallet"
)

// run executes shadowctl with args and returns its stdout.
func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	require.NoError(t, app.Run(append([]string{"shadowctl"}, args...)))
	return out.Bytes()
}

func decode(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v), string(data))
}

func TestWalletCommands(t *testing.T) {
	dir := t.TempDir()

	var created wallet.Info
	decode(t, run(t, "--wallet-dir", dir, "wallet", "new", "alice"), &created)
	assert.Equal(t, "alice", created.Name)
	assert.Equal(t, wallet.DefaultNetwork, created.Network)

	var shown wallet.Info
	decode(t, run(t, "--wallet-dir", dir, "wallet", "show", "alice"), &shown)
	assert.Equal(t, created.PublicKey, shown.PublicKey)

	exported := run(t, "--wallet-dir", dir, "wallet", "export", "--format", "base64", "alice")
	path := filepath.Join(t.TempDir(), "alice.b64")
	require.NoError(t, os.WriteFile(path, exported, 0600))

	var imported wallet.Info
	decode(t, run(t, "--wallet-dir", dir, "wallet", "import", "--format", "base64", "--name", "copy", path), &imported)
	assert.Equal(t, "copy", imported.Name)
	assert.Equal(t, created.PublicKey, imported.PublicKey)

	var listed []wallet.Info
	decode(t, run(t, "--wallet-dir", dir, "wallet", "list"), &listed)
	require.Len(t, listed, 2)
	assert.Equal(t, "alice", listed[0].Name)
	assert.Equal(t, "copy", listed[1].Name)
}

func TestWalletShow_MissingArgument(t *testing.T) {
	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	err := app.Run([]string{"shadowctl", "--wallet-dir", t.TempDir(), "wallet", "show"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing <name>")
}

func TestAddressCommand(t *testing.T) {
	dir := t.TempDir()
	run(t, "--wallet-dir", dir, "wallet", "new", "alice")

	var out struct {
		Registry struct {
			Address string `json:"address"`
		} `json:"registry"`
		Strategy struct {
			Address string `json:"address"`
		} `json:"strategy"`
	}
	decode(t, run(t, "--wallet-dir", dir, "-w", "alice", "address"), &out)
	assert.NotEmpty(t, out.Registry.Address)
	assert.NotEmpty(t, out.Strategy.Address)
	assert.NotEqual(t, out.Registry.Address, out.Strategy.Address)
}

func TestLedgerCommands(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.WalletDir = filepath.Join(cfg.DataDir, "server-wallets")

	container, _, err := di.Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	srv := httptest.NewServer(container.Server.Router())
	t.Cleanup(func() {
		_ = container.Server.Shutdown(context.Background())
		srv.Close()
	})

	dir := t.TempDir()
	run(t, "--wallet-dir", dir, "wallet", "new", "alice")
	base := []string{"--server", srv.URL, "--wallet-dir", dir, "-w", "alice"}
	cmd := func(args ...string) []byte {
		return run(t, append(append([]string{}, base...), args...)...)
	}

	var reg accounts.Registry
	decode(t, cmd("registry", "init"), &reg)
	assert.Equal(t, uint64(0), reg.TotalComputations)

	var receipt computation.Receipt
	decode(t, cmd("request", "rsi", "--prices", "b64:AQIDBA=="), &receipt)
	assert.Equal(t, computation.KindRSI, receipt.Kind)
	assert.NotEmpty(t, receipt.RequestID)

	var view accounts.StrategyView
	decode(t, cmd("settle", "--total-return", "250", "--win-rate", "6000", "--total-trades", "10", "--win-trades", "6"), &view)
	assert.Equal(t, "2.50", view.TotalReturnPercent)
	assert.Equal(t, "60.00", view.WinRatePercent)

	var fetched accounts.StrategyView
	decode(t, cmd("strategy"), &fetched)
	assert.Equal(t, view.Address, fetched.Address)

	dec := json.NewDecoder(bytes.NewReader(cmd("events", "--limit", "10")))
	var types []events.EventType
	for dec.More() {
		var e events.Event
		require.NoError(t, dec.Decode(&e))
		types = append(types, e.Type)
	}
	assert.Equal(t, []events.EventType{
		events.RegistryInitialized,
		events.RSIComputationRequested,
		events.StrategyPerformanceUpdated,
	}, types)
}
