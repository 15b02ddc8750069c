// Command shadowctl manages local wallets and drives a shadowtrade server:
// registry setup, encrypted computation requests, settlements and the audit
// event stream.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	cli "github.com/urfave/cli/v2"

	"github.com/aristath/shadowtrade/internal/client"
	"github.com/aristath/shadowtrade/internal/config"
	"github.com/aristath/shadowtrade/internal/wallet"
	"github.com/aristath/shadowtrade/pkg/logger"
)

// Set through -ldflags
var (
	version   = "dev"
	gitCommit = "none"
)

var (
	serverFlag = &cli.StringFlag{
		Name:    "server",
		Usage:   "Base URL of the shadowtrade server",
		Value:   "http://localhost:8080",
		EnvVars: []string{"SHADOWTRADE_URL"},
	}
	walletFlag = &cli.StringFlag{
		Name:    "wallet",
		Aliases: []string{"w"},
		Usage:   "Name of the wallet that signs requests",
		EnvVars: []string{"SHADOWTRADE_WALLET"},
	}
	walletDirFlag = &cli.StringFlag{
		Name:    "wallet-dir",
		Usage:   "Directory holding wallet files",
		Value:   "./data/wallets",
		EnvVars: []string{"WALLET_DIR"},
	}
	programFlag = &cli.StringFlag{
		Name:    "program-id",
		Usage:   "Program id used for address derivation (base58)",
		Value:   config.DefaultProgramID().String(),
		EnvVars: []string{"PROGRAM_ID"},
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Log debug output to stderr",
	}
)

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("shadowctl %v (commit %v)\n", version, gitCommit)
	}

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "shadowctl",
		Version: version,
		Usage:   "command line client for the shadowtrade ledger",
		Flags:   []cli.Flag{serverFlag, walletFlag, walletDirFlag, programFlag, verboseFlag},
		Commands: []*cli.Command{
			walletCmd,
			addressCmd,
			registryCmd,
			requestCmd,
			pendingCmd,
			settleCmd,
			strategyCmd,
			eventsCmd,
		},
	}
}

func newLogger(cctx *cli.Context) zerolog.Logger {
	level := "warn"
	if cctx.Bool(verboseFlag.Name) {
		level = "debug"
	}
	return logger.New(logger.Config{Level: level, Pretty: true, Output: os.Stderr})
}

func openWallets(cctx *cli.Context) *wallet.Store {
	return wallet.NewStore(cctx.String(walletDirFlag.Name), clockwork.NewRealClock(), newLogger(cctx))
}

// newClient builds an API client. Commands that only read pass signed=false
// and may run without a wallet.
func newClient(cctx *cli.Context, signed bool) (*client.Client, error) {
	name := cctx.String(walletFlag.Name)
	if name == "" {
		if signed {
			return nil, fmt.Errorf("--%s is required for this command", walletFlag.Name)
		}
		return client.New(cctx.String(serverFlag.Name), nil), nil
	}

	w, err := openWallets(cctx).Load(name)
	if err != nil {
		return nil, err
	}
	return client.New(cctx.String(serverFlag.Name), w.Signer), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
