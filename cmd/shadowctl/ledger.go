package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/aristath/shadowtrade/internal/address"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/modules/computation"
	"github.com/aristath/shadowtrade/internal/modules/settlement"
)

var ownerFlag = &cli.StringFlag{
	Name:  "owner",
	Usage: "Strategy owner public key (base58); defaults to the signing wallet",
}

var addressCmd = &cli.Command{
	Name:  "address",
	Usage: "derive the registry address and a strategy address locally",
	Flags: []cli.Flag{ownerFlag},
	Action: func(cctx *cli.Context) error {
		programID, err := domain.ParsePubkey(cctx.String(programFlag.Name))
		if err != nil {
			return fmt.Errorf("invalid program id: %w", err)
		}
		deriver, err := address.NewDeriver(programID, 4)
		if err != nil {
			return err
		}

		out := map[string]interface{}{"program_id": programID}
		reg, err := deriver.Registry()
		if err != nil {
			return err
		}
		out["registry"] = reg

		owner, ok, err := resolveOwner(cctx)
		if err != nil {
			return err
		}
		if ok {
			strat, err := deriver.Strategy(owner)
			if err != nil {
				return err
			}
			out["owner"] = owner
			out["strategy"] = strat
		}
		return printJSON(cctx.App.Writer, out)
	},
}

var registryCmd = &cli.Command{
	Name:  "registry",
	Usage: "create or inspect the strategy registry",
	Subcommands: []*cli.Command{
		{
			Name:  "init",
			Usage: "create the registry with the signing wallet as authority",
			Action: func(cctx *cli.Context) error {
				c, err := newClient(cctx, true)
				if err != nil {
					return err
				}
				reg, err := c.InitRegistry(cctx.Context)
				if err != nil {
					return err
				}
				return printJSON(cctx.App.Writer, reg)
			},
		},
		{
			Name:  "show",
			Usage: "print the registry",
			Action: func(cctx *cli.Context) error {
				c, err := newClient(cctx, false)
				if err != nil {
					return err
				}
				reg, err := c.Registry(cctx.Context)
				if err != nil {
					return err
				}
				return printJSON(cctx.App.Writer, reg)
			},
		},
	},
}

var requestCmd = &cli.Command{
	Name:  "request",
	Usage: "submit an encrypted computation request",
	Subcommands: []*cli.Command{
		{
			Name:  "rsi",
			Usage: "request an RSI signal over encrypted prices",
			Flags: []cli.Flag{
				ciphertextFlag("prices"),
				&cli.UintFlag{Name: "period", Value: 14},
				&cli.UintFlag{Name: "oversold", Value: 30},
				&cli.UintFlag{Name: "overbought", Value: 70},
			},
			Action: func(cctx *cli.Context) error {
				prices, err := readCiphertext(cctx, "prices")
				if err != nil {
					return err
				}
				params := computation.RSIParams{
					Period:     uint8(cctx.Uint("period")),
					Oversold:   uint8(cctx.Uint("oversold")),
					Overbought: uint8(cctx.Uint("overbought")),
				}
				c, err := newClient(cctx, true)
				if err != nil {
					return err
				}
				receipt, err := c.RequestRSI(cctx.Context, prices, params)
				if err != nil {
					return err
				}
				return printJSON(cctx.App.Writer, receipt)
			},
		},
		{
			Name:  "position",
			Usage: "request a position size over an encrypted balance",
			Flags: []cli.Flag{
				ciphertextFlag("balance"),
				&cli.UintFlag{Name: "risk", Usage: "Risk percentage (0-100)", Required: true},
				&cli.Uint64Flag{Name: "price", Usage: "Current price", Required: true},
			},
			Action: func(cctx *cli.Context) error {
				balance, err := readCiphertext(cctx, "balance")
				if err != nil {
					return err
				}
				params := computation.PositionSizeParams{
					RiskPercentage: uint8(cctx.Uint("risk")),
					CurrentPrice:   cctx.Uint64("price"),
				}
				c, err := newClient(cctx, true)
				if err != nil {
					return err
				}
				receipt, err := c.RequestPositionSize(cctx.Context, balance, params)
				if err != nil {
					return err
				}
				return printJSON(cctx.App.Writer, receipt)
			},
		},
		{
			Name:  "performance",
			Usage: "request a performance summary over encrypted trades",
			Flags: []cli.Flag{ciphertextFlag("trades"), ciphertextFlag("initial-balance")},
			Action: func(cctx *cli.Context) error {
				trades, err := readCiphertext(cctx, "trades")
				if err != nil {
					return err
				}
				initial, err := readCiphertext(cctx, "initial-balance")
				if err != nil {
					return err
				}
				c, err := newClient(cctx, true)
				if err != nil {
					return err
				}
				receipt, err := c.RequestPerformance(cctx.Context, trades, initial)
				if err != nil {
					return err
				}
				return printJSON(cctx.App.Writer, receipt)
			},
		},
	},
}

var pendingCmd = &cli.Command{
	Name:  "pending",
	Usage: "list performance requests that have not been settled",
	Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 100}},
	Action: func(cctx *cli.Context) error {
		c, err := newClient(cctx, false)
		if err != nil {
			return err
		}
		pending, err := c.Pending(cctx.Context, cctx.Int("limit"))
		if err != nil {
			return err
		}
		return printJSON(cctx.App.Writer, pending)
	},
}

var settleCmd = &cli.Command{
	Name:  "settle",
	Usage: "commit a performance summary to a strategy account",
	Flags: []cli.Flag{
		ownerFlag,
		&cli.Int64Flag{Name: "total-return", Usage: "Total return in basis points", Required: true},
		&cli.UintFlag{Name: "win-rate", Usage: "Win rate in basis points (0-10000)", Required: true},
		&cli.UintFlag{Name: "total-trades", Required: true},
		&cli.UintFlag{Name: "win-trades", Required: true},
		&cli.StringFlag{Name: "request-id", Usage: "Performance request this summary answers"},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.Uint("win-rate") > 10000 {
			return fmt.Errorf("win rate %d exceeds 10000 basis points", cctx.Uint("win-rate"))
		}
		summary := settlement.Summary{
			TotalReturn: cctx.Int64("total-return"),
			WinRate:     uint16(cctx.Uint("win-rate")),
			TotalTrades: uint32(cctx.Uint("total-trades")),
			WinTrades:   uint32(cctx.Uint("win-trades")),
			RequestID:   cctx.String("request-id"),
		}

		var owner *domain.Pubkey
		if s := cctx.String(ownerFlag.Name); s != "" {
			pk, err := domain.ParsePubkey(s)
			if err != nil {
				return fmt.Errorf("invalid owner: %w", err)
			}
			owner = &pk
		}

		c, err := newClient(cctx, true)
		if err != nil {
			return err
		}
		view, err := c.Settle(cctx.Context, owner, summary)
		if err != nil {
			return err
		}
		return printJSON(cctx.App.Writer, view)
	},
}

var strategyCmd = &cli.Command{
	Name:  "strategy",
	Usage: "print a strategy account",
	Flags: []cli.Flag{ownerFlag},
	Action: func(cctx *cli.Context) error {
		owner, ok, err := resolveOwner(cctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("--%s or --%s is required", ownerFlag.Name, walletFlag.Name)
		}
		c, err := newClient(cctx, false)
		if err != nil {
			return err
		}
		view, err := c.Strategy(cctx.Context, owner)
		if err != nil {
			return err
		}
		return printJSON(cctx.App.Writer, view)
	},
}

var eventsCmd = &cli.Command{
	Name:  "events",
	Usage: "read the audit event log",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "after", Usage: "Only events with a greater sequence"},
		&cli.IntFlag{Name: "limit", Value: events.MaxPageSize},
		&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "Keep polling for new events"},
		&cli.DurationFlag{Name: "interval", Value: 2 * time.Second, Usage: "Polling interval with --follow"},
	},
	Action: func(cctx *cli.Context) error {
		c, err := newClient(cctx, false)
		if err != nil {
			return err
		}
		after := cctx.Int64("after")
		limit := cctx.Int("limit")

		for {
			page, err := c.Events(cctx.Context, after, limit)
			if err != nil {
				return err
			}
			for _, e := range page.Events {
				if err := printJSON(cctx.App.Writer, e); err != nil {
					return err
				}
			}
			after = page.Next

			if !cctx.Bool("follow") {
				return nil
			}
			if len(page.Events) == limit {
				continue
			}
			select {
			case <-cctx.Context.Done():
				return nil
			case <-time.After(cctx.Duration("interval")):
			}
		}
	},
}

func ciphertextFlag(name string) cli.Flag {
	return &cli.StringFlag{
		Name:     name,
		Usage:    "Encrypted " + strings.ReplaceAll(name, "-", " ") + ": a file path, or base64 prefixed with 'b64:'",
		Required: true,
	}
}

// readCiphertext loads the value of a ciphertext flag. Values starting with
// "b64:" are decoded inline, anything else is read as a file.
func readCiphertext(cctx *cli.Context, name string) (domain.Ciphertext, error) {
	v := cctx.String(name)
	if encoded, ok := strings.CutPrefix(v, "b64:"); ok {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 for --%s: %w", name, err)
		}
		return domain.Ciphertext(data), nil
	}
	data, err := os.ReadFile(v)
	if err != nil {
		return nil, fmt.Errorf("failed to read --%s: %w", name, err)
	}
	return domain.Ciphertext(data), nil
}

// resolveOwner returns --owner, else the signing wallet's key.
func resolveOwner(cctx *cli.Context) (domain.Pubkey, bool, error) {
	if s := cctx.String(ownerFlag.Name); s != "" {
		pk, err := domain.ParsePubkey(s)
		if err != nil {
			return domain.Pubkey{}, false, fmt.Errorf("invalid owner: %w", err)
		}
		return pk, true, nil
	}
	name := cctx.String(walletFlag.Name)
	if name == "" {
		return domain.Pubkey{}, false, nil
	}
	w, err := openWallets(cctx).Load(name)
	if err != nil {
		return domain.Pubkey{}, false, err
	}
	return w.Pubkey(), true, nil
}
