package main

import (
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"

	"github.com/aristath/shadowtrade/internal/wallet"
)

var formatFlag = &cli.StringFlag{
	Name:  "format",
	Usage: "Export format: json or base64",
	Value: wallet.FormatJSON,
}

var walletCmd = &cli.Command{
	Name:  "wallet",
	Usage: "manage local signing wallets",
	Subcommands: []*cli.Command{
		{
			Name:      "new",
			Usage:     "generate a new wallet",
			ArgsUsage: "[name]",
			Action: func(cctx *cli.Context) error {
				w, err := openWallets(cctx).Generate(cctx.Args().First())
				if err != nil {
					return err
				}
				return printJSON(cctx.App.Writer, w.Info())
			},
		},
		{
			Name:  "list",
			Usage: "list wallets",
			Action: func(cctx *cli.Context) error {
				wallets, err := openWallets(cctx).List()
				if err != nil {
					return err
				}
				infos := make([]wallet.Info, 0, len(wallets))
				for _, w := range wallets {
					infos = append(infos, w.Info())
				}
				return printJSON(cctx.App.Writer, infos)
			},
		},
		{
			Name:      "show",
			Usage:     "print a wallet's public details",
			ArgsUsage: "<name>",
			Action: func(cctx *cli.Context) error {
				name, err := requireArg(cctx, "name")
				if err != nil {
					return err
				}
				w, err := openWallets(cctx).Load(name)
				if err != nil {
					return err
				}
				return printJSON(cctx.App.Writer, w.Info())
			},
		},
		{
			Name:      "export",
			Usage:     "print a wallet including its secret key",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{formatFlag},
			Action: func(cctx *cli.Context) error {
				name, err := requireArg(cctx, "name")
				if err != nil {
					return err
				}
				data, err := openWallets(cctx).Export(name, cctx.String(formatFlag.Name))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cctx.App.Writer, string(data))
				return err
			},
		},
		{
			Name:      "import",
			Usage:     "import a wallet from an exported file",
			ArgsUsage: "<file>",
			Flags: []cli.Flag{
				formatFlag,
				&cli.StringFlag{Name: "name", Usage: "Store the wallet under this name"},
			},
			Action: func(cctx *cli.Context) error {
				path, err := requireArg(cctx, "file")
				if err != nil {
					return err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				w, err := openWallets(cctx).Import(data, cctx.String("name"), cctx.String(formatFlag.Name))
				if err != nil {
					return err
				}
				return printJSON(cctx.App.Writer, w.Info())
			},
		},
	},
}

func requireArg(cctx *cli.Context, name string) (string, error) {
	arg := cctx.Args().First()
	if arg == "" {
		return "", fmt.Errorf("missing <%s> argument", name)
	}
	return arg, nil
}
