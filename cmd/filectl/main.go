package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/nexus-storage-gateway/api/clients"
	"github.com/ruteri/nexus-storage-gateway/cmd/flags"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"github.com/urfave/cli/v2"
)

var flagQuery = &cli.StringFlag{
	Name:    "query",
	Aliases: []string{"q"},
	Usage:   "case-insensitive substring of the name or CID",
}

var flagOutput = &cli.StringFlag{
	Name:    "output",
	Aliases: []string{"o"},
	Usage:   "write content to this file instead of stdout",
}

var flagProvider = &cli.StringFlag{
	Name:  "provider",
	Usage: "remote provider name (remote mode only)",
}

var flagWatch = &cli.DurationFlag{
	Name:  "watch",
	Usage: "poll at this interval instead of printing once, e.g. 5s",
}

func client(cCtx *cli.Context) *clients.GatewayClient {
	return clients.NewGatewayClient(cCtx.String(flags.GatewayAddrFlag.Name))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArgs(cCtx *cli.Context, n int, usage string) error {
	if cCtx.NArg() < n {
		return fmt.Errorf("usage: %s %s", cCtx.Command.Name, usage)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "filectl",
		Usage: "manage files on a nexus storage gateway",
		Flags: []cli.Flag{flags.GatewayAddrFlag},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "upload one or more files",
				ArgsUsage: "FILE...",
				Action: func(cCtx *cli.Context) error {
					if err := requireArgs(cCtx, 1, "FILE..."); err != nil {
						return err
					}
					files := make([]clients.UploadFile, 0, cCtx.NArg())
					for _, path := range cCtx.Args().Slice() {
						data, err := os.ReadFile(path)
						if err != nil {
							return err
						}
						files = append(files, clients.UploadFile{
							Name:     filepath.Base(path),
							MimeType: mime.TypeByExtension(filepath.Ext(path)),
							Data:     data,
						})
					}

					resp, err := client(cCtx).Upload(cCtx.Context, files...)
					if err != nil {
						return err
					}
					if err := printJSON(resp); err != nil {
						return err
					}
					if resp.Failed > 0 {
						return cli.Exit(fmt.Sprintf("%d of %d files failed", resp.Failed, len(resp.Results)), 1)
					}
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "list or search the catalogue",
				Flags: []cli.Flag{flagQuery},
				Action: func(cCtx *cli.Context) error {
					resp, err := client(cCtx).ListFiles(cCtx.Context, cCtx.String(flagQuery.Name))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:      "get",
				Usage:     "show a record by id",
				ArgsUsage: "ID",
				Action: func(cCtx *cli.Context) error {
					if err := requireArgs(cCtx, 1, "ID"); err != nil {
						return err
					}
					rec, err := client(cCtx).GetFile(cCtx.Context, cCtx.Args().First())
					if err != nil {
						return err
					}
					return printJSON(rec)
				},
			},
			{
				Name:      "find",
				Usage:     "show the record registered for a CID",
				ArgsUsage: "CID",
				Action: func(cCtx *cli.Context) error {
					if err := requireArgs(cCtx, 1, "CID"); err != nil {
						return err
					}
					rec, err := client(cCtx).GetByCID(cCtx.Context, interfaces.CID(cCtx.Args().First()))
					if err != nil {
						return err
					}
					return printJSON(rec)
				},
			},
			{
				Name:      "rm",
				Usage:     "remove a record from the catalogue",
				ArgsUsage: "ID",
				Action: func(cCtx *cli.Context) error {
					if err := requireArgs(cCtx, 1, "ID"); err != nil {
						return err
					}
					return client(cCtx).DeleteFile(cCtx.Context, cCtx.Args().First())
				},
			},
			{
				Name:  "clear",
				Usage: "remove every record from the catalogue",
				Action: func(cCtx *cli.Context) error {
					return client(cCtx).ClearFiles(cCtx.Context)
				},
			},
			{
				Name:      "pin",
				Usage:     "toggle the pin of a record",
				ArgsUsage: "ID",
				Action: func(cCtx *cli.Context) error {
					if err := requireArgs(cCtx, 1, "ID"); err != nil {
						return err
					}
					resp, err := client(cCtx).TogglePin(cCtx.Context, cCtx.Args().First())
					if err != nil {
						return err
					}
					if !resp.Record.Pinned && !resp.BackendUnpinned {
						fmt.Fprintln(os.Stderr, "note: the active backend keeps its pin, only the catalogue flag was cleared")
					}
					return printJSON(resp)
				},
			},
			{
				Name:      "select",
				Usage:     "select a record, or show the selection without an argument",
				ArgsUsage: "[ID]",
				Flags: []cli.Flag{&cli.BoolFlag{
					Name:  "clear",
					Usage: "clear the selection",
				}},
				Action: func(cCtx *cli.Context) error {
					c := client(cCtx)
					if cCtx.Bool("clear") {
						return c.ClearSelection(cCtx.Context)
					}
					if cCtx.NArg() == 0 {
						rec, err := c.Selection(cCtx.Context)
						if err != nil {
							return err
						}
						return printJSON(rec)
					}
					rec, err := c.Select(cCtx.Context, cCtx.Args().First())
					if err != nil {
						return err
					}
					return printJSON(rec)
				},
			},
			{
				Name:      "download",
				Usage:     "fetch content by CID",
				ArgsUsage: "CID",
				Flags:     []cli.Flag{flagOutput},
				Action: func(cCtx *cli.Context) error {
					if err := requireArgs(cCtx, 1, "CID"); err != nil {
						return err
					}
					data, err := client(cCtx).Download(cCtx.Context, interfaces.CID(cCtx.Args().First()))
					if err != nil {
						return err
					}
					if out := cCtx.String(flagOutput.Name); out != "" {
						return os.WriteFile(out, data, 0o644)
					}
					_, err = os.Stdout.Write(data)
					return err
				},
			},
			{
				Name:  "node",
				Usage: "show node info and gateway status",
				Flags: []cli.Flag{flagWatch},
				Action: func(cCtx *cli.Context) error {
					c := client(cCtx)
					interval := cCtx.Duration(flagWatch.Name)
					for {
						resp, err := c.Node(cCtx.Context)
						if err != nil {
							return err
						}
						if err := printJSON(resp); err != nil {
							return err
						}
						if interval <= 0 {
							return nil
						}
						select {
						case <-cCtx.Context.Done():
							return nil
						case <-time.After(interval):
						}
					}
				},
			},
			{
				Name:  "stats",
				Usage: "show catalogue statistics",
				Action: func(cCtx *cli.Context) error {
					resp, err := client(cCtx).Stats(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "providers",
				Usage: "list remote API providers",
				Action: func(cCtx *cli.Context) error {
					resp, err := client(cCtx).Providers(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:      "mode",
				Usage:     "switch the gateway between the embedded node and a remote API",
				ArgsUsage: "embedded|remote",
				Flags:     []cli.Flag{flagProvider},
				Action: func(cCtx *cli.Context) error {
					if err := requireArgs(cCtx, 1, "embedded|remote"); err != nil {
						return err
					}
					mode, err := interfaces.ParseMode(cCtx.Args().First())
					if err != nil {
						return err
					}
					status, err := client(cCtx).SwitchMode(cCtx.Context, mode, cCtx.String(flagProvider.Name))
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "retry",
				Usage: "rerun backend startup after the gateway became unavailable",
				Action: func(cCtx *cli.Context) error {
					status, err := client(cCtx).Retry(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:      "dnslink",
				Usage:     "resolve the DNSLink record of a domain",
				ArgsUsage: "DOMAIN",
				Action: func(cCtx *cli.Context) error {
					if err := requireArgs(cCtx, 1, "DOMAIN"); err != nil {
						return err
					}
					resp, err := client(cCtx).ResolveDNSLink(cCtx.Context, cCtx.Args().First())
					if err != nil {
						if clients.IsNotFound(err) {
							return errors.New("no dnslink record found")
						}
						return err
					}
					return printJSON(resp)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
