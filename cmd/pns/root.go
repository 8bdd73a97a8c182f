package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pns/internal/app"
	"pns/internal/config"
	"pns/internal/notify"
)

type cli struct {
	dryRun    bool
	logFormat string
	logLevel  string
	logger    *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "pns",
		Short: "Register and manage .potato names on the Polygon name registry",
		Long: `pns registers .potato names on the name registry contract and sets the
record each name points to. Transactions are signed by a local keystore
wallet (PNS_KEYSTORE_DIR); every signature and network change is confirmed
on the terminal.

Use --dry-run to work against an in-memory wallet and ledger.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), c.logFormat, c.logLevel)
			if err != nil {
				return err
			}
			c.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&c.dryRun, "dry-run", false, "use an in-memory wallet and registry instead of the chain")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "text", "log output format: text or json")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "minimum log level: debug, info, warn or error")

	root.AddCommand(
		newServeCmd(c),
		newConnectCmd(c),
		newSwitchNetworkCmd(c),
		newMintCmd(c),
		newUpdateCmd(c),
		newListCmd(c),
		newPriceCmd(c),
	)
	return root
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q", format)
}

// startApp loads configuration, wires the app with a terminal notifier and
// adopts any already authorised account.
func (c *cli) startApp(ctx context.Context, cmd *cobra.Command, opts ...app.Option) (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	out := cmd.OutOrStdout()
	sink := notify.NewWriterSink(out, isTerminal(out))

	base := []app.Option{
		app.WithLogger(c.logger),
		app.WithNotifier(sink),
		app.WithDryRun(c.dryRun),
	}
	a, err := app.New(ctx, cfg, append(base, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		sink.Close()
		a.Close()
	}
	if err := a.Start(ctx); err != nil {
		c.logger.Warn("initial registry refresh failed", "error", err)
	}
	return a, cleanup, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
