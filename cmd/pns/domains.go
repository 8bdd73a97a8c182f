package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"pns/internal/app"
	"pns/internal/config"
	"pns/internal/orchestrator"
)

func newMintCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mint <domain> [record]",
		Short: "Register a .potato name and set its record",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			record := ""
			if len(args) == 2 {
				record = args[1]
			}
			a, cleanup, err := c.startApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := a.Connect(cmd.Context()); err != nil {
				return err
			}
			res, err := a.Mint(cmd.Context(), args[0], record)
			printResult(cmd, res)
			return err
		},
	}
}

func newUpdateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "update <domain> <record>",
		Short: "Replace the record of a name you own",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := c.startApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := a.Connect(cmd.Context()); err != nil {
				return err
			}
			a.Orchestrator().BeginEdit(args[0])
			res, err := a.Update(cmd.Context(), args[0], args[1])
			if err != nil {
				a.Orchestrator().CancelEdit()
			}
			printResult(cmd, res)
			return err
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Refresh and show every registered name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := c.startApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if connect {
				if _, err := a.Connect(cmd.Context()); err != nil {
					return err
				}
			}
			if err := a.Refresh(cmd.Context()); err != nil {
				c.logger.Warn("showing last known names", "error", err)
			}

			v := a.View()
			out := cmd.OutOrStdout()
			au := aurora.NewAurora(isTerminal(out))
			if v.Stale {
				fmt.Fprintln(out, au.Yellow("Listing may be out of date: wallet is not on the registry network.").String())
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tNAME\tRECORD\tOWNER\t")
			for _, e := range v.Entries {
				name := e.Display
				if e.Editable {
					name = au.Green(name + " *").String()
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", e.Index, name, e.Record, e.Owner)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "connect the wallet first so owned names are marked")
	return cmd
}

func newPriceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "price <domain>",
		Short: "Show the registration price of a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			price, wei, err := app.Quote(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s.potato: %s %s (%s wei)\n", args[0], price, cfg.Network.NativeCurrency.Symbol, wei)
			return nil
		},
	}
}

func printResult(cmd *cobra.Command, res orchestrator.Result) {
	if res.Outcome == orchestrator.OutcomeNoop {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s: %s\n", res.Workflow, res.Domain, res.Outcome)
	for _, h := range res.TxHashes() {
		fmt.Fprintf(out, "  tx %s\n", h)
	}
}
