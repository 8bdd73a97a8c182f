package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pns/internal/app"
)

func newConnectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect the wallet and show the account and network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := c.startApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := a.Connect(cmd.Context()); err != nil {
				return err
			}
			st := a.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "account: %s\nnetwork: %s on %s (target %s)\n", st.Account, st.Network, chainLabel(st), st.Target)
			return nil
		},
	}
}

func newSwitchNetworkCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-network",
		Short: "Switch the wallet to the registry network, adding it if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := c.startApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.SwitchNetwork(cmd.Context()); err != nil {
				return err
			}
			st := a.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "network: %s on %s\n", st.Network, chainLabel(st))
			return nil
		},
	}
}

func chainLabel(st app.Status) string {
	if st.ChainName == "" {
		return "unknown chain"
	}
	return st.ChainName
}
