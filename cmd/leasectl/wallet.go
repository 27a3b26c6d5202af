package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var walletCmd = &cobra.Command{
	Use:     "wallet",
	Short:   "Inspect and control the server's wallet session",
	GroupID: "wallet",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return walletStatusCmd.RunE(cmd, args)
	},
}

var walletStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the wallet session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wl, err := leaseClient.Wallet(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), wl)
		}
		printWallet(cmd.OutOrStdout(), wl)
		return nil
	},
}

var walletConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect the wallet, switch to the target network and link it to the identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wl, err := leaseClient.ConnectWallet(cmd.Context(), identity)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), wl)
		}
		printWallet(cmd.OutOrStdout(), wl)
		return nil
	},
}

var walletDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the connected account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wl, err := leaseClient.DisconnectWallet(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), wl)
		}
		printWallet(cmd.OutOrStdout(), wl)
		return nil
	},
}

var walletBalanceCmd = &cobra.Command{
	Use:   "balance [address]",
	Short: "Show the balance of the connected account or of address",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var addr string
		if len(args) == 1 {
			addr = args[0]
		}
		bal, err := leaseClient.Balance(cmd.Context(), addr)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), bal)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s ETH\n", bal.Address, bal.BalanceEther)
		return nil
	},
}

func init() {
	walletCmd.AddCommand(walletStatusCmd)
	walletCmd.AddCommand(walletConnectCmd)
	walletCmd.AddCommand(walletDisconnectCmd)
	walletCmd.AddCommand(walletBalanceCmd)
}
