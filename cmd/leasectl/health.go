package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leasebridge/internal/ui"
	"github.com/alfredjeanlab/leasebridge/internal/wallet"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := leaseClient.Health(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), h)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Status:\t%s\n", ui.RenderOK(h.Status))
		fmt.Fprintf(tw, "Uptime:\t%s\n", time.Duration(h.UptimeSeconds)*time.Second)
		fmt.Fprintf(tw, "Target network:\t%s (%d)\n", wallet.ChainName(h.TargetChainID), h.TargetChainID)
		if h.Wallet {
			net := fmt.Sprintf("%s (%d)", wallet.ChainName(h.ChainID), h.ChainID)
			if h.ChainID != h.TargetChainID {
				net += " " + ui.RenderWarn("wrong network")
			}
			fmt.Fprintf(tw, "Wallet:\t%s on %s\n", ui.RenderOK("connected"), net)
		} else {
			fmt.Fprintf(tw, "Wallet:\t%s\n", ui.RenderMuted("disconnected"))
		}
		conflicts := fmt.Sprint(h.OpenConflicts)
		if h.OpenConflicts > 0 {
			conflicts = ui.RenderFail(conflicts)
		}
		fmt.Fprintf(tw, "Open conflicts:\t%s\n", conflicts)
		return tw.Flush()
	},
}
