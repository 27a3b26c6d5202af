package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leasebridge/internal/client"
	"github.com/alfredjeanlab/leasebridge/internal/model"
)

var showCmd = &cobra.Command{
	Use:     "show <agreement-id>",
	Short:   "Show an agreement together with its ledger state",
	GroupID: "agreements",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := leaseClient.Show(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rep)
		}
		printReport(cmd.OutOrStdout(), rep, time.Now())
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:     "next <agreement-id>",
	Short:   "Show the next action for the signed-in identity",
	GroupID: "agreements",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := leaseClient.Next(cmd.Context(), args[0], identity)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rec)
		}
		printRecommendation(cmd.OutOrStdout(), rec)
		return nil
	},
}

// actionSpec describes one agreement action command.
type actionSpec struct {
	action model.Action
	short  string
	flags  func(*cobra.Command)
	fill   func(*cobra.Command, *client.ActionRequest) error
}

var actionSpecs = []actionSpec{
	{
		action: model.ActionSign,
		short:  "Sign the agreement as the caller's role",
		flags: func(c *cobra.Command) {
			c.Flags().String("signature", "", "signature token (default: the connected wallet address)")
		},
		fill: func(c *cobra.Command, req *client.ActionRequest) error {
			req.Signature, _ = c.Flags().GetString("signature")
			return nil
		},
	},
	{
		action: model.ActionDeploy,
		short:  "Deploy the signed agreement to the ledger (owner)",
	},
	{
		action: model.ActionPayDeposit,
		short:  "Pay the deposit and rent to the agreement contract (tenant)",
	},
	{
		action: model.ActionComplete,
		short:  "Complete the active agreement",
	},
	{
		action: model.ActionCancel,
		short:  "Cancel the agreement",
		flags: func(c *cobra.Command) {
			c.Flags().String("reason", "", "why the agreement is cancelled (required)")
		},
		fill: func(c *cobra.Command, req *client.ActionRequest) error {
			req.Reason, _ = c.Flags().GetString("reason")
			if strings.TrimSpace(req.Reason) == "" {
				return fmt.Errorf("--reason is required")
			}
			return nil
		},
	},
	{
		action: model.ActionDispute,
		short:  "Raise a dispute on the active agreement",
		flags: func(c *cobra.Command) {
			c.Flags().String("reason", "", "dispute reason (required)")
			c.Flags().String("description", "", "longer description")
		},
		fill: func(c *cobra.Command, req *client.ActionRequest) error {
			req.Reason, _ = c.Flags().GetString("reason")
			req.Description, _ = c.Flags().GetString("description")
			if strings.TrimSpace(req.Reason) == "" {
				return fmt.Errorf("--reason is required")
			}
			return nil
		},
	},
}

// commandName turns an action into its command name, e.g. pay_deposit
// becomes pay-deposit.
func commandName(a model.Action) string {
	return strings.ReplaceAll(string(a), "_", "-")
}

func actionCmds() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(actionSpecs))
	for _, as := range actionSpecs {
		cmds = append(cmds, newActionCmd(as))
	}
	return cmds
}

func newActionCmd(as actionSpec) *cobra.Command {
	cmd := &cobra.Command{
		Use:     commandName(as.action) + " <agreement-id>",
		Short:   as.short,
		GroupID: "agreements",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &client.ActionRequest{
				AgreementID: args[0],
				Action:      as.action,
				IdentityID:  identity,
			}
			if as.fill != nil {
				if err := as.fill(cmd, req); err != nil {
					return err
				}
			}
			out, err := leaseClient.Perform(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), out)
			}
			printOutcome(cmd.OutOrStdout(), out)
			return nil
		},
	}
	if as.flags != nil {
		as.flags(cmd)
	}
	return cmd
}
