package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leasebridge/internal/client"
	"github.com/alfredjeanlab/leasebridge/internal/lifecycle"
	"github.com/alfredjeanlab/leasebridge/internal/model"
)

var reconcileCmd = &cobra.Command{
	Use:     "reconcile <agreement-id>",
	Short:   "Compare the agreement record with the ledger",
	GroupID: "agreements",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := leaseClient.Reconcile(cmd.Context(), args[0])
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

var resolveCmd = &cobra.Command{
	Use:   "resolve <agreement-id>",
	Short: "Close an open conflict",
	Long: `Close an open conflict on an agreement.

By default the journaled record updates are replayed against the record
store; the ledger is never called again. With --acknowledge the conflict is
closed as-is, after the disagreement was fixed by other means.`,
	GroupID: "agreements",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res := lifecycle.ResolutionRetryPersist
		if ack, _ := cmd.Flags().GetBool("acknowledge"); ack {
			res = lifecycle.ResolutionAcknowledge
		}
		rep, err := leaseClient.Resolve(cmd.Context(), args[0], res)
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

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "List open reconciliation conflicts",
	GroupID: "agreements",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conflicts, err := leaseClient.ListConflicts(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			if conflicts == nil {
				conflicts = []*lifecycle.Conflict{}
			}
			return printJSON(cmd.OutOrStdout(), conflicts)
		}
		return printConflicts(cmd.OutOrStdout(), conflicts)
	},
}

var journalCmd = &cobra.Command{
	Use:     "journal [agreement-id]",
	Short:   "List journaled ledger writes",
	GroupID: "agreements",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := journalRequestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		entries, err := leaseClient.ListJournal(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			if entries == nil {
				entries = []*model.JournalEntry{}
			}
			return printJSON(cmd.OutOrStdout(), entries)
		}
		return printJournal(cmd.OutOrStdout(), entries)
	},
}

func journalRequestFromFlags(cmd *cobra.Command, args []string) (*client.JournalRequest, error) {
	req := &client.JournalRequest{}
	if len(args) == 1 {
		req.AgreementID = args[0]
	}
	states, _ := cmd.Flags().GetStringSlice("state")
	for _, s := range states {
		s = strings.TrimSpace(s)
		if !model.JournalState(s).IsValid() {
			return nil, fmt.Errorf("invalid state %q (want pending, persisted, conflict or resolved)", s)
		}
		req.States = append(req.States, s)
	}
	if open, _ := cmd.Flags().GetBool("open"); open && len(req.States) == 0 {
		req.States = []string{string(model.JournalPending), string(model.JournalConflict)}
	}
	since, _ := cmd.Flags().GetDuration("since")
	if since < 0 {
		return nil, fmt.Errorf("--since must not be negative")
	}
	if since > 0 {
		req.Since = time.Now().Add(-since)
	}
	req.Limit, _ = cmd.Flags().GetInt("limit")
	if req.Limit < 0 {
		return nil, fmt.Errorf("--limit must not be negative")
	}
	return req, nil
}

func init() {
	resolveCmd.Flags().Bool("acknowledge", false, "close the conflict without replaying record updates")

	journalCmd.Flags().StringSlice("state", nil, "filter by state (pending, persisted, conflict, resolved)")
	journalCmd.Flags().Bool("open", false, "only entries that still need attention")
	journalCmd.Flags().Duration("since", 0, "only entries updated within this window, e.g. 24h")
	journalCmd.Flags().Int("limit", 50, "maximum number of entries (0 for all)")
}
