package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/client"
	"github.com/alfredjeanlab/leasebridge/internal/lifecycle"
	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/ui"
)

// Exit codes. Anything not listed exits 1.
const (
	exitFailure     = 1
	exitConflict    = 3
	exitDenied      = 4
	exitUnavailable = 5
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errorKind extracts the server's classification from err.
func errorKind(err error) model.ErrorKind {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return model.KindOf(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch errorKind(err) {
	case model.KindReconciliationConflict, model.KindBusy:
		return exitConflict
	case model.KindNotPermitted, model.KindNotAuthenticated, model.KindWalletRejected:
		return exitDenied
	case model.KindWalletUnavailable, model.KindNetworkMismatch, model.KindConfirmationTimeout:
		return exitUnavailable
	}
	return exitFailure
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, formatError(err))
}

func formatError(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if apiErr.Kind != "" {
			msg = fmt.Sprintf("%s (%s)", msg, apiErr.Kind)
		}
		return ui.RenderFail("Error: ") + msg
	}
	return ui.RenderFail("Error: ") + err.Error()
}

func printAgreement(w io.Writer, a *model.Agreement, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	status := a.EffectiveStatus(now)
	fmt.Fprintf(tw, "Agreement:\t%s\n", ui.RenderAccent(a.ID))
	statusLine := ui.RenderStatus(string(status))
	if a.Disputed {
		statusLine += " " + ui.RenderWarn("(disputed)")
	}
	fmt.Fprintf(tw, "Status:\t%s\n", statusLine)
	fmt.Fprintf(tw, "Owner:\t%s\n", a.OwnerID)
	fmt.Fprintf(tw, "Tenant:\t%s\n", a.TenantID)
	if a.TenantAddress != "" {
		fmt.Fprintf(tw, "Tenant address:\t%s\n", a.TenantAddress)
	}
	fmt.Fprintf(tw, "Item:\t%s\n", a.ItemRef)
	fmt.Fprintf(tw, "Period:\t%s .. %s (%d days)\n",
		a.Period.Start.Format(time.DateOnly), a.Period.End.Format(time.DateOnly), a.Period.DurationDays())
	fmt.Fprintf(tw, "Price:\t%s ETH\n", a.TotalPrice)
	fmt.Fprintf(tw, "Deposit:\t%s ETH\n", a.Deposit)
	fmt.Fprintf(tw, "Signatures:\towner=%s tenant=%s\n", signedMark(a.OwnerSignature), signedMark(a.TenantSignature))
	if a.LedgerAddress != "" {
		fmt.Fprintf(tw, "Contract:\t%s\n", a.LedgerAddress)
	}
	if a.TransactionHash != "" {
		fmt.Fprintf(tw, "Deploy tx:\t%s\n", a.TransactionHash)
	}
	if a.DepositTxHash != "" {
		fmt.Fprintf(tw, "Deposit tx:\t%s\n", a.DepositTxHash)
	}
	tw.Flush()
}

func signedMark(sig string) string {
	if sig == "" {
		return ui.RenderMuted("no")
	}
	return ui.RenderOK("yes")
}

func printConflict(w io.Writer, cf *lifecycle.Conflict) {
	if cf == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ui.RenderFail("Conflict:"), cf.Reason)
	if cf.Action != "" {
		fmt.Fprintf(w, "  action:  %s\n", cf.Action)
	}
	if cf.TxHash != "" {
		fmt.Fprintf(w, "  tx:      %s\n", cf.TxHash)
	}
	if len(cf.JournalIDs) > 0 {
		fmt.Fprintf(w, "  journal: %s\n", strings.Join(cf.JournalIDs, ", "))
	}
	fmt.Fprintf(w, "  resolve with: %s\n", ui.RenderCommand("leasectl resolve "+cf.AgreementID))
}

func printOutcome(w io.Writer, out *lifecycle.Outcome) {
	if out == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ui.RenderOK("✓"), out.Action)
	if out.TxHash != "" {
		fmt.Fprintf(w, "  tx: %s\n", out.TxHash)
	}
	if out.ExplorerURL != "" {
		fmt.Fprintf(w, "  %s\n", ui.RenderMuted(out.ExplorerURL))
	}
	if out.Dispute != nil {
		fmt.Fprintf(w, "  dispute: %s (%s)\n", out.Dispute.ID, out.Dispute.Reason)
	}
	if out.Agreement != nil {
		fmt.Fprintf(w, "  status: %s\n", ui.RenderStatus(string(out.Agreement.Status)))
	}
	printConflict(w, out.Conflict)
	if out.Next != "" {
		fmt.Fprintf(w, "  next: %s\n", ui.RenderCommand(string(out.Next)))
	}
}

func printReport(w io.Writer, rep *lifecycle.Report, now time.Time) {
	if rep == nil || rep.Agreement == nil {
		return
	}
	printAgreement(w, rep.Agreement, now)
	fmt.Fprintf(w, "Ledger:     %s\n", rep.Fact)
	if rep.Ledger != nil {
		fmt.Fprintf(w, "  on-chain status: %s\n", rep.Ledger.StatusCode)
		if rep.Ledger.Amount != nil {
			fmt.Fprintf(w, "  amount:          %s ETH\n", model.FormatEther(rep.Ledger.Amount))
		}
		if rep.Ledger.Deposit != nil {
			fmt.Fprintf(w, "  deposit:         %s ETH\n", model.FormatEther(rep.Ledger.Deposit))
		}
	}
	if rep.Drift != "" {
		fmt.Fprintf(w, "%s %s\n", ui.RenderWarn("Drift:"), rep.Drift)
	}
	if len(rep.OpenEntries) > 0 {
		fmt.Fprintf(w, "Open journal entries: %d\n", len(rep.OpenEntries))
	}
	printConflict(w, rep.Conflict)
}

func printRecommendation(w io.Writer, rec *lifecycle.Recommendation) {
	if rec == nil {
		return
	}
	fmt.Fprintf(w, "%s  role=%s  status=%s  ledger=%s\n",
		ui.RenderAccent(rec.AgreementID), rec.Role, ui.RenderStatus(string(rec.Status)), rec.Fact)
	if rec.Next == "" {
		fmt.Fprintln(w, ui.RenderMuted("No action available."))
	} else {
		fmt.Fprintf(w, "Next: %s\n", ui.RenderCommand(string(rec.Next)))
	}
	if len(rec.Allowed) > 0 {
		names := make([]string, len(rec.Allowed))
		for i, a := range rec.Allowed {
			names[i] = string(a)
		}
		fmt.Fprintf(w, "Allowed: %s\n", strings.Join(names, ", "))
	}
	printConflict(w, rec.Conflict)
}

func printConflicts(w io.Writer, conflicts []*lifecycle.Conflict) error {
	if len(conflicts) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No open conflicts."))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGREEMENT\tACTION\tRAISED\tREASON")
	for _, cf := range conflicts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cf.AgreementID, cf.Action, cf.RaisedAt.Format(time.RFC3339), cf.Reason)
	}
	return tw.Flush()
}

func printJournal(w io.Writer, entries []*model.JournalEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No journal entries."))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGREEMENT\tACTION\tSTATE\tATTEMPTS\tTX\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.AgreementID, e.Action, journalState(e.State), e.Attempts, shortHash(e.TxHash), e.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func journalState(s model.JournalState) string {
	switch s {
	case model.JournalPersisted, model.JournalResolved:
		return ui.RenderOK(string(s))
	case model.JournalConflict:
		return ui.RenderFail(string(s))
	}
	return ui.RenderWarn(string(s))
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:8] + "…" + h[len(h)-4:]
}

func printWallet(w io.Writer, wl *client.Wallet) {
	if wl == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !wl.Connected {
		fmt.Fprintf(tw, "Wallet:\t%s\n", ui.RenderMuted("disconnected"))
	} else {
		fmt.Fprintf(tw, "Wallet:\t%s\n", ui.RenderOK("connected"))
		fmt.Fprintf(tw, "Account:\t%s\n", wl.Account)
		network := fmt.Sprintf("%s (%d)", wl.ChainName, wl.ChainID)
		if !wl.OnTarget {
			network += " " + ui.RenderWarn("wrong network")
		}
		fmt.Fprintf(tw, "Network:\t%s\n", network)
		if wl.BalanceEther != "" {
			fmt.Fprintf(tw, "Balance:\t%s ETH\n", wl.BalanceEther)
		}
		linked := ui.RenderMuted("no")
		if wl.Linked {
			linked = ui.RenderOK("yes")
		}
		fmt.Fprintf(tw, "Linked:\t%s\n", linked)
		if wl.ExplorerURL != "" {
			fmt.Fprintf(tw, "Explorer:\t%s\n", ui.RenderMuted(wl.ExplorerURL))
		}
	}
	if wl.Identity != "" {
		fmt.Fprintf(tw, "Identity:\t%s\n", wl.Identity)
	}
	tw.Flush()
}
