package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/client"
	"github.com/alfredjeanlab/leasebridge/internal/lifecycle"
	"github.com/alfredjeanlab/leasebridge/internal/model"
)

func TestExitCode(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), exitFailure},
		{"api conflict", &client.APIError{StatusCode: 409, Kind: model.KindReconciliationConflict}, exitConflict},
		{"api busy", &client.APIError{StatusCode: 409, Kind: model.KindBusy}, exitConflict},
		{"api not permitted", &client.APIError{StatusCode: 403, Kind: model.KindNotPermitted}, exitDenied},
		{"api no kind", &client.APIError{StatusCode: 500, Message: "x"}, exitFailure},
		{"wrapped api", fmt.Errorf("show: %w", &client.APIError{StatusCode: 503, Kind: model.KindWalletUnavailable}), exitUnavailable},
		{"local kind", model.E(model.KindNetworkMismatch, "wallet.Connect", nil), exitUnavailable},
		{"rejected", model.E(model.KindWalletRejected, "ledger.PayDeposit", errors.New("denied")), exitDenied},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestFormatError(t *testing.T) {
	got := formatError(&client.APIError{StatusCode: 403, Message: "tenant cannot deploy", Kind: model.KindNotPermitted})
	if got != "Error: tenant cannot deploy (not_permitted)" {
		t.Errorf("formatError = %q", got)
	}
	if got := formatError(errors.New("dial tcp: refused")); got != "Error: dial tcp: refused" {
		t.Errorf("formatError = %q", got)
	}
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	printOutcome(&buf, &lifecycle.Outcome{
		Action:      model.ActionPayDeposit,
		Agreement:   &model.Agreement{ID: "ag-1", Status: model.StatusActive},
		TxHash:      "0xabc",
		ExplorerURL: "https://sepolia.etherscan.io/tx/0xabc",
		Next:        model.ActionComplete,
	})
	out := buf.String()
	for _, want := range []string{"pay_deposit", "tx: 0xabc", "sepolia.etherscan.io/tx/0xabc", "status: active", "next: complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Conflict") {
		t.Errorf("no conflict expected:\n%s", out)
	}
}

func TestPrintOutcomeWithConflict(t *testing.T) {
	var buf bytes.Buffer
	printOutcome(&buf, &lifecycle.Outcome{
		Action: model.ActionDeploy,
		Conflict: &lifecycle.Conflict{
			AgreementID: "ag-7",
			Action:      model.ActionDeploy,
			Reason:      "record store rejected the update",
			JournalIDs:  []string{"jr-1"},
		},
	})
	out := buf.String()
	for _, want := range []string{"Conflict: record store rejected the update", "journal: jr-1", "leasectl resolve ag-7"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintRecommendation(t *testing.T) {
	var buf bytes.Buffer
	printRecommendation(&buf, &lifecycle.Recommendation{
		AgreementID: "ag-1",
		Role:        model.RoleOwner,
		Status:      model.StatusSigned,
		Next:        model.ActionDeploy,
		Allowed:     []model.Action{model.ActionDeploy, model.ActionCancel},
		Fact:        "absent",
	})
	out := buf.String()
	for _, want := range []string{"role=owner", "status=signed", "Next: deploy", "Allowed: deploy, cancel"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printRecommendation(&buf, &lifecycle.Recommendation{AgreementID: "ag-2", Role: model.RoleNone, Status: model.StatusExpired})
	if !strings.Contains(buf.String(), "No action available.") {
		t.Errorf("expected no-action line:\n%s", buf.String())
	}
}

func TestPrintAgreementExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := &model.Agreement{
		ID:       "ag-9",
		OwnerID:  "u-owner",
		TenantID: "u-tenant",
		ItemRef:  "42",
		Period: model.Period{
			Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC),
		},
		TotalPrice:     "0.3",
		Deposit:        "0.1",
		Status:         model.StatusPending,
		OwnerSignature: "0xowner",
	}
	var buf bytes.Buffer
	printAgreement(&buf, a, now)
	out := buf.String()
	for _, want := range []string{"expired", "2026-02-01 .. 2026-02-04 (3 days)", "owner=yes tenant=no", "0.1 ETH"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintJournal(t *testing.T) {
	var buf bytes.Buffer
	if err := printJournal(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No journal entries.") {
		t.Errorf("empty journal output = %q", buf.String())
	}

	buf.Reset()
	err := printJournal(&buf, []*model.JournalEntry{{
		ID:          "jr-1",
		AgreementID: "ag-1",
		Action:      model.ActionComplete,
		State:       model.JournalConflict,
		Attempts:    4,
		TxHash:      "0x1111222233334444555566667777888899990000aaaabbbbccccddddeeeeffff",
		UpdatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"jr-1", "conflict", "0x111122…ffff", "2026-01-02T03:04:05Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintWallet(t *testing.T) {
	var buf bytes.Buffer
	printWallet(&buf, &client.Wallet{
		Connected:    true,
		Identity:     "u-tenant",
		Account:      "0x00000000000000000000000000000000000000b2",
		ChainID:      1,
		ChainName:    "Ethereum",
		OnTarget:     false,
		BalanceEther: "1.5",
		Linked:       true,
	})
	out := buf.String()
	for _, want := range []string{"connected", "Ethereum (1) wrong network", "1.5 ETH", "u-tenant"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printWallet(&buf, &client.Wallet{})
	if !strings.Contains(buf.String(), "disconnected") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestActionCommands(t *testing.T) {
	var names []string
	for _, c := range actionCmds() {
		names = append(names, c.Name())
	}
	want := "sign deploy pay-deposit complete cancel dispute"
	if got := strings.Join(names, " "); got != want {
		t.Errorf("action commands = %q, want %q", got, want)
	}
}

func TestActionFillRequiresReason(t *testing.T) {
	for _, as := range actionSpecs {
		if as.action != model.ActionCancel && as.action != model.ActionDispute {
			continue
		}
		cmd := newActionCmd(as)
		req := &client.ActionRequest{}
		if err := as.fill(cmd, req); err == nil {
			t.Errorf("%s without --reason should fail", as.action)
		}
		if err := cmd.Flags().Set("reason", "tenant moved out"); err != nil {
			t.Fatal(err)
		}
		if err := as.fill(cmd, req); err != nil {
			t.Errorf("%s: %v", as.action, err)
		}
		if req.Reason != "tenant moved out" {
			t.Errorf("%s: reason = %q", as.action, req.Reason)
		}
	}
}

func TestJournalRequestFromFlags(t *testing.T) {
	reset := func() {
		_ = journalCmd.Flags().Set("state", "")
		_ = journalCmd.Flags().Set("open", "false")
		_ = journalCmd.Flags().Set("limit", "50")
	}
	t.Cleanup(reset)

	reset()
	if err := journalCmd.Flags().Set("open", "true"); err != nil {
		t.Fatal(err)
	}
	req, err := journalRequestFromFlags(journalCmd, []string{"ag-1"})
	if err != nil {
		t.Fatal(err)
	}
	if req.AgreementID != "ag-1" || strings.Join(req.States, ",") != "pending,conflict" || req.Limit != 50 {
		t.Errorf("req = %+v", req)
	}

	reset()
	if err := journalCmd.Flags().Set("state", "bogus"); err != nil {
		t.Fatal(err)
	}
	if _, err := journalRequestFromFlags(journalCmd, nil); err == nil {
		t.Error("invalid state should be rejected")
	}
}

func TestExplorerLink(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)
	addr := "0x00000000000000000000000000000000000000B2"
	for _, tc := range []struct {
		name    string
		chain   uint64
		ref     string
		want    string
		wantErr bool
	}{
		{"tx sepolia", 11155111, hash, "https://sepolia.etherscan.io/tx/" + hash, false},
		{"address mainnet", 1, addr, "https://etherscan.io/address/" + strings.ToLower(addr), false},
		{"unknown chain", 31337, hash, "", true},
		{"garbage", 1, "not-a-hash", "", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := explorerLink(tc.chain, tc.ref)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("explorerLink = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWantEvent(t *testing.T) {
	conflict := []byte(`{"agreement_id":"ag-1","reason":"drift"}`)
	walletEv := []byte(`{"account":"0xabc","generation":3}`)
	for _, tc := range []struct {
		name      string
		topic     string
		data      []byte
		topics    []string
		agreement string
		want      bool
	}{
		{"no filters", "lease.agreement.conflict", conflict, nil, "", true},
		{"topic match", "lease.agreement.conflict", conflict, []string{"lease.agreement.*"}, "", true},
		{"topic miss", "lease.agreement.conflict", conflict, []string{"lease.wallet.*"}, "", false},
		{"agreement match", "lease.agreement.conflict", conflict, nil, "ag-1", true},
		{"agreement miss", "lease.agreement.conflict", conflict, nil, "ag-2", false},
		{"wallet passes agreement filter", "lease.wallet.connected", walletEv, nil, "ag-2", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := wantEvent(tc.topic, tc.data, tc.topics, tc.agreement); got != tc.want {
				t.Errorf("wantEvent = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPrintEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	printEvent(&buf, "lease.agreement.completed", []byte(`{"agreement":{"id":"ag-1"}}`), at)
	if got := buf.String(); !strings.HasPrefix(got, "15:04:05 agreement.completed ag-1 ") {
		t.Errorf("printEvent = %q", got)
	}
}
