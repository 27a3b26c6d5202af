package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// Agreement lifecycle topics.
const (
	TopicAgreementSigned      = "lease.agreement.signed"
	TopicAgreementActivated   = "lease.agreement.activated"
	TopicAgreementDepositPaid = "lease.agreement.deposit_paid"
	TopicAgreementCompleted   = "lease.agreement.completed"
	TopicAgreementCancelled   = "lease.agreement.cancelled"
	TopicAgreementDisputed    = "lease.agreement.disputed"
	TopicAgreementFailed      = "lease.agreement.failed"

	// Reconciliation events. A conflict stays open until resolved.
	TopicConflictRaised   = "lease.agreement.conflict"
	TopicConflictResolved = "lease.agreement.resolved"
)

// Wallet session topics.
const (
	TopicWalletConnected      = "lease.wallet.connected"
	TopicWalletAccountChanged = "lease.wallet.account_changed"
	TopicWalletChainChanged   = "lease.wallet.chain_changed"
	TopicWalletDisconnected   = "lease.wallet.disconnected"
)

// TopicForAction returns the topic published after action succeeds.
func TopicForAction(action model.Action) string {
	switch action {
	case model.ActionSign:
		return TopicAgreementSigned
	case model.ActionDeploy:
		return TopicAgreementActivated
	case model.ActionPayDeposit:
		return TopicAgreementDepositPaid
	case model.ActionComplete:
		return TopicAgreementCompleted
	case model.ActionCancel:
		return TopicAgreementCancelled
	case model.ActionDispute:
		return TopicAgreementDisputed
	}
	return TopicAgreementFailed
}

// MatchTopic reports whether topic matches a NATS-style pattern ("*" for one
// token, ">" for the rest).
func MatchTopic(pattern, topic string) bool {
	p := strings.Split(pattern, ".")
	t := strings.Split(topic, ".")
	for i, tok := range p {
		if tok == ">" {
			return len(t) > i
		}
		if i >= len(t) || (tok != "*" && tok != t[i]) {
			return false
		}
	}
	return len(p) == len(t)
}

// Event types

type AgreementChanged struct {
	Agreement *model.Agreement `json:"agreement"`
	Action    model.Action     `json:"action"`
	Actor     string           `json:"actor,omitempty"`
	TxHash    string           `json:"tx_hash,omitempty"`
}

type ActionFailed struct {
	AgreementID string          `json:"agreement_id"`
	Action      model.Action    `json:"action"`
	Kind        model.ErrorKind `json:"kind,omitempty"`
	Error       string          `json:"error"`
}

type DisputeRaised struct {
	Dispute *model.Dispute `json:"dispute"`
}

type ConflictRaised struct {
	AgreementID   string       `json:"agreement_id"`
	Action        model.Action `json:"action,omitempty"`
	Reason        string       `json:"reason"`
	JournalID     string       `json:"journal_id,omitempty"`
	LedgerAddress string       `json:"ledger_address,omitempty"`
	TxHash        string       `json:"tx_hash,omitempty"`
}

type ConflictResolved struct {
	AgreementID string `json:"agreement_id"`
	Resolution  string `json:"resolution"`
}

// Wallet events

type WalletChanged struct {
	Account    string `json:"account,omitempty"`
	ChainID    uint64 `json:"chain_id,omitempty"`
	Generation uint64 `json:"generation"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// AgreementOf extracts the agreement id an event payload refers to. ok is
// false for payloads that are not about a single agreement, such as wallet
// events.
func AgreementOf(data []byte) (id string, ok bool) {
	var probe struct {
		AgreementID string `json:"agreement_id"`
		Agreement   *struct {
			ID string `json:"id"`
		} `json:"agreement"`
		Dispute *struct {
			AgreementID string `json:"agreementId"`
		} `json:"dispute"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", false
	}
	switch {
	case probe.AgreementID != "":
		return probe.AgreementID, true
	case probe.Agreement != nil:
		return probe.Agreement.ID, true
	case probe.Dispute != nil:
		return probe.Dispute.AgreementID, true
	}
	return "", false
}
