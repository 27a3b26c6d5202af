package ledger

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

//go:embed abi/factory.json
var factoryABIJSON string

//go:embed abi/agreement.json
var agreementABIJSON string

var (
	factoryABI   = mustParseABI("factory", factoryABIJSON)
	agreementABI = mustParseABI("agreement", agreementABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s ABI: %v", name, err))
	}
	return a
}

// StatusCode is the agreement contract's numeric status.
type StatusCode uint8

const (
	StatusCreated     StatusCode = 0
	StatusDepositPaid StatusCode = 1
	StatusCompleted   StatusCode = 2
	StatusCancelled   StatusCode = 3
)

func (c StatusCode) String() string {
	switch c {
	case StatusCreated:
		return "created"
	case StatusDepositPaid:
		return "deposit_paid"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// Open reports whether the contract still accepts complete/cancel.
func (c StatusCode) Open() bool {
	return c == StatusCreated || c == StatusDepositPaid
}

// AgreementState is the on-chain view of a deployed agreement, as returned
// by getInfo. The ledger is authoritative for whether a contract exists and
// for its status; business fields live in the record store.
type AgreementState struct {
	Address    common.Address `json:"address"`
	Tenant     common.Address `json:"tenant"`
	Owner      common.Address `json:"owner"`
	ItemID     *big.Int       `json:"itemId"`
	Amount     *big.Int       `json:"amount"`
	Duration   *big.Int       `json:"duration"`
	Deposit    *big.Int       `json:"deposit"`
	StartTime  *big.Int       `json:"startTime"`
	StatusCode StatusCode     `json:"statusCode"`
}

// getInfoResult mirrors the getInfo outputs for UnpackIntoInterface.
type getInfoResult struct {
	Tenant    common.Address
	Owner     common.Address
	ItemId    *big.Int
	Amount    *big.Int
	Duration  *big.Int
	Deposit   *big.Int
	StartTime *big.Int
	Status    uint8
}

func packCreateAgreement(tenant common.Address, itemID *big.Int, durationDays uint64, deposit *big.Int) ([]byte, error) {
	data, err := factoryABI.Pack("createAgreement", tenant, itemID, new(big.Int).SetUint64(durationDays), deposit)
	if err != nil {
		return nil, fmt.Errorf("abi pack createAgreement: %w", err)
	}
	return data, nil
}

func packAgreementCall(method string, args ...any) ([]byte, error) {
	data, err := agreementABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("abi pack %s: %w", method, err)
	}
	return data, nil
}

func unpackInfo(addr common.Address, out []byte) (*AgreementState, error) {
	var r getInfoResult
	if err := agreementABI.UnpackIntoInterface(&r, "getInfo", out); err != nil {
		return nil, fmt.Errorf("abi unpack getInfo: %w", err)
	}
	return &AgreementState{
		Address:    addr,
		Tenant:     r.Tenant,
		Owner:      r.Owner,
		ItemID:     r.ItemId,
		Amount:     r.Amount,
		Duration:   r.Duration,
		Deposit:    r.Deposit,
		StartTime:  r.StartTime,
		StatusCode: StatusCode(r.Status),
	}, nil
}

// AgreementCreated is the factory's creation event.
type AgreementCreated struct {
	Agreement common.Address
	Owner     common.Address
	Tenant    common.Address
	ItemID    *big.Int
	TxHash    common.Hash
}

// findAgreementCreated scans receipt logs for the factory's creation event.
func findAgreementCreated(factory common.Address, logs []*types.Log) (*AgreementCreated, bool) {
	ev := factoryABI.Events["AgreementCreated"]
	for _, lg := range logs {
		if lg == nil || lg.Address != factory || len(lg.Topics) != 4 || lg.Topics[0] != ev.ID {
			continue
		}
		vals, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(vals) != 1 {
			continue
		}
		itemID, ok := vals[0].(*big.Int)
		if !ok {
			continue
		}
		return &AgreementCreated{
			Agreement: common.BytesToAddress(lg.Topics[1].Bytes()),
			Owner:     common.BytesToAddress(lg.Topics[2].Bytes()),
			Tenant:    common.BytesToAddress(lg.Topics[3].Bytes()),
			ItemID:    itemID,
			TxHash:    lg.TxHash,
		}, true
	}
	return nil, false
}

// ItemID maps an item reference onto the contract's uint256 item id: a
// decimal reference is used as is, anything else is hashed.
func ItemID(itemRef string) *big.Int {
	if v, ok := new(big.Int).SetString(strings.TrimSpace(itemRef), 10); ok && v.Sign() >= 0 {
		return v
	}
	return new(big.Int).SetBytes(crypto.Keccak256([]byte(itemRef)))
}
