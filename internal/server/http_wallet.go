package server

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/wallet"
)

// walletView is the JSON shape of the wallet session.
type walletView struct {
	Connected    bool   `json:"connected"`
	Identity     string `json:"identity,omitempty"`
	Account      string `json:"account,omitempty"`
	ChainID      uint64 `json:"chainId,omitempty"`
	ChainName    string `json:"chainName,omitempty"`
	OnTarget     bool   `json:"onTarget"`
	Balance      string `json:"balance,omitempty"`
	BalanceEther string `json:"balanceEther,omitempty"`
	Linked       bool   `json:"linked"`
	Generation   uint64 `json:"generation"`
	ExplorerURL  string `json:"explorerUrl,omitempty"`
}

func (s *Server) walletView(st wallet.State) walletView {
	v := walletView{
		Connected:  st.Connected,
		Identity:   s.wallet.Identity(),
		Linked:     st.Linked,
		Generation: st.Generation,
	}
	if !st.Connected {
		return v
	}
	v.Account = st.Account.Hex()
	v.ChainID = st.ChainID
	v.ChainName = wallet.ChainName(st.ChainID)
	v.OnTarget = st.ChainID == s.wallet.Target().ChainID
	v.ExplorerURL = wallet.ExplorerAddressURL(st.ChainID, v.Account)
	if st.Balance != nil {
		v.Balance = st.Balance.String()
		v.BalanceEther = model.FormatEther(st.Balance)
	}
	return v
}

// connectRequest is the body of POST /v1/wallet/connect.
type connectRequest struct {
	IdentityID string `json:"identityId"`
}

// balanceRequest is the body of POST /v1/wallet/balance.
type balanceRequest struct {
	Address string `json:"address"`
}

// handleWallet handles GET /v1/wallet.
func (s *Server) handleWallet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.walletView(s.wallet.Snapshot()))
}

// handleWalletConnect handles POST /v1/wallet/connect.
func (s *Server) handleWalletConnect(w http.ResponseWriter, r *http.Request) {
	var body connectRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if id := s.identityFor(r, body.IdentityID); id != s.wallet.Identity() {
		s.wallet.SetIdentity(id)
	}
	st, err := s.wallet.Connect(r.Context())
	if err != nil {
		writeKindError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.walletView(st))
}

// handleWalletDisconnect handles POST /v1/wallet/disconnect.
func (s *Server) handleWalletDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.wallet.Disconnect(r.Context()); err != nil {
		writeKindError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.walletView(s.wallet.Snapshot()))
}

// handleWalletBalance handles POST /v1/wallet/balance. Without an address
// the connected account is refreshed.
func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	var body balanceRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	var account common.Address
	switch {
	case body.Address != "":
		if !common.IsHexAddress(body.Address) {
			writeError(w, http.StatusBadRequest, "invalid address: "+body.Address)
			return
		}
		account = common.HexToAddress(body.Address)
	default:
		st := s.wallet.Snapshot()
		if !st.Connected {
			writeKindError(w, model.Errorf(model.KindWalletUnavailable, "wallet.RefreshBalance", "wallet not connected"), nil)
			return
		}
		account = st.Account
	}
	bal, err := s.wallet.RefreshBalance(r.Context(), account)
	if err != nil {
		writeKindError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address":      account.Hex(),
		"balance":      bal.String(),
		"balanceEther": model.FormatEther(bal),
	})
}
