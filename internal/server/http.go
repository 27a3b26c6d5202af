package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/recordstore"
)

// Handler returns an http.Handler with all routes registered.
// When an auth token is configured, requests (except GET /v1/health) must
// include a valid Authorization: Bearer <token> header.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/agreements/{id}", s.handleShow)
	mux.HandleFunc("POST /v1/agreements/{id}/actions/{action}", s.handlePerform)
	mux.HandleFunc("GET /v1/agreements/{id}/next", s.handleNext)
	mux.HandleFunc("POST /v1/agreements/{id}/reconcile", s.handleReconcile)
	mux.HandleFunc("POST /v1/agreements/{id}/resolve", s.handleResolve)
	mux.HandleFunc("GET /v1/agreements/{id}/journal", s.handleAgreementJournal)
	mux.HandleFunc("GET /v1/conflicts", s.handleListConflicts)
	mux.HandleFunc("GET /v1/journal", s.handleJournal)
	mux.HandleFunc("GET /v1/wallet", s.handleWallet)
	mux.HandleFunc("POST /v1/wallet/connect", s.handleWalletConnect)
	mux.HandleFunc("POST /v1/wallet/disconnect", s.handleWalletDisconnect)
	mux.HandleFunc("POST /v1/wallet/balance", s.handleWalletBalance)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics)
	return s.instrument(AuthMiddleware(s.authToken, mux))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.wallet.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"wallet":          st.Connected,
		"chain_id":        st.ChainID,
		"target_chain_id": s.wallet.Target().ChainID,
		"open_conflicts":  len(s.coord.Conflicts()),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorResponse is the body of a failed coordinator call. Detail carries
// whatever the call still produced, such as an outcome with a conflict.
type errorResponse struct {
	Error  string          `json:"error"`
	Kind   model.ErrorKind `json:"kind,omitempty"`
	Detail any             `json:"detail,omitempty"`
}

// writeKindError maps a classified error to its HTTP status.
func writeKindError(w http.ResponseWriter, err error, detail any) {
	writeJSON(w, statusFor(err), errorResponse{
		Error:  err.Error(),
		Kind:   model.KindOf(err),
		Detail: detail,
	})
}

func statusFor(err error) int {
	switch model.KindOf(err) {
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindNotAuthenticated:
		return http.StatusUnauthorized
	case model.KindNotPermitted:
		return http.StatusForbidden
	case model.KindBusy, model.KindReconciliationConflict:
		return http.StatusConflict
	case model.KindNetworkMismatch:
		return http.StatusPreconditionFailed
	case model.KindWalletRejected, model.KindInsufficientFunds, model.KindLedgerCallReverted:
		return http.StatusUnprocessableEntity
	case model.KindWalletUnavailable:
		return http.StatusServiceUnavailable
	case model.KindConfirmationTimeout:
		return http.StatusGatewayTimeout
	case model.KindRecordStoreError:
		if recordstore.IsNotFound(err) {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
