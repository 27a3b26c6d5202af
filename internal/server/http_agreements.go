package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/lifecycle"
	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// identityHeader names the signed-in identity when the body does not.
const identityHeader = "X-Identity-ID"

// actionRequest is the body of POST /v1/agreements/{id}/actions/{action}.
type actionRequest struct {
	IdentityID  string `json:"identityId"`
	Signature   string `json:"signature"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// resolveRequest is the body of POST /v1/agreements/{id}/resolve.
type resolveRequest struct {
	Resolution lifecycle.Resolution `json:"resolution"`
}

// identityFor picks the caller identity: body, then header, then the one
// bound to the wallet session.
func (s *Server) identityFor(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if h := r.Header.Get(identityHeader); h != "" {
		return h
	}
	return s.wallet.Identity()
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handlePerform handles POST /v1/agreements/{id}/actions/{action}.
func (s *Server) handlePerform(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	action := model.Action(strings.ReplaceAll(r.PathValue("action"), "-", "_"))
	if !action.IsValid() {
		writeError(w, http.StatusNotFound, "unknown action: "+r.PathValue("action"))
		return
	}

	out, err := s.coord.Perform(r.Context(), lifecycle.Request{
		AgreementID: r.PathValue("id"),
		Action:      action,
		IdentityID:  s.identityFor(r, body.IdentityID),
		Signature:   body.Signature,
		Reason:      body.Reason,
		Description: body.Description,
	})
	if err != nil {
		var detail any
		if out != nil {
			detail = out
		}
		writeKindError(w, err, detail)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleShow handles GET /v1/agreements/{id}.
func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	rep, err := s.coord.Inspect(r.Context(), r.PathValue("id"))
	if err != nil {
		writeKindError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleNext handles GET /v1/agreements/{id}/next.
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	rec, err := s.coord.Recommend(r.Context(), r.PathValue("id"), s.identityFor(r, r.URL.Query().Get("identity")))
	if err != nil {
		writeKindError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleReconcile handles POST /v1/agreements/{id}/reconcile.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := s.coord.Reconcile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeKindError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleResolve handles POST /v1/agreements/{id}/resolve.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.Resolution == "" {
		body.Resolution = lifecycle.ResolutionRetryPersist
	}
	rep, err := s.coord.Resolve(r.Context(), r.PathValue("id"), body.Resolution)
	if err != nil {
		writeKindError(w, err, rep)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleListConflicts handles GET /v1/conflicts.
func (s *Server) handleListConflicts(w http.ResponseWriter, _ *http.Request) {
	conflicts := s.coord.Conflicts()
	if conflicts == nil {
		conflicts = []*lifecycle.Conflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

// handleJournal handles GET /v1/journal.
// Query: ?agreement=, ?state=pending,conflict, ?since=RFC3339, ?limit=N.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	filter, err := journalFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJournal(w, r, filter)
}

// handleAgreementJournal handles GET /v1/agreements/{id}/journal.
func (s *Server) handleAgreementJournal(w http.ResponseWriter, r *http.Request) {
	filter, err := journalFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.AgreementID = r.PathValue("id")
	s.writeJournal(w, r, filter)
}

func (s *Server) writeJournal(w http.ResponseWriter, r *http.Request, filter model.JournalFilter) {
	entries, err := s.coord.Journal(r.Context(), filter)
	if err != nil {
		writeKindError(w, err, nil)
		return
	}
	if entries == nil {
		entries = []*model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func journalFilter(r *http.Request) (model.JournalFilter, error) {
	q := r.URL.Query()
	filter := model.JournalFilter{AgreementID: q.Get("agreement")}
	if v := q.Get("state"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := model.JournalState(strings.TrimSpace(part))
			if !st.IsValid() {
				return filter, errors.New("invalid state: " + part)
			}
			filter.States = append(filter.States, st)
		}
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid since: " + err.Error())
		}
		filter.UpdatedSince = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("invalid limit: " + v)
		}
		filter.Limit = n
	}
	return filter, nil
}
