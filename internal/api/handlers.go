package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/brandvault/metaledger/internal/fault"
	"github.com/brandvault/metaledger/internal/ledger"
	"github.com/brandvault/metaledger/internal/model"
)

func (s *Server) handleResolveState(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	state, err := s.resolver.ResolveState(r.Context(), assetID, actorFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "fields": state})
}

func (s *Server) handleEditableFields(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	fields, err := s.resolver.EditableFields(r.Context(), assetID, actorFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "fields": fields})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	history, err := s.ledger.History(r.Context(), assetID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "history": history})
}

type writeValueRequest struct {
	Value          string   `json:"value"`
	Source         string   `json:"source"`
	Producer       string   `json:"producer"`
	Confidence     *float64 `json:"confidence,omitempty"`
	OverrideIntent bool     `json:"override_intent,omitempty"`
}

func (s *Server) handleWriteValue(w http.ResponseWriter, r *http.Request) {
	var req writeValueRequest
	if err := readJSON(r, &req); err != nil {
		writeFault(w, fault.InvalidValue(err, "request body"))
		return
	}

	// User edits are the default; producers state their source explicitly.
	source := model.SourceUser
	producer := model.ProducerUser
	if req.Source != "" {
		var err error
		if source, err = model.ParseSource(req.Source); err != nil {
			writeFault(w, fault.InvalidValue(err, "source"))
			return
		}
	}
	if req.Producer != "" {
		var err error
		if producer, err = model.ParseProducer(req.Producer); err != nil {
			writeFault(w, fault.InvalidValue(err, "producer"))
			return
		}
	}

	res, err := s.ledger.WriteValue(r.Context(), actorFrom(r), ledger.WriteRequest{
		AssetID:        chi.URLParam(r, "assetID"),
		FieldID:        chi.URLParam(r, "fieldID"),
		Value:          req.Value,
		Source:         source,
		Producer:       producer,
		Confidence:     req.Confidence,
		OverrideIntent: req.OverrideIntent,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"entry_id": res.Entry.ID,
		"pending":  res.Pending,
	})
}

func (s *Server) entryID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		return 0, fault.InvalidValue(err, "entry id")
	}
	return id, nil
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := s.entryID(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := s.ledger.Approve(r.Context(), id, actorFrom(r)); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": id, "approved": true})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := s.entryID(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := s.ledger.RejectEntry(r.Context(), id, actorFrom(r)); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": id, "rejected": true})
}

func (s *Server) handleEditApprove(w http.ResponseWriter, r *http.Request) {
	id, err := s.entryID(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFault(w, fault.InvalidValue(err, "request body"))
		return
	}
	entry, err := s.ledger.EditAndApprove(r.Context(), id, req.Value, actorFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": entry.ID, "value": entry.Value})
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	status, err := s.overrides.Override(r.Context(),
		chi.URLParam(r, "assetID"), chi.URLParam(r, "fieldID"), actorFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	entry, err := s.overrides.Revert(r.Context(),
		chi.URLParam(r, "assetID"), chi.URLParam(r, "fieldID"), actorFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": entry.ID, "value": entry.Value})
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	open, err := s.candidates.List(r.Context(), assetID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "candidates": open})
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FieldID    string   `json:"field_id"`
		Value      string   `json:"value"`
		Confidence *float64 `json:"confidence,omitempty"`
		Producer   string   `json:"producer"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFault(w, fault.InvalidValue(err, "request body"))
		return
	}
	producer := model.ProducerAI
	if req.Producer != "" {
		var err error
		if producer, err = model.ParseProducer(req.Producer); err != nil {
			writeFault(w, fault.InvalidValue(err, "producer"))
			return
		}
	}
	c, err := s.candidates.Propose(r.Context(), chi.URLParam(r, "assetID"),
		req.FieldID, req.Value, req.Confidence, producer)
	if err != nil {
		writeFault(w, err)
		return
	}
	if c == nil {
		// Canonical form was dismissed before; the proposal is dropped.
		writeJSON(w, http.StatusOK, map[string]any{"dropped": true})
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCandidateApprove(w http.ResponseWriter, r *http.Request) {
	entry, err := s.candidates.Approve(r.Context(), chi.URLParam(r, "candidateID"), actorFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": entry.ID, "value": entry.Value})
}

func (s *Server) handleCandidateReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "candidateID")
	if err := s.candidates.Reject(r.Context(), id, actorFrom(r)); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidate_id": id, "dismissed": true})
}

func (s *Server) handleCandidateDefer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "candidateID")
	if err := s.candidates.Defer(r.Context(), id, actorFrom(r)); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidate_id": id, "deferred": true})
}

func (s *Server) handleCandidateEditApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFault(w, fault.InvalidValue(err, "request body"))
		return
	}
	entry, err := s.candidates.EditAndApprove(r.Context(), chi.URLParam(r, "candidateID"), req.Value, actorFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": entry.ID, "value": entry.Value})
}

func (s *Server) handleBulkPreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetIDs []string `json:"asset_ids"`
		Op       string   `json:"op"`
		FieldID  string   `json:"field_id"`
		Payload  string   `json:"payload"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFault(w, fault.InvalidValue(err, "request body"))
		return
	}
	diff, token, err := s.bulk.Preview(r.Context(), req.AssetIDs, model.BulkOp(req.Op),
		req.FieldID, req.Payload, actorFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diff": diff, "token": token})
}

func (s *Server) handleBulkExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFault(w, fault.InvalidValue(err, "request body"))
		return
	}
	result, err := s.bulk.Execute(r.Context(), req.Token, actorFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
