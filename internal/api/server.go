// Package api exposes the metadata governance operations over HTTP. Identity
// is an external collaborator: the actor arrives in headers set by the
// upstream gateway, and all domain faults are recovered here into structured
// JSON responses.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/brandvault/metaledger/internal/bulk"
	"github.com/brandvault/metaledger/internal/candidate"
	"github.com/brandvault/metaledger/internal/fault"
	"github.com/brandvault/metaledger/internal/ledger"
	"github.com/brandvault/metaledger/internal/model"
	"github.com/brandvault/metaledger/internal/override"
	"github.com/brandvault/metaledger/internal/resolver"
	"github.com/brandvault/metaledger/internal/store"
)

// Server bundles the domain services behind the HTTP surface.
type Server struct {
	store      store.Store
	ledger     *ledger.Service
	resolver   *resolver.Service
	overrides  *override.Service
	candidates *candidate.Service
	bulk       *bulk.Service
}

func NewServer(st store.Store, led *ledger.Service, res *resolver.Service,
	ov *override.Service, cand *candidate.Service, blk *bulk.Service) *Server {
	return &Server{
		store:      st,
		ledger:     led,
		resolver:   res,
		overrides:  ov,
		candidates: cand,
		bulk:       blk,
	}
}

// Router builds the chi router for the full API surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Actor-ID", "X-Brand-ID", "X-Tenant-ID"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/assets/{assetID}", func(r chi.Router) {
		r.Get("/metadata", s.handleResolveState)
		r.Get("/fields", s.handleEditableFields)
		r.Get("/history", s.handleHistory)
		r.Post("/fields/{fieldID}", s.handleWriteValue)
		r.Post("/fields/{fieldID}/override", s.handleOverride)
		r.Post("/fields/{fieldID}/revert", s.handleRevert)
		r.Get("/candidates", s.handleListCandidates)
		r.Post("/candidates", s.handlePropose)
	})

	r.Route("/entries/{entryID}", func(r chi.Router) {
		r.Post("/approve", s.handleApprove)
		r.Post("/reject", s.handleReject)
		r.Post("/edit-approve", s.handleEditApprove)
	})

	r.Route("/candidates/{candidateID}", func(r chi.Router) {
		r.Post("/approve", s.handleCandidateApprove)
		r.Post("/reject", s.handleCandidateReject)
		r.Post("/defer", s.handleCandidateDefer)
		r.Post("/edit-approve", s.handleCandidateEditApprove)
	})

	r.Post("/bulk/preview", s.handleBulkPreview)
	r.Post("/bulk/execute", s.handleBulkExecute)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actorFrom reads the acting identity from gateway-set headers.
func actorFrom(r *http.Request) model.Actor {
	return model.Actor{
		ID:       r.Header.Get("X-Actor-ID"),
		BrandID:  r.Header.Get("X-Brand-ID"),
		TenantID: r.Header.Get("X-Tenant-ID"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeFault maps a domain fault onto an HTTP status. Unclassified errors are
// logged and answered 500 without leaking internals.
func writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.KindNotFound, fault.KindTokenNotFound:
		status = http.StatusNotFound
	case fault.KindPermissionDenied:
		status = http.StatusForbidden
	case fault.KindInvalidValue:
		status = http.StatusBadRequest
	case fault.KindAlreadyResolved, fault.KindRequiresOverrideIntent, fault.KindReadOnlyField:
		status = http.StatusConflict
	case fault.KindTokenExpired:
		status = http.StatusGone
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("api: internal error", zap.Error(err))
		writeJSON(w, status, errorResponse{Error: "internal error", Kind: kind.String()})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close() //nolint:errcheck
	return json.NewDecoder(r.Body).Decode(v)
}
