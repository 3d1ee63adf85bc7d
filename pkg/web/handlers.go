package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/ritzau/unitconv/pkg/codec"
	"github.com/ritzau/unitconv/pkg/conversion"
	"github.com/ritzau/unitconv/pkg/cycles"
	"github.com/ritzau/unitconv/pkg/logging"
	"github.com/ritzau/unitconv/pkg/model"
	"github.com/ritzau/unitconv/pkg/store"
)

// maxSnapshotBody bounds msgpack imports
const maxSnapshotBody = 16 << 20

// errorResponse is the body of every failed request
type errorResponse struct {
	Error     string   `json:"error"`
	CyclePath []string `json:"cyclePath,omitempty"`
}

// respondError maps domain errors to status codes. Anything unrecognized is
// a server fault and is logged.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cycleErr   *cycles.CycleError
		requestErr *requestError
	)
	switch {
	case errors.As(err, &cycleErr):
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), CyclePath: cycleErr.Path})
	case errors.As(err, &requestErr),
		errors.Is(err, model.ErrSameUnit),
		errors.Is(err, model.ErrMalformedRule),
		errors.Is(err, codec.ErrUnsupportedVersion):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrDuplicateRule):
		respondJSON(w, http.StatusConflict, errorResponse{Error: store.ErrDuplicateRule.Error()})
	case errors.Is(err, store.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: store.ErrNotFound.Error()})
	default:
		logging.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		Category: model.Category(q.Get("category")),
		Search:   q.Get("search"),
	}
	if filter.Category != "" && !filter.Category.Valid() {
		respondError(w, r, &requestError{msg: "unknown category " + strconv.Quote(string(filter.Category))})
		return
	}

	rules, err := s.service.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rules == nil {
		rules = []model.ConversionRule{}
	}
	respondJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	created, err := s.service.Create(r.Context(), req.rule())
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/conversions/"+created.ID)
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	updated, err := s.service.Update(r.Context(), mux.Vars(r)["id"], req.rule())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidateCycle(w http.ResponseWriter, r *http.Request) {
	var req validateCycleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	check, err := s.service.ValidateCycle(r.Context(), model.Edge{FromUnit: req.FromUnit, ToUnit: req.ToUnit}, req.ExcludeID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, check)
}

func (s *Server) handleCalculatePath(w http.ResponseWriter, r *http.Request) {
	var req calculatePathRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	path, err := s.service.CalculatePath(r.Context(), req.FromUnit, req.ToUnit, stepBudget(req.MaxSteps))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, path)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.service.Convert(r.Context(), req.FromUnit, req.ToUnit, *req.Quantity, model.Category(req.Category), stepBudget(req.MaxSteps))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	found, err := s.service.Audit(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if found == nil {
		found = []cycles.RuleCycle{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"consistent": len(found) == 0,
		"cycles":     found,
	})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GraphView(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rules, err := s.service.Export(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", codec.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="conversion-rules.msgpack"`)
	if err := codec.EncodeRules(w, rules, time.Now()); err != nil {
		// Headers are gone; all we can do is log
		logging.ErrorContext(r.Context(), "export failed", "error", err)
	}
}

// handleImport takes a msgpack snapshot. ?replace=true overwrites rules for
// pairs that already exist.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	replace, err := strconv.ParseBool(r.URL.Query().Get("replace"))
	if err != nil && r.URL.Query().Has("replace") {
		respondError(w, r, &requestError{msg: "replace must be a boolean"})
		return
	}

	snap, err := codec.DecodeRules(http.MaxBytesReader(w, r.Body, maxSnapshotBody))
	if err != nil {
		if errors.Is(err, codec.ErrUnsupportedVersion) {
			respondError(w, r, err)
			return
		}
		respondError(w, r, &requestError{msg: err.Error()})
		return
	}

	report, err := s.service.Import(r.Context(), snap.Rules, conversion.ImportOptions{Source: "api", Replace: replace})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
