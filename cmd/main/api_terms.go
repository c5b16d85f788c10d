package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CTAG07/pluginkit/pkg/taxonomy"
)

// TermsAPI manages taxonomy terms and their assignment to items.
type TermsAPI struct {
	store     *taxonomy.Store
	formatter *taxonomy.Formatter
	config    *ConfigManager
	logger    *slog.Logger
}

// AssignRequest is the JSON body of the assign endpoint.
type AssignRequest struct {
	ItemID  int64   `json:"item_id"`
	TermIDs []int64 `json:"term_ids"`
}

// FormatResponse is returned by the format endpoint.
type FormatResponse struct {
	Item     int64  `json:"item"`
	Taxonomy string `json:"taxonomy"`
	Style    string `json:"style"`
	Output   string `json:"output"`
}

// NewTermsAPI creates a new instance of the TermsAPI.
func NewTermsAPI(store *taxonomy.Store, formatter *taxonomy.Formatter, cm *ConfigManager, logger *slog.Logger) *TermsAPI {
	return &TermsAPI{
		store:     store,
		formatter: formatter,
		config:    cm,
		logger:    logger,
	}
}

// RegisterRoutes sets up the routing for all /api/terms endpoints.
func (a *TermsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/terms", a.handleTerms)
	mux.HandleFunc("/api/terms/assign", a.handleAssign)
	mux.HandleFunc("/api/terms/format", a.handleFormat)
	mux.HandleFunc("/api/terms/export", a.handleExport)
	mux.HandleFunc("/api/terms/import", a.handleImport)
	mux.HandleFunc("/api/terms/", a.handleTermByID)
}

func taxonomyParam(r *http.Request) string {
	if tax := r.URL.Query().Get("taxonomy"); tax != "" {
		return tax
	}
	return taxonomy.TaxonomyTag
}

// handleTerms lists the terms of a taxonomy, or of one item when ?item= is
// given, and creates new terms.
func (a *TermsAPI) handleTerms(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		if !requireScope(w, r, "terms:read") {
			return
		}
		item, err := queryID(r, "item")
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		var terms []taxonomy.Term
		if item > 0 {
			terms, err = a.store.TermsFor(r.Context(), item, taxonomyParam(r))
		} else {
			terms, err = a.store.ListTerms(r.Context(), taxonomyParam(r))
		}
		if err != nil {
			a.logger.Error("Failed to query terms", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Database query failed")
			return
		}
		respondWithJSON(w, http.StatusOK, terms)
		return
	}

	if !requireScope(w, r, "terms:write") {
		return
	}
	var req taxonomy.Term
	if !decodeJSON(w, r, &req) {
		return
	}
	term, err := a.store.InsertTerm(r.Context(), req)
	if err != nil {
		respondWithError(w, http.StatusConflict, fmt.Sprintf("Failed to add term: %v", err))
		return
	}
	a.logger.Info("Term added via API", "id", term.ID, "taxonomy", term.Taxonomy, "slug", term.Slug)
	respondWithJSON(w, http.StatusCreated, term)
}

// handleTermByID reads or deletes a single term.
func (a *TermsAPI) handleTermByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r.URL.Path, "/api/terms/")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid term ID format in URL")
		return
	}
	if !requireMethod(w, r, http.MethodGet, http.MethodDelete) {
		return
	}

	if r.Method == http.MethodGet {
		if !requireScope(w, r, "terms:read") {
			return
		}
		term, err := a.store.GetTerm(r.Context(), id)
		if err != nil {
			a.respondWithStoreError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, term)
		return
	}

	if !requireScope(w, r, "terms:write") {
		return
	}
	if err = a.store.RemoveTerm(r.Context(), id); err != nil {
		a.respondWithStoreError(w, err)
		return
	}
	a.logger.Info("Term removed via API", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleAssign attaches (POST) or detaches (DELETE) terms on an item.
func (a *TermsAPI) handleAssign(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost, http.MethodDelete) || !requireScope(w, r, "terms:write") {
		return
	}
	var req AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ItemID <= 0 || len(req.TermIDs) == 0 {
		respondWithError(w, http.StatusBadRequest, "'item_id' and 'term_ids' are required")
		return
	}

	if r.Method == http.MethodPost {
		if err := a.store.Assign(r.Context(), req.ItemID, req.TermIDs...); err != nil {
			a.respondWithStoreError(w, err)
			return
		}
	} else {
		for _, termID := range req.TermIDs {
			if err := a.store.Unassign(r.Context(), req.ItemID, termID); err != nil {
				a.respondWithStoreError(w, err)
				return
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFormat renders an item's terms as a tag list, class list or links.
func (a *TermsAPI) handleFormat(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, "terms:read") {
		return
	}
	item, err := queryID(r, "item")
	if err != nil || item == 0 {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'item' is required")
		return
	}

	tax := taxonomyParam(r)
	style := r.URL.Query().Get("style")
	out, err := a.formatter.Format(r.Context(), item, tax, style, a.config.Get().Fragments.TermBase)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if style == "" {
		style = taxonomy.StyleList
	}
	respondWithJSON(w, http.StatusOK, FormatResponse{Item: item, Taxonomy: tax, Style: style, Output: out})
}

// handleExport streams every term and assignment as JSON.
func (a *TermsAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, "terms:read") {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="terms.json"`)
	if err := a.store.Export(r.Context(), r.URL.Query().Get("taxonomy"), w); err != nil {
		// Headers may be gone already, so only log.
		a.logger.Error("Failed to export terms", "error", err)
	}
}

// handleImport merges a JSON export into the store.
func (a *TermsAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, "terms:write") {
		return
	}
	if err := a.store.Import(r.Context(), http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to import terms: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *TermsAPI) respondWithStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, taxonomy.ErrTermNotFound):
		respondWithError(w, http.StatusNotFound, "Term not found")
	case errors.Is(err, taxonomy.ErrNoItem):
		respondWithError(w, http.StatusBadRequest, "An item is required")
	default:
		a.logger.Error("Term store operation failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database operation failed")
	}
}
