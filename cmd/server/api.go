package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/abcprintco/estimator/internal/estimate"
	"github.com/abcprintco/estimator/internal/matrix"
	"github.com/abcprintco/estimator/internal/options"
	"github.com/abcprintco/estimator/internal/template"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps the store sentinels onto HTTP statuses. Anything
// unrecognized is a 500 and gets logged with its full wrap chain.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, matrix.ErrInvalidRequest),
		errors.Is(err, estimate.ErrInvalidRequest),
		errors.Is(err, template.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, matrix.ErrNoMatch),
		errors.Is(err, estimate.ErrNotFound),
		errors.Is(err, template.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("store error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	valid, err := s.auth.validateCredentials(req.Email, req.Password)
	if err != nil {
		log.Printf("login failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !valid {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.auth.setSessionCookie(w, req.Email)
	respondJSON(w, http.StatusOK, map[string]string{"email": req.Email})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.clearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type priceLookupRequest struct {
	TemplateID int64       `json:"template_id"`
	Vendor     string      `json:"vendor"`
	Quantity   int64       `json:"qty"`
	Options    options.Map `json:"options"`
	Turnaround string      `json:"turnaround"`
}

func (s *server) handlePriceLookup(w http.ResponseWriter, r *http.Request) {
	var req priceLookupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.matrix.Resolve(req.TemplateID, req.Vendor, req.Quantity, req.Options, req.Turnaround)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *server) handleMatrixUpsert(w http.ResponseWriter, r *http.Request) {
	var row matrix.Row
	if err := decodeJSON(r, &row); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.matrix.Upsert(row)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *server) handleMatrixList(w http.ResponseWriter, r *http.Request) {
	filter := matrix.ListFilter{
		Vendor: r.URL.Query().Get("vendor"),
		Search: r.URL.Query().Get("q"),
	}
	if raw := r.URL.Query().Get("template_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid template_id")
			return
		}
		filter.TemplateID = id
	}

	rows, err := s.matrix.List(filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (s *server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	templates, err := s.templates.List()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, templates)
}

func (s *server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var t template.Template
	if err := decodeJSON(r, &t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.templates.Create(t)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	t, err := s.templates.Get(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *server) handleTemplateUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	var t template.Template
	if err := decodeJSON(r, &t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.templates.Update(id, t); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) handleEstimateList(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.estimates.List(r.URL.Query().Get("q"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summaries)
}

func (s *server) handleEstimateCreate(w http.ResponseWriter, r *http.Request) {
	var e estimate.Estimate
	if err := decodeJSON(r, &e); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.estimates.Create(e, requestUser(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *server) handleEstimateGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid estimate id")
		return
	}

	e, err := s.estimates.Get(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (s *server) handleEstimateUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid estimate id")
		return
	}

	var e estimate.Estimate
	if err := decodeJSON(r, &e); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.estimates.Update(id, e, requestUser(r)); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) handleEstimateHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid estimate id")
		return
	}

	entries, err := s.estimates.History(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *server) handleEstimateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid estimate id")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.estimates.SetStatus(id, req.Status, requestUser(r)); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) handleLineItemAdd(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid estimate id")
		return
	}

	var input estimate.LineItemInput
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := s.estimates.AddLineItem(id, input, requestUser(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (s *server) handleLineItemRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid estimate id")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "invalid line item index")
		return
	}

	if err := s.estimates.RemoveLineItem(id, index, requestUser(r)); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) handleEstimateDuplicate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid estimate id")
		return
	}

	newID, err := s.estimates.Duplicate(id, requestUser(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": newID})
}

// handleImportCSV accepts either a multipart upload under "file" or a raw
// text/csv body.
func (s *server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	var reader io.Reader = r.Body
	if file, _, err := r.FormFile("file"); err == nil {
		defer file.Close()
		reader = file
	}

	result, err := s.estimates.ImportCSV(reader, requestUser(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *server) handleImportPurge(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.estimates.PurgeImported()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *server) handlePayoutReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	report, err := s.estimates.PayoutReport(estimate.PayoutFilter{
		PrinterTech: query.Get("printer_tech"),
		Designer:    query.Get("designer"),
		DateStart:   query.Get("date_start"),
		DateEnd:     query.Get("date_end"),
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *server) handleLearningLog(w http.ResponseWriter, r *http.Request) {
	log, err := s.estimates.LearningLog()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, log)
}
