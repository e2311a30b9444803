package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/FocuswithJustin/docmerge/core/errors"
	"github.com/FocuswithJustin/docmerge/core/merge"
	"github.com/FocuswithJustin/docmerge/internal/history"
	"github.com/FocuswithJustin/docmerge/internal/logging"
	"github.com/FocuswithJustin/docmerge/internal/server"
)

const (
	docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mergedFilename  = "merged_document.docx"
	previewFilename = "document_preview.pdf"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *APIMeta  `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// MergeRequest is the body of POST /api/merge-documents.
type MergeRequest struct {
	DocumentOrder []string `json:"document_order"`
	Policy        string   `json:"policy,omitempty"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	Repository string `json:"repository"`
	History    bool   `json:"history"`
	// Conflicts is the resource conflict total over recorded merges.
	Conflicts *int `json:"conflicts,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"name":    "docmerge",
		"version": Version,
		"endpoints": []string{
			"GET /health",
			"GET /api/get-documents",
			"GET /api/get-document-preview-pdf?path=<location>",
			"POST /api/merge-documents",
			"GET /api/merges?limit=<n>",
			"WS /ws",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	info := HealthInfo{
		Status:     "healthy",
		Version:    Version,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Repository: s.repo.Root(),
		History:    s.history != nil,
	}
	if s.history != nil {
		total, err := s.history.ConflictTotal(r.Context())
		if err != nil {
			logging.WarnContext(r.Context(), "reading conflict total failed", "error", err)
		} else {
			info.Conflicts = &total
		}
	}
	respond(w, http.StatusOK, info)
}

// handleDocuments lists the repository as a bare {category: [file, ...]}
// object.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	listing, err := s.repo.List()
	if err != nil {
		logging.ErrorContext(r.Context(), "listing documents failed", "error", err)
		respondError(w, http.StatusInternalServerError, "LIST_FAILED", "Could not list documents")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	location := r.URL.Query().Get("path")
	if location == "" {
		respondError(w, http.StatusBadRequest, "MISSING_PATH", "Query parameter 'path' is required")
		return
	}

	path, err := s.repo.Resolve(location)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if !s.repo.Exists(path) {
		respondErr(w, r, errors.NewDocumentNotFound(location))
		return
	}

	pdf, err := s.preview.Convert(r.Context(), path)
	if err != nil {
		respondErr(w, r, errors.Relocate(err, location))
		return
	}
	writeAttachment(w, "application/pdf", previewFilename, pdf)
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if !server.ValidateContentType(r.Header.Get("Content-Type"), []string{"application/json"}) {
		respondError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Content-Type must be application/json")
		return
	}

	var req MergeRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "Request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON request body")
		return
	}
	if req.DocumentOrder == nil {
		respondError(w, http.StatusBadRequest, "MISSING_DOCUMENT_ORDER", "Field 'document_order' is required")
		return
	}

	opts := []merge.Option{merge.WithObserver(s.hub.Observer(r.Context()))}
	policy := s.merger.Policy()
	if req.Policy != "" {
		p, err := merge.ParsePolicy(req.Policy)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_POLICY", err.Error())
			return
		}
		policy = p
		opts = append(opts, merge.WithCollisionPolicy(p))
	}

	entry := history.Entry{Documents: req.DocumentOrder, Policy: policy.String()}

	res, err := s.merger.Merge(r.Context(), req.DocumentOrder, opts...)
	if err != nil {
		entry.Status, entry.Error = history.StatusFailed, err.Error()
		s.record(r.Context(), entry)
		var nf *errors.NotFoundError
		if errors.As(err, &nf) {
			// the request named a document that is not there
			respondError(w, http.StatusBadRequest, "DOCUMENT_NOT_FOUND", "File not found: "+nf.ID)
			return
		}
		respondErr(w, r, err)
		return
	}

	data, err := res.Document.Bytes()
	if err != nil {
		entry.Status, entry.Error = history.StatusFailed, err.Error()
		s.record(r.Context(), entry)
		respondErr(w, r, err)
		return
	}

	entry.Conflicts = len(res.Conflicts)
	entry.OutputBytes = int64(len(data))
	s.record(r.Context(), entry)

	w.Header().Set("X-Merge-Conflicts", strconv.Itoa(len(res.Conflicts)))
	writeAttachment(w, docxContentType, mergedFilename, data)
}

// record stores a history entry when history is enabled. Failures are
// logged, not returned: the merge itself succeeded or failed already.
func (s *Server) record(ctx context.Context, e history.Entry) {
	if s.history == nil {
		return
	}
	if _, err := s.history.Record(ctx, e); err != nil {
		logging.ErrorContext(ctx, "recording merge history failed", "error", err)
	}
}

func (s *Server) handleMerges(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries := []history.Entry{}
	if s.history != nil {
		var err error
		if entries, err = s.history.Recent(r.Context(), limit); err != nil {
			logging.ErrorContext(r.Context(), "reading merge history failed", "error", err)
			respondError(w, http.StatusInternalServerError, "HISTORY_FAILED", "Could not read merge history")
			return
		}
	}
	respondList(w, entries, len(entries))
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", fmt.Sprintf("Only %s is allowed", method))
	return false
}

// errorStatus maps the error taxonomy onto HTTP.
func errorStatus(err error) (int, string) {
	var (
		parseErr  *errors.ParseError
		renderErr *errors.RenderError
	)
	switch {
	case errors.As(err, &renderErr):
		return http.StatusBadGateway, "RENDER_FAILED"
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity, "DOCUMENT_LOAD_ERROR"
	case errors.Is(err, errors.ErrPathTraversal):
		return http.StatusBadRequest, "INVALID_PATH"
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound, "DOCUMENT_NOT_FOUND"
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_PATH"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "REQUEST_CANCELLED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// respondErr writes err in the error envelope. Internal details of 5xx
// errors other than render failures are logged, not returned.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)

	message := err.Error()
	var nf *errors.NotFoundError
	if errors.As(err, &nf) && nf.Resource == "document" {
		message = "File not found: " + nf.ID
	}
	if status == http.StatusInternalServerError {
		logging.ErrorContext(r.Context(), "request failed", "error", err)
		message = "Internal server error"
	}
	respondError(w, status, code, message)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func meta(total int) *APIMeta {
	return &APIMeta{Total: total, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{Success: true, Data: data, Meta: meta(0)})
}

func respondList(w http.ResponseWriter, data any, total int) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data, Meta: meta(total)})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Meta:    meta(0),
	})
}
