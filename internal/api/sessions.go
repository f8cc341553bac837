package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
	"github.com/MikeSquared-Agency/reshaper/internal/formats"
	"github.com/MikeSquared-Agency/reshaper/internal/session"
)

const maxUploadBytes = 50 << 20

type messageRequest struct {
	Message string `json:"message"`
}

type headersRequest struct {
	HasHeader bool `json:"has_header"`
}

// createSession handles POST /api/v1/sessions with a multipart "file" field.
// Optional fields: has_header (default true), format, custom_format.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing file: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return
	}

	hasHeader := true
	if v := r.FormValue("has_header"); v != "" {
		hasHeader, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid has_header: %v", err))
			return
		}
	}

	view, err := s.workflow.Start(r.Context(), session.Upload{
		FileName:  hdr.Filename,
		Data:      data,
		HasHeader: hasHeader,
		Format: formats.Selection{
			Key:    r.FormValue("format"),
			Custom: r.FormValue("custom_format"),
		},
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.workflow.View(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow.Delete(chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	view, err := s.workflow.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// transformAll answers 422 with the session view when the full run failed.
func (s *Server) transformAll(w http.ResponseWriter, r *http.Request) {
	view, err := s.workflow.TransformAll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	status := http.StatusOK
	if t := view.Transform; t != nil && t.LastResult != nil && !t.LastResult.OK() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, view)
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.workflow.Reset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) exportOutput(w http.ResponseWriter, r *http.Request) {
	scope := session.Scope(r.URL.Query().Get("scope"))
	switch scope {
	case "":
		scope = session.ScopePreview
	case session.ScopePreview, session.ScopeFull:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid scope %q", scope))
		return
	}

	var buf bytes.Buffer
	name, err := s.workflow.Export(chi.URLParam(r, "id"), scope, &buf)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) setFormat(w http.ResponseWriter, r *http.Request) {
	var sel formats.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	view, err := s.workflow.SetFormat(r.Context(), chi.URLParam(r, "id"), sel)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) setHeaders(w http.ResponseWriter, r *http.Request) {
	var req headersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	view, err := s.workflow.SetHeaderMode(r.Context(), chi.URLParam(r, "id"), req.HasHeader)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var parseErr *dataset.ParseError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNoTransform), errors.Is(err, session.ErrNoOutput):
		status = http.StatusConflict
	case errors.Is(err, dataset.ErrEmpty), errors.As(err, &parseErr):
		status = http.StatusBadRequest
	case errors.Is(err, formats.ErrUnknownFormat), errors.Is(err, formats.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, formats.ErrReadOnly):
		status = http.StatusConflict
	case errors.Is(err, formats.ErrNoCatalog):
		status = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrAssistant):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}
