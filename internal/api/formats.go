package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/reshaper/internal/formats"
)

type formatRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (s *Server) listFormats(w http.ResponseWriter, r *http.Request) {
	specs := s.formats.List(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"formats": specs, "count": len(specs)})
}

func (s *Server) getFormat(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == formats.CustomKey {
		writeError(w, http.StatusNotFound, "custom formats are supplied per session")
		return
	}
	spec, err := s.formats.Resolve(r.Context(), formats.Selection{Key: key})
	if errors.Is(err, formats.ErrUnknownFormat) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

// putFormat handles PUT /api/v1/formats/{key}; it needs the database catalog.
func (s *Server) putFormat(w http.ResponseWriter, r *http.Request) {
	var req formatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	spec, err := s.formats.Save(r.Context(), chi.URLParam(r, "key"), req.Title, req.Text)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) deleteFormat(w http.ResponseWriter, r *http.Request) {
	err := s.formats.Delete(r.Context(), chi.URLParam(r, "key"))
	if errors.Is(err, formats.ErrUnknownFormat) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
