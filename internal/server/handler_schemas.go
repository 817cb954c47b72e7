package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/wic/pkg/model"
)

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	ids := s.base.Schemas().IDs()
	respondPage(w, r, ids, model.ListOptions{Limit: len(ids)}.Page(len(ids), len(ids)))
}

// handleGetSchema serves the schema document itself, without the envelope,
// so editors can resolve its references directly.
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	doc, ok := s.base.Schemas().Get(id)
	if !ok {
		respondError(w, r, http.StatusNotFound, model.NewNotFoundError("schema", id))
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(doc)
}
