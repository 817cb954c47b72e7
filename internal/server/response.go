package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/me/wic/pkg/model"
)

// newRequestID returns the short id echoed in X-Request-ID and in every
// envelope written for the request.
func newRequestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respond writes data in the envelope under the given status.
func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, r, status, model.Response{Status: model.StatusOK, Data: data})
}

// respondPage writes one page of a list result.
func respondPage(w http.ResponseWriter, r *http.Request, data any, page *model.Pagination) {
	writeEnvelope(w, r, http.StatusOK, model.Response{Status: model.StatusOK, Data: data, Pagination: page})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, apiErr *model.APIError) {
	writeEnvelope(w, r, status, model.Response{Status: model.StatusError, Error: apiErr})
}

// respondInternal logs err against the request and answers 500.
func (s *Server) respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
	respondError(w, r, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: err.Error()})
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, env model.Response) {
	env.RequestID = RequestIDFromContext(r.Context())
	env.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
