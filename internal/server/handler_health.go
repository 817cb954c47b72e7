package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Store     string `json:"store"`
	Tools     int    `json:"tools"`
	Specs     int    `json:"specs"`
	Schemas   int    `json:"schemas"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Store:     "sqlite",
		Schemas:   s.base.Schemas().Len(),
	}
	if cat := s.base.Environment().Catalog; cat != nil {
		resp.Tools = len(cat.Tools())
		resp.Specs = len(cat.Specs())
	}
	respond(w, r, http.StatusOK, resp)
}
