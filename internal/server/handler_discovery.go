package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, discoveryResponse{
		Name:        "WIC API",
		Version:     "v1",
		Description: "Workflow specification compiler: YAML steps in, CWL documents and JSON Schemas out",
		Endpoints: []endpointInfo{
			{"/api/v1/schemas", []string{"GET"}, "List generated schema ids"},
			{"/api/v1/schemas/{id}", []string{"GET"}, "Single generated JSON Schema"},
			{"/api/v1/compile", []string{"POST"}, "Compile a posted set of specification and tool files"},
			{"/api/v1/compilations", []string{"GET"}, "Recorded compilations, newest first. Accepts ?status="},
			{"/api/v1/compilations/{id}", []string{"GET"}, "Single compilation with packed CWL"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
