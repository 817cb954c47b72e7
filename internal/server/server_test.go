package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/logging"
	"github.com/me/wic/internal/pipeline"
	"github.com/me/wic/internal/store"
	"github.com/me/wic/pkg/model"
)

const basicDir = "../../testdata/basic"

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := logging.Discard()

	fsys := os.DirFS(basicDir)
	files := map[string][]byte{}
	paths, err := fs.Glob(fsys, "*.yml")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		files[p] = data
	}
	rules, err := os.Open("../../testdata/tables/inference_rules.txt")
	if err != nil {
		t.Fatalf("open rules: %v", err)
	}
	defer rules.Close()
	conv, err := os.Open("../../testdata/tables/renaming_conventions.txt")
	if err != nil {
		t.Fatalf("open conventions: %v", err)
	}
	defer conv.Close()
	tables, err := config.ParseTables(rules, conv)
	if err != nil {
		t.Fatalf("ParseTables: %v", err)
	}
	env, err := pipeline.LoadFS(files, fsys, tables, logger)
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	cfg := config.DefaultServerConfig()
	base, err := pipeline.New(env, cfg.Compiler, logger)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(cfg, st, base, logger)
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path string, body any, wantStatus int) envelope {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

// fixtureRequest builds a compile request from fixture files.
func fixtureRequest(t *testing.T, root string, names ...string) map[string]any {
	t.Helper()
	files := map[string]string{}
	for _, n := range append([]string{root}, names...) {
		data, err := os.ReadFile(basicDir + "/" + n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		files[n] = string(data)
	}
	return map[string]any{"root": root, "files": files}
}

type compiled struct {
	model.Compilation
	Cached bool `json:"cached"`
}

func TestDiscovery(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, "GET", "/api/v1/", nil, http.StatusOK)
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	var data struct {
		Name      string `json:"name"`
		Endpoints []struct {
			Path string `json:"path"`
		} `json:"endpoints"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Name != "WIC API" {
		t.Errorf("name = %q", data.Name)
	}
	found := false
	for _, ep := range data.Endpoints {
		if ep.Path == "/api/v1/compile" {
			found = true
		}
	}
	if !found {
		t.Error("compile endpoint not listed")
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, "GET", "/api/v1/health", nil, http.StatusOK)
	var data healthResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.Status != "healthy" {
		t.Errorf("status = %q", data.Status)
	}
	if data.Tools == 0 || data.Specs == 0 || data.Schemas != data.Tools+data.Specs+2 {
		t.Errorf("health = %+v", data)
	}
}

func TestSchemas(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, "GET", "/api/v1/schemas", nil, http.StatusOK)
	var ids []string
	if err := json.Unmarshal(env.Data, &ids); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]bool{"wic.json": false, "wic_tag.json": false, "tools/global/minimize.json": false}
	for _, id := range ids {
		if _, ok := want[id]; ok {
			want[id] = true
		}
	}
	for id, ok := range want {
		if !ok {
			t.Errorf("%s not listed", id)
		}
	}

	req := httptest.NewRequest("GET", "/api/v1/schemas/tools/global/minimize.json", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	var doc map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid schema JSON: %v", err)
	}
	if !strings.HasSuffix(doc["$id"].(string), "tools/global/minimize.json") {
		t.Errorf("$id = %v", doc["$id"])
	}
}

func TestSchemas_NotFound(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, "GET", "/api/v1/schemas/tools/global/nope.json", nil, http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestCompile(t *testing.T) {
	srv := testServer(t)
	body := fixtureRequest(t, "result_input.yml", "produce.cwl", "consume.cwl")
	env := do(t, srv, "POST", "/api/v1/compile", body, http.StatusCreated)

	var got compiled
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != model.CompilationSucceeded || got.Cached {
		t.Errorf("compilation = %+v", got)
	}
	if !strings.HasPrefix(got.ID, "cmp_") || got.Name != "result_input" {
		t.Errorf("id = %q, name = %q", got.ID, got.Name)
	}
	if got.Documents != 1 || !strings.Contains(got.Packed, "$graph") {
		t.Errorf("documents = %d, packed = %q", got.Documents, got.Packed)
	}

	// The same request is answered from the store.
	env = do(t, srv, "POST", "/api/v1/compile", body, http.StatusOK)
	var again compiled
	if err := json.Unmarshal(env.Data, &again); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !again.Cached || again.ID != got.ID {
		t.Errorf("second compile = %+v, want cached %s", again, got.ID)
	}

	env = do(t, srv, "GET", "/api/v1/compilations/"+got.ID, nil, http.StatusOK)
	var stored model.Compilation
	if err := json.Unmarshal(env.Data, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stored.ContentHash != got.ContentHash {
		t.Errorf("stored hash = %q, want %q", stored.ContentHash, got.ContentHash)
	}
}

func TestCompile_Failure(t *testing.T) {
	srv := testServer(t)
	body := fixtureRequest(t, "undeclared.yml", "produce.cwl")
	env := do(t, srv, "POST", "/api/v1/compile", body, http.StatusUnprocessableEntity)
	if env.Error == nil || env.Error.Code != model.ErrCompile {
		t.Fatalf("error = %+v", env.Error)
	}
	if len(env.Error.Details) != 1 || env.Error.Details[0].Kind != "UnresolvedStepError" {
		t.Errorf("details = %+v", env.Error.Details)
	}

	env = do(t, srv, "GET", "/api/v1/compilations?status=failed", nil, http.StatusOK)
	if env.Pagination == nil || env.Pagination.Total != 1 {
		t.Errorf("pagination = %+v", env.Pagination)
	}
	env = do(t, srv, "GET", "/api/v1/compilations?status=succeeded", nil, http.StatusOK)
	if env.Pagination.Total != 0 {
		t.Errorf("succeeded total = %d", env.Pagination.Total)
	}
}

func TestCompile_InvalidRequests(t *testing.T) {
	srv := testServer(t)
	tests := []struct {
		name string
		body any
	}{
		{"bad json", "{not json"},
		{"no files", map[string]any{"root": "main.yml"}},
		{"root missing", map[string]any{"root": "main.yml", "files": map[string]string{"a.yml": "steps: []"}}},
		{"escaping path", map[string]any{"root": "../main.yml", "files": map[string]string{"../main.yml": "steps: []"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := do(t, srv, "POST", "/api/v1/compile", tt.body, http.StatusBadRequest)
			if env.Error == nil || env.Error.Code != model.ErrValidation {
				t.Errorf("error = %+v", env.Error)
			}
		})
	}
}

func TestGetCompilation_NotFound(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, "GET", "/api/v1/compilations/cmp_missing", nil, http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestResponseEnvelope_XRequestIDHeader(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	hdr := w.Header().Get("X-Request-ID")
	if !strings.HasPrefix(hdr, "req_") {
		t.Errorf("X-Request-ID = %q, want req_ prefix", hdr)
	}
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.RequestID != hdr {
		t.Errorf("envelope request_id %q != header %q", env.RequestID, hdr)
	}
}
