package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/me/wic/internal/bundle"
	"github.com/me/wic/internal/parser"
	"github.com/me/wic/internal/pipeline"
	"github.com/me/wic/pkg/model"
)

// compileRequest is the body of POST /compile. Files maps slash-separated
// relative paths to document contents; tools are the *.cwl entries and
// specifications the *.yml entries.
type compileRequest struct {
	Root               string            `json:"root"`
	Files              map[string]string `json:"files"`
	Overrides          map[string]any    `json:"overrides,omitempty"`
	InlineSubworkflows bool              `json:"inline_subworkflows,omitempty"`
	InlineCWL          bool              `json:"inline_cwl,omitempty"`
}

type compileResponse struct {
	*model.Compilation
	Cached bool `json:"cached"`
}

// contentHash identifies a request by everything that affects its output.
func contentHash(req compileRequest, fingerprint string) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(data)
	h.Write([]byte(fingerprint))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// validateRequest checks the request shape and cleans the file paths.
func validateRequest(req *compileRequest) []model.FieldError {
	var problems []model.FieldError
	if len(req.Files) == 0 {
		problems = append(problems, model.FieldError{Field: "files", Message: "files is required"})
	}
	cleaned := make(map[string]string, len(req.Files))
	for p, content := range req.Files {
		c := path.Clean(p)
		if !filepath.IsLocal(filepath.FromSlash(c)) {
			problems = append(problems, model.FieldError{Field: "files", Message: fmt.Sprintf("path %q must be relative and stay inside the file set", p)})
			continue
		}
		cleaned[c] = content
	}
	req.Files = cleaned
	if req.Root == "" {
		problems = append(problems, model.FieldError{Field: "root", Message: "root is required"})
	} else {
		req.Root = path.Clean(req.Root)
		if _, ok := req.Files[req.Root]; !ok {
			problems = append(problems, model.FieldError{Field: "root", Message: fmt.Sprintf("root %q is not among the posted files", req.Root)})
		}
	}
	return problems
}

// stage writes the posted files under a fresh temporary directory.
func stage(files map[string]string) (string, error) {
	dir, err := os.MkdirTemp("", "wic-compile-*")
	if err != nil {
		return "", err
	}
	for p, content := range files {
		dst := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}
	if problems := validateRequest(&req); len(problems) > 0 {
		respondError(w, r, http.StatusBadRequest,
			model.NewValidationError("invalid compile request", problems...))
		return
	}

	tables := s.base.Environment().Tables
	hash, err := contentHash(req, tables.Fingerprint())
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	prev, err := s.store.GetCompilationByHash(r.Context(), hash)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	if prev != nil {
		s.logger.Debug("compilation reused", "id", prev.ID, "hash", hash[:12])
		respond(w, r, http.StatusOK, compileResponse{Compilation: prev, Cached: true})
		return
	}

	comp := &model.Compilation{
		ID:          "cmp_" + uuid.New().String(),
		Name:        parser.StemOf(req.Root),
		ContentHash: hash,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.compile(r.Context(), req, comp); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		comp.Status = model.CompilationFailed
		comp.Errors = model.FieldErrors(err)
		if serr := s.store.CreateCompilation(r.Context(), comp); serr != nil {
			s.respondInternal(w, r, serr)
			return
		}
		s.logger.Info("compilation failed", "id", comp.ID, "name", comp.Name, "errors", len(comp.Errors))
		respondError(w, r, http.StatusUnprocessableEntity,
			model.NewCompileError(fmt.Sprintf("compilation %s failed", comp.ID), comp.Errors...))
		return
	}

	comp.Status = model.CompilationSucceeded
	if err := s.store.CreateCompilation(r.Context(), comp); err != nil {
		s.respondInternal(w, r, err)
		return
	}
	s.logger.Info("compilation recorded", "id", comp.ID, "name", comp.Name, "documents", comp.Documents)
	respond(w, r, http.StatusCreated, compileResponse{Compilation: comp})
}

// compile runs the pipeline over the posted files and fills in comp.
func (s *Server) compile(ctx context.Context, req compileRequest, comp *model.Compilation) error {
	dir, err := stage(req.Files)
	if err != nil {
		return fmt.Errorf("stage files: %w", err)
	}
	defer os.RemoveAll(dir)

	files := make(map[string][]byte, len(req.Files))
	for p, content := range req.Files {
		files[p] = []byte(content)
	}
	env, err := pipeline.LoadFS(files, os.DirFS(dir), s.base.Environment().Tables, s.logger)
	if err != nil {
		return err
	}
	for _, w := range env.Warnings {
		s.logger.Warn("catalog", "compilation", comp.ID, "warning", w.String())
	}

	cfg := s.config.Compiler
	cfg.InlineSubworkflows = req.InlineSubworkflows
	cfg.InlineCWL = req.InlineCWL
	p, err := pipeline.New(env, cfg, s.logger)
	if err != nil {
		return err
	}
	res, err := p.Compile(ctx, req.Root, req.Overrides)
	if err != nil {
		return err
	}

	packed, err := bundle.Pack(res.Compiled, env.ReadFile)
	if err != nil {
		return err
	}
	values, err := yaml.Marshal(res.Compiled.InputValues)
	if err != nil {
		return fmt.Errorf("marshal input values: %w", err)
	}
	comp.Documents = len(bundle.Documents(res.Compiled, func(p string) string { return p }))
	comp.Inlined = res.SubworkflowsInlined + res.DocumentsInlined
	comp.Packed = string(packed.Packed)
	comp.InputValues = string(values)
	return nil
}

func (s *Server) handleListCompilations(w http.ResponseWriter, r *http.Request) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	opts.Status = strings.ToUpper(q.Get("status"))
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = v
	}
	opts.Clamp()

	comps, total, err := s.store.ListCompilations(r.Context(), opts)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	respondPage(w, r, comps, opts.Page(len(comps), total))
}

func (s *Server) handleGetCompilation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	comp, err := s.store.GetCompilation(r.Context(), id)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	if comp == nil {
		respondError(w, r, http.StatusNotFound, model.NewNotFoundError("compilation", id))
		return
	}
	respond(w, r, http.StatusOK, comp)
}
