// Package pipeline runs the compile stages in order: resolve, merge,
// infer, inline, compile.
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/me/wic/internal/catalog"
	"github.com/me/wic/internal/compiler"
	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/inference"
	"github.com/me/wic/internal/inline"
	"github.com/me/wic/internal/logging"
	"github.com/me/wic/internal/parser"
	"github.com/me/wic/internal/schema"
	"github.com/me/wic/internal/tree"
	"github.com/me/wic/pkg/model"
)

// Environment is everything a compile run reads besides the root
// document.
type Environment struct {
	Catalog  *model.Catalog
	Loader   parser.SpecLoader
	Tables   *config.Tables
	ReadFile func(path string) ([]byte, error)
	Warnings []catalog.Warning
}

// Load builds an Environment from the directory lists and table files
// named in cfg. Missing directory lists fall back to the current
// directory under the default namespace.
func Load(ctx context.Context, cfg config.CompilerConfig, logger *slog.Logger) (*Environment, error) {
	p := parser.New(logger)
	fallback := []catalog.Source{{Namespace: model.DefaultNamespace, Dir: "."}}
	tools, err := catalog.SourcesFromFile(cfg.CWLDirsFile, fallback)
	if err != nil {
		return nil, err
	}
	specs, err := catalog.SourcesFromFile(cfg.YMLDirsFile, fallback)
	if err != nil {
		return nil, err
	}
	cat, warns, err := catalog.NewDiscoverer(p, logger, cfg.Parallelism).Discover(ctx, tools, specs)
	if err != nil {
		return nil, err
	}
	tables, err := config.LoadTables(cfg)
	if err != nil {
		return nil, err
	}
	return &Environment{
		Catalog:  cat,
		Loader:   parser.NewFileLoader(p),
		Tables:   tables,
		ReadFile: os.ReadFile,
		Warnings: warns,
	}, nil
}

// LoadFS builds an Environment over an in-memory file set, as posted to
// the compile service. Paths are relative to the set's root.
func LoadFS(files map[string][]byte, fsys fs.FS, tables *config.Tables, logger *slog.Logger) (*Environment, error) {
	p := parser.New(logger)
	cat, warns, err := catalog.NewDiscoverer(p, logger, 1).FromFS(fsys, model.DefaultNamespace)
	if err != nil {
		return nil, err
	}
	if tables == nil {
		tables = config.EmptyTables()
	}
	return &Environment{
		Catalog:  cat,
		Loader:   parser.NewMapLoader(p, files),
		Tables:   tables,
		ReadFile: func(path string) ([]byte, error) { return fs.ReadFile(fsys, path) },
		Warnings: warns,
	}, nil
}

// Pipeline compiles root documents against one Environment.
type Pipeline struct {
	cfg      config.CompilerConfig
	env      *Environment
	schemas  *schema.Store
	resolver *tree.Resolver
	inferer  *inference.Engine
	compiler *compiler.Compiler
	logger   *slog.Logger
}

// New generates the schemas for env and prepares the stages.
func New(env *Environment, cfg config.CompilerConfig, logger *slog.Logger) (*Pipeline, error) {
	logger = logging.Component(logger, "pipeline")
	store := schema.NewStore()
	if err := schema.NewGenerator(logger).Generate(env.Catalog, env.Loader, store); err != nil {
		return nil, fmt.Errorf("generate schemas: %w", err)
	}
	validator, err := schema.NewValidator(store, schema.MainID)
	if err != nil {
		return nil, err
	}
	comp, err := compiler.New(env.Tables, compiler.Options{
		Parallelism: cfg.Parallelism,
		CacheSize:   cfg.CacheSize,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		env:      env,
		schemas:  store,
		resolver: tree.NewResolver(env.Catalog, env.Loader, validator, logger),
		inferer:  inference.New(env.Tables, logger),
		compiler: comp,
		logger:   logger,
	}, nil
}

// Schemas returns the generated schema store.
func (p *Pipeline) Schemas() *schema.Store {
	return p.schemas
}

// Environment returns the environment the pipeline compiles against.
func (p *Pipeline) Environment() *Environment {
	return p.env
}

// Result holds every stage's output of one compile run.
type Result struct {
	Raw     *tree.Node // resolved tree
	Merged  *tree.Node // merged and annotated tree
	Inlined *tree.Node // nil unless subworkflow inlining is enabled

	Compiled *compiler.ResultTree

	SubworkflowsInlined int // splices applied to the tree
	DocumentsInlined    int // splices applied to compiled documents
}

// Compile runs every stage on the document at root. ovr is applied to the
// root's override block and may be nil.
func (p *Pipeline) Compile(ctx context.Context, root string, ovr map[string]any) (*Result, error) {
	raw, err := p.resolver.Resolve(root)
	if err != nil {
		return nil, err
	}
	merged, err := tree.Merge(raw, ovr)
	if err != nil {
		return nil, err
	}
	merged, err = p.inferer.Infer(merged)
	if err != nil {
		return nil, err
	}
	res := &Result{Raw: raw, Merged: merged}

	target := merged
	if p.cfg.InlineSubworkflows {
		inlined, n, err := inline.Subworkflows(merged)
		if err != nil {
			return nil, err
		}
		res.Inlined, res.SubworkflowsInlined = inlined, n
		target = inlined
		p.logger.Info("subworkflows inlined", "root", raw.ID.String(), "applied", n)
	}

	compiled, err := p.compiler.Compile(ctx, target)
	if err != nil {
		return nil, err
	}
	if p.cfg.InlineCWL {
		flat, n, err := inline.CWL(compiled)
		if err != nil {
			return nil, err
		}
		compiled, res.DocumentsInlined = flat, n
		p.logger.Info("documents inlined", "root", raw.ID.String(), "applied", n)
	}
	res.Compiled = compiled
	return res, nil
}
