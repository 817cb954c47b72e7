// Package catalog discovers tool definitions and workflow specification
// documents on disk and loads them into a model.Catalog.
package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/parser"
	"github.com/me/wic/pkg/model"
)

// Source is a namespace bound to a directory tree.
type Source struct {
	Namespace string
	Dir       string
}

// Warning is a non-fatal discovery problem.
type Warning struct {
	Path    string
	Message string
}

func (w Warning) String() string {
	return w.Path + ": " + w.Message
}

// Discoverer walks Sources and builds the catalog.
type Discoverer struct {
	parser      *parser.Parser
	logger      *slog.Logger
	parallelism int
}

// NewDiscoverer creates a Discoverer. Parallelism bounds concurrent tool
// parsing; values below one mean one.
func NewDiscoverer(p *parser.Parser, logger *slog.Logger, parallelism int) *Discoverer {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Discoverer{parser: p, logger: logger.With("component", "catalog"), parallelism: parallelism}
}

// SourcesFromFile reads "namespace dir" line pairs. Relative directories
// are resolved against the directory holding the file. A missing file
// yields fallback.
func SourcesFromFile(path string, fallback []Source) ([]Source, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fallback, nil
	}
	pairs, err := config.ReadLinePairsFile(path)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	out := make([]Source, len(pairs))
	for i, p := range pairs {
		dir := p.Second
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, dir)
		}
		out[i] = Source{Namespace: p.First, Dir: dir}
	}
	return out, nil
}

// IsLegacy reports whether path has a "legacy" directory component.
func IsLegacy(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "legacy" {
			return true
		}
	}
	return false
}

type found struct {
	ns   string
	path string
}

// glob lists files under each source matching pattern, in sorted order.
func (d *Discoverer) glob(sources []Source, pattern string, skip func(string) bool) ([]found, []Warning) {
	var files []found
	var warns []Warning
	for _, src := range sources {
		info, err := os.Stat(src.Dir)
		if err != nil || !info.IsDir() {
			warns = append(warns, Warning{Path: src.Dir, Message: "directory does not exist"})
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(src.Dir), pattern, doublestar.WithFilesOnly())
		if err != nil {
			warns = append(warns, Warning{Path: src.Dir, Message: err.Error()})
			continue
		}
		slices.Sort(matches)
		n := 0
		for _, m := range matches {
			full := filepath.Join(src.Dir, filepath.FromSlash(m))
			if skip != nil && skip(full) {
				continue
			}
			files = append(files, found{ns: src.Namespace, path: full})
			n++
		}
		if n == 0 {
			warns = append(warns, Warning{Path: src.Dir, Message: fmt.Sprintf("no files match %s", pattern)})
		}
	}
	return files, warns
}

// Discover builds a catalog from tool and spec sources. Unparseable tools,
// empty directories and StepID collisions are reported as warnings.
func (d *Discoverer) Discover(ctx context.Context, tools, specs []Source) (*model.Catalog, []Warning, error) {
	cat := model.NewCatalog()

	toolFiles, warns := d.glob(tools, "**/*.cwl", nil)
	defs := make([]*model.ToolDef, len(toolFiles))
	errs := make([]error, len(toolFiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for i, f := range toolFiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(f.path)
			if err != nil {
				errs[i] = err
				return nil
			}
			id := model.StepID{Stem: parser.StemOf(f.path), Namespace: f.ns}
			def, err := d.parser.ParseTool(data, f.path, id)
			if err != nil {
				errs[i] = err
				return nil
			}
			def.Legacy = IsLegacy(f.path)
			defs[i] = def
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	for i, def := range defs {
		if def == nil {
			warns = append(warns, Warning{Path: toolFiles[i].path, Message: errs[i].Error()})
			continue
		}
		cat.AddTool(def)
	}

	specFiles, specWarns := d.glob(specs, "**/*.yml", func(p string) bool {
		return strings.Contains(filepath.Base(p), "_inputs")
	})
	warns = append(warns, specWarns...)
	for _, f := range specFiles {
		cat.AddSpec(model.SpecRef{
			ID:     model.StepID{Stem: parser.StemOf(f.path), Namespace: f.ns},
			Path:   f.path,
			Legacy: IsLegacy(f.path),
		})
	}

	for _, c := range cat.Collisions() {
		warns = append(warns, Warning{
			Path:    c.Shadow,
			Message: fmt.Sprintf("%s is also defined by %s, which takes precedence", c.ID, c.Kept),
		})
	}
	for _, w := range warns {
		d.logger.Warn("discovery", "path", w.Path, "warning", w.Message)
	}
	d.logger.Info("catalog built", "tools", len(cat.Tools()), "specs", len(cat.Specs()))
	return cat, warns, nil
}

// FromFS builds a catalog from an in-memory or embedded filesystem. Tools
// are every *.cwl file and specs every *.yml file; the first path segment
// is the namespace when nested, otherwise defaultNS applies.
func (d *Discoverer) FromFS(fsys fs.FS, defaultNS string) (*model.Catalog, []Warning, error) {
	cat := model.NewCatalog()
	var warns []Warning

	paths, err := doublestar.Glob(fsys, "**/*.{cwl,yml}", doublestar.WithFilesOnly())
	if err != nil {
		return nil, nil, err
	}
	slices.Sort(paths)
	for _, p := range paths {
		ns := defaultNS
		if first, _, ok := strings.Cut(p, "/"); ok && first != "legacy" {
			ns = first
		}
		id := model.StepID{Stem: parser.StemOf(p), Namespace: ns}
		switch filepath.Ext(p) {
		case ".cwl":
			data, err := fs.ReadFile(fsys, p)
			if err != nil {
				return nil, nil, err
			}
			def, err := d.parser.ParseTool(data, p, id)
			if err != nil {
				warns = append(warns, Warning{Path: p, Message: err.Error()})
				continue
			}
			def.Legacy = IsLegacy(p)
			cat.AddTool(def)
		case ".yml":
			if strings.Contains(filepath.Base(p), "_inputs") {
				continue
			}
			cat.AddSpec(model.SpecRef{ID: id, Path: p, Legacy: IsLegacy(p)})
		}
	}
	for _, c := range cat.Collisions() {
		warns = append(warns, Warning{Path: c.Shadow, Message: fmt.Sprintf("%s is also defined by %s, which takes precedence", c.ID, c.Kept)})
	}
	return cat, warns, nil
}
