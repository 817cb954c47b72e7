package tree

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohae/deepcopy"

	"github.com/me/wic/internal/parser"
	"github.com/me/wic/pkg/model"
)

// DocumentValidator validates a JSON-compatible document.
type DocumentValidator interface {
	Validate(document string, doc any) error
}

// Resolver links a root document and its transitively referenced
// sub-specifications into a tree.
type Resolver struct {
	catalog   *model.Catalog
	loader    parser.SpecLoader
	validator DocumentValidator
	logger    *slog.Logger
}

// NewResolver creates a Resolver. A nil validator skips schema validation.
func NewResolver(cat *model.Catalog, loader parser.SpecLoader, validator DocumentValidator, logger *slog.Logger) *Resolver {
	return &Resolver{
		catalog:   cat,
		loader:    loader,
		validator: validator,
		logger:    logger.With("component", "resolver"),
	}
}

// Resolve loads the root document at path and resolves the whole tree.
// Errors from independent siblings are accumulated; no tree is returned
// unless every step resolved.
func (r *Resolver) Resolve(path string) (*Node, error) {
	spec, err := r.loader.LoadSpec(path)
	if err != nil {
		return nil, err
	}
	if err := r.validate(spec); err != nil {
		return nil, err
	}
	ns := spec.Namespace
	if ns == "" {
		ns = model.DefaultNamespace
	}
	root := &Node{
		Kind:     WorkflowStep,
		ID:       model.StepID{Stem: spec.Stem, Namespace: ns},
		Name:     filepath.Base(spec.Path),
		Document: spec.Path,
		Spec:     spec,
		Body:     map[string]any{"wic": copyMap(spec.Wic)},
	}
	var errs model.ErrorList
	root.Children = r.resolveSteps(spec, ns, []model.StepID{root.ID}, &errs)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	r.logger.Debug("resolved", "root", root.ID.String(), "nodes", Count(root))
	return root, nil
}

func (r *Resolver) validate(spec *parser.Spec) error {
	if r.validator == nil {
		return nil
	}
	return r.validator.Validate(spec.Path, spec.Raw)
}

// entryNamespace reads wic.steps["(i, name)"].wic.namespace from a parent
// override block.
func entryNamespace(wic map[string]any, key string) string {
	steps, _ := wic["steps"].(map[string]any)
	entry, _ := steps[key].(map[string]any)
	inner, _ := entry["wic"].(map[string]any)
	ns, _ := inner["namespace"].(string)
	return ns
}

func (r *Resolver) resolveSteps(spec *parser.Spec, ns string, chain []model.StepID, errs *model.ErrorList) []*Node {
	children := make([]*Node, 0, len(spec.Steps))
	for _, entry := range spec.Steps {
		child, err := r.resolveStep(spec, ns, chain, entry, errs)
		if err != nil {
			errs.Add(err)
			continue
		}
		if child != nil {
			children = append(children, child)
		}
	}
	return children
}

func (r *Resolver) resolveStep(spec *parser.Spec, ns string, chain []model.StepID, entry parser.StepEntry, errs *model.ErrorList) (*Node, error) {
	qualified, bare := model.SplitQualified(entry.Name)
	stepNS := ns
	if override := entryNamespace(spec.Wic, entry.Key()); override != "" {
		stepNS = override
	}
	if qualified != "" {
		stepNS = qualified
	}
	isSpec := strings.HasSuffix(bare, ".yml")
	stem := strings.TrimSuffix(bare, ".yml")
	id := model.StepID{Stem: stem, Namespace: stepNS}

	body := map[string]any{}
	if entry.Body != nil {
		body = deepcopy.Copy(entry.Body).(map[string]any)
	}

	if !isSpec {
		if def, ok := r.catalog.Tool(id); ok {
			return &Node{
				Kind:     ToolStep,
				ID:       id,
				Name:     entry.Name,
				Position: entry.Position,
				Document: spec.Path,
				Body:     body,
				Tool:     def,
				Inputs:   append([]model.Port(nil), def.Inputs...),
				Outputs:  append([]model.Port(nil), def.Outputs...),
			}, nil
		}
	}

	path, ok := r.specPath(spec, id, bare, isSpec)
	if !ok {
		return nil, &model.UnresolvedStepError{
			Name:      entry.Name,
			Namespace: stepNS,
			Document:  spec.Path,
			Position:  entry.Position,
		}
	}

	for _, anc := range chain {
		if anc == id {
			cycle := append(append([]model.StepID(nil), chain...), id)
			return nil, &model.CyclicWorkflowError{Document: spec.Path, Position: entry.Position, Chain: cycle}
		}
	}

	child, err := r.loader.LoadSpec(path)
	if err != nil {
		return nil, err
	}
	if err := r.validate(child); err != nil {
		return nil, err
	}

	childNS := stepNS
	if child.Namespace != "" {
		childNS = child.Namespace
	}
	body["wic"] = copyMap(child.Wic)
	node := &Node{
		Kind:     WorkflowStep,
		ID:       id,
		Name:     entry.Name,
		Position: entry.Position,
		Document: spec.Path,
		Body:     body,
		Spec:     child,
	}
	next := append(append([]model.StepID(nil), chain...), id)
	node.Children = r.resolveSteps(child, childNS, next, errs)
	return node, nil
}

// specPath finds a sub-specification by catalog id, then next to the
// referencing document when the name carries the .yml suffix.
func (r *Resolver) specPath(spec *parser.Spec, id model.StepID, bare string, isSpec bool) (string, bool) {
	if ref, ok := r.catalog.Spec(id); ok {
		return ref.Path, true
	}
	if !isSpec {
		return "", false
	}
	path := filepath.Join(filepath.Dir(spec.Path), bare)
	if _, err := r.loader.LoadSpec(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Debug("sibling spec unreadable", "path", path, "error", err)
			return path, true
		}
		return "", false
	}
	return path, true
}
