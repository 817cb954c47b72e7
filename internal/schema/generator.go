package schema

import (
	"fmt"
	"log/slog"

	"github.com/me/wic/internal/parser"
	"github.com/me/wic/pkg/cwl"
	"github.com/me/wic/pkg/model"
)

// BaseURL is the absolute base every schema $id resolves against.
const BaseURL = "https://wic.local/schemas/"

// Dialect is the JSON Schema draft used by every generated schema.
const Dialect = "https://json-schema.org/draft/2020-12/schema"

// Well-known schema ids.
const (
	TagID  = "wic_tag.json"
	MainID = "wic.json"
)

// stepKeyPattern matches override keys such as "(2, minimize)".
const stepKeyPattern = `^\([0-9]+, [A-Za-z0-9_.:\-]+\)$`

// anchorOrExpr accepts an anchor reference or a string embedding an expression.
const anchorOrExpr = `^\*|\$[({]`

// ToolID returns the schema id of a tool.
func ToolID(id model.StepID) string {
	return fmt.Sprintf("tools/%s/%s.json", id.Namespace, id.Stem)
}

// WorkflowID returns the schema id of a sub-specification.
func WorkflowID(id model.StepID) string {
	return fmt.Sprintf("workflows/%s/%s.json", id.Namespace, id.Stem)
}

// URL returns the absolute location of a schema id.
func URL(id string) string {
	return BaseURL + id
}

// Generator builds schemas from the catalog.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{logger: logger.With("component", "schema")}
}

func strs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// portSchema documents one input port.
func portSchema(p model.Port) map[string]any {
	s := map[string]any{}
	if p.Label != "" {
		s["title"] = p.Label
	}
	if p.Doc != "" {
		s["description"] = p.Doc
	}
	if p.Type != "" {
		s["$comment"] = "CWL type " + p.Type
	}
	if jt, ok := cwl.JSONType(p.Type); ok {
		s["anyOf"] = []any{
			map[string]any{"type": jt},
			map[string]any{"type": "string", "pattern": anchorOrExpr},
		}
	}
	return s
}

// argsSchema is the schema of a step body: explicit bindings, anchors
// declared on outputs, scatter and conditionals. open leaves "in"
// accepting ports not known ahead of compilation.
func argsSchema(id string, label, doc string, inputs, outputs []model.Port, open bool) map[string]any {
	inProps := make(map[string]any, len(inputs))
	inNames := make([]string, len(inputs))
	for i, p := range inputs {
		inProps[p.Name] = portSchema(p)
		inNames[i] = p.Name
	}
	outNames := make([]string, len(outputs))
	for i, p := range outputs {
		outNames[i] = p.Name
	}

	outItem := map[string]any{
		"type":                 "object",
		"minProperties":        1,
		"maxProperties":        1,
		"additionalProperties": map[string]any{"type": "string", "pattern": "^&"},
	}
	if !open {
		outItem["propertyNames"] = map[string]any{"enum": strs(outNames)}
	}

	scatterItem := map[string]any{"type": "string"}
	if !open {
		scatterItem["enum"] = strs(inNames)
	}

	s := map[string]any{
		"$schema":              Dialect,
		"$id":                  URL(id),
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"in": map[string]any{
				"type":                 "object",
				"properties":           inProps,
				"additionalProperties": open,
			},
			"out": map[string]any{
				"type":  "array",
				"items": outItem,
			},
			"scatter": map[string]any{
				"type":  "array",
				"items": scatterItem,
			},
			"scatterMethod": map[string]any{
				"enum": strs([]string{cwl.ScatterDotProduct, cwl.ScatterNestedCrossProduct, cwl.ScatterFlatCrossProduct}),
			},
			"when": map[string]any{"type": "string"},
			"inputs": map[string]any{
				"type": "object",
			},
			"outputs": map[string]any{
				"type": "object",
			},
		},
	}
	if label != "" {
		s["title"] = label
	}
	if doc != "" {
		s["description"] = doc
	}
	return s
}

// ToolSchema builds the schema documenting a tool's step body.
func (g *Generator) ToolSchema(def *model.ToolDef) map[string]any {
	return argsSchema(ToolID(def.ID), def.Label, def.Doc, def.Inputs, def.Outputs, false)
}

// WorkflowSchema builds the schema of a sub-specification step body from
// its declared inputs.
func (g *Generator) WorkflowSchema(id model.StepID, spec *parser.Spec) map[string]any {
	var inputs []model.Port
	var outputs []model.Port
	if spec != nil {
		inputs = spec.Inputs
		for _, o := range spec.Outputs {
			outputs = append(outputs, model.Port{Name: o.Name, Type: o.Type})
		}
	}
	return argsSchema(WorkflowID(id), "", "", inputs, outputs, true)
}

// TagSchema builds the recursive override block schema.
func (g *Generator) TagSchema() map[string]any {
	entry := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"in":            map[string]any{"type": "object"},
			"out":           map[string]any{"type": "array"},
			"scatter":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"scatterMethod": map[string]any{"type": "string"},
			"when":          map[string]any{"type": "string"},
			"inputs":        map[string]any{"type": "object"},
			"outputs":       map[string]any{"type": "object"},
			"wic":           map[string]any{"$dynamicRef": "#wic"},
		},
	}
	return map[string]any{
		"$schema":              Dialect,
		"$id":                  URL(TagID),
		"$dynamicAnchor":       "wic",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"namespace":  map[string]any{"type": "string"},
			"inlineable": map[string]any{"type": "boolean"},
			"graphviz": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"label":    map[string]any{"type": "string"},
					"style":    map[string]any{"type": "string"},
					"ranksame": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			"backends":        map[string]any{"type": "object"},
			"default_backend": map[string]any{"type": "string"},
			"environment":     map[string]any{"type": "object"},
			"steps": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"patternProperties":    map[string]any{stepKeyPattern: entry},
			},
		},
	}
}

// stepRef wraps a body schema reference into a one-key step item accepting
// the given step names. A null body is the no-argument form.
func stepRef(names []string, ref string) map[string]any {
	props := make(map[string]any, len(names))
	for _, n := range names {
		props[n] = map[string]any{
			"anyOf": []any{
				map[string]any{"type": "null"},
				map[string]any{"$ref": ref},
			},
		}
	}
	return map[string]any{
		"type":                 "object",
		"minProperties":        1,
		"maxProperties":        1,
		"properties":           props,
		"additionalProperties": false,
	}
}

// MainSchema builds the root grammar schema. Step list items are a bare
// name or a disjunction over every tool and sub-specification.
func (g *Generator) MainSchema(tools []*model.ToolDef, specs []model.SpecRef) map[string]any {
	items := []any{map[string]any{"type": "string"}}
	for _, t := range tools {
		items = append(items, stepRef([]string{t.ID.Stem, t.ID.String()}, ToolID(t.ID)))
	}
	for _, s := range specs {
		items = append(items, stepRef([]string{s.ID.Stem + ".yml", s.ID.String() + ".yml"}, WorkflowID(s.ID)))
	}

	inputDecl := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string"},
			map[string]any{
				"type":     "object",
				"required": []any{"type"},
				"properties": map[string]any{
					"type":    map[string]any{},
					"label":   map[string]any{"type": "string"},
					"doc":     map[string]any{},
					"default": map[string]any{},
					"format":  map[string]any{"type": "string"},
				},
				"additionalProperties": false,
			},
		},
	}
	outputDecl := map[string]any{
		"type":     "object",
		"required": []any{"type", "source"},
		"properties": map[string]any{
			"type":   map[string]any{},
			"source": map[string]any{"type": "string", "pattern": `^\*`},
		},
		"additionalProperties": false,
	}

	return map[string]any{
		"$schema":              Dialect,
		"$id":                  URL(MainID),
		"title":                "Workflow specification",
		"type":                 "object",
		"required":             []any{"steps"},
		"additionalProperties": false,
		"properties": map[string]any{
			"wic":     map[string]any{"$ref": TagID},
			"inputs":  map[string]any{"type": "object", "additionalProperties": inputDecl},
			"outputs": map[string]any{"type": "object", "additionalProperties": outputDecl},
			"steps":   map[string]any{"type": "array", "items": map[string]any{"anyOf": items}},
		},
	}
}

// Generate registers every schema derived from cat into store. Specs are
// read through loader to learn their declared inputs; unreadable specs get
// an open schema and a warning.
func (g *Generator) Generate(cat *model.Catalog, loader parser.SpecLoader, store *Store) error {
	var errs model.ErrorList
	tools := cat.Tools()
	for _, t := range tools {
		errs.Add(store.Register(ToolID(t.ID), g.ToolSchema(t)))
	}
	specs := cat.Specs()
	for _, s := range specs {
		var spec *parser.Spec
		if loader != nil {
			var err error
			if spec, err = loader.LoadSpec(s.Path); err != nil {
				g.logger.Warn("schema from undeclared inputs", "spec", s.ID.String(), "error", err)
			}
		}
		errs.Add(store.Register(WorkflowID(s.ID), g.WorkflowSchema(s.ID, spec)))
	}
	errs.Add(store.Register(TagID, g.TagSchema()))
	errs.Add(store.Register(MainID, g.MainSchema(tools, specs)))
	g.logger.Info("schemas generated", "tools", len(tools), "workflows", len(specs), "total", store.Len())
	return errs.Err()
}
