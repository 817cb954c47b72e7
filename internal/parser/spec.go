package parser

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/wic/pkg/model"
)

// Spec is a parsed workflow specification document.
type Spec struct {
	Path      string
	Stem      string
	Namespace string         // wic.namespace, empty when not declared
	Raw       map[string]any // JSON-compatible document, used for schema validation
	Inputs    []model.Port
	Outputs   []OutputDecl
	Wic       map[string]any
	Steps     []StepEntry
}

// OutputDecl is a declared workflow output bound to an anchor.
type OutputDecl struct {
	Name   string
	Type   string
	Anchor string
}

// StepEntry is one item of a document's step list.
type StepEntry struct {
	Position int // 1-based
	Name     string
	Body     map[string]any
}

// Key returns the override key "(position, name)" addressing this step.
func (e StepEntry) Key() string {
	return StepKey(e.Position, e.Name)
}

// StepKey formats the override key for a step.
func StepKey(pos int, name string) string {
	return fmt.Sprintf("(%d, %s)", pos, name)
}

// ParseSpec parses a workflow specification document. Structural problems
// are reported together as a SchemaValidationError.
func (p *Parser) ParseSpec(data []byte, path string) (*Spec, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &model.SchemaValidationError{
			Document: path,
			SchemaID: "yaml",
			Problems: []model.FieldError{{Message: err.Error()}},
		}
	}
	doc := documentNode(&root)
	if doc == nil || doc.Kind != yaml.MappingNode {
		return nil, &model.SchemaValidationError{
			Document: path,
			SchemaID: "yaml",
			Problems: []model.FieldError{{Message: "expected a mapping at document root"}},
		}
	}

	var decoded any
	if err := doc.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	raw, _ := JSONCompatible(decoded).(map[string]any)

	spec := &Spec{
		Path: path,
		Stem: StemOf(path),
		Raw:  raw,
		Wic:  mapField(raw, "wic"),
	}
	var problems []model.FieldError

	if spec.Wic != nil {
		spec.Namespace = stringField(spec.Wic, "namespace")
	} else if _, ok := raw["wic"]; ok && raw["wic"] != nil {
		problems = append(problems, model.FieldError{Field: "wic", Message: "wic must be a mapping"})
	}

	inputs, err := orderedPorts(mappingValue(doc, "inputs"))
	if err != nil {
		problems = append(problems, model.FieldError{Field: "inputs", Message: err.Error()})
	}
	for _, in := range inputs {
		if in.Type == "" {
			problems = append(problems, model.FieldError{Field: "inputs." + in.Name, Message: "input is missing type"})
		}
	}
	spec.Inputs = inputs

	spec.Outputs, problems = parseOutputs(mapField(raw, "outputs"), problems)
	spec.Steps, problems = parseSteps(raw["steps"], problems)

	if len(problems) > 0 {
		return nil, &model.SchemaValidationError{Document: path, SchemaID: "structure", Problems: problems}
	}
	p.logger.Debug("parsed spec", "path", path, "steps", len(spec.Steps), "inputs", len(spec.Inputs))
	return spec, nil
}

func parseOutputs(m map[string]any, problems []model.FieldError) ([]OutputDecl, []model.FieldError) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var outs []OutputDecl
	for _, name := range names {
		body, ok := m[name].(map[string]any)
		if !ok {
			problems = append(problems, model.FieldError{Field: "outputs." + name, Message: "output must be a mapping with type and source"})
			continue
		}
		src := stringField(body, "source")
		if !strings.HasPrefix(src, "*") {
			problems = append(problems, model.FieldError{Field: "outputs." + name + ".source", Message: "source must reference an anchor ('*name')"})
			continue
		}
		outs = append(outs, OutputDecl{
			Name:   name,
			Type:   serializeCWLType(body["type"]),
			Anchor: strings.TrimPrefix(src, "*"),
		})
	}
	return outs, problems
}

func parseSteps(v any, problems []model.FieldError) ([]StepEntry, []model.FieldError) {
	items, ok := v.([]any)
	if !ok {
		return nil, append(problems, model.FieldError{Field: "steps", Message: "steps must be a list"})
	}
	entries := make([]StepEntry, 0, len(items))
	for i, item := range items {
		pos := i + 1
		field := fmt.Sprintf("steps[%d]", i)
		switch it := item.(type) {
		case string:
			entries = append(entries, StepEntry{Position: pos, Name: it})
		case map[string]any:
			if len(it) != 1 {
				problems = append(problems, model.FieldError{Field: field, Message: "step must have exactly one name key"})
				continue
			}
			for name, body := range it {
				entry := StepEntry{Position: pos, Name: name}
				switch b := body.(type) {
				case nil:
				case map[string]any:
					entry.Body = b
				default:
					problems = append(problems, model.FieldError{Field: field + "." + name, Message: "step body must be a mapping"})
					continue
				}
				entries = append(entries, entry)
			}
		default:
			problems = append(problems, model.FieldError{Field: field, Message: "step must be a name or a single-key mapping"})
		}
	}
	return entries, problems
}

// JSONCompatible converts decoded YAML into values encoding/json and the
// schema validator accept: maps with non-string keys get string keys.
func JSONCompatible(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = JSONCompatible(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[fmt.Sprint(k)] = JSONCompatible(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = JSONCompatible(e)
		}
		return out
	default:
		return v
	}
}
