// Package parser loads CWL tool documents and workflow specification
// documents, and checks generated CWL workflows.
package parser

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/wic/pkg/cwl"
	"github.com/me/wic/pkg/model"
)

// Parser converts YAML documents into typed tool definitions and specs.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser with the given logger.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "parser")}
}

// ParseTool parses a CWL tool document. Port order follows the document.
func (p *Parser) ParseTool(data []byte, path string, id model.StepID) (*model.ToolDef, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	doc := documentNode(&root)
	if doc == nil || doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: expected a mapping at document root", path)
	}

	var raw map[string]any
	if err := doc.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	class := stringField(raw, "class")
	switch class {
	case cwl.ClassCommandLineTool, cwl.ClassExpressionTool, cwl.ClassWorkflow:
	case "":
		return nil, fmt.Errorf("%s: missing class", path)
	default:
		return nil, fmt.Errorf("%s: unsupported class %q", path, class)
	}

	inputs, err := orderedPorts(mappingValue(doc, "inputs"))
	if err != nil {
		return nil, fmt.Errorf("%s: inputs: %w", path, err)
	}
	outputs, err := orderedPorts(mappingValue(doc, "outputs"))
	if err != nil {
		return nil, fmt.Errorf("%s: outputs: %w", path, err)
	}

	p.logger.Debug("parsed tool", "id", id.String(), "inputs", len(inputs), "outputs", len(outputs))
	return &model.ToolDef{
		ID:      id,
		Path:    path,
		Class:   class,
		Label:   stringField(raw, "label"),
		Doc:     docField(raw),
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

// StemOf returns the file name of path without its extension.
func StemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func documentNode(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		return n.Content[0]
	}
	if n.Kind == 0 {
		return nil
	}
	return n
}

// mappingValue returns the value node for key in a mapping node.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// orderedPorts reads CWL ports in either map form ("name: type") or array
// form ("- id: name") keeping declaration order.
func orderedPorts(n *yaml.Node) ([]model.Port, error) {
	if n == nil {
		return nil, nil
	}
	var ports []model.Port
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			var v any
			if err := n.Content[i+1].Decode(&v); err != nil {
				return nil, err
			}
			ports = append(ports, portFrom(n.Content[i].Value, v))
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			var m map[string]any
			if err := item.Decode(&m); err != nil {
				return nil, err
			}
			id := strings.TrimPrefix(stringField(m, "id"), "#")
			if id == "" {
				return nil, fmt.Errorf("array-form port without id at line %d", item.Line)
			}
			ports = append(ports, portFrom(id, m))
		}
	default:
		return nil, fmt.Errorf("expected map or list at line %d", n.Line)
	}
	return ports, nil
}

func portFrom(name string, v any) model.Port {
	port := model.Port{Name: name}
	switch val := v.(type) {
	case string:
		port.Type = val
	case []any:
		port.Type = serializeCWLType(val)
	case map[string]any:
		port.Type = serializeCWLType(val["type"])
		port.Label = stringField(val, "label")
		port.Doc = docField(val)
		port.Default = val["default"]
		port.Format = stringField(val, "format")
	}
	switch port.Type {
	case "stdout", "stderr":
		port.Type = "File"
	}
	return port
}

// serializeCWLType flattens a CWL type expression into the string form
// used throughout the compiler ("File", "int?", "File[]", "record:name").
func serializeCWLType(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		base := stringField(t, "type")
		if base == "array" {
			return serializeCWLType(t["items"]) + "[]"
		}
		if base == "record" {
			if name := stringField(t, "name"); name != "" {
				return "record:" + name
			}
			return "record"
		}
		return base
	case []any:
		// Union type like ["null", File]: keep the non-null member.
		for _, member := range t {
			if s, ok := member.(string); ok && s == "null" {
				continue
			}
			if inner := serializeCWLType(member); inner != "" {
				return inner + "?"
			}
		}
		return ""
	default:
		return ""
	}
}

// stringField safely extracts a string from a map value.
func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	// Handle YAML type coercion (e.g., label: 42 parsed as int).
	return fmt.Sprintf("%v", v)
}

// docField reads doc, which CWL allows as a string or a list of lines.
func docField(m map[string]any) string {
	if _, ok := m["doc"].([]any); ok {
		return strings.Join(stringSlice(m, "doc"), "\n")
	}
	return stringField(m, "doc")
}

// stringSlice safely extracts a []string from a map value.
// A single string is returned as a one-element slice.
func stringSlice(m map[string]any, key string) []string {
	switch s := m[key].(type) {
	case string:
		return []string{s}
	case []any:
		var result []string
		for _, item := range s {
			if str, ok := item.(string); ok {
				result = append(result, str)
			}
		}
		return result
	}
	return nil
}

// mapField safely extracts a map[string]any from a map.
func mapField(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}
