// Package cwl holds the CWL document model emitted by the compiler and the
// type vocabulary shared by inference and schema generation.
package cwl

import "strings"

// Version is the cwlVersion written into every generated document.
const Version = "v1.2"

// Document represents a raw CWL document (single or $graph packed).
type Document map[string]any

// Class returns the CWL class (Workflow, CommandLineTool, ExpressionTool).
func (d Document) Class() string {
	if v, ok := d["class"].(string); ok {
		return v
	}
	return ""
}

// ID returns the document's id field, if present.
func (d Document) ID() string {
	if v, ok := d["id"].(string); ok {
		return v
	}
	return ""
}

// IsGraph returns true if this is a $graph packed document.
func (d Document) IsGraph() bool {
	_, ok := d["$graph"]
	return ok
}

// Graph returns the $graph entries if this is a packed document.
func (d Document) Graph() []Document {
	g, ok := d["$graph"].([]any)
	if !ok {
		return nil
	}
	var docs []Document
	for _, entry := range g {
		switch m := entry.(type) {
		case map[string]any:
			docs = append(docs, Document(m))
		case Document:
			docs = append(docs, m)
		}
	}
	return docs
}

// Primitive and special type names accepted in port declarations.
var vocabulary = map[string]bool{
	"null":      true,
	"boolean":   true,
	"int":       true,
	"long":      true,
	"float":     true,
	"double":    true,
	"string":    true,
	"File":      true,
	"Directory": true,
	"Any":       true,
	"stdout":    true,
	"stderr":    true,
	"enum":      true,
	"record":    true,
}

// IsOptional reports whether t carries the "?" suffix.
func IsOptional(t string) bool {
	return strings.HasSuffix(t, "?")
}

// Required strips a trailing "?".
func Required(t string) string {
	return strings.TrimSuffix(t, "?")
}

// IsArray reports whether t (ignoring optionality) is an array type.
func IsArray(t string) bool {
	return strings.HasSuffix(Required(t), "[]")
}

// ArrayOf wraps t in one array level, preserving optionality.
func ArrayOf(t string) string {
	if IsOptional(t) {
		return Required(t) + "[]?"
	}
	return t + "[]"
}

// ItemType removes one array level from t. Non-array types are returned unchanged.
func ItemType(t string) string {
	r := Required(t)
	if !strings.HasSuffix(r, "[]") {
		return t
	}
	return strings.TrimSuffix(r, "[]")
}

// BaseType strips optionality and every array level.
func BaseType(t string) string {
	r := Required(t)
	for strings.HasSuffix(r, "[]") {
		r = strings.TrimSuffix(r, "[]")
	}
	if i := strings.Index(r, ":"); i > 0 {
		r = r[:i]
	}
	return r
}

// KnownType reports whether the base of t belongs to the CWL type
// vocabulary. Namespaced names such as "edam:format_1476" are accepted.
func KnownType(t string) bool {
	if t == "" {
		return false
	}
	b := BaseType(t)
	return vocabulary[b] || strings.Contains(Required(t), ":")
}

// IsFileLike reports whether values of t are File or Directory objects.
func IsFileLike(t string) bool {
	switch BaseType(t) {
	case "File", "Directory", "stdout", "stderr":
		return true
	}
	return false
}

// JSONType maps a CWL type to the JSON Schema type keyword value. The second
// result is false when no JSON type constraint applies.
func JSONType(t string) (string, bool) {
	if IsArray(t) {
		return "array", true
	}
	switch BaseType(t) {
	case "boolean":
		return "boolean", true
	case "int", "long":
		return "integer", true
	case "float", "double":
		return "number", true
	case "string", "enum":
		return "string", true
	case "record":
		return "object", true
	}
	return "", false
}
