package model

import "strings"

// NamespaceSeparator joins a namespace and a stem in a qualified step name.
const NamespaceSeparator = "::"

// DefaultNamespace is used when a document does not declare one.
const DefaultNamespace = "global"

// StepID identifies a tool definition or a sub-specification document.
type StepID struct {
	Stem      string `json:"stem" yaml:"stem"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// String renders the qualified form "namespace::stem".
func (id StepID) String() string {
	if id.Namespace == "" {
		return id.Stem
	}
	return id.Namespace + NamespaceSeparator + id.Stem
}

// Less orders ids by namespace, then stem.
func (id StepID) Less(o StepID) bool {
	if id.Namespace != o.Namespace {
		return id.Namespace < o.Namespace
	}
	return id.Stem < o.Stem
}

// Compare returns -1, 0 or +1.
func (id StepID) Compare(o StepID) int {
	switch {
	case id.Less(o):
		return -1
	case o.Less(id):
		return 1
	default:
		return 0
	}
}

// SplitQualified splits "ns::name" into its parts. An unqualified name
// returns an empty namespace.
func SplitQualified(name string) (ns, rest string) {
	if i := strings.Index(name, NamespaceSeparator); i >= 0 {
		return name[:i], name[i+len(NamespaceSeparator):]
	}
	return "", name
}
