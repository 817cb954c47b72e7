package model

import "strings"

// Port is a typed input or output of a tool or workflow.
type Port struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
	Doc     string `json:"doc,omitempty" yaml:"doc,omitempty"`
	Default any    `json:"default,omitempty" yaml:"default,omitempty"`
	Format  string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Optional reports whether the port may be left unbound.
func (p Port) Optional() bool {
	return strings.HasSuffix(p.Type, "?") || p.Default != nil
}

// FindPort returns the port with the given name.
func FindPort(ports []Port, name string) (Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}
