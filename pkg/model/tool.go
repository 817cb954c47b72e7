package model

// ToolDef is an elementary tool loaded from a CWL CommandLineTool document.
// Ports keep their declaration order.
type ToolDef struct {
	ID      StepID `json:"id"`
	Path    string `json:"path"`
	Legacy  bool   `json:"legacy,omitempty"`
	Class   string `json:"class"`
	Label   string `json:"label,omitempty"`
	Doc     string `json:"doc,omitempty"`
	Inputs  []Port `json:"inputs"`
	Outputs []Port `json:"outputs"`
}

// Input returns the named input port.
func (t *ToolDef) Input(name string) (Port, bool) {
	return FindPort(t.Inputs, name)
}

// Output returns the named output port.
func (t *ToolDef) Output(name string) (Port, bool) {
	return FindPort(t.Outputs, name)
}

// Prefer picks the winner of two definitions colliding on the same StepID.
// A current definition beats a legacy one; between two of the same kind the
// lexicographically smaller path wins.
func Prefer(a, b *ToolDef) *ToolDef {
	if a.Legacy != b.Legacy {
		if a.Legacy {
			return b
		}
		return a
	}
	if b.Path < a.Path {
		return b
	}
	return a
}
