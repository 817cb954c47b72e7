package cwl

// Workflow is the typed form of a generated CWL Workflow document. Slices
// keep declaration order; Document renders the CWL map form.
type Workflow struct {
	ID           string
	Label        string
	Doc          string
	Requirements []string
	Inputs       []InputParam
	Outputs      []OutputParam
	Steps        []Step
}

// InputParam is a workflow-level input.
type InputParam struct {
	ID      string
	Type    string
	Label   string
	Doc     string
	Default any
	Format  string
}

// OutputParam is a workflow-level output.
type OutputParam struct {
	ID           string
	Type         string
	OutputSource string
}

// Step is a workflow step. Run is the path of the tool or nested workflow
// document.
type Step struct {
	ID            string
	Run           string
	In            []StepInput
	Out           []string
	Scatter       []string
	ScatterMethod string // "dotproduct", "nested_crossproduct", or "flat_crossproduct"
	When          string
}

// StepInput wires one input slot of a step.
type StepInput struct {
	ID        string
	Source    string
	ValueFrom string
	Default   any
}

// Input returns the named workflow input.
func (w *Workflow) Input(id string) (*InputParam, bool) {
	for i := range w.Inputs {
		if w.Inputs[i].ID == id {
			return &w.Inputs[i], true
		}
	}
	return nil, false
}

// Step returns the named step.
func (w *Workflow) Step(id string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// AddRequirement appends class unless already present.
func (w *Workflow) AddRequirement(class string) {
	for _, r := range w.Requirements {
		if r == class {
			return
		}
	}
	w.Requirements = append(w.Requirements, class)
}

// Document renders w as a CWL v1.2 document in map form.
func (w *Workflow) Document() Document {
	doc := Document{
		"cwlVersion": Version,
		"class":      ClassWorkflow,
	}
	if w.ID != "" {
		doc["id"] = w.ID
	}
	if w.Label != "" {
		doc["label"] = w.Label
	}
	if w.Doc != "" {
		doc["doc"] = w.Doc
	}
	if len(w.Requirements) > 0 {
		reqs := make([]any, len(w.Requirements))
		for i, r := range w.Requirements {
			reqs[i] = map[string]any{"class": r}
		}
		doc["requirements"] = reqs
	}

	inputs := make(map[string]any, len(w.Inputs))
	for _, in := range w.Inputs {
		p := map[string]any{"type": in.Type}
		if in.Label != "" {
			p["label"] = in.Label
		}
		if in.Doc != "" {
			p["doc"] = in.Doc
		}
		if in.Default != nil {
			p["default"] = in.Default
		}
		if in.Format != "" {
			p["format"] = in.Format
		}
		inputs[in.ID] = p
	}
	doc["inputs"] = inputs

	outputs := make(map[string]any, len(w.Outputs))
	for _, out := range w.Outputs {
		outputs[out.ID] = map[string]any{"type": out.Type, "outputSource": out.OutputSource}
	}
	doc["outputs"] = outputs

	steps := make(map[string]any, len(w.Steps))
	for _, s := range w.Steps {
		steps[s.ID] = s.document()
	}
	doc["steps"] = steps
	return doc
}

func (s Step) document() map[string]any {
	in := make(map[string]any, len(s.In))
	for _, si := range s.In {
		if si.ValueFrom == "" && si.Default == nil {
			in[si.ID] = si.Source
			continue
		}
		m := map[string]any{}
		if si.Source != "" {
			m["source"] = si.Source
		}
		if si.ValueFrom != "" {
			m["valueFrom"] = si.ValueFrom
		}
		if si.Default != nil {
			m["default"] = si.Default
		}
		in[si.ID] = m
	}
	out := make([]any, len(s.Out))
	for i, o := range s.Out {
		out[i] = o
	}
	step := map[string]any{
		"run": s.Run,
		"in":  in,
		"out": out,
	}
	if len(s.Scatter) > 0 {
		sc := make([]any, len(s.Scatter))
		for i, v := range s.Scatter {
			sc[i] = v
		}
		step["scatter"] = sc
		if s.ScatterMethod != "" {
			step["scatterMethod"] = s.ScatterMethod
		}
	}
	if s.When != "" {
		step["when"] = s.When
	}
	return step
}
