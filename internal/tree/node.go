// Package tree holds the resolved workflow tree: the tagged step variant,
// the resolver that links documents into a tree, the override merger and
// the data-flow annotations filled in by inference.
package tree

import (
	"fmt"
	"strings"

	"github.com/mohae/deepcopy"

	"github.com/me/wic/internal/parser"
	"github.com/me/wic/pkg/cwl"
	"github.com/me/wic/pkg/model"
)

// Kind tags a Node as a tool step or a workflow step.
type Kind int

const (
	ToolStep Kind = iota + 1
	WorkflowStep
)

func (k Kind) String() string {
	switch k {
	case ToolStep:
		return "tool"
	case WorkflowStep:
		return "workflow"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Node is one step of the resolved tree. ToolStep nodes reference a catalog
// definition and have no children; WorkflowStep nodes reference a parsed
// document and own its steps in declared order.
type Node struct {
	Kind     Kind
	ID       model.StepID
	Name     string // declared name as written in the parent's step list
	Position int    // 1-based position in the parent, 0 for the root
	Document string // document declaring this step

	// Body is the override block: the explicit step body, plus under "wic"
	// the document's own override block for workflow steps.
	Body map[string]any

	Tool    *model.ToolDef // ToolStep
	Inputs  []model.Port   // ToolStep ports after merging with the catalog
	Outputs []model.Port

	Spec     *parser.Spec // WorkflowStep
	Children []*Node
	Flow     *Flow // filled by inference
}

// Key is the override key "(position, name)" addressing this node in its
// parent's override block.
func (n *Node) Key() string {
	return parser.StepKey(n.Position, n.Name)
}

// Wic returns the node's override block, or nil.
func (n *Node) Wic() map[string]any {
	m, _ := n.Body["wic"].(map[string]any)
	return m
}

// Path returns the tool or document path behind the node.
func (n *Node) Path() string {
	if n.Kind == ToolStep && n.Tool != nil {
		return n.Tool.Path
	}
	if n.Spec != nil {
		return n.Spec.Path
	}
	return ""
}

// Inlineable reports whether the override block requests inlining.
func (n *Node) Inlineable() bool {
	b, _ := n.Wic()["inlineable"].(bool)
	return b
}

// Param is a port as seen from the enclosing workflow.
type Param struct {
	model.Port
	Match    string // name used for name matching and anchor lookup
	Value    any    // literal carried toward the root input-values document
	HasValue bool
	Ref      string // anchor to resolve in the enclosing workflow
}

// Endpoint names a port on child Step (1-based) or, for Step 0, on the
// enclosing workflow's boundary.
type Endpoint struct {
	Step int
	Port string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d/%s", e.Step, e.Port)
}

// Binding connects a source port to a sink port.
type Binding struct {
	Source Endpoint
	Target Endpoint
}

// Flow is the data flow of a workflow step after inference.
type Flow struct {
	Inputs    []Param
	Outputs   []Param
	Bindings  []Binding
	ValueFrom map[Endpoint]string
}

// Input returns the named boundary input.
func (f *Flow) Input(name string) (Param, bool) {
	for _, p := range f.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Output returns the named boundary output.
func (f *Flow) Output(name string) (Param, bool) {
	for _, p := range f.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// SourceOf returns the binding feeding target.
func (f *Flow) SourceOf(target Endpoint) (Endpoint, bool) {
	for _, b := range f.Bindings {
		if b.Target == target {
			return b.Source, true
		}
	}
	return Endpoint{}, false
}

func portParams(ports []model.Port) []Param {
	out := make([]Param, len(ports))
	for i, p := range ports {
		out[i] = Param{Port: p, Match: p.Name}
	}
	return out
}

// InputParams returns the inputs the node exposes to its parent.
func (n *Node) InputParams() []Param {
	if n.Kind == ToolStep {
		return portParams(n.Inputs)
	}
	if n.Flow != nil {
		return n.Flow.Inputs
	}
	return nil
}

// OutputParams returns the outputs the node exposes to its parent, before
// scatter is applied.
func (n *Node) OutputParams() []Param {
	if n.Kind == ToolStep {
		return portParams(n.Outputs)
	}
	if n.Flow != nil {
		return n.Flow.Outputs
	}
	return nil
}

// Scatter returns the scattered slots and scatter method from the body.
func (n *Node) Scatter() ([]string, string) {
	var slots []string
	switch v := n.Body["scatter"].(type) {
	case string:
		slots = []string{v}
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				slots = append(slots, str)
			}
		}
	}
	method, _ := n.Body["scatterMethod"].(string)
	return slots, method
}

// Scattered reports whether slot is scattered.
func (n *Node) Scattered(slot string) bool {
	slots, _ := n.Scatter()
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}

// When returns the conditional expression from the body.
func (n *Node) When() string {
	w, _ := n.Body["when"].(string)
	return w
}

// SinkType is the type a source must have to feed slot, accounting for
// scatter.
func (n *Node) SinkType(p Param) string {
	if n.Scattered(p.Name) {
		return cwl.ArrayOf(p.Type)
	}
	return p.Type
}

// EffectiveOutputs returns the node's outputs with scatter applied.
func (n *Node) EffectiveOutputs() []Param {
	params := n.OutputParams()
	slots, method := n.Scatter()
	if len(slots) == 0 {
		return params
	}
	out := make([]Param, len(params))
	for i, p := range params {
		p.Type = cwl.ScatteredType(p.Type, len(slots), method)
		out[i] = p
	}
	return out
}

// Walk visits n and its descendants in pre-order until fn returns false.
func Walk(n *Node, fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !Walk(c, fn) {
			return false
		}
	}
	return true
}

// Count returns the number of nodes in the tree.
func Count(n *Node) int {
	total := 0
	Walk(n, func(*Node) bool { total++; return true })
	return total
}

// Clone deep-copies the tree. Catalog definitions and parsed documents
// are shared.
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Body = copyMap(n.Body)
	c.Inputs = append([]model.Port(nil), n.Inputs...)
	c.Outputs = append([]model.Port(nil), n.Outputs...)
	c.Flow = n.Flow.clone()
	c.Children = make([]*Node, len(n.Children))
	for i, ch := range n.Children {
		c.Children[i] = Clone(ch)
	}
	return &c
}

func (f *Flow) clone() *Flow {
	if f == nil {
		return nil
	}
	c := &Flow{
		Inputs:    append([]Param(nil), f.Inputs...),
		Outputs:   append([]Param(nil), f.Outputs...),
		Bindings:  append([]Binding(nil), f.Bindings...),
		ValueFrom: make(map[Endpoint]string, len(f.ValueFrom)),
	}
	for k, v := range f.ValueFrom {
		c.ValueFrom[k] = v
	}
	for i := range c.Inputs {
		if c.Inputs[i].HasValue {
			c.Inputs[i].Value = deepcopy.Copy(c.Inputs[i].Value)
		}
	}
	return c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return deepcopy.Copy(m).(map[string]any)
}

// Label returns a human readable name for logs and graph labels.
func (n *Node) Label() string {
	if gv, ok := n.Wic()["graphviz"].(map[string]any); ok {
		if l, ok := gv["label"].(string); ok && l != "" {
			return l
		}
	}
	return strings.TrimSuffix(n.ID.Stem, ".yml")
}
