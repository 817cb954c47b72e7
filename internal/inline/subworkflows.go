// Package inline flattens subworkflow boundaries, either in the annotated
// tree before compilation or in compiled CWL documents afterwards.
package inline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/me/wic/internal/parser"
	"github.com/me/wic/internal/tree"
	"github.com/me/wic/pkg/model"
)

// Eligible reports whether the workflow step c may be spliced into its
// parent: it is flagged inlineable, or one of its children scatters over a
// port fed from outside c. Steps that are themselves scattered or
// conditional keep their boundary.
func Eligible(c *tree.Node) bool {
	if c.Kind != tree.WorkflowStep || c.Flow == nil {
		return false
	}
	if slots, _ := c.Scatter(); len(slots) > 0 || c.When() != "" {
		return false
	}
	if c.Inlineable() {
		return true
	}
	for _, b := range c.Flow.Bindings {
		if b.Source.Step != 0 || b.Target.Step == 0 {
			continue
		}
		if c.Children[b.Target.Step-1].Scattered(b.Target.Port) {
			return true
		}
	}
	return false
}

// Subworkflows returns a copy of root with eligible workflow steps spliced
// into their parents, and the number of splices applied. The tree is
// rescanned after every splice since flattening one level can make another
// eligible. The root itself is never inlined.
func Subworkflows(root *tree.Node) (*tree.Node, int, error) {
	out := tree.Clone(root)
	applied := 0
	for {
		w, k := findEligible(out)
		if w == nil {
			return out, applied, nil
		}
		if err := splice(w, k); err != nil {
			return nil, applied, err
		}
		applied++
	}
}

// findEligible returns the first eligible step in post-order as its parent
// and 1-based position.
func findEligible(w *tree.Node) (*tree.Node, int) {
	for _, c := range w.Children {
		if p, k := findEligible(c); p != nil {
			return p, k
		}
	}
	for i, c := range w.Children {
		if Eligible(c) {
			return w, i + 1
		}
	}
	return nil, 0
}

// splice replaces the child at position k of w by that child's own steps.
func splice(w *tree.Node, k int) error {
	c := w.Children[k-1]
	n := len(c.Children)
	if err := checkAnchors(w, k); err != nil {
		return err
	}

	outer := func(pos int) int {
		if pos > k {
			return pos + n - 1
		}
		return pos
	}
	inner := func(pos int) int { return k - 1 + pos }

	// Sources feeding c's boundary inputs, in w coordinates.
	feeds := map[string]tree.Endpoint{}
	for _, b := range w.Flow.Bindings {
		if b.Target.Step == k {
			feeds[b.Target.Port] = b.Source
		}
	}
	// Boundary inputs of c that w leaves unbound rely on their defaults;
	// they move up to w's boundary so the inner consumers keep them.
	inputs := append([]tree.Param(nil), w.Flow.Inputs...)
	for _, p := range c.Flow.Inputs {
		if _, ok := feeds[p.Name]; ok || !consumed(c, p.Name) {
			continue
		}
		carried := p
		carried.Name = carriedName(inputs, c, k, p.Name)
		carried.Value, carried.HasValue, carried.Ref = nil, false, ""
		inputs = append(inputs, carried)
		feeds[p.Name] = tree.Endpoint{Port: carried.Name}
	}
	// Sources of c's boundary outputs, in w coordinates. A pass-through
	// output resolves to whatever fed the matching input.
	results := map[string]tree.Endpoint{}
	for _, b := range c.Flow.Bindings {
		if b.Target.Step != 0 {
			continue
		}
		if b.Source.Step == 0 {
			if src, ok := feeds[b.Source.Port]; ok {
				results[b.Target.Port] = src
			}
			continue
		}
		results[b.Target.Port] = tree.Endpoint{Step: inner(b.Source.Step), Port: b.Source.Port}
	}

	flow := &tree.Flow{
		Inputs:    inputs,
		Outputs:   w.Flow.Outputs,
		ValueFrom: map[tree.Endpoint]string{},
	}
	for _, b := range w.Flow.Bindings {
		switch {
		case b.Target.Step == k:
			// replaced by c's internal bindings below
		case b.Source.Step == k:
			src, ok := results[b.Source.Port]
			if !ok {
				continue
			}
			flow.Bindings = append(flow.Bindings, tree.Binding{Source: src, Target: remap(b.Target, outer)})
		default:
			flow.Bindings = append(flow.Bindings, tree.Binding{Source: remap(b.Source, outer), Target: remap(b.Target, outer)})
		}
	}
	for _, b := range c.Flow.Bindings {
		if b.Target.Step == 0 {
			continue
		}
		target := remap(b.Target, inner)
		if b.Source.Step == 0 {
			src, ok := feeds[b.Source.Port]
			if !ok {
				continue
			}
			flow.Bindings = append(flow.Bindings, tree.Binding{Source: src, Target: target})
			continue
		}
		flow.Bindings = append(flow.Bindings, tree.Binding{Source: remap(b.Source, inner), Target: target})
	}

	for ep, expr := range c.Flow.ValueFrom {
		flow.ValueFrom[remap(ep, inner)] = expr
	}
	for ep, expr := range w.Flow.ValueFrom {
		if ep.Step != k {
			flow.ValueFrom[remap(ep, outer)] = expr
			continue
		}
		// An expression on c's boundary input moves to every consumer.
		for _, b := range c.Flow.Bindings {
			if b.Source != (tree.Endpoint{Port: ep.Port}) || b.Target.Step == 0 {
				continue
			}
			target := remap(b.Target, inner)
			if _, clash := flow.ValueFrom[target]; clash {
				return &model.InliningConflictError{
					Document: w.Path(), Position: k, Step: c.Name,
					Name: target.Port, Reason: "conflicting valueFrom on input",
				}
			}
			flow.ValueFrom[target] = expr
		}
	}

	children := make([]*tree.Node, 0, len(w.Children)+n-1)
	children = append(children, w.Children[:k-1]...)
	children = append(children, c.Children...)
	children = append(children, w.Children[k:]...)

	rekeyOverrides(w, c, k, n)
	for i, ch := range children {
		ch.Position = i + 1
	}
	w.Children = children
	w.Flow = flow
	return nil
}

// consumed reports whether any binding inside c reads its boundary input.
func consumed(c *tree.Node, name string) bool {
	for _, b := range c.Flow.Bindings {
		if b.Source == (tree.Endpoint{Port: name}) {
			return true
		}
	}
	return false
}

// carriedName names c's boundary input as an input of its parent, avoiding
// the parent's existing inputs.
func carriedName(inputs []tree.Param, c *tree.Node, k int, port string) string {
	base := fmt.Sprintf("%s_%d___%s", c.ID.Stem, k, port)
	taken := func(name string) bool {
		for _, p := range inputs {
			if p.Name == name {
				return true
			}
		}
		return false
	}
	name := base
	for i := 2; taken(name); i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	return name
}

func remap(e tree.Endpoint, fn func(int) int) tree.Endpoint {
	if e.Step == 0 {
		return e
	}
	return tree.Endpoint{Step: fn(e.Step), Port: e.Port}
}

// checkAnchors rejects a splice that would put two steps publishing the
// same anchor into one workflow.
func checkAnchors(w *tree.Node, k int) error {
	c := w.Children[k-1]
	seen := map[string]bool{}
	for i, s := range w.Children {
		if i == k-1 {
			continue
		}
		for _, a := range published(s) {
			seen[a] = true
		}
	}
	for _, s := range c.Children {
		for _, a := range published(s) {
			if seen[a] {
				return &model.InliningConflictError{
					Document: w.Path(), Position: k, Step: c.Name,
					Name: a, Reason: "anchor already defined",
				}
			}
		}
	}
	return nil
}

// published lists the anchors declared by a step's "out" block, sorted.
func published(n *tree.Node) []string {
	var anchors []string
	collect := func(m map[string]any) {
		for _, v := range m {
			if s, ok := v.(string); ok && strings.HasPrefix(s, "&") {
				anchors = append(anchors, s[1:])
			}
		}
	}
	switch o := n.Body["out"].(type) {
	case map[string]any:
		collect(o)
	case []any:
		for _, item := range o {
			if m, ok := item.(map[string]any); ok {
				collect(m)
			}
		}
	}
	sort.Strings(anchors)
	return anchors
}

// rekeyOverrides keeps w's override block addressable after the splice:
// entries for later siblings shift, c's own entries move into w.
func rekeyOverrides(w, c *tree.Node, k, n int) {
	wic := w.Wic()
	if wic == nil {
		wic = map[string]any{}
		w.Body["wic"] = wic
	}
	old, _ := wic["steps"].(map[string]any)
	steps := map[string]any{}
	for i, ch := range w.Children {
		pos := i + 1
		if pos == k {
			continue
		}
		entry, ok := old[ch.Key()]
		if !ok {
			continue
		}
		if pos > k {
			pos += n - 1
		}
		steps[parser.StepKey(pos, ch.Name)] = entry
	}
	inner, _ := c.Wic()["steps"].(map[string]any)
	for i, ch := range c.Children {
		if entry, ok := inner[ch.Key()]; ok {
			steps[parser.StepKey(k+i, ch.Name)] = entry
		}
	}
	if len(steps) > 0 {
		wic["steps"] = steps
	} else {
		delete(wic, "steps")
	}
}
