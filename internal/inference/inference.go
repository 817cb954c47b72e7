// Package inference computes the data flow of every workflow in a merged
// tree: explicit anchor bindings, literal and expression inputs, edges
// inferred from earlier steps, and the inputs and outputs promoted to each
// workflow's boundary.
package inference

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/cwlexpr"
	"github.com/me/wic/internal/logging"
	"github.com/me/wic/internal/tree"
	"github.com/me/wic/pkg/cwl"
	"github.com/me/wic/pkg/model"
)

// Engine runs edge inference against one set of rule tables.
type Engine struct {
	tables *config.Tables
	logger *slog.Logger
}

// New creates an Engine. Nil tables mean exact type and name matching.
func New(tables *config.Tables, logger *slog.Logger) *Engine {
	if tables == nil {
		tables = config.EmptyTables()
	}
	return &Engine{tables: tables, logger: logging.Component(logger, "inference")}
}

// Infer returns a copy of root with Flow filled in on every workflow
// step. Errors in independent subtrees are accumulated. The same tree
// always yields the same bindings in the same order.
func (e *Engine) Infer(root *tree.Node) (*tree.Node, error) {
	out := tree.Clone(root)
	var errs model.ErrorList
	e.infer(out, true, &errs)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	edges := 0
	tree.Walk(out, func(n *tree.Node) bool {
		if n.Flow != nil {
			edges += len(n.Flow.Bindings)
		}
		return true
	})
	e.logger.Debug("inferred", "root", out.ID.String(), "bindings", edges)
	return out, nil
}

// scope is the state of one workflow while its steps are processed.
type scope struct {
	w        *tree.Node
	root     bool
	flow     *tree.Flow
	declared map[string]bool
	anchors  map[string]tree.Endpoint
	errs     *model.ErrorList
}

func (e *Engine) infer(w *tree.Node, root bool, errs *model.ErrorList) {
	ok := true
	for _, c := range w.Children {
		if c.Kind != tree.WorkflowStep {
			continue
		}
		before := errs.Len()
		e.infer(c, false, errs)
		if errs.Len() > before {
			ok = false
		}
	}
	if !ok {
		return
	}

	s := &scope{
		w:        w,
		root:     root,
		flow:     &tree.Flow{ValueFrom: map[tree.Endpoint]string{}},
		declared: map[string]bool{},
		anchors:  map[string]tree.Endpoint{},
		errs:     errs,
	}
	for _, p := range w.Spec.Inputs {
		s.flow.Inputs = append(s.flow.Inputs, tree.Param{Port: p, Match: p.Name})
		s.declared[p.Name] = true
		s.anchors[p.Name] = tree.Endpoint{Port: p.Name}
	}

	before := errs.Len()
	for i, c := range w.Children {
		e.step(s, i+1, c)
	}
	e.outputs(s)
	if errs.Len() == before {
		w.Flow = s.flow
	}
}

func (s *scope) document() string {
	return s.w.Spec.Path
}

func (s *scope) bind(src, dst tree.Endpoint) {
	s.flow.Bindings = append(s.flow.Bindings, tree.Binding{Source: src, Target: dst})
}

// promote adds a boundary input and returns its name. A name already in
// use gets a numeric suffix.
func (s *scope) promote(p tree.Param) string {
	base := p.Name
	for n := 2; ; n++ {
		if _, taken := s.flow.Input(p.Name); !taken {
			break
		}
		p.Name = fmt.Sprintf("%s_%d", base, n)
	}
	s.flow.Inputs = append(s.flow.Inputs, p)
	return p.Name
}

func promotedName(c *tree.Node, pos int, port string) string {
	return fmt.Sprintf("%s_%d___%s", c.ID.Stem, pos, port)
}

func findParam(params []tree.Param, slot string) (tree.Param, bool) {
	for _, p := range params {
		if p.Name == slot {
			return p, true
		}
	}
	for _, p := range params {
		if p.Match == slot {
			return p, true
		}
	}
	return tree.Param{}, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// anchor binds target to the value published under name. Inside a nested
// workflow an unknown anchor becomes a boundary input resolved by the
// parent; at the root it is a missing input.
func (s *scope) anchor(name string, c *tree.Node, pos int, p tree.Param) {
	target := tree.Endpoint{Step: pos, Port: p.Name}
	if src, ok := s.anchors[name]; ok {
		s.bind(src, target)
		return
	}
	if s.root {
		s.errs.Add(&model.MissingInputError{Document: s.document(), Position: pos, Step: c.Name, Port: p.Name})
		return
	}
	for _, in := range s.flow.Inputs {
		if in.Ref == name {
			s.bind(tree.Endpoint{Port: in.Name}, target)
			return
		}
	}
	port := p.Port
	port.Name = name
	port.Type = c.SinkType(p)
	port.Default = nil
	promoted := s.promote(tree.Param{Port: port, Match: name, Ref: name})
	s.anchors[name] = tree.Endpoint{Port: promoted}
	s.bind(tree.Endpoint{Port: promoted}, target)
}

func (e *Engine) step(s *scope, pos int, c *tree.Node) {
	if c.Kind == tree.WorkflowStep && c.Flow == nil {
		return
	}
	inputs := c.InputParams()
	bound := map[string]bool{}

	in, _ := c.Body["in"].(map[string]any)
	for _, slot := range sortedKeys(in) {
		p, ok := findParam(inputs, slot)
		if !ok {
			s.errs.Add(&model.SchemaValidationError{
				Document: s.document(),
				Position: pos,
				SchemaID: "in",
				Problems: []model.FieldError{{Field: slot, Path: "in/" + slot, Message: fmt.Sprintf("step %s has no input %q", c.Name, slot)}},
			})
			continue
		}
		target := tree.Endpoint{Step: pos, Port: p.Name}
		bound[p.Name] = true
		if str, ok := in[slot].(string); ok {
			if name, ok := strings.CutPrefix(str, "*"); ok {
				s.anchor(name, c, pos, p)
				continue
			}
			if cwlexpr.IsExpression(str) {
				s.flow.ValueFrom[target] = str
				continue
			}
		}
		port := p.Port
		port.Name = promotedName(c, pos, p.Name)
		port.Type = c.SinkType(p)
		name := s.promote(tree.Param{Port: port, Match: p.Match, Value: cwl.FileLiteral(port.Type, in[slot]), HasValue: true})
		s.bind(tree.Endpoint{Port: name}, target)
	}

	// A child's boundary inputs may carry literals or anchors that only
	// this level can satisfy.
	if c.Kind == tree.WorkflowStep {
		for _, p := range inputs {
			if bound[p.Name] {
				continue
			}
			switch {
			case p.HasValue:
				bound[p.Name] = true
				port := p.Port
				port.Name = promotedName(c, pos, p.Name)
				name := s.promote(tree.Param{Port: port, Match: p.Match, Value: p.Value, HasValue: true})
				s.bind(tree.Endpoint{Port: name}, tree.Endpoint{Step: pos, Port: p.Name})
			case p.Ref != "":
				bound[p.Name] = true
				s.anchor(p.Ref, c, pos, p)
			}
		}
	}

	for _, p := range inputs {
		if bound[p.Name] || p.Optional() {
			continue
		}
		target := tree.Endpoint{Step: pos, Port: p.Name}
		sink := c.SinkType(p)
		if src, ok := e.search(s, pos, p.Match, sink); ok {
			s.bind(src, target)
			continue
		}
		if s.root {
			s.errs.Add(&model.MissingInputError{Document: s.document(), Position: pos, Step: c.Name, Port: p.Name})
			continue
		}
		port := p.Port
		port.Name = promotedName(c, pos, p.Name)
		port.Type = sink
		name := s.promote(tree.Param{Port: port, Match: p.Match})
		s.bind(tree.Endpoint{Port: name}, target)
	}

	e.publish(s, pos, c)
}

// search looks for a source for a required slot: outputs of earlier
// siblings, nearest first, then the workflow's declared inputs. A source
// qualifies when its normalized name equals the slot's and its type is
// compatible.
func (e *Engine) search(s *scope, pos int, match, sink string) (tree.Endpoint, bool) {
	want := e.tables.Normalize(match)
	for j := pos - 1; j >= 1; j-- {
		sib := s.w.Children[j-1]
		for _, o := range sib.EffectiveOutputs() {
			if e.tables.Normalize(o.Match) == want && e.tables.Compatible(o.Type, sink) {
				return tree.Endpoint{Step: j, Port: o.Name}, true
			}
		}
	}
	for _, in := range s.flow.Inputs {
		if !s.declared[in.Name] {
			continue
		}
		if e.tables.Normalize(in.Match) == want && e.tables.Compatible(in.Type, sink) {
			return tree.Endpoint{Port: in.Name}, true
		}
	}
	return tree.Endpoint{}, false
}

// publish registers the anchors a step's "out" block declares.
func (e *Engine) publish(s *scope, pos int, c *tree.Node) {
	outs := c.EffectiveOutputs()
	anchors := outAnchors(c.Body["out"])
	ports := make([]string, 0, len(anchors))
	for port := range anchors {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	for _, port := range ports {
		v := anchors[port]
		name, ok := strings.CutPrefix(v, "&")
		if !ok {
			s.errs.Add(&model.SchemaValidationError{
				Document: s.document(), Position: pos, SchemaID: "out",
				Problems: []model.FieldError{{Field: port, Path: "out/" + port, Message: fmt.Sprintf("%q is not an anchor", v)}},
			})
			continue
		}
		p, ok := findParam(outs, port)
		if !ok {
			s.errs.Add(&model.SchemaValidationError{
				Document: s.document(), Position: pos, SchemaID: "out",
				Problems: []model.FieldError{{Field: port, Path: "out/" + port, Message: fmt.Sprintf("step %s has no output %q", c.Name, port)}},
			})
			continue
		}
		s.anchors[name] = tree.Endpoint{Step: pos, Port: p.Name}
	}
}

// outAnchors reads an "out" block given either as a list of single-key
// maps or as one map.
func outAnchors(v any) map[string]string {
	out := map[string]string{}
	add := func(m map[string]any) {
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	switch o := v.(type) {
	case map[string]any:
		add(o)
	case []any:
		for _, item := range o {
			if m, ok := item.(map[string]any); ok {
				add(m)
			}
		}
	}
	return out
}

// outputs fills the workflow boundary: declared outputs read anchors, and
// every child output is promoted so enclosing workflows can infer edges
// from it.
func (e *Engine) outputs(s *scope) {
	for _, decl := range s.w.Spec.Outputs {
		src, ok := s.anchors[decl.Anchor]
		if !ok {
			s.errs.Add(&model.SchemaValidationError{
				Document: s.document(), SchemaID: "outputs",
				Problems: []model.FieldError{{Field: decl.Name, Path: "outputs/" + decl.Name, Message: fmt.Sprintf("undefined anchor %q", decl.Anchor)}},
			})
			continue
		}
		typ := decl.Type
		if typ == "" {
			typ = s.sourceType(src)
		}
		s.flow.Outputs = append(s.flow.Outputs, tree.Param{Port: model.Port{Name: decl.Name, Type: typ}, Match: decl.Name})
		s.bind(src, tree.Endpoint{Port: decl.Name})
	}

	for i, c := range s.w.Children {
		pos := i + 1
		for _, o := range c.EffectiveOutputs() {
			name := promotedName(c, pos, o.Name)
			if _, taken := s.flow.Output(name); taken {
				continue
			}
			port := o.Port
			port.Name = name
			s.flow.Outputs = append(s.flow.Outputs, tree.Param{Port: port, Match: o.Match})
			s.bind(tree.Endpoint{Step: pos, Port: o.Name}, tree.Endpoint{Port: name})
		}
	}
}

func (s *scope) sourceType(src tree.Endpoint) string {
	if src.Step == 0 {
		p, _ := s.flow.Input(src.Port)
		return p.Type
	}
	p, _ := findParam(s.w.Children[src.Step-1].EffectiveOutputs(), src.Port)
	return p.Type
}
