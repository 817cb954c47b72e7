package inline

import (
	"slices"
	"strings"

	"github.com/me/wic/internal/compiler"
	"github.com/me/wic/internal/tree"
	"github.com/me/wic/pkg/cwl"
	"github.com/me/wic/pkg/model"
)

// CWL flattens eligible subworkflow steps in compiled documents, the same
// transformation Subworkflows applies to the tree. Compiled nodes are
// shared between identical subtrees, so rewritten nodes are copies and the
// input is left untouched.
func CWL(result *compiler.ResultTree) (*compiler.ResultTree, int, error) {
	f := &flattener{done: map[*compiler.CompiledNode]*compiler.CompiledNode{}}
	root, err := f.flatten(result.Root)
	if err != nil {
		return nil, f.applied, err
	}
	return &compiler.ResultTree{Root: root, InputValues: result.InputValues}, f.applied, nil
}

type flattener struct {
	done    map[*compiler.CompiledNode]*compiler.CompiledNode
	applied int
}

func (f *flattener) flatten(n *compiler.CompiledNode) (*compiler.CompiledNode, error) {
	if n.Kind != tree.WorkflowStep {
		return n, nil
	}
	if out, ok := f.done[n]; ok {
		return out, nil
	}

	cp := *n
	cp.Children = make([]*compiler.CompiledNode, len(n.Children))
	for i, ch := range n.Children {
		fc, err := f.flatten(ch)
		if err != nil {
			return nil, err
		}
		cp.Children[i] = fc
	}
	cp.Workflow = copyWorkflow(n.Workflow)

	for {
		i := eligibleStep(&cp)
		if i < 0 {
			break
		}
		if err := spliceCWL(&cp, i); err != nil {
			return nil, err
		}
		f.applied++
	}
	f.done[n] = &cp
	return &cp, nil
}

func copyWorkflow(wf *cwl.Workflow) *cwl.Workflow {
	c := *wf
	c.Requirements = slices.Clone(wf.Requirements)
	c.Inputs = slices.Clone(wf.Inputs)
	c.Outputs = slices.Clone(wf.Outputs)
	c.Steps = make([]cwl.Step, len(wf.Steps))
	for i, s := range wf.Steps {
		s.In = slices.Clone(s.In)
		s.Out = slices.Clone(s.Out)
		s.Scatter = slices.Clone(s.Scatter)
		c.Steps[i] = s
	}
	return &c
}

// eligibleStep returns the index of the first step of n that may be
// flattened, or -1.
func eligibleStep(n *compiler.CompiledNode) int {
	for i, ch := range n.Children {
		if ch.Kind != tree.WorkflowStep {
			continue
		}
		step := n.Workflow.Steps[i]
		if len(step.Scatter) > 0 || step.When != "" {
			continue
		}
		if ch.Inlineable || scattersBoundary(ch.Workflow) {
			return i
		}
	}
	return -1
}

// scattersBoundary reports whether some step of wf scatters over a slot
// fed directly by a workflow input.
func scattersBoundary(wf *cwl.Workflow) bool {
	for _, s := range wf.Steps {
		for _, slot := range s.Scatter {
			for _, in := range s.In {
				if in.ID == slot && in.Source != "" && !strings.Contains(in.Source, "/") {
					return true
				}
			}
		}
	}
	return false
}

// spliceCWL replaces step i of n by the steps of its subworkflow.
func spliceCWL(n *compiler.CompiledNode, i int) error {
	wf := n.Workflow
	child := n.Children[i]
	sub := child.Workflow
	outerStep := wf.Steps[i]
	k := len(sub.Steps)

	children := make([]*compiler.CompiledNode, 0, len(n.Children)+k-1)
	children = append(children, n.Children[:i]...)
	children = append(children, child.Children...)
	children = append(children, n.Children[i+1:]...)

	outerIDs := map[string]string{}
	for j, s := range wf.Steps {
		switch {
		case j < i:
			outerIDs[s.ID] = compiler.StepName(j+1, n.Children[j].StepID)
		case j > i:
			outerIDs[s.ID] = compiler.StepName(j+k, n.Children[j].StepID)
		}
	}
	innerIDs := map[string]string{}
	for j, s := range sub.Steps {
		innerIDs[s.ID] = compiler.StepName(i+j+1, child.Children[j].StepID)
	}

	feeds := map[string]cwl.StepInput{}
	for _, in := range outerStep.In {
		feeds[in.ID] = in
	}
	subOutputs := map[string]string{}
	for _, o := range sub.Outputs {
		subOutputs[o.ID] = o.OutputSource
	}

	var outer, inner func(src string) string
	outer = func(src string) string {
		stepID, port, ok := strings.Cut(src, "/")
		if !ok {
			return src
		}
		if stepID == outerStep.ID {
			return inner(subOutputs[port])
		}
		return outerIDs[stepID] + "/" + port
	}
	inner = func(src string) string {
		stepID, port, ok := strings.Cut(src, "/")
		if ok {
			return innerIDs[stepID] + "/" + port
		}
		feed, bound := feeds[src]
		if !bound || feed.Source == "" {
			return ""
		}
		return outer(feed.Source)
	}

	steps := make([]cwl.Step, 0, len(wf.Steps)+k-1)
	for j, s := range wf.Steps[:i] {
		steps = append(steps, rewriteStep(s, compiler.StepName(j+1, n.Children[j].StepID), outer))
	}
	for _, s := range sub.Steps {
		s.ID = innerIDs[s.ID]
		var ins []cwl.StepInput
		for _, in := range s.In {
			if in.Source != "" && !strings.Contains(in.Source, "/") {
				feed, bound := feeds[in.Source]
				if feed.ValueFrom != "" {
					if in.ValueFrom != "" {
						return &model.InliningConflictError{
							Document: child.Document, Position: i + 1, Step: outerStep.ID,
							Name: in.ID, Reason: "conflicting valueFrom on input",
						}
					}
					in.ValueFrom = feed.ValueFrom
				}
				if !bound {
					if p, ok := sub.Input(in.Source); ok && in.Default == nil {
						in.Default = p.Default
					}
				}
			}
			in.Source = inner(in.Source)
			if in.Source == "" && in.ValueFrom == "" && in.Default == nil {
				continue
			}
			ins = append(ins, in)
		}
		s.In = ins
		steps = append(steps, s)
	}
	for j, s := range wf.Steps[i+1:] {
		pos := i + 1 + j
		steps = append(steps, rewriteStep(s, compiler.StepName(pos+k, n.Children[pos].StepID), outer))
	}

	for j, o := range wf.Outputs {
		wf.Outputs[j].OutputSource = outer(o.OutputSource)
	}
	for _, r := range sub.Requirements {
		wf.AddRequirement(r)
	}
	wf.Steps = steps
	n.Children = children

	nested := false
	for _, ch := range children {
		if ch.Kind == tree.WorkflowStep {
			nested = true
		}
	}
	if !nested {
		wf.Requirements = slices.DeleteFunc(wf.Requirements, func(r string) bool {
			return r == cwl.SubworkflowFeatureRequirement
		})
	}
	return nil
}

func rewriteStep(s cwl.Step, id string, outer func(string) string) cwl.Step {
	s.ID = id
	ins := make([]cwl.StepInput, 0, len(s.In))
	for _, in := range s.In {
		if in.Source != "" {
			in.Source = outer(in.Source)
			if in.Source == "" && in.ValueFrom == "" && in.Default == nil {
				continue
			}
		}
		ins = append(ins, in)
	}
	s.In = ins
	return s
}
