package inline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/me/wic/internal/catalog"
	"github.com/me/wic/internal/compiler"
	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/inference"
	"github.com/me/wic/internal/logging"
	"github.com/me/wic/internal/parser"
	"github.com/me/wic/internal/tree"
	"github.com/me/wic/pkg/cwl"
	"github.com/me/wic/pkg/model"
)

const (
	basicDir  = "../../testdata/basic"
	tablesDir = "../../testdata/tables"
)

func testTables(t *testing.T) *config.Tables {
	t.Helper()
	rules, err := os.Open(filepath.Join(tablesDir, "inference_rules.txt"))
	if err != nil {
		t.Fatalf("open rules: %v", err)
	}
	defer rules.Close()
	conv, err := os.Open(filepath.Join(tablesDir, "renaming_conventions.txt"))
	if err != nil {
		t.Fatalf("open conventions: %v", err)
	}
	defer conv.Close()
	tables, err := config.ParseTables(rules, conv)
	if err != nil {
		t.Fatalf("ParseTables: %v", err)
	}
	return tables
}

func annotated(t *testing.T, tables *config.Tables, name string) *tree.Node {
	t.Helper()
	logger := logging.Discard()
	p := parser.New(logger)
	src := []catalog.Source{{Namespace: model.DefaultNamespace, Dir: basicDir}}
	cat, _, err := catalog.NewDiscoverer(p, logger, 2).Discover(context.Background(), src, src)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	root, err := tree.NewResolver(cat, parser.NewFileLoader(p), nil, logger).Resolve(filepath.Join(basicDir, name))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	merged, err := tree.Merge(root, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	inferred, err := inference.New(tables, logger).Infer(merged)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	return inferred
}

func compile(t *testing.T, tables *config.Tables, root *tree.Node) *compiler.ResultTree {
	t.Helper()
	c, err := compiler.New(tables, compiler.Options{Parallelism: 2}, logging.Discard())
	if err != nil {
		t.Fatalf("compiler.New: %v", err)
	}
	result, err := c.Compile(context.Background(), root)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return result
}

func hasBinding(f *tree.Flow, src, dst tree.Endpoint) bool {
	for _, b := range f.Bindings {
		if b.Source == src && b.Target == dst {
			return true
		}
	}
	return false
}

func TestSubworkflows_Inlineable(t *testing.T) {
	tables := testTables(t)
	root := annotated(t, tables, "main.yml")
	out, applied, err := Subworkflows(root)
	if err != nil {
		t.Fatalf("Subworkflows: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if len(out.Children) != 4 {
		t.Fatalf("children = %d, want 4", len(out.Children))
	}
	for i, c := range out.Children {
		if c.Kind != tree.ToolStep {
			t.Errorf("child %d is still a %s", i+1, c.Kind)
		}
		if c.Position != i+1 {
			t.Errorf("child %d position = %d", i+1, c.Position)
		}
	}

	f := out.Flow
	for _, b := range []tree.Binding{
		{Source: tree.Endpoint{Step: 1, Port: "result"}, Target: tree.Endpoint{Step: 2, Port: "input"}},
		{Source: tree.Endpoint{Port: "inl_2___minimize_1___nsteps"}, Target: tree.Endpoint{Step: 2, Port: "nsteps"}},
		{Source: tree.Endpoint{Step: 2, Port: "result"}, Target: tree.Endpoint{Step: 3, Port: "input"}},
		{Source: tree.Endpoint{Step: 2, Port: "result"}, Target: tree.Endpoint{Step: 4, Port: "input"}},
	} {
		if !hasBinding(f, b.Source, b.Target) {
			t.Errorf("missing binding %s -> %s in %v", b.Source, b.Target, f.Bindings)
		}
	}
	for _, b := range f.Bindings {
		if b.Source.Step > 4 || b.Target.Step > 4 {
			t.Errorf("dangling binding %v", b)
		}
	}

	steps, _ := out.Wic()["steps"].(map[string]any)
	if _, ok := steps["(2, inl.yml)"]; ok {
		t.Error("override entry for the inlined step survived")
	}
	if _, ok := steps["(2, minimize)"]; !ok {
		t.Errorf("override entries = %v", steps)
	}

	if root.Children[1].Kind != tree.WorkflowStep {
		t.Error("Subworkflows modified its input")
	}

	result := compile(t, tables, out)
	ids := []string{"s1__global__setup", "s2__global__minimize", "s3__global__minimize", "s4__global__analyze"}
	for i, s := range result.Root.Workflow.Steps {
		if s.ID != ids[i] {
			t.Errorf("step %d = %q, want %q", i+1, s.ID, ids[i])
		}
	}
}

func TestSubworkflows_CountsEveryInlineable(t *testing.T) {
	tables := testTables(t)
	_, applied, err := Subworkflows(annotated(t, tables, "dup.yml"))
	if err != nil {
		t.Fatalf("Subworkflows: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
}

func TestSubworkflows_ScatterChain(t *testing.T) {
	tables := testTables(t)
	out, applied, err := Subworkflows(annotated(t, tables, "scatter_outer.yml"))
	if err != nil {
		t.Fatalf("Subworkflows: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
	if len(out.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(out.Children))
	}
	if !hasBinding(out.Flow, tree.Endpoint{Step: 1, Port: "items"}, tree.Endpoint{Step: 2, Port: "items"}) {
		t.Errorf("bindings = %v", out.Flow.Bindings)
	}
	if out.Flow.ValueFrom[tree.Endpoint{Step: 2, Port: "label"}] == "" {
		t.Errorf("valueFrom = %v", out.Flow.ValueFrom)
	}
	if !out.Children[1].Scattered("items") {
		t.Error("scatter lost")
	}
}

func TestSubworkflows_AnchorConflict(t *testing.T) {
	tables := testTables(t)
	_, _, err := Subworkflows(annotated(t, tables, "conflict.yml"))
	var ie *model.InliningConflictError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want InliningConflictError", err)
	}
	if ie.Name != "m1" {
		t.Errorf("name = %q", ie.Name)
	}
}

func TestSubworkflows_DefaultedInput(t *testing.T) {
	tables := testTables(t)
	root := annotated(t, tables, "defaults_main.yml")
	out, applied, err := Subworkflows(root)
	if err != nil {
		t.Fatalf("Subworkflows: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}

	const carried = "defaults_sub_1___pdb"
	in, ok := out.Flow.Input(carried)
	if !ok {
		t.Fatalf("inputs = %+v, want %s", out.Flow.Inputs, carried)
	}
	want := map[string]any{"class": "File", "location": "protein.pdb"}
	if !reflect.DeepEqual(in.Default, want) {
		t.Errorf("default = %v, want %v", in.Default, want)
	}
	if !hasBinding(out.Flow, tree.Endpoint{Port: carried}, tree.Endpoint{Step: 1, Port: "pdb"}) {
		t.Errorf("bindings = %v", out.Flow.Bindings)
	}
	if _, ok := root.Flow.Input(carried); ok {
		t.Error("Subworkflows modified its input")
	}

	// Both inlining passes must hand the same default to the setup step.
	wf := compile(t, tables, out).Root.Workflow
	wfIn, ok := wf.Input(carried)
	if !ok || !reflect.DeepEqual(wfIn.Default, want) {
		t.Errorf("workflow input %s = %+v", carried, wfIn)
	}
	setup, ok := wf.Step("s1__global__setup")
	if !ok || len(setup.In) != 1 || setup.In[0].Source != carried {
		t.Fatalf("setup step = %+v", setup)
	}

	viaCWL, _, err := CWL(compile(t, tables, root))
	if err != nil {
		t.Fatalf("CWL: %v", err)
	}
	cwlSetup, ok := viaCWL.Root.Workflow.Step("s1__global__setup")
	if !ok || len(cwlSetup.In) != 1 || !reflect.DeepEqual(cwlSetup.In[0].Default, want) {
		t.Errorf("post-compile setup step = %+v", cwlSetup)
	}
}

func TestCWL_Inlineable(t *testing.T) {
	tables := testTables(t)
	compiled := compile(t, tables, annotated(t, tables, "main.yml"))
	out, applied, err := CWL(compiled)
	if err != nil {
		t.Fatalf("CWL: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}

	wf := out.Root.Workflow
	if len(wf.Steps) != 4 {
		t.Fatalf("steps = %d, want 4", len(wf.Steps))
	}
	if len(compiled.Root.Workflow.Steps) != 3 {
		t.Error("CWL modified its input")
	}

	sources := map[string]map[string]string{}
	for _, s := range wf.Steps {
		sources[s.ID] = map[string]string{}
		for _, in := range s.In {
			sources[s.ID][in.ID] = in.Source
		}
	}
	checks := []struct{ step, port, want string }{
		{"s2__global__minimize", "input", "s1__global__setup/result"},
		{"s2__global__minimize", "nsteps", "inl_2___minimize_1___nsteps"},
		{"s3__global__minimize", "input", "s2__global__minimize/result"},
		{"s4__global__analyze", "input", "s2__global__minimize/result"},
	}
	for _, c := range checks {
		if got := sources[c.step][c.port]; got != c.want {
			t.Errorf("%s/%s source = %q, want %q", c.step, c.port, got, c.want)
		}
	}
	for _, r := range wf.Requirements {
		if r == cwl.SubworkflowFeatureRequirement {
			t.Error("SubworkflowFeatureRequirement kept without subworkflows")
		}
	}
	if apiErr := parser.NewValidator(logging.Discard()).Validate(wf); apiErr != nil {
		t.Errorf("inlined workflow invalid: %v", apiErr.Details)
	}
}

func TestCWL_ScatterChain(t *testing.T) {
	tables := testTables(t)
	out, applied, err := CWL(compile(t, tables, annotated(t, tables, "scatter_outer.yml")))
	if err != nil {
		t.Fatalf("CWL: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
	wf := out.Root.Workflow
	if len(wf.Steps) != 2 {
		t.Fatalf("steps = %d", len(wf.Steps))
	}
	step := wf.Steps[1]
	if step.ID != "s2__global__scatterme" || len(step.Scatter) != 1 {
		t.Errorf("step = %+v", step)
	}
	for _, in := range step.In {
		if in.ID == "items" && in.Source != "s1__global__listfiles/items" {
			t.Errorf("items source = %q", in.Source)
		}
	}
}
