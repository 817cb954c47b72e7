package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/me/wic/internal/parser"
	"github.com/me/wic/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCatalog() *model.Catalog {
	cat := model.NewCatalog()
	cat.AddTool(&model.ToolDef{
		ID:    model.StepID{Stem: "minimize", Namespace: "global"},
		Path:  "minimize.cwl",
		Label: "Energy minimization",
		Inputs: []model.Port{
			{Name: "input", Type: "File", Label: "structure"},
			{Name: "nsteps", Type: "int", Doc: "number of steps"},
		},
		Outputs: []model.Port{{Name: "result", Type: "File"}},
	})
	cat.AddSpec(model.SpecRef{ID: model.StepID{Stem: "sub", Namespace: "global"}, Path: "sub.yml"})
	return cat
}

func testValidator(t *testing.T) *Validator {
	t.Helper()
	store := NewStore()
	specs := parser.NewMapLoader(parser.New(testLogger()), map[string][]byte{
		"sub.yml": []byte("inputs:\n  pdb: File\nsteps: [minimize]\n"),
	})
	if err := NewGenerator(testLogger()).Generate(testCatalog(), specs, store); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	v, err := NewValidator(store, MainID)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestGenerate_RegistersAll(t *testing.T) {
	store := NewStore()
	if err := NewGenerator(testLogger()).Generate(testCatalog(), nil, store); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []string{
		"tools/global/minimize.json",
		"wic.json",
		"wic_tag.json",
		"workflows/global/sub.json",
	}
	got := store.IDs()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("IDs = %v, want %v", got, want)
	}

	tool, _ := store.Get("tools/global/minimize.json")
	in := tool["properties"].(map[string]any)["in"].(map[string]any)["properties"].(map[string]any)
	if _, ok := in["input"].(map[string]any)["anyOf"]; ok {
		t.Error("File inputs must not carry a type constraint")
	}
	if in["nsteps"].(map[string]any)["description"] != "number of steps" {
		t.Errorf("nsteps = %v", in["nsteps"])
	}

	tag, _ := store.Get(TagID)
	if tag["$dynamicAnchor"] != "wic" {
		t.Error("tag schema must declare the dynamic anchor")
	}
}

func TestGenerate_DuplicateRejected(t *testing.T) {
	store := NewStore()
	g := NewGenerator(testLogger())
	if err := g.Generate(testCatalog(), nil, store); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	err := g.Generate(testCatalog(), nil, store)
	var sre *model.SchemaRegistrationError
	if !errors.As(err, &sre) {
		t.Fatalf("err = %v, want SchemaRegistrationError", err)
	}
}

func TestStore_ConcurrentRegister(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup
	errs := make([]error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Register(fmt.Sprintf("id-%d", i%25), map[string]any{})
		}(i)
	}
	wg.Wait()
	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if store.Len() != 25 || failed != 25 {
		t.Errorf("Len = %d, failed = %d, want 25/25", store.Len(), failed)
	}
}

func TestValidator_Accepts(t *testing.T) {
	v := testValidator(t)
	doc := map[string]any{
		"inputs": map[string]any{"pdb": "File"},
		"steps": []any{
			"minimize",
			map[string]any{"minimize": map[string]any{
				"in":      map[string]any{"nsteps": 5, "input": "*pdb"},
				"out":     []any{map[string]any{"result": "&min"}},
				"outputs": map[string]any{"result": map[string]any{"label": "Minimized"}},
			}},
			map[string]any{"global::minimize": nil},
			map[string]any{"sub.yml": map[string]any{"in": map[string]any{"pdb": "*min", "anything": 1}}},
		},
		"wic": map[string]any{
			"namespace": "global",
			"steps": map[string]any{
				"(2, minimize)": map[string]any{
					"outputs": map[string]any{"result": map[string]any{"doc": "relaxed structure"}},
				},
				"(4, sub.yml)": map[string]any{
					"wic": map[string]any{"inlineable": true, "steps": map[string]any{
						"(1, minimize)": map[string]any{"in": map[string]any{"nsteps": 10}},
					}},
				},
			},
		},
	}
	if err := v.Validate("main.yml", doc); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidator_Rejects(t *testing.T) {
	v := testValidator(t)
	tests := []struct {
		name string
		doc  map[string]any
	}{
		{"missing steps", map[string]any{}},
		{"wrong literal type", map[string]any{"steps": []any{
			map[string]any{"minimize": map[string]any{"in": map[string]any{"nsteps": "many"}}},
		}}},
		{"unknown port", map[string]any{"steps": []any{
			map[string]any{"minimize": map[string]any{"in": map[string]any{"bogus": 1}}},
		}}},
		{"unknown output", map[string]any{"steps": []any{
			map[string]any{"minimize": map[string]any{"out": []any{map[string]any{"nope": "&x"}}}},
		}}},
		{"unknown step object", map[string]any{"steps": []any{
			map[string]any{"align": map[string]any{}},
		}}},
		{"bad nested override", map[string]any{"steps": []any{}, "wic": map[string]any{
			"steps": map[string]any{"(1, sub.yml)": map[string]any{"wic": map[string]any{"bogus": true}}},
		}}},
		{"bad override key", map[string]any{"steps": []any{}, "wic": map[string]any{
			"steps": map[string]any{"minimize": map[string]any{}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate("main.yml", tt.doc)
			var sve *model.SchemaValidationError
			if !errors.As(err, &sve) {
				t.Fatalf("err = %v, want SchemaValidationError", err)
			}
			if sve.Document != "main.yml" || len(sve.Problems) == 0 {
				t.Errorf("sve = %+v", sve)
			}
		})
	}
}

func TestStore_WriteDir(t *testing.T) {
	store := NewStore()
	if err := NewGenerator(testLogger()).Generate(testCatalog(), nil, store); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	dir := t.TempDir()
	written, err := store.WriteDir(dir)
	if err != nil {
		t.Fatalf("WriteDir: %v", err)
	}
	if len(written) != store.Len() {
		t.Errorf("written %d, want %d", len(written), store.Len())
	}
	data, err := os.ReadFile(filepath.Join(dir, "tools", "global", "minimize.json"))
	if err != nil {
		t.Fatalf("read tool schema: %v", err)
	}
	if !strings.Contains(string(data), `"$id": "`+URL("tools/global/minimize.json")+`"`) {
		t.Errorf("tool schema = %s", data)
	}
}
