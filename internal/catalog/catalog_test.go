package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/me/wic/internal/parser"
	"github.com/me/wic/pkg/model"
)

func testDiscoverer() *Discoverer {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewDiscoverer(parser.New(logger), logger, 4)
}

const toolDoc = `class: CommandLineTool
inputs:
  input: File
outputs:
  result: File
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "tools", "a.cwl"), toolDoc)
	writeFile(t, filepath.Join(root, "tools", "nested", "b.cwl"), toolDoc)
	writeFile(t, filepath.Join(root, "tools", "legacy", "a.cwl"), toolDoc)
	writeFile(t, filepath.Join(root, "tools", "broken.cwl"), "class: [")
	writeFile(t, filepath.Join(root, "wf", "main.yml"), "steps: [a]\n")
	writeFile(t, filepath.Join(root, "wf", "main_inputs.yml"), "pdb: x\n")
	writeFile(t, filepath.Join(root, "cwl_dirs.txt"), "global tools\n")
	writeFile(t, filepath.Join(root, "yml_dirs.txt"), "global wf\nother missing\n")

	toolSrc, err := SourcesFromFile(filepath.Join(root, "cwl_dirs.txt"), nil)
	if err != nil {
		t.Fatalf("SourcesFromFile: %v", err)
	}
	specSrc, err := SourcesFromFile(filepath.Join(root, "yml_dirs.txt"), nil)
	if err != nil {
		t.Fatalf("SourcesFromFile: %v", err)
	}

	cat, warns, err := testDiscoverer().Discover(context.Background(), toolSrc, specSrc)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	a, ok := cat.Tool(model.StepID{Stem: "a", Namespace: "global"})
	if !ok {
		t.Fatal("tool a missing")
	}
	if a.Legacy || strings.Contains(a.Path, "legacy") {
		t.Errorf("current definition should win, got %s", a.Path)
	}
	if _, ok := cat.Tool(model.StepID{Stem: "b", Namespace: "global"}); !ok {
		t.Error("nested tool b missing")
	}
	if _, ok := cat.Spec(model.StepID{Stem: "main", Namespace: "global"}); !ok {
		t.Error("spec main missing")
	}
	if _, ok := cat.Spec(model.StepID{Stem: "main_inputs", Namespace: "global"}); ok {
		t.Error("_inputs files must be skipped")
	}

	var sawBroken, sawMissing, sawCollision bool
	for _, w := range warns {
		switch {
		case strings.HasSuffix(w.Path, "broken.cwl"):
			sawBroken = true
		case strings.HasSuffix(w.Path, "missing"):
			sawMissing = true
		case strings.Contains(w.Message, "takes precedence"):
			sawCollision = true
		}
	}
	if !sawBroken || !sawMissing || !sawCollision {
		t.Errorf("warnings = %v", warns)
	}
}

func TestSourcesFromFile_Fallback(t *testing.T) {
	fb := []Source{{Namespace: "global", Dir: "."}}
	got, err := SourcesFromFile(filepath.Join(t.TempDir(), "none.txt"), fb)
	if err != nil {
		t.Fatalf("SourcesFromFile: %v", err)
	}
	if len(got) != 1 || got[0].Dir != "." {
		t.Errorf("got %v", got)
	}
}

func TestFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"align.cwl":        {Data: []byte(toolDoc)},
		"bio/sort.cwl":     {Data: []byte(toolDoc)},
		"legacy/align.cwl": {Data: []byte(toolDoc)},
		"main.yml":         {Data: []byte("steps: [align]\n")},
		"bio/sub.yml":      {Data: []byte("steps: [sort]\n")},
		"main_inputs.yml":  {Data: []byte("x: 1\n")},
	}
	cat, warns, err := testDiscoverer().FromFS(fsys, "global")
	if err != nil {
		t.Fatalf("FromFS: %v", err)
	}
	if def, ok := cat.Tool(model.StepID{Stem: "align", Namespace: "global"}); !ok || def.Path != "align.cwl" {
		t.Errorf("align = %+v", def)
	}
	if _, ok := cat.Tool(model.StepID{Stem: "sort", Namespace: "bio"}); !ok {
		t.Error("bio::sort missing")
	}
	if _, ok := cat.Spec(model.StepID{Stem: "sub", Namespace: "bio"}); !ok {
		t.Error("bio::sub missing")
	}
	if len(cat.Specs()) != 2 {
		t.Errorf("Specs = %+v", cat.Specs())
	}
	if len(warns) != 1 {
		t.Errorf("warnings = %v, want one collision", warns)
	}
}

func TestIsLegacy(t *testing.T) {
	if !IsLegacy("a/legacy/b.cwl") {
		t.Error("legacy component not detected")
	}
	if IsLegacy("a/legacyish/b.cwl") {
		t.Error("partial match should not count")
	}
}
