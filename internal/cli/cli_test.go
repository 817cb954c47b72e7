package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/logging"
	"github.com/me/wic/internal/pipeline"
	"github.com/me/wic/internal/server"
	"github.com/me/wic/internal/store"
	"github.com/me/wic/pkg/model"
)

func testdataPath(rel string) string {
	return filepath.Join("..", "..", "testdata", rel)
}

// catalogArgs writes a directory list for the basic fixtures and returns
// the flags pointing at it and at the inference tables.
func catalogArgs(t *testing.T) []string {
	t.Helper()
	abs, err := filepath.Abs(testdataPath("basic"))
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	dirs := filepath.Join(t.TempDir(), "dirs.txt")
	if err := os.WriteFile(dirs, []byte("global "+abs+"\n"), 0o644); err != nil {
		t.Fatalf("write dirs: %v", err)
	}
	return []string{
		"--cwl-dirs", dirs,
		"--yml-dirs", dirs,
		"--rules", testdataPath("tables/inference_rules.txt"),
		"--conventions", testdataPath("tables/renaming_conventions.txt"),
	}
}

func compilerConfig(args []string) config.CompilerConfig {
	cfg := config.DefaultCompilerConfig()
	cfg.CWLDirsFile, cfg.YMLDirsFile = args[1], args[3]
	cfg.RulesFile, cfg.ConventionsFile = args[5], args[7]
	return cfg
}

// startTestServer starts a server with an in-memory SQLite store and returns the URL.
func startTestServer(t *testing.T, catalog []string) string {
	t.Helper()
	logger := logging.Discard()
	cfg := config.DefaultServerConfig()
	cfg.Compiler = compilerConfig(catalog)

	env, err := pipeline.Load(context.Background(), cfg.Compiler, logger)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	base, err := pipeline.New(env, cfg.Compiler, logger)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ts := httptest.NewServer(server.New(cfg, st, base, logger).Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := root.Execute()
	return buf.String(), err
}

func TestCompileCommand(t *testing.T) {
	out := t.TempDir()
	args := append([]string{"compile"}, catalogArgs(t)...)
	args = append(args, "--out", out, "--pack", "--write-trees", testdataPath("basic/main.yml"))

	output, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("compile error: %v\noutput: %s", err, output)
	}
	for _, name := range []string{"main.cwl", "main_inputs.yml", "main_packed.cwl", "main_tree_raw.yml", "main_tree_merged.yml"} {
		path := filepath.Join(out, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if !strings.Contains(output, path) {
			t.Errorf("output does not list %s: %s", path, output)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "main_tree_merged_inlined.yml")); err == nil {
		t.Error("inlined tree written without --inline-subworkflows")
	}
}

func TestCompileCommand_InlineSubworkflows(t *testing.T) {
	out := t.TempDir()
	args := append([]string{"compile"}, catalogArgs(t)...)
	args = append(args, "--out", out, "--inline-subworkflows", "--write-trees", testdataPath("basic/main.yml"))

	if output, err := runCLI(t, args...); err != nil {
		t.Fatalf("compile error: %v\noutput: %s", err, output)
	}
	if _, err := os.Stat(filepath.Join(out, "main_tree_merged_inlined.yml")); err != nil {
		t.Errorf("inlined tree: %v", err)
	}
	subs, _ := filepath.Glob(filepath.Join(out, "inl_*.cwl"))
	if len(subs) != 0 {
		t.Errorf("subworkflow documents written after inlining: %v", subs)
	}
}

func TestCompileCommand_Errors(t *testing.T) {
	args := append([]string{"compile"}, catalogArgs(t)...)
	args = append(args, "--out", t.TempDir(), testdataPath("basic/undeclared.yml"))

	output, err := runCLI(t, args...)
	if err == nil {
		t.Fatal("expected error for unresolved step")
	}
	if !strings.Contains(output, "UnresolvedStepError") {
		t.Errorf("output = %s", output)
	}
}

func TestCompileCommand_Overrides(t *testing.T) {
	out := t.TempDir()
	ovr := filepath.Join(t.TempDir(), "ovr.yml")
	if err := os.WriteFile(ovr, []byte("steps:\n  (3, analyze):\n    in:\n      threshold: 0.25\n"), 0o644); err != nil {
		t.Fatalf("write overrides: %v", err)
	}
	args := append([]string{"compile"}, catalogArgs(t)...)
	args = append(args, "--out", out, "--overrides", ovr, testdataPath("basic/main.yml"))

	if output, err := runCLI(t, args...); err != nil {
		t.Fatalf("compile error: %v\noutput: %s", err, output)
	}
	data, err := os.ReadFile(filepath.Join(out, "main_inputs.yml"))
	if err != nil {
		t.Fatalf("read inputs: %v", err)
	}
	if !strings.Contains(string(data), "analyze_3___threshold: 0.25") {
		t.Errorf("inputs = %s", data)
	}
}

func TestSchemasCommand(t *testing.T) {
	out := t.TempDir()
	args := append([]string{"schemas"}, catalogArgs(t)...)
	args = append(args, "--out", out)

	output, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("schemas error: %v\noutput: %s", err, output)
	}
	for _, rel := range []string{"wic.json", "wic_tag.json", "tools/global/setup.json", "workflows/global/inl.json"} {
		if _, err := os.Stat(filepath.Join(out, rel)); err != nil {
			t.Errorf("%s: %v", rel, err)
		}
	}
	if !strings.Contains(output, "Wrote ") {
		t.Errorf("output = %s", output)
	}
}

func TestSubmitListStatus(t *testing.T) {
	catalog := catalogArgs(t)
	url := startTestServer(t, catalog)

	packed := filepath.Join(t.TempDir(), "packed.cwl")
	args := append([]string{"--server", url, "submit"}, catalog...)
	args = append(args, "-o", packed, testdataPath("basic/main.yml"))
	output, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("submit error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Compilation: cmp_") || !strings.Contains(output, "SUCCEEDED") {
		t.Fatalf("submit output = %s", output)
	}
	data, err := os.ReadFile(packed)
	if err != nil || !strings.Contains(string(data), "$graph") {
		t.Errorf("packed document: %v, %s", err, data)
	}
	line := strings.SplitN(output, "\n", 2)[0]
	id := strings.TrimSpace(strings.TrimPrefix(line, "Compilation:"))

	output, err = runCLI(t, "--server", url, "list")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(output, id) {
		t.Errorf("list output missing %s: %s", id, output)
	}

	output, err = runCLI(t, "--server", url, "status", id)
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(output, "Name:      main") {
		t.Errorf("status output = %s", output)
	}
}

func TestSubmitCommand_Rejected(t *testing.T) {
	catalog := catalogArgs(t)
	url := startTestServer(t, catalog)

	args := append([]string{"--server", url, "submit"}, catalog...)
	args = append(args, testdataPath("basic/undeclared.yml"))
	output, err := runCLI(t, args...)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.Code != model.ErrCompile || len(apiErr.Details) == 0 {
		t.Errorf("api error = %+v", apiErr)
	}
	if !strings.Contains(output, "UnresolvedStepError") {
		t.Errorf("output = %s", output)
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	url := startTestServer(t, catalogArgs(t))
	if _, err := runCLI(t, "--server", url, "status", "cmp_missing"); err == nil {
		t.Fatal("expected error for unknown compilation")
	}
}

func TestListCommand_Empty(t *testing.T) {
	url := startTestServer(t, catalogArgs(t))
	output, err := runCLI(t, "--server", url, "list")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(output, "No compilations found.") {
		t.Errorf("output = %s", output)
	}
}
