// Package bundle writes compiled workflow trees to disk: one CWL document
// per distinct workflow, the root input values, the graphs, tree dumps and
// an optional packed $graph document.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/wic/internal/compiler"
	"github.com/me/wic/internal/graph"
	"github.com/me/wic/internal/tree"
	"github.com/me/wic/pkg/cwl"
)

// Result holds the output of packing a compiled tree.
type Result struct {
	Packed []byte // The packed $graph YAML document
	Name   string // Root workflow name
}

// ReadFunc reads a tool document by the path recorded in the catalog.
type ReadFunc func(path string) ([]byte, error)

// Documents returns every distinct workflow document of the tree keyed by
// name. toolRun maps a tool path to the run reference to emit.
func Documents(result *compiler.ResultTree, toolRun func(string) string) map[string]cwl.Document {
	docs := map[string]cwl.Document{}
	compiler.Walk(result.Root, func(n *compiler.CompiledNode) {
		if n.Kind != tree.WorkflowStep {
			return
		}
		if _, done := docs[n.Name]; done {
			return
		}
		wf := *n.Workflow
		wf.Steps = make([]cwl.Step, len(n.Workflow.Steps))
		for i, s := range n.Workflow.Steps {
			if n.Children[i].Kind == tree.ToolStep {
				s.Run = toolRun(s.Run)
			}
			wf.Steps[i] = s
		}
		docs[n.Name] = wf.Document()
	})
	return docs
}

// Options selects the optional outputs of Write.
type Options struct {
	Pack bool
	Read ReadFunc // required when Pack is set
}

// Write writes the compiled tree under outDir and returns the written
// paths in order.
func Write(outDir string, result *compiler.ResultTree, opts Options) ([]string, error) {
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(absOut, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var written []string
	write := func(name string, data []byte) error {
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	docs := Documents(result, func(p string) string {
		abs, err := filepath.Abs(p)
		if err != nil {
			return p
		}
		return cwl.RelativeRun(absOut, abs)
	})
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := marshalYAML(map[string]any(docs[name]))
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		if err := write(name+".cwl", data); err != nil {
			return nil, err
		}
	}

	stem := result.Root.Name
	values, err := marshalYAML(result.InputValues)
	if err != nil {
		return nil, fmt.Errorf("marshal input values: %w", err)
	}
	if err := write(stem+"_inputs.yml", values); err != nil {
		return nil, err
	}

	graphJSON, err := json.MarshalIndent(result.Root.Graph, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	if err := write(stem+"_graph.json", graphJSON); err != nil {
		return nil, err
	}

	var dot bytes.Buffer
	if err := graph.WriteDOT(&dot, result.Root.Graph); err != nil {
		return nil, fmt.Errorf("render graph: %w", err)
	}
	if err := write(stem+".gv", dot.Bytes()); err != nil {
		return nil, err
	}

	if opts.Pack {
		packed, err := Pack(result, opts.Read)
		if err != nil {
			return nil, err
		}
		if err := write(stem+"_packed.cwl", packed.Packed); err != nil {
			return nil, err
		}
	}
	return written, nil
}

// WriteTrees dumps the raw, merged and inlined trees next to the compiled
// documents. A nil tree is skipped.
func WriteTrees(outDir, stem string, raw, merged, inlined *tree.Node) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	var written []string
	for _, t := range []struct {
		suffix string
		node   *tree.Node
	}{
		{"_tree_raw.yml", raw},
		{"_tree_merged.yml", merged},
		{"_tree_merged_inlined.yml", inlined},
	} {
		if t.node == nil {
			continue
		}
		data, err := marshalYAML(tree.Dump(t.node))
		if err != nil {
			return nil, fmt.Errorf("marshal tree: %w", err)
		}
		path := filepath.Join(outDir, stem+t.suffix)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func marshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toolID names a tool inside a packed document.
func toolID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Pack produces a single $graph document holding every tool and workflow
// of the tree. Tool documents are read through read; run references become
// fragment references and the root workflow gets the id "main".
func Pack(result *compiler.ResultTree, read ReadFunc) (*Result, error) {
	if read == nil {
		read = os.ReadFile
	}
	toolIDs := map[string]string{} // tool path → assigned ID
	taken := map[string]bool{"main": true}
	var tools []any
	var toolErr error

	assign := func(path string) string {
		if id, ok := toolIDs[path]; ok {
			return id
		}
		id := toolID(path)
		for n := 2; taken[id]; n++ {
			id = fmt.Sprintf("%s_%d", toolID(path), n)
		}
		taken[id] = true
		toolIDs[path] = id

		data, err := read(path)
		if err != nil {
			if toolErr == nil {
				toolErr = fmt.Errorf("read tool %q: %w", path, err)
			}
			return id
		}
		var toolDoc map[string]any
		if err := yaml.Unmarshal(data, &toolDoc); err != nil {
			if toolErr == nil {
				toolErr = fmt.Errorf("parse tool %q: %w", path, err)
			}
			return id
		}
		toolDoc["id"] = id
		// cwlVersion lives at the top level of the packed document.
		delete(toolDoc, "cwlVersion")
		tools = append(tools, toolDoc)
		return id
	}

	docs := Documents(result, func(p string) string { return "#" + assign(p) })
	if toolErr != nil {
		return nil, toolErr
	}

	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	ids := map[string]string{result.Root.Name: "main"}
	for _, name := range names {
		if name != result.Root.Name {
			ids[name] = name
		}
	}

	graphDocs := append([]any(nil), tools...)
	for _, name := range names {
		doc := docs[name]
		wfDoc := make(map[string]any, len(doc))
		for k, v := range doc {
			if k == "cwlVersion" {
				continue
			}
			wfDoc[k] = v
		}
		wfDoc["id"] = ids[name]
		if steps, ok := wfDoc["steps"].(map[string]any); ok {
			for _, sv := range steps {
				step, ok := sv.(map[string]any)
				if !ok {
					continue
				}
				run, _ := step["run"].(string)
				if sub, ok := strings.CutSuffix(run, ".cwl"); ok && !strings.HasPrefix(run, "#") {
					if id, ok := ids[sub]; ok {
						step["run"] = "#" + id
					}
				}
			}
		}
		graphDocs = append(graphDocs, wfDoc)
	}

	packed := map[string]any{
		"cwlVersion": cwl.Version,
		"$graph":     graphDocs,
	}
	out, err := marshalYAML(packed)
	if err != nil {
		return nil, fmt.Errorf("marshal packed document: %w", err)
	}
	return &Result{Packed: out, Name: result.Root.Name}, nil
}
