package tree

import (
	"fmt"

	"dario.cat/mergo"
	"github.com/mohae/deepcopy"

	"github.com/me/wic/pkg/model"
)

// Merge applies the override block ovr to the root and propagates every
// override entry down the tree. Entries keyed "(position, name)" in a
// workflow's override block are deep-merged into the matching child's own
// block, override values winning and lists being replaced. Tool steps are
// re-merged with their catalog definitions. The input tree is not modified.
func Merge(root *Node, ovr map[string]any) (*Node, error) {
	out := Clone(root)
	if len(ovr) > 0 {
		wic, _ := out.Body["wic"].(map[string]any)
		out.Body["wic"] = DeepMerge(wic, ovr)
	}
	if err := mergeNode(out); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeNode(n *Node) error {
	switch n.Kind {
	case ToolStep:
		if n.Tool == nil {
			n.Inputs, n.Outputs = nil, nil
			return nil
		}
		var err error
		if n.Inputs, err = mergePorts(n, n.Tool.Inputs, "inputs"); err != nil {
			return err
		}
		if n.Outputs, err = mergePorts(n, n.Tool.Outputs, "outputs"); err != nil {
			return err
		}
	case WorkflowStep:
		steps, _ := n.Wic()["steps"].(map[string]any)
		for _, c := range n.Children {
			if entry, ok := steps[c.Key()].(map[string]any); ok {
				c.Body = DeepMerge(c.Body, entry)
			}
			if err := mergeNode(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeepMerge returns base with ovr merged in. Nested maps merge
// recursively; any other value in ovr replaces the one in base. Neither
// argument is modified.
func DeepMerge(base, ovr map[string]any) map[string]any {
	out := copyMap(base)
	for k, v := range ovr {
		if om, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = DeepMerge(bm, om)
				continue
			}
		}
		out[k] = deepcopy.Copy(v)
	}
	return out
}

// mergePorts combines catalog ports with author-declared metadata under
// the body's "inputs" or "outputs" key. Declared fields win; unspecified
// fields fall back to the catalog.
func mergePorts(n *Node, catalog []model.Port, key string) ([]model.Port, error) {
	declared, _ := n.Body[key].(map[string]any)
	ports := make([]model.Port, len(catalog))
	for i, p := range catalog {
		explicit, ok := declaredPort(p.Name, declared[p.Name])
		if !ok {
			ports[i] = p
			continue
		}
		if err := mergo.Merge(&explicit, p); err != nil {
			return nil, fmt.Errorf("merge %s %q of step %s at %s: %w", key, p.Name, n.Name, n.Path(), err)
		}
		ports[i] = explicit
	}
	return ports, nil
}

func declaredPort(name string, v any) (model.Port, bool) {
	switch d := v.(type) {
	case string:
		return model.Port{Name: name, Type: d}, true
	case map[string]any:
		p := model.Port{Name: name}
		p.Type, _ = d["type"].(string)
		p.Label, _ = d["label"].(string)
		p.Doc, _ = d["doc"].(string)
		p.Format, _ = d["format"].(string)
		p.Default = d["default"]
		return p, true
	}
	return model.Port{}, false
}
