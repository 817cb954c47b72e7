package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type hashedFlow struct {
	Inputs    []Param    `json:"inputs"`
	Outputs   []Param    `json:"outputs"`
	Bindings  []Binding  `json:"bindings"`
	ValueFrom [][]string `json:"value_from"`
}

type hashed struct {
	Kind     string         `json:"kind"`
	ID       string         `json:"id"`
	Path     string         `json:"path"`
	Body     map[string]any `json:"body"`
	Inputs   any            `json:"inputs"`
	Outputs  any            `json:"outputs"`
	Flow     *hashedFlow    `json:"flow,omitempty"`
	Children []string       `json:"children"`
}

// Hash returns a content digest of the subtree rooted at n. Nodes with the
// same digest compile to the same document. Position and declared name
// are excluded since they belong to the parent.
func Hash(n *Node) (string, error) {
	h := hashed{
		Kind:    n.Kind.String(),
		ID:      n.ID.String(),
		Path:    n.Path(),
		Body:    n.Body,
		Inputs:  n.Inputs,
		Outputs: n.Outputs,
	}
	if f := n.Flow; f != nil {
		hf := &hashedFlow{Inputs: f.Inputs, Outputs: f.Outputs, Bindings: f.Bindings}
		for ep, expr := range f.ValueFrom {
			hf.ValueFrom = append(hf.ValueFrom, []string{ep.String(), expr})
		}
		sort.Slice(hf.ValueFrom, func(i, j int) bool { return hf.ValueFrom[i][0] < hf.ValueFrom[j][0] })
		h.Flow = hf
	}
	for _, c := range n.Children {
		ch, err := Hash(c)
		if err != nil {
			return "", err
		}
		h.Children = append(h.Children, ch)
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Dump renders the tree as plain data for the raw, merged and inlined
// tree files.
func Dump(n *Node) map[string]any {
	out := map[string]any{
		"id":       n.ID.String(),
		"kind":     n.Kind.String(),
		"name":     n.Name,
		"position": n.Position,
		"path":     n.Path(),
	}
	if len(n.Body) > 0 {
		out["body"] = n.Body
	}
	if len(n.Children) > 0 {
		children := make([]any, len(n.Children))
		for i, c := range n.Children {
			children[i] = Dump(c)
		}
		out["steps"] = children
	}
	return out
}
