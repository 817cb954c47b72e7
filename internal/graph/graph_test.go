package graph

import (
	"bytes"
	"strings"
	"testing"
)

func subgraph() *Data {
	d := New("inl", "inl", "")
	a := d.AddNode(Node{Name: "s1", Label: "minimize", Kind: "tool"}, 0)
	b := d.AddNode(Node{Name: "s2", Label: "minimize", Kind: "tool"}, 0)
	d.AddEdge(Edge{From: 0, FromPort: "x", To: a, ToPort: "input"})
	d.AddEdge(Edge{From: a, FromPort: "result", To: b, ToPort: "input"})
	return d
}

func TestMerge(t *testing.T) {
	root := New("main", "Main", "")
	setup := root.AddNode(Node{Name: "s1", Label: "setup", Kind: "tool"}, 0)
	child := subgraph()
	at := root.Merge(child, 0)
	root.AddEdge(Edge{From: setup, FromPort: "result", To: at, ToPort: "x"})

	if at != 2 {
		t.Fatalf("merged at %d, want 2", at)
	}
	if len(root.Nodes) != 5 {
		t.Fatalf("nodes = %d, want 5", len(root.Nodes))
	}
	if root.Nodes[at].Parent != 0 {
		t.Errorf("merged root parent = %d", root.Nodes[at].Parent)
	}
	if root.Nodes[3].Parent != at || root.Nodes[4].Parent != at {
		t.Errorf("child parents = %d, %d", root.Nodes[3].Parent, root.Nodes[4].Parent)
	}
	if got := root.Edges[0]; got.From != at || got.To != 3 {
		t.Errorf("shifted edge = %+v", got)
	}
	if len(child.Nodes) != 3 || child.Nodes[1].ID != 1 {
		t.Error("Merge modified the child")
	}
	if got := root.Children(0); len(got) != 2 {
		t.Errorf("children of root = %v", got)
	}
}

func TestView(t *testing.T) {
	root := New("main", "Main", "")
	root.AddNode(Node{Name: "s1", Label: "setup", Kind: "tool"}, 0)
	root.Merge(subgraph(), 0)

	v := View(root)
	if len(v.Nodes) != 1 || len(v.Clusters) != 1 {
		t.Fatalf("view = %+v", v)
	}
	if len(v.Clusters[0].Nodes) != 2 {
		t.Errorf("nested nodes = %v", v.Clusters[0].Nodes)
	}
}

func TestWriteDOT(t *testing.T) {
	root := New("main", "Main", "dashed")
	setup := root.AddNode(Node{Name: "s1", Label: "setup", Kind: "tool"}, 0)
	at := root.Merge(subgraph(), 0)
	root.AddEdge(Edge{From: setup, FromPort: "result", To: at, ToPort: "x"})

	var buf bytes.Buffer
	if err := WriteDOT(&buf, root); err != nil {
		t.Fatalf("WriteDOT: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"digraph workflow {",
		"compound=true;",
		"subgraph cluster_0 {",
		"subgraph cluster_2 {",
		`style="dashed";`,
		`n1 [label="setup"];`,
		"n1 -> a2 [lhead=cluster_2",
		`n3 -> n4 [label="result -> input"];`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("DOT output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "{") != strings.Count(out, "}") {
		t.Error("unbalanced braces")
	}
}
