// Package graph holds the analytical graph of a compiled workflow tree and
// its nested presentation form.
package graph

// Node is one step, or the workflow itself at index 0 of each level.
// Parent is the index of the enclosing workflow node, -1 for the root.
type Node struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Label  string `json:"label"`
	Kind   string `json:"kind"`
	Parent int    `json:"parent"`
	Style  string `json:"style,omitempty"`
}

// Edge connects two nodes. An edge touching a workflow node crosses that
// workflow's boundary.
type Edge struct {
	From     int    `json:"from"`
	FromPort string `json:"from_port"`
	To       int    `json:"to"`
	ToPort   string `json:"to_port"`
}

// Data is an arena of nodes and edges. Node IDs are indices into Nodes and
// edges are only appended.
type Data struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// New creates a graph whose node 0 is the workflow it describes.
func New(name, label, style string) *Data {
	return &Data{Nodes: []Node{{Name: name, Label: label, Kind: "workflow", Parent: -1, Style: style}}}
}

// AddNode appends n under parent and returns its index.
func (d *Data) AddNode(n Node, parent int) int {
	n.ID = len(d.Nodes)
	n.Parent = parent
	d.Nodes = append(d.Nodes, n)
	return n.ID
}

// AddEdge appends an edge.
func (d *Data) AddEdge(e Edge) {
	d.Edges = append(d.Edges, e)
}

// Merge appends a copy of child under parent and returns the index its
// node 0 received. child is not modified.
func (d *Data) Merge(child *Data, parent int) int {
	offset := len(d.Nodes)
	for _, n := range child.Nodes {
		n.ID += offset
		if n.Parent < 0 {
			n.Parent = parent
		} else {
			n.Parent += offset
		}
		d.Nodes = append(d.Nodes, n)
	}
	for _, e := range child.Edges {
		e.From += offset
		e.To += offset
		d.Edges = append(d.Edges, e)
	}
	return offset
}

// Children returns the indices of the nodes directly under parent.
func (d *Data) Children(parent int) []int {
	var out []int
	for _, n := range d.Nodes {
		if n.Parent == parent {
			out = append(out, n.ID)
		}
	}
	return out
}
