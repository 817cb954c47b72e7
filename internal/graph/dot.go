package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Cluster is the presentation form of one workflow: its steps as nodes
// and its subworkflows as nested clusters.
type Cluster struct {
	ID       int
	Label    string
	Style    string
	Nodes    []int
	Clusters []*Cluster
}

// View nests the arena by Parent, starting at node 0.
func View(d *Data) *Cluster {
	children := map[int][]int{}
	for _, n := range d.Nodes {
		if n.Parent >= 0 {
			children[n.Parent] = append(children[n.Parent], n.ID)
		}
	}
	var build func(i int) *Cluster
	build = func(i int) *Cluster {
		c := &Cluster{ID: i, Label: d.Nodes[i].Label, Style: d.Nodes[i].Style}
		for _, ch := range children[i] {
			if d.Nodes[ch].Kind == "workflow" {
				c.Clusters = append(c.Clusters, build(ch))
				continue
			}
			c.Nodes = append(c.Nodes, ch)
		}
		return c
	}
	if len(d.Nodes) == 0 {
		return &Cluster{}
	}
	return build(0)
}

func nodeName(i int) string { return "n" + strconv.Itoa(i) }

func clusterName(i int) string { return "cluster_" + strconv.Itoa(i) }

// anchorName is an invisible node inside a cluster so edges can attach
// to the cluster border.
func anchorName(i int) string { return "a" + strconv.Itoa(i) }

// WriteDOT renders d as a Graphviz digraph with one cluster per workflow.
func WriteDOT(w io.Writer, d *Data) error {
	bw := bufio.NewWriter(w)
	root := View(d)

	fmt.Fprintln(bw, "digraph workflow {")
	fmt.Fprintln(bw, "  compound=true;")
	fmt.Fprintln(bw, "  rankdir=TB;")
	fmt.Fprintln(bw, "  node [shape=box, style=rounded];")
	writeCluster(bw, d, root, "  ")

	for _, e := range d.Edges {
		from, to := nodeName(e.From), nodeName(e.To)
		var attrs []string
		if d.Nodes[e.From].Kind == "workflow" {
			from = anchorName(e.From)
			if e.From != e.To && !isAncestor(d, e.From, e.To) {
				attrs = append(attrs, "ltail="+clusterName(e.From))
			}
		}
		if d.Nodes[e.To].Kind == "workflow" {
			to = anchorName(e.To)
			if !isAncestor(d, e.To, e.From) {
				attrs = append(attrs, "lhead="+clusterName(e.To))
			}
		}
		attrs = append(attrs, "label="+quote(edgeLabel(e)))
		fmt.Fprintf(bw, "  %s -> %s [%s];\n", from, to, strings.Join(attrs, ", "))
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

func writeCluster(w *bufio.Writer, d *Data, c *Cluster, indent string) {
	fmt.Fprintf(w, "%ssubgraph %s {\n", indent, clusterName(c.ID))
	fmt.Fprintf(w, "%s  label=%s;\n", indent, quote(c.Label))
	if c.Style != "" {
		fmt.Fprintf(w, "%s  style=%s;\n", indent, quote(c.Style))
	}
	fmt.Fprintf(w, "%s  %s [shape=point, style=invis];\n", indent, anchorName(c.ID))
	for _, n := range c.Nodes {
		fmt.Fprintf(w, "%s  %s [label=%s];\n", indent, nodeName(n), quote(d.Nodes[n].Label))
	}
	for _, sub := range c.Clusters {
		writeCluster(w, d, sub, indent+"  ")
	}
	fmt.Fprintf(w, "%s}\n", indent)
}

// isAncestor reports whether a encloses b.
func isAncestor(d *Data, a, b int) bool {
	for p := d.Nodes[b].Parent; p >= 0; p = d.Nodes[p].Parent {
		if p == a {
			return true
		}
	}
	return false
}

func edgeLabel(e Edge) string {
	if e.FromPort == e.ToPort {
		return e.FromPort
	}
	return e.FromPort + " -> " + e.ToPort
}

func quote(s string) string {
	return strconv.Quote(s)
}
