package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/me/wic/pkg/cwl"
)

// DAGResult holds the result of DAG analysis.
type DAGResult struct {
	// Edges maps each step ID to the step IDs it depends on (upstream).
	Edges map[string][]string
	// Order is the topological sort of steps.
	Order []string
}

// BuildDAG constructs the step dependency graph of a generated workflow
// using Kahn's algorithm.
//
// Source "s1__global__align/bam" creates an edge s1__global__align -> this
// step. Bare sources (workflow inputs) create no edges.
func BuildDAG(wf *cwl.Workflow) (*DAGResult, error) {
	stepIDs := make(map[string]bool, len(wf.Steps))
	for _, s := range wf.Steps {
		stepIDs[s.ID] = true
	}

	forward := make(map[string][]string, len(wf.Steps))
	deps := make(map[string][]string, len(wf.Steps))
	inDegree := make(map[string]int, len(wf.Steps))
	for _, s := range wf.Steps {
		inDegree[s.ID] = 0
	}

	for _, step := range wf.Steps {
		seen := make(map[string]bool)
		for _, si := range step.In {
			depID, _, ok := strings.Cut(si.Source, "/")
			if !ok || !stepIDs[depID] {
				continue
			}
			if depID == step.ID {
				return nil, fmt.Errorf("workflow contains a cycle involving steps: %s", step.ID)
			}
			if seen[depID] {
				continue
			}
			seen[depID] = true
			forward[depID] = append(forward[depID], step.ID)
			deps[step.ID] = append(deps[step.ID], depID)
			inDegree[step.ID]++
		}
	}

	for id := range deps {
		sort.Strings(deps[id])
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		successors := forward[node]
		sort.Strings(successors)
		for _, succ := range successors {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
		sort.Strings(queue)
	}

	if len(order) != len(stepIDs) {
		var cycleNodes []string
		for id, deg := range inDegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, id)
			}
		}
		sort.Strings(cycleNodes)
		return nil, fmt.Errorf("workflow contains a cycle involving steps: %s",
			strings.Join(cycleNodes, ", "))
	}

	return &DAGResult{Edges: deps, Order: order}, nil
}
