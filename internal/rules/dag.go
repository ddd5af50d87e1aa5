package rules

import (
	"fmt"
	"sort"
)

// dagNode and dagEdge mirror the shape a create_workflow_plan decision's
// payload carries: payload["nodes"] = []any of {"id": string, ...} and
// payload["edges"] = []any of {"from": string, "to": string}.
type dagNode struct {
	ID string
}

type dagEdge struct {
	From, To string
}

func decodeNodes(raw any) ([]dagNode, bool) {
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	nodes := make([]dagNode, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		id, _ := m["id"].(string)
		nodes = append(nodes, dagNode{ID: id})
	}
	return nodes, true
}

func decodeEdges(raw any) ([]dagEdge, bool) {
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	edges := make([]dagEdge, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		from, _ := m["from"].(string)
		to, _ := m["to"].(string)
		edges = append(edges, dagEdge{From: from, To: to})
	}
	return edges, true
}

// DAGValidation builds the create_workflow_plan structural rule: unique
// node ids, every edge endpoint resolving to a declared node, and an
// acyclic graph, each checked independently and each producing its own
// error so a caller sees every structural problem in one pass rather than
// stopping at the first.
func DAGValidation(id string, priority int) Rule {
	return Rule{
		ID:       id,
		Priority: priority,
		Violations: func(d Decision) []string {
			if d.Type != "create_workflow_plan" {
				return nil
			}

			var errs []string

			nodesRaw, ok := d.Payload["nodes"]
			if !ok {
				return []string{fmt.Sprintf("rule %s violated: missing nodes", id)}
			}
			nodes, ok := decodeNodes(nodesRaw)
			if !ok {
				return []string{fmt.Sprintf("rule %s violated: malformed nodes", id)}
			}

			seen := make(map[string]struct{}, len(nodes))
			for _, n := range nodes {
				if _, dup := seen[n.ID]; dup {
					errs = append(errs, fmt.Sprintf("rule %s violated: duplicate node id %q", id, n.ID))
					continue
				}
				seen[n.ID] = struct{}{}
			}

			var edges []dagEdge
			if edgesRaw, ok := d.Payload["edges"]; ok {
				edges, ok = decodeEdges(edgesRaw)
				if !ok {
					errs = append(errs, fmt.Sprintf("rule %s violated: malformed edges", id))
					edges = nil
				}
			}

			adjacency := make(map[string][]string, len(seen))
			for _, e := range edges {
				if _, ok := seen[e.From]; !ok {
					errs = append(errs, fmt.Sprintf("rule %s violated: edge references unknown node %q", id, e.From))
					continue
				}
				if _, ok := seen[e.To]; !ok {
					errs = append(errs, fmt.Sprintf("rule %s violated: edge references unknown node %q", id, e.To))
					continue
				}
				adjacency[e.From] = append(adjacency[e.From], e.To)
			}

			if cycle, ok := findCycle(seen, adjacency); ok {
				errs = append(errs, fmt.Sprintf("rule %s violated: cycle detected through node %q", id, cycle))
			}

			return errs
		},
	}
}

// findCycle runs DFS with three-color marking (white/gray/black) over the
// node set, returning the node at which a back edge was found.
func findCycle(nodes map[string]struct{}, adjacency map[string][]string) (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	for n := range nodes {
		color[n] = white
	}

	var visit func(string) (string, bool)
	visit = func(n string) (string, bool) {
		color[n] = gray
		for _, next := range adjacency[n] {
			switch color[next] {
			case gray:
				return next, true
			case white:
				if cyc, found := visit(next); found {
					return cyc, true
				}
			}
		}
		color[n] = black
		return "", false
	}

	// Deterministic order keeps error output stable across runs.
	ordered := make([]string, 0, len(nodes))
	for n := range nodes {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	for _, n := range ordered {
		if color[n] == white {
			if cyc, found := visit(n); found {
				return cyc, true
			}
		}
	}
	return "", false
}
