package workflow

import (
	"fmt"
	"sort"
	"strings"

	"draftflow/internal/artifact"
)

// Edge is one directed dependency: changing From stales To.
type Edge struct {
	From string
	To   string
}

// Graph is the static artifact dependency graph. Nodes are artifact names
// plus input names; edges always point downstream. Construction rejects
// cycles and edges into unknown artifacts.
type Graph struct {
	edges map[string][]string
	topo  map[string]int
}

// NewGraph builds a graph from an edge list.
func NewGraph(edges []Edge) (*Graph, error) {
	adj := make(map[string][]string)
	nodes := make(map[string]bool)
	for _, e := range edges {
		from := strings.TrimSpace(e.From)
		to := strings.TrimSpace(e.To)
		if from == "" || to == "" {
			return nil, fmt.Errorf("graph: edge endpoints must be non-empty (%q -> %q)", e.From, e.To)
		}
		if !artifact.KnownName(to) {
			return nil, fmt.Errorf("graph: edge into non-artifact node %q", to)
		}
		adj[from] = append(adj[from], to)
		nodes[from] = true
		nodes[to] = true
	}

	topo, err := topoIndex(adj, nodes)
	if err != nil {
		return nil, err
	}
	return &Graph{edges: adj, topo: topo}, nil
}

// topoIndex returns a topological position per node, or an error on a cycle.
func topoIndex(adj map[string][]string, nodes map[string]bool) (map[string]int, error) {
	indeg := make(map[string]int, len(nodes))
	for n := range nodes {
		indeg[n] = 0
	}
	for _, outs := range adj {
		for _, v := range outs {
			indeg[v]++
		}
	}
	queue := make([]string, 0, len(nodes))
	for n, d := range indeg {
		if d == 0 {
			queue = append(queue, n)
		}
	}
	// Stable start order so the index is deterministic across runs.
	sort.Strings(queue)

	idx := make(map[string]int, len(nodes))
	for i := 0; i < len(queue); i++ {
		u := queue[i]
		idx[u] = len(idx)
		outs := append([]string(nil), adj[u]...)
		sort.Strings(outs)
		for _, v := range outs {
			indeg[v]--
			if indeg[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	if len(idx) != len(nodes) {
		return nil, fmt.Errorf("graph: cycle detected")
	}
	return idx, nil
}

// Downstream returns every artifact transitively reachable from node,
// excluding node itself, in topological order. The changed node is excluded
// here; callers invalidating an artifact explicitly prepend it themselves.
func (g *Graph) Downstream(node string) []string {
	node = strings.TrimSpace(node)
	if g == nil || node == "" {
		return nil
	}
	seen := map[string]bool{node: true}
	queue := []string{node}
	var out []string
	for i := 0; i < len(queue); i++ {
		for _, v := range g.edges[queue[i]] {
			if seen[v] {
				continue
			}
			seen[v] = true
			queue = append(queue, v)
			out = append(out, v)
		}
	}
	// BFS discovery order is arbitrary; emit in topological order so the
	// clear-set is deterministic for callers and tests.
	sort.SliceStable(out, func(i, j int) bool { return g.topo[out[i]] < g.topo[out[j]] })
	return out
}

// Knows reports whether node appears in the graph at all.
func (g *Graph) Knows(node string) bool {
	if g == nil {
		return false
	}
	node = strings.TrimSpace(node)
	if _, ok := g.topo[node]; ok {
		return true
	}
	return false
}

// DefaultGraph is the authoritative dependency table for the proposal
// wizard. Any clear-set broader or narrower than what this table implies is
// a defect, not tunable behavior. Retrieval is deliberately not downstream
// of the source document: it derives from its own query inputs.
func DefaultGraph() *Graph {
	g, err := NewGraph([]Edge{
		{From: artifact.InputSourceDocument, To: artifact.NameAnalysis},
		{From: artifact.NameSource, To: artifact.NameAnalysis},
		{From: artifact.NameAnalysis, To: artifact.NameEvaluation},
		{From: artifact.NameEvaluation, To: artifact.NameConcept},
		{From: artifact.InputEvaluationSelections, To: artifact.NameConcept},
		{From: artifact.NameConcept, To: artifact.NameStructure},
		{From: artifact.NameRetrieval, To: artifact.NameStructure},
		{From: artifact.NameStructure, To: artifact.NameDraftFeedback},
		{From: artifact.InputStructureSelections, To: artifact.NameDraftFeedback},
	})
	if err != nil {
		panic("workflow: default graph is invalid: " + err.Error())
	}
	return g
}
