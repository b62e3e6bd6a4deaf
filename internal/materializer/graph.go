package materializer

import (
	"sort"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/wid"
)

// opGraph is the operation DAG for one document: edges run from a
// previous-operation to each operation that names it, matching spec.md §4.4
// ("edges derived from previous").
type opGraph struct {
	byID     map[wid.OperationId]*store.Operation
	children map[wid.OperationId][]wid.OperationId
	indegree map[wid.OperationId]int
}

func buildGraph(ops []*store.Operation) *opGraph {
	g := &opGraph{
		byID:     make(map[wid.OperationId]*store.Operation, len(ops)),
		children: make(map[wid.OperationId][]wid.OperationId, len(ops)),
		indegree: make(map[wid.OperationId]int, len(ops)),
	}
	for _, op := range ops {
		g.byID[op.ID] = op
		if _, ok := g.indegree[op.ID]; !ok {
			g.indegree[op.ID] = 0
		}
	}
	for _, op := range ops {
		g.indegree[op.ID] += len(op.Previous)
		for _, prev := range op.Previous {
			g.children[prev] = append(g.children[prev], op.ID)
		}
	}
	return g
}

// topoSort runs Kahn's algorithm, breaking ties on operation id ascending so
// concurrent branches always linearize the same way (spec.md §4.4
// "tie-break on operation id ascending").
func topoSort(g *opGraph) []*store.Operation {
	indegree := make(map[wid.OperationId]int, len(g.indegree))
	for id, d := range g.indegree {
		indegree[id] = d
	}

	var ready []wid.OperationId
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	out := make([]*store.Operation, 0, len(g.byID))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, g.byID[id])

		next := append([]wid.OperationId(nil), g.children[id]...)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, child := range next {
			indegree[child]--
			if indegree[child] == 0 {
				insertSorted(&ready, child)
			}
		}
	}
	return out
}

func insertSorted(ready *[]wid.OperationId, id wid.OperationId) {
	r := *ready
	i := sort.Search(len(r), func(i int) bool { return r[i] >= id })
	r = append(r, "")
	copy(r[i+1:], r[i:])
	r[i] = id
	*ready = r
}

// heads returns the operations with no children: the current, unmerged tips
// of the graph, whose ids name a document's "current" document view id.
func heads(g *opGraph) []wid.OperationId {
	var out []wid.OperationId
	for id := range g.byID {
		if len(g.children[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ancestors returns the transitive closure of previous-edges reachable from
// the given frontier, inclusive, used to restrict a full operation set down
// to the subgraph needed to build a SpecificView snapshot.
func ancestors(g *opGraph, frontier []wid.OperationId) map[wid.OperationId]struct{} {
	seen := make(map[wid.OperationId]struct{}, len(g.byID))
	stack := append([]wid.OperationId(nil), frontier...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		op, ok := g.byID[id]
		if !ok {
			continue
		}
		stack = append(stack, op.Previous...)
	}
	return seen
}

// mergeResult is the outcome of folding a sorted operation run into field
// values, last-writer-wins.
type mergeResult struct {
	isDeleted bool
	schemaId  wid.SchemaId
	fields    map[string]store.ViewField
}

// mergeFields walks sorted in order, last writer wins per field name
// (spec.md §4.4 "merge fields by last-writer-wins along the sorted order").
func mergeFields(sorted []*store.Operation) mergeResult {
	res := mergeResult{fields: make(map[string]store.ViewField)}
	for _, op := range sorted {
		res.schemaId = op.SchemaId
		switch op.Action {
		case store.ActionDelete:
			res.isDeleted = true
		default:
			res.isDeleted = false
			for name, v := range op.Fields {
				res.fields[name] = store.ViewField{OperationId: op.ID, Value: v}
			}
		}
	}
	return res
}
