package materializer

import (
	"context"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/taskqueue"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// Reduce implements the reduce worker (spec.md §4.4): materializing a
// document's current view, or one specific historical view, from its
// operation graph.
func (m *Materializer) Reduce(ctx context.Context, input taskqueue.Input) ([]taskqueue.Task, error) {
	in, ok := input.(ReduceInput)
	if !ok {
		return nil, werrors.New(werrors.KindStore, "reduce: unexpected input type %T", input)
	}

	docID, err := m.resolveDocumentId(ctx, in)
	if err != nil {
		if werrors.IsCritical(err) {
			return nil, err
		}
		return nil, nil // unknown document/view: exit without dispatching
	}

	ops, err := m.Store.GetOperationsByDocumentId(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	g := buildGraph(ops)

	switch in.Kind {
	case ReduceSpecificView:
		return m.reduceSpecificView(ctx, docID, in.ViewId, g)
	default:
		return m.reduceCurrentView(ctx, docID, g)
	}
}

func (m *Materializer) resolveDocumentId(ctx context.Context, in ReduceInput) (wid.DocumentId, error) {
	if in.Kind == ReduceDocumentId {
		return in.DocumentId, nil
	}
	if len(in.ViewId) == 0 {
		return "", werrors.New(werrors.KindStore, "reduce: empty view id")
	}
	op, err := m.Store.GetOperation(ctx, in.ViewId[0])
	if err != nil {
		if werrors.IsCritical(err) {
			return "", err
		}
		return "", werrors.New(werrors.KindUnknownPrevious, "reduce: constituent operation not found")
	}
	return op.DocumentId, nil
}

func (m *Materializer) reduceCurrentView(ctx context.Context, docID wid.DocumentId, g *opGraph) ([]taskqueue.Task, error) {
	sorted := topoSort(g)
	for i, op := range sorted {
		idx := i
		if op.SortedIndex != nil && *op.SortedIndex == idx {
			continue
		}
		if err := m.Store.UpdateOperationIndex(ctx, op.ID, idx); err != nil {
			return nil, err
		}
	}

	merged := mergeFields(sorted)
	viewId := wid.NewDocumentViewId(heads(g))

	if merged.isDeleted {
		if err := m.Store.InsertDocument(ctx, &store.Document{
			ID:        docID,
			SchemaId:  merged.schemaId,
			IsDeleted: true,
		}); err != nil {
			return nil, err
		}
		return nil, nil
	}

	prior, err := m.Store.GetDocument(ctx, docID)
	if err != nil && werrors.IsCritical(err) {
		return nil, err
	}
	hadPriorView := err == nil && !prior.IsDeleted && len(prior.ViewId) > 0
	var priorViewId wid.DocumentViewId
	if hadPriorView {
		priorViewId = prior.ViewId
	}

	view := &store.DocumentView{ViewId: viewId, SchemaId: merged.schemaId, Fields: merged.fields}
	if err := m.Store.InsertDocumentView(ctx, view, docID, merged.schemaId); err != nil {
		return nil, err
	}
	if err := m.Store.InsertDocument(ctx, &store.Document{
		ID:       docID,
		ViewId:   viewId,
		SchemaId: merged.schemaId,
	}); err != nil {
		return nil, err
	}

	tasks := []taskqueue.Task{{Name: TaskDependency, Input: DependencyInput{ViewId: viewId}}}
	if hadPriorView && !priorViewId.Equal(viewId) {
		tasks = append(tasks, taskqueue.Task{Name: TaskGarbageCollect, Input: GCInput{DocumentId: docID}})
	}
	return tasks, nil
}

func (m *Materializer) reduceSpecificView(ctx context.Context, docID wid.DocumentId, viewId wid.DocumentViewId, g *opGraph) ([]taskqueue.Task, error) {
	if _, err := m.Store.GetDocument(ctx, docID); err != nil {
		if werrors.IsCritical(err) {
			return nil, err
		}
		return nil, nil // document never materialized once: exit
	}

	if ok, err := m.Store.IsCurrentView(ctx, viewId); err != nil {
		return nil, err
	} else if ok {
		return nil, nil // already exists
	}
	if _, _, err := m.Store.GetDocumentByViewId(ctx, viewId); err == nil {
		return nil, nil // already exists as a historical view
	} else if werrors.IsCritical(err) {
		return nil, err
	}

	closure := ancestors(g, viewId)
	for _, id := range viewId {
		if _, ok := g.byID[id]; !ok {
			return nil, nil // insufficient operations exist yet
		}
	}

	restricted := make([]*store.Operation, 0, len(closure))
	for id := range closure {
		if op, ok := g.byID[id]; ok {
			restricted = append(restricted, op)
		}
	}
	if len(restricted) == 0 {
		return nil, nil
	}
	sub := buildGraph(restricted)
	sorted := topoSort(sub)
	merged := mergeFields(sorted)
	if merged.isDeleted {
		return nil, nil
	}

	view := &store.DocumentView{ViewId: viewId, SchemaId: merged.schemaId, Fields: merged.fields}
	if err := m.Store.InsertDocumentView(ctx, view, docID, merged.schemaId); err != nil {
		return nil, err
	}

	return []taskqueue.Task{{Name: TaskDependency, Input: DependencyInput{ViewId: viewId}}}, nil
}
