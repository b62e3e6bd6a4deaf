package materializer

import (
	"context"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/taskqueue"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// Dependency implements the dependency worker (spec.md §4.5): walking a
// newly-materialized view's relation fields, dispatching reduce tasks for
// unmaterialized children and dependency tasks for parents whose own views
// may now be satisfiable.
func (m *Materializer) Dependency(ctx context.Context, input taskqueue.Input) ([]taskqueue.Task, error) {
	in, ok := input.(DependencyInput)
	if !ok {
		return nil, werrors.New(werrors.KindStore, "dependency: unexpected input type %T", input)
	}

	view, docID, err := m.Store.GetDocumentByViewId(ctx, in.ViewId)
	if err != nil {
		return nil, err // missing is already a non-critical error from the store
	}

	var childTasks []taskqueue.Task
	for _, f := range view.Fields {
		produced, err := m.childReduceTasks(ctx, f.Value)
		if err != nil {
			return nil, err
		}
		childTasks = append(childTasks, produced...)
	}

	parentViewIds, err := m.parentViewIds(ctx, docID, in.ViewId)
	if err != nil {
		return nil, err
	}

	tasks := make([]taskqueue.Task, 0, len(childTasks)+len(parentViewIds)+1)
	tasks = append(tasks, childTasks...)
	for _, pv := range parentViewIds {
		tasks = append(tasks, taskqueue.Task{Name: TaskDependency, Input: DependencyInput{ViewId: pv}})
	}

	if len(childTasks) == 0 {
		if m.SchemaReady != nil {
			m.SchemaReady(in.ViewId)
		}
		if view.SchemaId == wid.SchemaBlobV1 {
			tasks = append(tasks, taskqueue.Task{Name: TaskBlob, Input: BlobInput{ViewId: in.ViewId}})
		}
	}

	return tasks, nil
}

// childReduceTasks inspects one field value for relation/pinned_relation
// (and their list forms) members that are not yet materialized.
func (m *Materializer) childReduceTasks(ctx context.Context, v store.FieldValue) ([]taskqueue.Task, error) {
	switch v.Kind {
	case store.ValueRelation:
		return m.reduceIfMissingDoc(ctx, v.Rel)
	case store.ValuePinnedRelation:
		return m.reduceIfMissingView(ctx, v.Pinned)
	case store.ValueRelationList, store.ValuePinnedRelationList:
		var tasks []taskqueue.Task
		for _, elem := range v.List {
			produced, err := m.childReduceTasks(ctx, elem)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, produced...)
		}
		return tasks, nil
	default:
		return nil, nil
	}
}

func (m *Materializer) reduceIfMissingDoc(ctx context.Context, docID wid.DocumentId) ([]taskqueue.Task, error) {
	if docID == "" {
		return nil, nil
	}
	if _, err := m.Store.GetDocument(ctx, docID); err != nil {
		if werrors.IsCritical(err) {
			return nil, err
		}
		return []taskqueue.Task{{Name: TaskReduce, Input: ReduceInput{Kind: ReduceDocumentId, DocumentId: docID}}}, nil
	}
	return nil, nil
}

func (m *Materializer) reduceIfMissingView(ctx context.Context, viewID wid.DocumentViewId) ([]taskqueue.Task, error) {
	if len(viewID) == 0 {
		return nil, nil
	}
	if _, _, err := m.Store.GetDocumentByViewId(ctx, viewID); err != nil {
		if werrors.IsCritical(err) {
			return nil, err
		}
		return []taskqueue.Task{{Name: TaskReduce, Input: ReduceInput{Kind: ReduceSpecificView, ViewId: viewID}}}, nil
	}
	return nil, nil
}

// parentViewIds unions §4.5 step 3's two parent queries, deduped.
func (m *Materializer) parentViewIds(ctx context.Context, docID wid.DocumentId, viewID wid.DocumentViewId) ([]wid.DocumentViewId, error) {
	unpinned, err := m.Store.GetParentsWithUnpinnedRelation(ctx, docID)
	if err != nil {
		return nil, err
	}
	pinned, err := m.Store.GetParentsWithPinnedRelation(ctx, viewID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(unpinned)+len(pinned))
	out := make([]wid.DocumentViewId, 0, len(unpinned)+len(pinned))
	for _, v := range append(unpinned, pinned...) {
		key := v.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}
