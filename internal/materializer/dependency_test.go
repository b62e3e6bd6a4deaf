package materializer

import (
	"context"
	"testing"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/store/memdb"
	"github.com/weftdb/weft/internal/wid"
)

func TestDependencyDispatchesReduceForMissingRelationChild(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	m := New(st)

	childOp := op("child", store.ActionCreate, nil, store.OperationFields{"title": {Kind: store.ValueString, Str: "c"}})
	childOp.DocumentId = "child-doc"
	childOp.SchemaId = "note_v1"
	if err := st.InsertOperation(ctx, childOp); err != nil {
		t.Fatalf("InsertOperation child: %v", err)
	}

	parentOp := op("parent", store.ActionCreate, nil, store.OperationFields{
		"ref": {Kind: store.ValueRelation, Rel: "child-doc"},
	})
	parentOp.DocumentId = "parent-doc"
	parentOp.SchemaId = "holder_v1"
	if err := st.InsertOperation(ctx, parentOp); err != nil {
		t.Fatalf("InsertOperation parent: %v", err)
	}

	viewId := wid.NewDocumentViewId([]wid.OperationId{"parent"})
	view := &store.DocumentView{ViewId: viewId, SchemaId: "holder_v1", Fields: map[string]store.ViewField{
		"ref": {OperationId: "parent", Value: store.FieldValue{Kind: store.ValueRelation, Rel: "child-doc"}},
	}}
	if err := st.InsertDocumentView(ctx, view, "parent-doc", "holder_v1"); err != nil {
		t.Fatalf("InsertDocumentView: %v", err)
	}

	tasks, err := m.Dependency(ctx, DependencyInput{ViewId: viewId})
	if err != nil {
		t.Fatalf("Dependency: %v", err)
	}
	var sawReduce bool
	for _, task := range tasks {
		if task.Name == TaskReduce {
			in := task.Input.(ReduceInput)
			if in.DocumentId == "child-doc" {
				sawReduce = true
			}
		}
	}
	if !sawReduce {
		t.Fatalf("tasks = %+v, want a reduce task for the unmaterialized child document", tasks)
	}
}

func TestDependencySkipsReduceForAlreadyMaterializedChild(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	m := New(st)

	if err := st.InsertDocument(ctx, &store.Document{ID: "child-doc", ViewId: wid.NewDocumentViewId([]wid.OperationId{"child"}), SchemaId: "note_v1"}); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	viewId := wid.NewDocumentViewId([]wid.OperationId{"parent"})
	view := &store.DocumentView{ViewId: viewId, SchemaId: "holder_v1", Fields: map[string]store.ViewField{
		"ref": {OperationId: "parent", Value: store.FieldValue{Kind: store.ValueRelation, Rel: "child-doc"}},
	}}
	if err := st.InsertDocumentView(ctx, view, "parent-doc", "holder_v1"); err != nil {
		t.Fatalf("InsertDocumentView: %v", err)
	}

	tasks, err := m.Dependency(ctx, DependencyInput{ViewId: viewId})
	if err != nil {
		t.Fatalf("Dependency: %v", err)
	}
	for _, task := range tasks {
		if task.Name == TaskReduce {
			t.Fatalf("tasks = %+v, did not expect a reduce task for an already-materialized child", tasks)
		}
	}
}

func TestDependencyDispatchesBlobWhenViewHasNoOutstandingChildren(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	m := New(st)

	viewId := wid.NewDocumentViewId([]wid.OperationId{"blob-op"})
	view := &store.DocumentView{ViewId: viewId, SchemaId: wid.SchemaBlobV1, Fields: map[string]store.ViewField{}}
	if err := st.InsertDocumentView(ctx, view, "blob-doc", wid.SchemaBlobV1); err != nil {
		t.Fatalf("InsertDocumentView: %v", err)
	}

	tasks, err := m.Dependency(ctx, DependencyInput{ViewId: viewId})
	if err != nil {
		t.Fatalf("Dependency: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Name != TaskBlob {
		t.Fatalf("tasks = %+v, want a single blob task once pieces resolve", tasks)
	}
}

func TestDependencyInvokesSchemaReadyOnceChildrenSatisfied(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	m := New(st)

	var readyViewId wid.DocumentViewId
	m.SchemaReady = func(viewID wid.DocumentViewId) { readyViewId = viewID }

	viewId := wid.NewDocumentViewId([]wid.OperationId{"op1"})
	view := &store.DocumentView{ViewId: viewId, SchemaId: "note_v1", Fields: map[string]store.ViewField{
		"title": {OperationId: "op1", Value: store.FieldValue{Kind: store.ValueString, Str: "hi"}},
	}}
	if err := st.InsertDocumentView(ctx, view, "doc1", "note_v1"); err != nil {
		t.Fatalf("InsertDocumentView: %v", err)
	}

	if _, err := m.Dependency(ctx, DependencyInput{ViewId: viewId}); err != nil {
		t.Fatalf("Dependency: %v", err)
	}
	if !readyViewId.Equal(viewId) {
		t.Fatalf("SchemaReady called with %v, want %v", readyViewId, viewId)
	}
}

func TestDependencyDispatchesParentDependencyTasks(t *testing.T) {
	ctx := context.Background()
	st := memdb.New()
	m := New(st)

	childViewId := wid.NewDocumentViewId([]wid.OperationId{"child-op"})
	if err := st.InsertDocumentView(ctx, &store.DocumentView{ViewId: childViewId, Fields: map[string]store.ViewField{}}, "child-doc", "note_v1"); err != nil {
		t.Fatalf("InsertDocumentView child: %v", err)
	}

	// An existing parent view that already references child-doc via an
	// unpinned relation: once the child materializes, the parent's own
	// dependency task must be re-dispatched (spec.md §4.5 step 3).
	parentViewId := wid.NewDocumentViewId([]wid.OperationId{"parent-op"})
	parentView := &store.DocumentView{ViewId: parentViewId, SchemaId: "holder_v1", Fields: map[string]store.ViewField{
		"ref": {OperationId: "parent-op", Value: store.FieldValue{Kind: store.ValueRelation, Rel: "child-doc"}},
	}}
	if err := st.InsertDocumentView(ctx, parentView, "parent-doc", "holder_v1"); err != nil {
		t.Fatalf("InsertDocumentView parent: %v", err)
	}

	tasks, err := m.Dependency(ctx, DependencyInput{ViewId: childViewId})
	if err != nil {
		t.Fatalf("Dependency: %v", err)
	}
	var sawParentDependency bool
	for _, task := range tasks {
		if task.Name == TaskDependency {
			in := task.Input.(DependencyInput)
			if in.ViewId.Equal(parentViewId) {
				sawParentDependency = true
			}
		}
	}
	if !sawParentDependency {
		t.Fatalf("tasks = %+v, want a dependency task for the referencing parent view", tasks)
	}
}
