// Package materializer turns raw operations into document views: the
// reduce, dependency, blob, and garbage-collect workers that run behind
// internal/taskqueue (spec.md §4.4-§4.7). Each worker is plain a
// taskqueue.WorkerFunc; wiring them into pools is Materializer's job.
package materializer

import (
	"github.com/weftdb/weft/internal/wid"
)

// Task pool names, used both to Register workers and to build Task values
// that reference them.
const (
	TaskReduce         = "reduce"
	TaskDependency     = "dependency"
	TaskBlob           = "blob"
	TaskGarbageCollect = "garbage_collect"
)

// ReduceKind tags which of the three §4.4 input variants a ReduceInput carries.
type ReduceKind int

const (
	ReduceDocumentId ReduceKind = iota
	ReduceCurrentView
	ReduceSpecificView
)

// ReduceInput is the reduce worker's input: DocumentId, CurrentView(view_id),
// or SpecificView(view_id).
type ReduceInput struct {
	Kind       ReduceKind
	DocumentId wid.DocumentId
	ViewId     wid.DocumentViewId
}

func (r ReduceInput) Key() string {
	switch r.Kind {
	case ReduceDocumentId:
		return "doc:" + string(r.DocumentId)
	case ReduceCurrentView:
		return "current:" + r.ViewId.String()
	default:
		return "specific:" + r.ViewId.String()
	}
}

// DependencyInput is the dependency worker's input: a view id, current or
// specific (spec.md §4.5 treats both the same way).
type DependencyInput struct {
	ViewId wid.DocumentViewId
}

func (d DependencyInput) Key() string { return d.ViewId.String() }

// BlobInput is the blob worker's input: assemble and cache the blob named by
// ViewId to disk.
type BlobInput struct {
	ViewId wid.DocumentViewId
}

func (b BlobInput) Key() string { return b.ViewId.String() }

// GCInput is the garbage-collect worker's input: a document id (spec.md §4.7).
type GCInput struct {
	DocumentId wid.DocumentId
}

func (g GCInput) Key() string { return string(g.DocumentId) }
