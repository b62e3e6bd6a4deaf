package materializer

import (
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/taskqueue"
	"github.com/weftdb/weft/internal/wid"
)

// Materializer owns the store handle the reduce/dependency/blob/gc workers
// share. It carries no queue reference of its own — RegisterWorkers wires
// its methods into a caller-owned taskqueue.Queue, following the node's
// "no global singletons" rule.
type Materializer struct {
	Store store.Store

	// BlobCacheDir is where assembled blob bytes are cached, keyed by view
	// id. Empty disables disk caching (spec.md §4.6 treats filesystem I/O
	// as an external collaborator; this is the hook a caller wires in).
	BlobCacheDir string

	// SchemaReady is called once a view has no outstanding child reduce
	// tasks (spec.md §4.5 step 4's schema(view_id) task, "consumed by an
	// external schema-registry collaborator, out of scope here"). Nil is a
	// valid no-op.
	SchemaReady func(viewID wid.DocumentViewId)
}

// New builds a Materializer over st.
func New(st store.Store) *Materializer {
	return &Materializer{Store: st}
}

// PoolSizes configures how many concurrent workers each named pool runs.
type PoolSizes struct {
	Reduce         int
	Dependency     int
	Blob           int
	GarbageCollect int
}

// DefaultPoolSizes mirrors a modest single-node deployment: reduce and
// dependency see the most traffic per publish, blob and gc trail behind.
func DefaultPoolSizes() PoolSizes {
	return PoolSizes{Reduce: 4, Dependency: 4, Blob: 2, GarbageCollect: 2}
}

// RegisterWorkers installs the four materializer pools on q.
func (m *Materializer) RegisterWorkers(q *taskqueue.Queue, sizes PoolSizes) {
	q.Register(TaskReduce, sizes.Reduce, m.Reduce)
	q.Register(TaskDependency, sizes.Dependency, m.Dependency)
	q.Register(TaskBlob, sizes.Blob, m.Blob)
	q.Register(TaskGarbageCollect, sizes.GarbageCollect, m.GarbageCollect)
}
