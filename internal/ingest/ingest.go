// Package ingest is the entry point for both locally authored and
// remotely replicated (entry, operation) pairs: it validates the schema is
// known, runs them through the publish pipeline, and hands materialization
// off to the task queue without blocking on it (spec.md §4.10).
package ingest

import (
	"context"

	"github.com/weftdb/weft/internal/codec"
	"github.com/weftdb/weft/internal/materializer"
	"github.com/weftdb/weft/internal/publish"
	"github.com/weftdb/weft/internal/schema"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/taskqueue"
	"github.com/weftdb/weft/internal/werrors"
)

// Ingester wires the store, schema registry, and task queue a running node
// needs to accept new entries, whether authored locally or received over
// replication.
type Ingester struct {
	Store    store.Store
	Registry *schema.Registry
	Queue    *taskqueue.Queue
}

// New builds an Ingester.
func New(st store.Store, registry *schema.Registry, q *taskqueue.Queue) *Ingester {
	return &Ingester{Store: st, Registry: registry, Queue: q}
}

// HandleEntry implements spec.md §4.10's handle_entry: decode, validate the
// schema is known, publish, and enqueue materialization. The ingester does
// not wait on materialization finishing.
func (g *Ingester) HandleEntry(ctx context.Context, encodedEntry, encodedOperation []byte) (*publish.Result, error) {
	decodedOp, err := codec.DecodeOperation(encodedOperation)
	if err != nil {
		return nil, err
	}
	if _, ok := g.Registry.Get(decodedOp.SchemaId); !ok {
		return nil, werrors.New(werrors.KindSchemaNotFound, "schema %s not registered", decodedOp.SchemaId)
	}

	result, err := publish.Publish(ctx, g.Store, g.Registry, encodedEntry, encodedOperation)
	if err != nil {
		return nil, err
	}

	if g.Queue != nil {
		task := taskqueue.Task{
			Name: materializer.TaskReduce,
			Input: materializer.ReduceInput{
				Kind:       materializer.ReduceDocumentId,
				DocumentId: result.DocumentId,
			},
		}
		if err := g.Queue.Enqueue(task); err != nil {
			return nil, werrors.Store(err, "ingest: enqueue reduce task")
		}
	}

	return result, nil
}
