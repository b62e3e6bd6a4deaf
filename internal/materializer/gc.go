package materializer

import (
	"context"
	"log"

	"github.com/dustin/go-humanize"

	"github.com/weftdb/weft/internal/taskqueue"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// GarbageCollect implements the garbage-collect worker (spec.md §4.7):
// pruning a document's historical views once they are no longer pinned,
// and purging a fully-collapsed blob document.
func (m *Materializer) GarbageCollect(ctx context.Context, input taskqueue.Input) ([]taskqueue.Task, error) {
	in, ok := input.(GCInput)
	if !ok {
		return nil, werrors.New(werrors.KindStore, "garbage_collect: unexpected input type %T", input)
	}

	doc, err := m.Store.GetDocument(ctx, in.DocumentId)
	if err != nil {
		if werrors.IsCritical(err) {
			return nil, err
		}
		return nil, nil
	}

	allViews, err := m.Store.GetAllDocumentViewIds(ctx, in.DocumentId)
	if err != nil {
		return nil, err
	}

	historical := make([]wid.DocumentViewId, 0, len(allViews))
	for _, v := range allViews {
		if !doc.IsDeleted && v.Equal(doc.ViewId) {
			continue
		}
		historical = append(historical, v)
	}

	effected := make(map[wid.DocumentId]struct{})
	remaining := 0
	for _, v := range historical {
		children, err := m.Store.GetChildDocumentIds(ctx, v)
		if err != nil {
			return nil, err
		}
		pruned, err := m.Store.PruneDocumentView(ctx, v)
		if err != nil {
			return nil, err
		}
		if pruned {
			m.removeCachedBlob(v)
			for _, c := range children {
				effected[c] = struct{}{}
			}
		} else {
			remaining++
		}
	}

	if !doc.IsDeleted && doc.SchemaId == wid.SchemaBlobV1 && remaining == 0 {
		purged, err := m.PurgeBlob(ctx, in.DocumentId)
		if err != nil {
			if werrors.IsCritical(err) {
				return nil, err
			}
		} else if purged {
			m.removeCachedBlob(doc.ViewId)
		}
	}

	if len(historical) > 0 {
		log.Printf("weft/materializer: gc %s: pruned %d/%d historical views, %s effected children",
			in.DocumentId, len(historical)-remaining, len(historical), humanize.Comma(int64(len(effected))))
	}

	tasks := make([]taskqueue.Task, 0, len(effected))
	for docID := range effected {
		tasks = append(tasks, taskqueue.Task{Name: TaskGarbageCollect, Input: GCInput{DocumentId: docID}})
	}
	return tasks, nil
}
