package materializer

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/taskqueue"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// MaxBlobPieces bounds how many pinned pieces a blob_v1 document may name
// (spec.md §4.6).
const MaxBlobPieces = 10000

// Blob implements the blob worker (spec.md §4.6): assembling a blob_v1
// document's byte stream from its pinned pieces and caching it to disk,
// keyed by the blob's view id.
func (m *Materializer) Blob(ctx context.Context, input taskqueue.Input) ([]taskqueue.Task, error) {
	in, ok := input.(BlobInput)
	if !ok {
		return nil, werrors.New(werrors.KindStore, "blob: unexpected input type %T", input)
	}
	data, _, err := m.assembleFromViewId(ctx, in.ViewId)
	if err != nil {
		return nil, err
	}
	if err := m.cacheBlob(in.ViewId, data); err != nil {
		return nil, werrors.Wrap(werrors.KindStore, err, "blob: cache to disk")
	}
	log.Printf("weft/materializer: assembled blob view %s (%s)", in.ViewId.String(), humanize.Bytes(uint64(len(data))))
	return nil, nil
}

// GetBlob assembles the current blob bytes and mime type for docID.
func (m *Materializer) GetBlob(ctx context.Context, docID wid.DocumentId) ([]byte, string, error) {
	doc, err := m.Store.GetDocument(ctx, docID)
	if err != nil {
		return nil, "", err
	}
	if doc.SchemaId != wid.SchemaBlobV1 {
		return nil, "", werrors.New(werrors.KindBlobNotBlobDocument, "document %s is not a blob_v1 document", docID)
	}
	if doc.IsDeleted || len(doc.ViewId) == 0 {
		return nil, "", werrors.New(werrors.KindBlobNotBlobDocument, "document %s has no current view", docID)
	}
	return m.assembleFromViewId(ctx, doc.ViewId)
}

// GetBlobByViewId assembles blob bytes for one specific historical view.
func (m *Materializer) GetBlobByViewId(ctx context.Context, viewID wid.DocumentViewId) ([]byte, string, error) {
	return m.assembleFromViewId(ctx, viewID)
}

func (m *Materializer) assembleFromViewId(ctx context.Context, viewID wid.DocumentViewId) ([]byte, string, error) {
	view, docID, err := m.Store.GetDocumentByViewId(ctx, viewID)
	if err != nil {
		return nil, "", err
	}
	if view.SchemaId != wid.SchemaBlobV1 {
		return nil, "", werrors.New(werrors.KindBlobNotBlobDocument, "document %s is not a blob_v1 document", docID)
	}
	return m.assembleView(ctx, view)
}

func (m *Materializer) assembleView(ctx context.Context, view *store.DocumentView) ([]byte, string, error) {
	lengthField, ok := view.Fields["length"]
	if !ok || lengthField.Value.Kind != store.ValueInt {
		return nil, "", werrors.New(werrors.KindBlobNotBlobDocument, "blob view missing length field")
	}
	mimeField := view.Fields["mime_type"]

	piecesField, ok := view.Fields["pieces"]
	if !ok || piecesField.Value.Kind != store.ValuePinnedRelationList {
		return nil, "", werrors.New(werrors.KindBlobNoPiecesFound, "blob view has no pieces field")
	}
	if len(piecesField.Value.List) == 0 {
		return nil, "", werrors.New(werrors.KindBlobNoPiecesFound, "blob has no pieces")
	}
	if len(piecesField.Value.List) > MaxBlobPieces {
		return nil, "", werrors.New(werrors.KindBlobMissingPieces, "blob has %d pieces, exceeding max %d",
			len(piecesField.Value.List), MaxBlobPieces)
	}

	var b strings.Builder
	for _, piece := range piecesField.Value.List {
		if piece.Kind != store.ValuePinnedRelation {
			return nil, "", werrors.New(werrors.KindBlobMissingPieces, "blob piece entry is not pinned_relation")
		}
		pieceView, _, err := m.Store.GetDocumentByViewId(ctx, piece.Pinned)
		if err != nil {
			return nil, "", werrors.New(werrors.KindBlobMissingPieces, "blob piece %s not found", piece.Pinned.String())
		}
		dataField, ok := pieceView.Fields["data"]
		if !ok || dataField.Value.Kind != store.ValueString {
			return nil, "", werrors.New(werrors.KindBlobMissingPieces, "blob piece %s missing data field", piece.Pinned.String())
		}
		b.WriteString(dataField.Value.Str)
	}

	data := []byte(b.String())
	if int64(len(data)) != lengthField.Value.Int {
		return nil, "", werrors.New(werrors.KindBlobIncorrectLength,
			"blob declared length %d, assembled %d bytes", lengthField.Value.Int, len(data))
	}
	return data, mimeField.Value.Str, nil
}

// PurgeBlob implements §4.6 purge_blob: only purges a blob document when no
// document of any schema relates or pins to it; cascades into each
// referenced piece document no remaining blob points to. Returns whether the
// purge actually happened (false, nil means the blob is still referenced).
func (m *Materializer) PurgeBlob(ctx context.Context, docID wid.DocumentId) (bool, error) {
	doc, err := m.Store.GetDocument(ctx, docID)
	if err != nil {
		return false, err
	}
	if doc.SchemaId != wid.SchemaBlobV1 {
		return false, werrors.New(werrors.KindBlobNotBlobDocument, "document %s is not a blob_v1 document", docID)
	}

	referenced, err := m.hasAnyReference(ctx, docID, doc.ViewId)
	if err != nil {
		return false, err
	}
	if referenced {
		return false, nil
	}

	pieceIDs, err := m.referencedPieceIds(ctx, doc.ViewId)
	if err != nil {
		return false, err
	}

	if err := m.Store.PurgeDocument(ctx, docID); err != nil {
		return false, err
	}
	m.removeCachedBlob(doc.ViewId)
	log.Printf("weft/materializer: purged blob document %s, %d candidate pieces", docID, len(pieceIDs))

	for _, pieceID := range pieceIDs {
		stillReferenced, err := m.hasAnyReference(ctx, pieceID, nil)
		if err != nil {
			return true, err
		}
		if !stillReferenced {
			if err := m.Store.PurgeDocument(ctx, pieceID); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

func (m *Materializer) hasAnyReference(ctx context.Context, docID wid.DocumentId, viewID wid.DocumentViewId) (bool, error) {
	unpinned, err := m.Store.GetParentsWithUnpinnedRelation(ctx, docID)
	if err != nil {
		return false, err
	}
	if len(unpinned) > 0 {
		return true, nil
	}
	if len(viewID) > 0 {
		pinned, err := m.Store.GetParentsWithPinnedRelation(ctx, viewID)
		if err != nil {
			return false, err
		}
		if len(pinned) > 0 {
			return true, nil
		}
	}
	allViews, err := m.Store.GetAllDocumentViewIds(ctx, docID)
	if err != nil {
		return false, err
	}
	for _, v := range allViews {
		pinned, err := m.Store.GetParentsWithPinnedRelation(ctx, v)
		if err != nil {
			return false, err
		}
		if len(pinned) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (m *Materializer) referencedPieceIds(ctx context.Context, viewID wid.DocumentViewId) ([]wid.DocumentId, error) {
	if len(viewID) == 0 {
		return nil, nil
	}
	return m.Store.GetChildDocumentIds(ctx, viewID)
}

func (m *Materializer) cacheBlob(viewID wid.DocumentViewId, data []byte) error {
	if m.BlobCacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(m.BlobCacheDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.blobCachePath(viewID), data, 0o644)
}

func (m *Materializer) removeCachedBlob(viewID wid.DocumentViewId) {
	if m.BlobCacheDir == "" || len(viewID) == 0 {
		return
	}
	_ = os.Remove(m.blobCachePath(viewID))
}

func (m *Materializer) blobCachePath(viewID wid.DocumentViewId) string {
	return filepath.Join(m.BlobCacheDir, viewID.String())
}
