package sqlite

import (
	"context"
	"testing"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testHash(b byte) wid.Hash { return wid.NewHash([32]byte{b}) }

func TestSQLiteInsertAndGetEntry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	entry := &store.Entry{
		Hash: testHash(1),
		Decoded: store.DecodedEntry{
			LogId: 1, SeqNum: 1,
			PayloadHash: testHash(2),
		},
	}
	if err := s.InsertEntry(ctx, entry, nil); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}

	got, err := s.GetEntry(ctx, entry.Hash)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Hash != entry.Hash {
		t.Fatalf("got.Hash = %s, want %s", got.Hash, entry.Hash)
	}
}

func TestSQLiteInsertEntryRejectsDuplicateHash(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	entry := &store.Entry{
		Hash:    testHash(1),
		Decoded: store.DecodedEntry{LogId: 1, SeqNum: 1, PayloadHash: testHash(2)},
	}
	if err := s.InsertEntry(ctx, entry, nil); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.InsertEntry(ctx, entry, nil)
	if !werrors.Is(err, werrors.KindDuplicateEntry) {
		t.Fatalf("err = %v, want KindDuplicateEntry", err)
	}
}

func TestSQLiteGetLatestEntryAndEntriesFrom(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	pk := wid.PublicKey{1}
	for seq := uint64(1); seq <= 3; seq++ {
		e := &store.Entry{
			Hash: testHash(byte(seq)),
			Decoded: store.DecodedEntry{
				PublicKey: pk, LogId: 1, SeqNum: wid.SeqNum(seq),
				PayloadHash: testHash(byte(seq + 10)),
			},
		}
		if err := s.InsertEntry(ctx, e, nil); err != nil {
			t.Fatalf("InsertEntry seq %d: %v", seq, err)
		}
	}

	latest, err := s.GetLatestEntry(ctx, pk, 1)
	if err != nil {
		t.Fatalf("GetLatestEntry: %v", err)
	}
	if latest.Decoded.SeqNum != 3 {
		t.Fatalf("latest.SeqNum = %d, want 3", latest.Decoded.SeqNum)
	}

	entries, err := s.GetEntriesFrom(ctx, pk, 1, 2)
	if err != nil {
		t.Fatalf("GetEntriesFrom: %v", err)
	}
	if len(entries) != 2 || entries[0].Decoded.SeqNum != 2 || entries[1].Decoded.SeqNum != 3 {
		t.Fatalf("entries = %+v, want seq 2 then 3", entries)
	}
}

func TestSQLiteInsertLogAndNextLogId(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	pk := wid.PublicKey{2}

	id, err := s.NextLogId(ctx, pk)
	if err != nil {
		t.Fatalf("NextLogId: %v", err)
	}
	if id != 0 {
		t.Fatalf("first NextLogId = %d, want 0", id)
	}

	if err := s.InsertLog(ctx, &store.Log{PublicKey: pk, LogId: 0, DocumentId: "doc1", SchemaId: "note_v1"}); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}

	next, err := s.NextLogId(ctx, pk)
	if err != nil {
		t.Fatalf("NextLogId: %v", err)
	}
	if next != 1 {
		t.Fatalf("NextLogId after one log = %d, want 1", next)
	}

	got, err := s.GetLog(ctx, pk, "doc1")
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if got.DocumentId != "doc1" {
		t.Fatalf("GetLog.DocumentId = %s, want doc1", got.DocumentId)
	}
}

func TestSQLiteInsertLogRejectsDuplicateLogId(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	pk := wid.PublicKey{3}
	if err := s.InsertLog(ctx, &store.Log{PublicKey: pk, LogId: 0, DocumentId: "doc1"}); err != nil {
		t.Fatalf("first InsertLog: %v", err)
	}
	if err := s.InsertLog(ctx, &store.Log{PublicKey: pk, LogId: 0, DocumentId: "doc2"}); err == nil {
		t.Fatalf("expected an error reusing the same log id")
	}
}

func TestSQLiteOperationInsertGetAndIndexOrdering(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ops := []*store.Operation{
		{ID: "z", DocumentId: "doc1"},
		{ID: "a", DocumentId: "doc1"},
	}
	for _, op := range ops {
		if err := s.InsertOperation(ctx, op); err != nil {
			t.Fatalf("InsertOperation %s: %v", op.ID, err)
		}
	}
	if err := s.UpdateOperationIndex(ctx, "z", 5); err != nil {
		t.Fatalf("UpdateOperationIndex: %v", err)
	}

	got, err := s.GetOperationsByDocumentId(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetOperationsByDocumentId: %v", err)
	}
	if len(got) != 2 || got[0].ID != "z" || got[1].ID != "a" {
		t.Fatalf("got = %v, want [z a] (indexed operation sorts before unindexed)", got)
	}
}

func TestSQLiteInsertOperationRejectsDuplicateId(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	op := &store.Operation{ID: "op1", DocumentId: "doc1"}
	if err := s.InsertOperation(ctx, op); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertOperation(ctx, op); err == nil {
		t.Fatalf("expected an error for a duplicate operation id")
	}
}

func TestSQLiteOperationFieldsRoundTripScalarAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	op := &store.Operation{
		ID: "op1", DocumentId: "doc1", SchemaId: "note_v1",
		Fields: store.OperationFields{
			"title": {Kind: store.ValueString, Str: "hello"},
			"tags": {Kind: store.ValueRelationList, List: []store.FieldValue{
				{Kind: store.ValueRelation, Rel: testHash(2)},
				{Kind: store.ValueRelation, Rel: testHash(3)},
			}},
			"archived": {Kind: store.ValueBool, Bool: true},
		},
	}
	if err := s.InsertOperation(ctx, op); err != nil {
		t.Fatalf("InsertOperation: %v", err)
	}

	got, err := s.GetOperation(ctx, "op1")
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if got.Fields["title"].Str != "hello" {
		t.Fatalf("title = %q, want hello", got.Fields["title"].Str)
	}
	if !got.Fields["archived"].Bool {
		t.Fatalf("expected archived = true")
	}
	tags := got.Fields["tags"].List
	if len(tags) != 2 || tags[0].Rel != testHash(2) || tags[1].Rel != testHash(3) {
		t.Fatalf("tags = %+v, want [%s %s]", tags, testHash(2), testHash(3))
	}
}

func TestSQLiteDocumentAndViewRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doc := &store.Document{ID: "doc1", SchemaId: "note_v1"}
	if err := s.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}
	if err := s.InsertOperation(ctx, &store.Operation{ID: "op1", DocumentId: "doc1", SchemaId: "note_v1"}); err != nil {
		t.Fatalf("InsertOperation: %v", err)
	}
	if err := insertTestOperationFields(ctx, s, "op1", store.OperationFields{
		"title": {Kind: store.ValueString, Str: "hi"},
	}); err != nil {
		t.Fatalf("insert operation fields: %v", err)
	}

	viewID := wid.NewDocumentViewId([]wid.OperationId{"op1"})
	view := &store.DocumentView{
		ViewId: viewID,
		Fields: map[string]store.ViewField{
			"title": {OperationId: "op1", Value: store.FieldValue{Kind: store.ValueString, Str: "hi"}},
		},
	}
	if err := s.InsertDocumentView(ctx, view, "doc1", "note_v1"); err != nil {
		t.Fatalf("InsertDocumentView: %v", err)
	}

	gotDoc, err := s.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if gotDoc.SchemaId != "note_v1" {
		t.Fatalf("SchemaId = %s, want note_v1", gotDoc.SchemaId)
	}

	gotView, docID, err := s.GetDocumentByViewId(ctx, viewID)
	if err != nil {
		t.Fatalf("GetDocumentByViewId: %v", err)
	}
	if docID != "doc1" {
		t.Fatalf("docID = %s, want doc1", docID)
	}
	if gotView.Fields["title"].Value.Str != "hi" {
		t.Fatalf("title = %q, want hi", gotView.Fields["title"].Value.Str)
	}
}

func TestSQLiteInsertDocumentViewIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.InsertOperation(ctx, &store.Operation{ID: "op1", DocumentId: "doc1", SchemaId: "note_v1"}); err != nil {
		t.Fatalf("InsertOperation: %v", err)
	}
	if err := insertTestOperationFields(ctx, s, "op1", store.OperationFields{
		"title": {Kind: store.ValueString, Str: "first"},
	}); err != nil {
		t.Fatalf("insert operation fields: %v", err)
	}

	viewID := wid.NewDocumentViewId([]wid.OperationId{"op1"})
	view := &store.DocumentView{ViewId: viewID, Fields: map[string]store.ViewField{
		"title": {OperationId: "op1", Value: store.FieldValue{Kind: store.ValueString, Str: "first"}},
	}}
	if err := s.InsertDocumentView(ctx, view, "doc1", "note_v1"); err != nil {
		t.Fatalf("first InsertDocumentView: %v", err)
	}
	// A second insert under the same view id must be a no-op.
	if err := s.InsertDocumentView(ctx, view, "doc1", "note_v1"); err != nil {
		t.Fatalf("second InsertDocumentView: %v", err)
	}

	got, _, err := s.GetDocumentByViewId(ctx, viewID)
	if err != nil {
		t.Fatalf("GetDocumentByViewId: %v", err)
	}
	if got.Fields["title"].Value.Str != "first" {
		t.Fatalf("title = %q, want first (idempotent insert must not overwrite)", got.Fields["title"].Value.Str)
	}
}

func TestSQLitePruneDocumentViewRespectsPinnedRelations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	pinnedView := wid.NewDocumentViewId([]wid.OperationId{"op1"})
	if err := s.InsertDocumentView(ctx, &store.DocumentView{ViewId: pinnedView, Fields: map[string]store.ViewField{}}, "doc1", "note_v1"); err != nil {
		t.Fatalf("InsertDocumentView: %v", err)
	}

	if err := s.InsertOperation(ctx, &store.Operation{ID: "op2", DocumentId: "doc2", SchemaId: "holder_v1"}); err != nil {
		t.Fatalf("InsertOperation op2: %v", err)
	}
	if err := insertTestOperationFields(ctx, s, "op2", store.OperationFields{
		"ref": {Kind: store.ValuePinnedRelation, Pinned: pinnedView},
	}); err != nil {
		t.Fatalf("insert op2 fields: %v", err)
	}
	parentView := wid.NewDocumentViewId([]wid.OperationId{"op2"})
	parent := &store.DocumentView{ViewId: parentView, Fields: map[string]store.ViewField{
		"ref": {OperationId: "op2", Value: store.FieldValue{Kind: store.ValuePinnedRelation, Pinned: pinnedView}},
	}}
	if err := s.InsertDocumentView(ctx, parent, "doc2", "holder_v1"); err != nil {
		t.Fatalf("InsertDocumentView parent: %v", err)
	}

	pruned, err := s.PruneDocumentView(ctx, pinnedView)
	if err != nil {
		t.Fatalf("PruneDocumentView: %v", err)
	}
	if pruned {
		t.Fatalf("expected a pinned view to survive pruning")
	}
	if _, _, err := s.GetDocumentByViewId(ctx, pinnedView); err != nil {
		t.Fatalf("pinned view should still exist: %v", err)
	}
}

func TestSQLitePruneDocumentViewDeletesUnpinnedView(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	viewID := wid.NewDocumentViewId([]wid.OperationId{"op1"})
	if err := s.InsertDocumentView(ctx, &store.DocumentView{ViewId: viewID, Fields: map[string]store.ViewField{}}, "doc1", "note_v1"); err != nil {
		t.Fatalf("InsertDocumentView: %v", err)
	}

	pruned, err := s.PruneDocumentView(ctx, viewID)
	if err != nil {
		t.Fatalf("PruneDocumentView: %v", err)
	}
	if !pruned {
		t.Fatalf("expected an unpinned view to be pruned")
	}
	if _, _, err := s.GetDocumentByViewId(ctx, viewID); err == nil {
		t.Fatalf("expected the pruned view to be gone")
	}
}

func TestSQLitePurgeDocumentRemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	pk := wid.PublicKey{4}

	if err := s.InsertDocument(ctx, &store.Document{ID: "doc1", SchemaId: "note_v1"}); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}
	if err := s.InsertLog(ctx, &store.Log{PublicKey: pk, LogId: 0, DocumentId: "doc1"}); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}
	entry := &store.Entry{Hash: testHash(1), Decoded: store.DecodedEntry{PublicKey: pk, LogId: 0, SeqNum: 1, PayloadHash: testHash(2)}}
	op := &store.Operation{ID: "entry1op", DocumentId: "doc1"}
	if err := s.InsertEntry(ctx, entry, op); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	viewID := wid.NewDocumentViewId([]wid.OperationId{"entry1op"})
	if err := s.InsertDocumentView(ctx, &store.DocumentView{ViewId: viewID, Fields: map[string]store.ViewField{}}, "doc1", "note_v1"); err != nil {
		t.Fatalf("InsertDocumentView: %v", err)
	}

	if err := s.PurgeDocument(ctx, "doc1"); err != nil {
		t.Fatalf("PurgeDocument: %v", err)
	}

	if _, err := s.GetDocument(ctx, "doc1"); err == nil {
		t.Fatalf("expected document to be purged")
	}
	if _, err := s.GetOperation(ctx, "entry1op"); err == nil {
		t.Fatalf("expected operation to be purged")
	}
	if _, err := s.GetEntry(ctx, entry.Hash); err == nil {
		t.Fatalf("expected entry to be purged")
	}
	if _, _, err := s.GetDocumentByViewId(ctx, viewID); err == nil {
		t.Fatalf("expected view to be purged")
	}
}

func TestSQLiteGetDocumentLogHeights(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	pk := wid.PublicKey{5}

	if err := s.InsertDocument(ctx, &store.Document{ID: "doc1", SchemaId: "note_v1"}); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}
	if err := s.InsertLog(ctx, &store.Log{PublicKey: pk, LogId: 0, DocumentId: "doc1"}); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}
	for seq := uint64(1); seq <= 2; seq++ {
		e := &store.Entry{
			Hash: testHash(byte(seq + 100)),
			Decoded: store.DecodedEntry{
				PublicKey: pk, LogId: 0, SeqNum: wid.SeqNum(seq),
				PayloadHash: testHash(byte(seq + 150)),
			},
		}
		if err := s.InsertEntry(ctx, e, nil); err != nil {
			t.Fatalf("InsertEntry: %v", err)
		}
	}

	heights, err := s.GetDocumentLogHeights(ctx, []wid.DocumentId{"doc1"})
	if err != nil {
		t.Fatalf("GetDocumentLogHeights: %v", err)
	}
	if len(heights) != 1 || len(heights[0].Logs) != 1 {
		t.Fatalf("heights = %+v, want one author with one log", heights)
	}
	if heights[0].Logs[0].SeqNum != 2 {
		t.Fatalf("SeqNum = %d, want 2", heights[0].Logs[0].SeqNum)
	}
}

func TestSQLiteGetBlobChildRelationsFindsPinnedBlobTarget(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.InsertDocument(ctx, &store.Document{ID: "blob1", SchemaId: wid.SchemaBlobV1}); err != nil {
		t.Fatalf("InsertDocument blob: %v", err)
	}
	blobView := wid.NewDocumentViewId([]wid.OperationId{testHash(31)})
	if err := s.InsertDocumentView(ctx, &store.DocumentView{ViewId: blobView, Fields: map[string]store.ViewField{}}, "blob1", wid.SchemaBlobV1); err != nil {
		t.Fatalf("InsertDocumentView blob: %v", err)
	}

	if err := s.InsertOperation(ctx, &store.Operation{ID: "holderop", DocumentId: "doc1", SchemaId: "note_v1"}); err != nil {
		t.Fatalf("InsertOperation: %v", err)
	}
	if err := insertTestOperationFields(ctx, s, "holderop", store.OperationFields{
		"attachment": {Kind: store.ValuePinnedRelation, Pinned: blobView},
	}); err != nil {
		t.Fatalf("insert holder fields: %v", err)
	}

	got, err := s.GetBlobChildRelations(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetBlobChildRelations: %v", err)
	}
	if len(got) != 1 || got[0] != "blob1" {
		t.Fatalf("got = %v, want [blob1]", got)
	}
}

func TestSQLiteGetParentsWithPinnedRelation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	childView := wid.NewDocumentViewId([]wid.OperationId{"childop"})
	if err := s.InsertDocumentView(ctx, &store.DocumentView{ViewId: childView, Fields: map[string]store.ViewField{}}, "child", "note_v1"); err != nil {
		t.Fatalf("InsertDocumentView child: %v", err)
	}

	parentOp := testHash(41)
	if err := s.InsertOperation(ctx, &store.Operation{ID: parentOp, DocumentId: "parent", SchemaId: "holder_v1"}); err != nil {
		t.Fatalf("InsertOperation parentop: %v", err)
	}
	if err := insertTestOperationFields(ctx, s, parentOp, store.OperationFields{
		"ref": {Kind: store.ValuePinnedRelation, Pinned: childView},
	}); err != nil {
		t.Fatalf("insert parentop fields: %v", err)
	}
	parentView := wid.NewDocumentViewId([]wid.OperationId{parentOp})
	if err := s.InsertDocumentView(ctx, &store.DocumentView{ViewId: parentView, Fields: map[string]store.ViewField{
		"ref": {OperationId: parentOp, Value: store.FieldValue{Kind: store.ValuePinnedRelation, Pinned: childView}},
	}}, "parent", "holder_v1"); err != nil {
		t.Fatalf("InsertDocumentView parent: %v", err)
	}

	got, err := s.GetParentsWithPinnedRelation(ctx, childView)
	if err != nil {
		t.Fatalf("GetParentsWithPinnedRelation: %v", err)
	}
	if len(got) != 1 || !got[0].Equal(parentView) {
		t.Fatalf("got = %v, want [%v]", got, parentView)
	}
}

// insertTestOperationFields writes operation_fields_v1 rows directly for an
// already-inserted operation, mirroring what InsertOperation does internally
// when called with non-nil Fields, without re-inserting the operation row.
func insertTestOperationFields(ctx context.Context, s *Store, opID wid.OperationId, fields store.OperationFields) error {
	return insertOperationFields(ctx, s.db, opID, fields)
}
