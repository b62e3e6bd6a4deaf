// Package publish implements the validation and insert pipeline that turns
// a candidate (encoded entry, encoded operation) pair into stored rows,
// enforcing the per-author log and document invariants (spec.md §4.2).
package publish

import (
	"context"

	"github.com/weftdb/weft/internal/codec"
	"github.com/weftdb/weft/internal/schema"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// NextArgs is the next-publish hint for a given (public_key, document_id),
// spec.md §4.2 step 9.
type NextArgs struct {
	LogId     wid.LogId
	SeqNum    wid.SeqNum
	Backlink  wid.Hash // empty if none
	Skiplink  wid.Hash // empty if none
}

// Result is the outcome of a successful Publish call.
type Result struct {
	NextArgs
	DocumentId wid.DocumentId
	OperationId wid.OperationId
}

// Publish validates and inserts one (encoded entry, encoded operation)
// pair, following the nine-step order of spec.md §4.2 exactly: each step
// fails with a specific error kind, and validation is purely a function of
// the inputs and the current store state.
func Publish(ctx context.Context, st store.Store, registry *schema.Registry, encodedEntry, encodedOperation []byte) (*Result, error) {
	// Step 1-2: decode + verify signature, payload hash, payload size.
	decodedEntry, entryHash, err := codec.DecodeAndVerifyEntry(encodedEntry, encodedOperation)
	if err != nil {
		return nil, err
	}

	// Step 3: decode operation, enforce structural previous/fields rules.
	decodedOp, err := codec.DecodeOperation(encodedOperation)
	if err != nil {
		return nil, err
	}

	// Step 4: validate fields against the supplied schema.
	sch, err := registry.MustGet(decodedOp.SchemaId)
	if err != nil {
		return nil, werrors.New(werrors.KindSchemaNotFound, "%v", err)
	}
	if decodedOp.Action != store.ActionDelete {
		if err := validateFields(sch, decodedOp.Fields); err != nil {
			return nil, err
		}
	}

	// Step 5: determine document id.
	var documentId wid.DocumentId
	if decodedOp.Action == store.ActionCreate {
		documentId = entryHash
	} else {
		documentId, err = resolveDocumentId(ctx, st, decodedOp.Previous)
		if err != nil {
			return nil, err
		}
	}

	// Step 6: validate log assignment.
	logId, err := resolveLogId(ctx, st, decodedEntry.PublicKey, documentId, decodedEntry.LogId)
	if err != nil {
		return nil, err
	}

	// Step 7: validate sequence + backlink/skiplink.
	var existingLog bool
	if _, err := st.GetLog(ctx, decodedEntry.PublicKey, documentId); err == nil {
		existingLog = true
	}
	latest, hasLatest, err := latestEntry(ctx, st, decodedEntry.PublicKey, logId)
	if err != nil {
		return nil, err
	}
	if err := validateSequence(decodedEntry, latest, hasLatest); err != nil {
		return nil, err
	}
	if decodedEntry.SkiplinkHash != "" {
		lipmaaSeq := wid.SeqNum(wid.Lipmaa(uint64(decodedEntry.SeqNum)))
		anc, err := st.GetEntryAtSeqNum(ctx, decodedEntry.PublicKey, logId, lipmaaSeq)
		if err != nil && werrors.IsCritical(err) {
			return nil, err
		}
		if err != nil || anc.Hash != decodedEntry.SkiplinkHash {
			return nil, werrors.New(werrors.KindSkiplinkMismatch, "skiplink does not match entry at seq_num %d", lipmaaSeq)
		}
	}

	// Step 8: insert log row if new; insert entry; insert operation with fields.
	if !existingLog {
		if err := st.InsertLog(ctx, &store.Log{
			PublicKey:  decodedEntry.PublicKey,
			LogId:      logId,
			DocumentId: documentId,
			SchemaId:   decodedOp.SchemaId,
		}); err != nil {
			return nil, err
		}
	}

	entry := &store.Entry{
		Hash:      entryHash,
		Decoded:   *decodedEntry,
		EncodedOp: encodedOperation,
	}
	op := &store.Operation{
		ID:         entryHash,
		PublicKey:  decodedEntry.PublicKey,
		DocumentId: documentId,
		Action:     decodedOp.Action,
		SchemaId:   decodedOp.SchemaId,
		Previous:   decodedOp.Previous,
		Fields:     decodedOp.Fields,
	}
	if err := st.InsertEntry(ctx, entry, op); err != nil {
		return nil, err
	}

	// Step 9: compute next args for (public_key, document_id).
	next, err := computeNextArgs(ctx, st, decodedEntry.PublicKey, logId, entryHash, decodedEntry.SeqNum)
	if err != nil {
		return nil, err
	}

	return &Result{NextArgs: *next, DocumentId: documentId, OperationId: entryHash}, nil
}

// NextArgsFor computes §4.2 step 9's output for an author who may not have
// published to this document yet (spec.md §8 scenario 1).
func NextArgsFor(ctx context.Context, st store.Store, pk wid.PublicKey, docID wid.DocumentId) (*NextArgs, error) {
	l, err := st.GetLog(ctx, pk, docID)
	if err != nil {
		logId, err := st.NextLogId(ctx, pk)
		if err != nil {
			return nil, err
		}
		return &NextArgs{LogId: logId, SeqNum: 1}, nil
	}
	latest, hasLatest, err := latestEntry(ctx, st, pk, l.LogId)
	if err != nil {
		return nil, err
	}
	var latestHash wid.Hash
	var latestSeq wid.SeqNum
	if hasLatest {
		latestHash = latest.Hash
		latestSeq = latest.Decoded.SeqNum
	}
	return computeNextArgs(ctx, st, pk, l.LogId, latestHash, latestSeq)
}

func computeNextArgs(ctx context.Context, st store.Store, pk wid.PublicKey, logId wid.LogId, latestHash wid.Hash, latestSeq wid.SeqNum) (*NextArgs, error) {
	nextSeq := latestSeq + 1
	next := &NextArgs{LogId: logId, SeqNum: nextSeq}
	if latestSeq > 0 {
		next.Backlink = latestHash
	}
	if wid.RequiresSkiplink(uint64(nextSeq)) {
		lipmaaSeq := wid.Lipmaa(uint64(nextSeq))
		anc, err := st.GetEntryAtSeqNum(ctx, pk, logId, wid.SeqNum(lipmaaSeq))
		if err != nil {
			return nil, err
		}
		next.Skiplink = anc.Hash
	}
	return next, nil
}

func latestEntry(ctx context.Context, st store.Store, pk wid.PublicKey, logId wid.LogId) (*store.Entry, bool, error) {
	e, err := st.GetLatestEntry(ctx, pk, logId)
	if err != nil {
		if werrors.IsCritical(err) {
			return nil, false, err
		}
		return nil, false, nil // log does not exist yet
	}
	return e, true, nil
}

func resolveDocumentId(ctx context.Context, st store.Store, previous wid.DocumentViewId) (wid.DocumentId, error) {
	if len(previous) == 0 {
		return "", werrors.New(werrors.KindUnknownPrevious, "non-CREATE operation must carry previous")
	}
	var docID wid.DocumentId
	for i, opID := range previous {
		op, err := st.GetOperation(ctx, opID)
		if err != nil {
			if werrors.IsCritical(err) {
				return "", err
			}
			return "", werrors.New(werrors.KindUnknownPrevious, "previous operation %s not found", opID)
		}
		if i == 0 {
			docID = op.DocumentId
		} else if op.DocumentId != docID {
			return "", werrors.New(werrors.KindPreviousDocumentMismatch,
				"previous operations resolve to different documents")
		}
	}
	return docID, nil
}

func resolveLogId(ctx context.Context, st store.Store, pk wid.PublicKey, docID wid.DocumentId, claimed wid.LogId) (wid.LogId, error) {
	existing, err := st.GetLog(ctx, pk, docID)
	if err == nil {
		if existing.LogId != claimed {
			return 0, werrors.LogIdMismatch(uint64(existing.LogId), uint64(claimed))
		}
		return claimed, nil
	}
	if werrors.IsCritical(err) {
		return 0, err
	}
	expected, err := st.NextLogId(ctx, pk)
	if err != nil {
		return 0, err
	}
	if expected != claimed {
		return 0, werrors.LogIdMismatch(uint64(expected), uint64(claimed))
	}
	return claimed, nil
}

func validateSequence(entry *store.DecodedEntry, latest *store.Entry, hasLatest bool) error {
	var expectedSeq wid.SeqNum = 1
	if hasLatest {
		expectedSeq = latest.Decoded.SeqNum + 1
	}
	if entry.SeqNum != expectedSeq {
		return werrors.SeqNumMismatch(uint64(expectedSeq), uint64(entry.SeqNum))
	}

	if entry.SeqNum == 1 {
		if entry.BacklinkHash != "" || entry.SkiplinkHash != "" {
			return werrors.New(werrors.KindLinkUnexpected, "seq_num 1 must carry no backlink or skiplink")
		}
		return nil
	}

	if entry.BacklinkHash != latest.Hash {
		return werrors.New(werrors.KindBacklinkMismatch, "backlink does not match entry at seq_num-1")
	}
	if wid.RequiresSkiplink(uint64(entry.SeqNum)) {
		if entry.SkiplinkHash == "" {
			return werrors.New(werrors.KindLipmaaMissing, "skiplink required at seq_num %d", entry.SeqNum)
		}
	} else if entry.SkiplinkHash != "" {
		return werrors.New(werrors.KindLinkUnexpected, "skiplink not expected at seq_num %d", entry.SeqNum)
	}
	return nil
}

func validateFields(sch *schema.Schema, fields store.OperationFields) error {
	for _, spec := range sch.Fields {
		v, ok := fields[spec.Name]
		if !ok {
			return werrors.New(werrors.KindSchemaValidation, "missing field %q", spec.Name)
		}
		if err := validateFieldKind(spec, v); err != nil {
			return err
		}
	}
	for name := range fields {
		if _, ok := sch.Field(name); !ok {
			return werrors.New(werrors.KindSchemaValidation, "unexpected field %q", name)
		}
	}
	return nil
}

func validateFieldKind(spec schema.FieldSpec, v store.FieldValue) error {
	want := fieldKindOf(spec.Kind)
	if v.Kind != want {
		return werrors.New(werrors.KindSchemaValidation, "field %q has wrong kind", spec.Name)
	}
	return nil
}

func fieldKindOf(k schema.FieldKind) store.FieldValueKind {
	switch k {
	case schema.FieldBool:
		return store.ValueBool
	case schema.FieldInt:
		return store.ValueInt
	case schema.FieldFloat:
		return store.ValueFloat
	case schema.FieldString:
		return store.ValueString
	case schema.FieldBytes:
		return store.ValueBytes
	case schema.FieldRelation:
		return store.ValueRelation
	case schema.FieldPinnedRelation:
		return store.ValuePinnedRelation
	case schema.FieldRelationList:
		return store.ValueRelationList
	case schema.FieldPinnedRelationList:
		return store.ValuePinnedRelationList
	default:
		return -1
	}
}
