package sqlite

import (
	"context"
	"sort"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// GetBlobChildRelations returns the blob_v1 document ids referenced by any
// operation field of docID whose kind is relation, pinned_relation or one of
// their list forms and whose target is a blob_v1 document (spec.md §4.1).
func (s *Store) GetBlobChildRelations(ctx context.Context, docID wid.DocumentId) ([]wid.DocumentId, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ofv.field_type, ofv.value FROM operation_fields_v1 ofv
		JOIN operations_v1 o ON o.operation_id = ofv.operation_id
		WHERE o.document_id = ? AND ofv.field_type IN ('relation', 'pinned_relation', 'relation_list', 'pinned_relation_list')
		AND ofv.value IS NOT NULL`, string(docID))
	if err != nil {
		return nil, werrors.Store(err, "get blob child relations")
	}
	defer func() { _ = rows.Close() }()

	var candidateDocIDs []wid.DocumentId
	var candidateViewIDs []wid.DocumentViewId
	for rows.Next() {
		var fieldType, value string
		if err := rows.Scan(&fieldType, &value); err != nil {
			return nil, werrors.Store(err, "scan blob child relation")
		}
		switch fieldType {
		case "relation", "relation_list":
			candidateDocIDs = append(candidateDocIDs, wid.DocumentId(value))
		case "pinned_relation", "pinned_relation_list":
			ids, err := parseDocumentViewId(value)
			if err != nil {
				return nil, err
			}
			candidateViewIDs = append(candidateViewIDs, ids)
		}
	}

	out := make(map[wid.DocumentId]struct{})
	for _, did := range candidateDocIDs {
		if isBlob, err := s.hasSchema(ctx, did, wid.SchemaBlobV1); err == nil && isBlob {
			out[did] = struct{}{}
		}
	}
	for _, vid := range candidateViewIDs {
		_, docID, err := s.GetDocumentByViewId(ctx, vid)
		if err != nil {
			continue
		}
		if isBlob, err := s.hasSchema(ctx, docID, wid.SchemaBlobV1); err == nil && isBlob {
			out[docID] = struct{}{}
		}
	}

	result := make([]wid.DocumentId, 0, len(out))
	for id := range out {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

func (s *Store) hasSchema(ctx context.Context, docID wid.DocumentId, schemaID wid.SchemaId) (bool, error) {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return false, err
	}
	return doc.SchemaId == schemaID, nil
}

// GetChildDocumentIds returns document ids referenced by any field of the
// given view, by relation, pinned_relation or one of their list forms
// (resolving each pinned view's owning document), per spec.md §4.1.
func (s *Store) GetChildDocumentIds(ctx context.Context, viewID wid.DocumentViewId) ([]wid.DocumentId, error) {
	view, _, err := s.GetDocumentByViewId(ctx, viewID)
	if err != nil {
		return nil, err
	}
	out := make(map[wid.DocumentId]struct{})
	for _, vf := range view.Fields {
		switch vf.Value.Kind {
		case store.ValueRelation:
			out[vf.Value.Rel] = struct{}{}
		case store.ValueRelationList:
			for _, elem := range vf.Value.List {
				out[elem.Rel] = struct{}{}
			}
		case store.ValuePinnedRelation:
			if _, docID, err := s.GetDocumentByViewId(ctx, vf.Value.Pinned); err == nil {
				out[docID] = struct{}{}
			}
		case store.ValuePinnedRelationList:
			for _, elem := range vf.Value.List {
				if _, docID, err := s.GetDocumentByViewId(ctx, elem.Pinned); err == nil {
					out[docID] = struct{}{}
				}
			}
		}
	}
	result := make([]wid.DocumentId, 0, len(out))
	for id := range out {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

// GetParentsWithPinnedRelation returns the view ids of documents whose
// materialized fields pin viewID via pinned_relation/pinned_relation_list.
func (s *Store) GetParentsWithPinnedRelation(ctx context.Context, viewID wid.DocumentViewId) ([]wid.DocumentViewId, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT dv.document_view_id FROM document_view_fields dvf
		JOIN operation_fields_v1 ofv ON ofv.operation_id = dvf.operation_id AND ofv.name = dvf.name
		JOIN document_views dv ON dv.document_view_id = dvf.document_view_id
		WHERE ofv.field_type IN ('pinned_relation', 'pinned_relation_list') AND ofv.value = ?`, viewID.String())
	if err != nil {
		return nil, werrors.Store(err, "get parents with pinned relation")
	}
	return scanViewIds(rows)
}

// GetParentsWithUnpinnedRelation returns the view ids of documents whose
// materialized fields relate (unpinned) to docID.
func (s *Store) GetParentsWithUnpinnedRelation(ctx context.Context, docID wid.DocumentId) ([]wid.DocumentViewId, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT dv.document_view_id FROM document_view_fields dvf
		JOIN operation_fields_v1 ofv ON ofv.operation_id = dvf.operation_id AND ofv.name = dvf.name
		JOIN document_views dv ON dv.document_view_id = dvf.document_view_id
		WHERE ofv.field_type IN ('relation', 'relation_list') AND ofv.value = ?`, string(docID))
	if err != nil {
		return nil, werrors.Store(err, "get parents with unpinned relation")
	}
	return scanViewIds(rows)
}

func scanViewIds(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close() error
}) ([]wid.DocumentViewId, error) {
	defer func() { _ = rows.Close() }()
	var out []wid.DocumentViewId
	for rows.Next() {
		var viewIDStr string
		if err := rows.Scan(&viewIDStr); err != nil {
			return nil, werrors.Store(err, "scan view id")
		}
		ids, err := parseDocumentViewId(viewIDStr)
		if err != nil {
			return nil, err
		}
		out = append(out, ids)
	}
	return out, rows.Err()
}

// GetDocumentLogHeights returns, per author, the (log_id, max seq_num) pairs
// for logs whose document is in docIDs (spec.md §4.1, consumed by §4.9).
func (s *Store) GetDocumentLogHeights(ctx context.Context, docIDs []wid.DocumentId) ([]store.AuthorLogHeights, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]any, len(docIDs))
	q := "SELECT l.public_key, l.log_id, MAX(CAST(e.seq_num AS NUMERIC)) FROM logs l " +
		"JOIN entries e ON e.public_key = l.public_key AND e.log_id = l.log_id " +
		"WHERE l.document_id IN (" + placeholdersFor(len(docIDs)) + ") " +
		"GROUP BY l.public_key, l.log_id"
	for i, d := range docIDs {
		placeholders[i] = string(d)
	}
	rows, err := s.db.QueryContext(ctx, q, placeholders...)
	if err != nil {
		return nil, werrors.Store(err, "get document log heights")
	}
	defer func() { _ = rows.Close() }()

	byAuthor := make(map[wid.PublicKey][]store.LogHeight)
	var order []wid.PublicKey
	for rows.Next() {
		var pkStr, logIDStr string
		var maxSeq int64
		if err := rows.Scan(&pkStr, &logIDStr, &maxSeq); err != nil {
			return nil, werrors.Store(err, "scan log height")
		}
		pk, err := wid.ParsePublicKey(pkStr)
		if err != nil {
			return nil, err
		}
		lid, err := wid.ParseLogId(logIDStr)
		if err != nil {
			return nil, err
		}
		if _, ok := byAuthor[pk]; !ok {
			order = append(order, pk)
		}
		byAuthor[pk] = append(byAuthor[pk], store.LogHeight{LogId: lid, SeqNum: wid.SeqNum(maxSeq)})
	}
	if err := rows.Err(); err != nil {
		return nil, werrors.Store(err, "log height rows")
	}

	out := make([]store.AuthorLogHeights, 0, len(order))
	for _, pk := range order {
		out = append(out, store.AuthorLogHeights{PublicKey: pk, Logs: byAuthor[pk]})
	}
	return out, nil
}

func placeholdersFor(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += "?"
	}
	return s
}
