package sqlite

import (
	"context"
	"database/sql"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// InsertDocument upserts the current view pointer for a document.
func (s *Store) InsertDocument(ctx context.Context, doc *store.Document) error {
	var viewID sql.NullString
	if len(doc.ViewId) > 0 {
		viewID = sql.NullString{String: doc.ViewId.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (document_id, document_view_id, is_deleted, schema_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			document_view_id = excluded.document_view_id,
			is_deleted = excluded.is_deleted,
			schema_id = excluded.schema_id`,
		string(doc.ID), viewID, boolToInt(doc.IsDeleted), string(doc.SchemaId))
	if err != nil {
		return werrors.Store(err, "insert document")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertDocumentView idempotently inserts a view and its field pointer rows.
// A second insert of the same view id is a no-op (spec.md §4.1, §8
// materialization idempotence).
func (s *Store) InsertDocumentView(ctx context.Context, view *store.DocumentView, docID wid.DocumentId, schemaID wid.SchemaId) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		viewIDStr := view.ViewId.String()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO document_views (document_view_id, schema_id, document_id) VALUES (?, ?, ?)
			ON CONFLICT (document_view_id) DO NOTHING`,
			viewIDStr, string(schemaID), string(docID))
		if err != nil {
			return werrors.Store(err, "insert document view")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil // already exists: idempotent no-op
		}
		for name, vf := range view.Fields {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO document_view_fields (document_view_id, operation_id, name) VALUES (?, ?, ?)`,
				viewIDStr, string(vf.OperationId), name); err != nil {
				return werrors.Store(err, "insert document view field")
			}
		}
		return nil
	})
}

func (s *Store) GetDocument(ctx context.Context, docID wid.DocumentId) (*store.Document, error) {
	var viewID sql.NullString
	var isDeleted int
	var schemaID string
	err := s.db.QueryRowContext(ctx, `
		SELECT document_view_id, is_deleted, schema_id FROM documents WHERE document_id = ?`,
		string(docID)).Scan(&viewID, &isDeleted, &schemaID)
	if err != nil {
		if isSQLNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, werrors.Store(err, "get document")
	}
	doc := &store.Document{ID: docID, IsDeleted: isDeleted != 0, SchemaId: wid.SchemaId(schemaID)}
	if viewID.Valid {
		ids, err := parseDocumentViewId(viewID.String)
		if err != nil {
			return nil, err
		}
		doc.ViewId = ids
	}
	return doc, nil
}

func (s *Store) GetDocumentByViewId(ctx context.Context, viewID wid.DocumentViewId) (*store.DocumentView, wid.DocumentId, error) {
	viewIDStr := viewID.String()
	var schemaID, docIDStr string
	err := s.db.QueryRowContext(ctx, `SELECT schema_id, document_id FROM document_views WHERE document_view_id = ?`, viewIDStr).
		Scan(&schemaID, &docIDStr)
	if err != nil {
		if isSQLNoRows(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", werrors.Store(err, "get document view")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT dvf.name, dvf.operation_id, ofv.field_type, ofv.value, ofv.list_index
		FROM document_view_fields dvf
		JOIN operation_fields_v1 ofv ON ofv.operation_id = dvf.operation_id AND ofv.name = dvf.name
		WHERE dvf.document_view_id = ?
		ORDER BY dvf.name, ofv.list_index`, viewIDStr)
	if err != nil {
		return nil, "", werrors.Store(err, "get document view fields")
	}
	defer func() { _ = rows.Close() }()

	type namedOp struct {
		name string
		op   wid.OperationId
	}
	var names []namedOp
	seenName := make(map[string]wid.OperationId)
	var frows []fieldRow
	for rows.Next() {
		var name, opID string
		var fr fieldRow
		if err := rows.Scan(&name, &opID, &fr.TypeName, &fr.Value, &fr.ListIndex); err != nil {
			return nil, "", werrors.Store(err, "scan document view field")
		}
		fr.Name = name
		frows = append(frows, fr)
		if _, ok := seenName[name]; !ok {
			names = append(names, namedOp{name, wid.OperationId(opID)})
			seenName[name] = wid.OperationId(opID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", werrors.Store(err, "document view field rows")
	}

	assembled, err := assembleFields(frows)
	if err != nil {
		return nil, "", err
	}
	view := &store.DocumentView{ViewId: viewID, SchemaId: wid.SchemaId(schemaID), Fields: make(map[string]store.ViewField)}
	for _, n := range names {
		view.Fields[n.name] = store.ViewField{OperationId: seenName[n.name], Value: assembled[n.name]}
	}
	return view, wid.DocumentId(docIDStr), nil
}

func (s *Store) GetDocumentsBySchema(ctx context.Context, schemaID wid.SchemaId) ([]*store.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, document_view_id, is_deleted, schema_id FROM documents WHERE schema_id = ?`, string(schemaID))
	if err != nil {
		return nil, werrors.Store(err, "get documents by schema")
	}
	defer func() { _ = rows.Close() }()

	var docs []*store.Document
	for rows.Next() {
		var docID string
		var viewID sql.NullString
		var isDeleted int
		var sid string
		if err := rows.Scan(&docID, &viewID, &isDeleted, &sid); err != nil {
			return nil, werrors.Store(err, "scan document")
		}
		doc := &store.Document{ID: wid.DocumentId(docID), IsDeleted: isDeleted != 0, SchemaId: wid.SchemaId(sid)}
		if viewID.Valid {
			ids, err := parseDocumentViewId(viewID.String)
			if err != nil {
				return nil, err
			}
			doc.ViewId = ids
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) GetAllDocumentViewIds(ctx context.Context, docID wid.DocumentId) ([]wid.DocumentViewId, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document_view_id FROM document_views WHERE document_id = ?`, string(docID))
	if err != nil {
		return nil, werrors.Store(err, "get all document view ids")
	}
	defer func() { _ = rows.Close() }()

	var out []wid.DocumentViewId
	for rows.Next() {
		var viewID string
		if err := rows.Scan(&viewID); err != nil {
			return nil, werrors.Store(err, "scan document view id")
		}
		ids, err := parseDocumentViewId(viewID)
		if err != nil {
			return nil, err
		}
		out = append(out, ids)
	}
	return out, rows.Err()
}

func (s *Store) IsCurrentView(ctx context.Context, viewID wid.DocumentViewId) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE document_view_id = ?`, viewID.String()).Scan(&count)
	if err != nil {
		return false, werrors.Store(err, "is current view")
	}
	return count > 0, nil
}

// PruneDocumentView deletes a view (cascading to its field rows) only if no
// existing operation field anywhere pins this view id as a pinned_relation
// or pinned_relation_list element (spec.md §4.1, §4.7).
func (s *Store) PruneDocumentView(ctx context.Context, viewID wid.DocumentViewId) (bool, error) {
	viewIDStr := viewID.String()
	var pinnedBy int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operation_fields_v1
		WHERE field_type IN ('pinned_relation', 'pinned_relation_list') AND value = ?`, viewIDStr).Scan(&pinnedBy)
	if err != nil {
		return false, werrors.Store(err, "prune document view: check pins")
	}
	if pinnedBy > 0 {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM document_views WHERE document_view_id = ?`, viewIDStr)
	if err != nil {
		return false, werrors.Store(err, "prune document view: delete")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PurgeDocument removes entries, operations, operation fields, documents,
// and document views for a document. Logs are retained: the author's log
// slot for this document stays consumed (spec.md §3 Lifecycles).
func (s *Store) PurgeDocument(ctx context.Context, docID wid.DocumentId) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM operation_fields_v1 WHERE operation_id IN (
				SELECT operation_id FROM operations_v1 WHERE document_id = ?)`, string(docID)); err != nil {
			return werrors.Store(err, "purge document: fields")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM operations_v1 WHERE document_id = ?`, string(docID)); err != nil {
			return werrors.Store(err, "purge document: operations")
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM entries WHERE (public_key, log_id) IN (
				SELECT public_key, log_id FROM logs WHERE document_id = ?)`, string(docID)); err != nil {
			return werrors.Store(err, "purge document: entries")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_views WHERE document_id = ?`, string(docID)); err != nil {
			return werrors.Store(err, "purge document: views")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, string(docID)); err != nil {
			return werrors.Store(err, "purge document: document")
		}
		return nil
	})
}
