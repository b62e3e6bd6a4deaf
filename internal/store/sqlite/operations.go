package sqlite

import (
	"context"
	"database/sql"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// InsertOperation writes an operations_v1 row plus its operation_fields_v1
// rows in one transaction, rolling back on any failure (spec.md §4.1).
func (s *Store) InsertOperation(ctx context.Context, op *store.Operation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertOperationTx(ctx, tx, op)
	})
}

func insertOperationTx(ctx context.Context, tx *sql.Tx, op *store.Operation) error {
	var previous sql.NullString
	if len(op.Previous) > 0 {
		previous = sql.NullString{String: op.Previous.String(), Valid: true}
	}
	var sortedIndex sql.NullInt64
	if op.SortedIndex != nil {
		sortedIndex = sql.NullInt64{Int64: int64(*op.SortedIndex), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO operations_v1 (operation_id, public_key, document_id, action, schema_id, previous, sorted_index)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(op.ID), op.PublicKey.String(), string(op.DocumentId), int(op.Action), string(op.SchemaId), previous, sortedIndex)
	if err != nil {
		if isUniqueViolation(err) {
			return werrors.New(werrors.KindStore, "operation %s already exists", op.ID)
		}
		return werrors.Store(err, "insert operation")
	}
	if op.Fields != nil {
		if err := insertOperationFields(ctx, tx, op.ID, op.Fields); err != nil {
			return werrors.Store(err, "insert operation fields")
		}
	}
	return nil
}

func (s *Store) UpdateOperationIndex(ctx context.Context, opID wid.OperationId, sortedIndex int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE operations_v1 SET sorted_index = ? WHERE operation_id = ?`, sortedIndex, string(opID))
	if err != nil {
		return werrors.Store(err, "update operation index")
	}
	return nil
}

func (s *Store) GetOperation(ctx context.Context, opID wid.OperationId) (*store.Operation, error) {
	ops, err := s.queryOperations(ctx, `operation_id = ?`, string(opID))
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, ErrNotFound
	}
	return ops[0], nil
}

func (s *Store) GetOperationsByDocumentId(ctx context.Context, docID wid.DocumentId) ([]*store.Operation, error) {
	return s.queryOperations(ctx, `document_id = ?`, string(docID))
}

func (s *Store) GetOperationsBySchemaId(ctx context.Context, schemaID wid.SchemaId) ([]*store.Operation, error) {
	return s.queryOperations(ctx, `schema_id = ?`, string(schemaID))
}

// queryOperations loads operations matching a WHERE clause, ordered by
// (sorted_index ASC NULLS-via-operation_id ASC), then loads and assembles
// their fields ordered by list_index, per spec.md §4.1.
func (s *Store) queryOperations(ctx context.Context, where string, args ...any) ([]*store.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, public_key, document_id, action, schema_id, previous, sorted_index
		FROM operations_v1 WHERE `+where+`
		ORDER BY (sorted_index IS NULL), sorted_index ASC, operation_id ASC`, args...)
	if err != nil {
		return nil, werrors.Store(err, "query operations")
	}
	defer func() { _ = rows.Close() }()

	var ops []*store.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, werrors.Store(err, "scan operation")
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, werrors.Store(err, "operations rows")
	}

	for _, op := range ops {
		if op.Action == store.ActionDelete {
			continue
		}
		fields, err := s.loadOperationFields(ctx, op.ID)
		if err != nil {
			return nil, werrors.Store(err, "load operation fields")
		}
		op.Fields = fields
	}
	return ops, nil
}

func scanOperation(row scannable) (*store.Operation, error) {
	var opID, pk, docID, schemaID string
	var action int
	var previous sql.NullString
	var sortedIndex sql.NullInt64

	if err := row.Scan(&opID, &pk, &docID, &action, &schemaID, &previous, &sortedIndex); err != nil {
		return nil, err
	}
	pubKey, err := wid.ParsePublicKey(pk)
	if err != nil {
		return nil, err
	}
	op := &store.Operation{
		ID:         wid.OperationId(opID),
		PublicKey:  pubKey,
		DocumentId: wid.DocumentId(docID),
		Action:     store.Action(action),
		SchemaId:   wid.SchemaId(schemaID),
	}
	if previous.Valid {
		ids, err := parseDocumentViewId(previous.String)
		if err != nil {
			return nil, err
		}
		op.Previous = ids
	}
	if sortedIndex.Valid {
		idx := int(sortedIndex.Int64)
		op.SortedIndex = &idx
	}
	return op, nil
}

func (s *Store) loadOperationFields(ctx context.Context, opID wid.OperationId) (store.OperationFields, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, field_type, value, list_index FROM operation_fields_v1
		WHERE operation_id = ? ORDER BY name, list_index`, string(opID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var frows []fieldRow
	for rows.Next() {
		var fr fieldRow
		if err := rows.Scan(&fr.Name, &fr.TypeName, &fr.Value, &fr.ListIndex); err != nil {
			return nil, err
		}
		frows = append(frows, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assembleFields(frows)
}
