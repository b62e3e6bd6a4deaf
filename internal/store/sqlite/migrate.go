package sqlite

import "context"

// schemaSQL is the logical schema of spec.md §6, transcribed directly:
// table and column names match the spec so the migration stays a checkable
// 1:1 mapping.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS logs (
	public_key   TEXT NOT NULL,
	log_id       TEXT NOT NULL,
	document_id  TEXT NOT NULL,
	schema_id    TEXT NOT NULL,
	PRIMARY KEY (public_key, log_id),
	UNIQUE (public_key, document_id)
);

CREATE TABLE IF NOT EXISTS entries (
	public_key    TEXT NOT NULL,
	entry_hash    TEXT PRIMARY KEY,
	log_id        TEXT NOT NULL,
	seq_num       TEXT NOT NULL,
	backlink_hash TEXT,
	skiplink_hash TEXT,
	payload_hash  TEXT NOT NULL,
	payload_size  INTEGER NOT NULL,
	signature     TEXT NOT NULL,
	payload_bytes BLOB,
	UNIQUE (public_key, log_id, seq_num)
);
CREATE INDEX IF NOT EXISTS idx_entries_log ON entries(public_key, log_id);

CREATE TABLE IF NOT EXISTS operations_v1 (
	operation_id  TEXT PRIMARY KEY,
	public_key    TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	action        INTEGER NOT NULL,
	schema_id     TEXT NOT NULL,
	previous      TEXT,
	sorted_index  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_operations_document ON operations_v1(document_id);
CREATE INDEX IF NOT EXISTS idx_operations_schema ON operations_v1(schema_id);

CREATE TABLE IF NOT EXISTS operation_fields_v1 (
	operation_id TEXT NOT NULL,
	name         TEXT NOT NULL,
	field_type   TEXT NOT NULL,
	value        TEXT,
	list_index   INTEGER NOT NULL DEFAULT 0,
	cursor       TEXT,
	FOREIGN KEY (operation_id) REFERENCES operations_v1(operation_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_operation_fields_op ON operation_fields_v1(operation_id);

CREATE TABLE IF NOT EXISTS documents (
	document_id       TEXT PRIMARY KEY,
	document_view_id  TEXT,
	is_deleted        INTEGER NOT NULL DEFAULT 0,
	schema_id         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS document_views (
	document_view_id TEXT PRIMARY KEY,
	schema_id        TEXT NOT NULL,
	document_id      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS document_view_fields (
	document_view_id TEXT NOT NULL,
	operation_id     TEXT NOT NULL,
	name             TEXT NOT NULL,
	FOREIGN KEY (document_view_id) REFERENCES document_views(document_view_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_view_fields_view ON document_view_fields(document_view_id);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}
