package sqlite

import (
	"context"
	"sort"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

func (s *Store) InsertLog(ctx context.Context, l *store.Log) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (public_key, log_id, document_id, schema_id) VALUES (?, ?, ?, ?)`,
		l.PublicKey.String(), l.LogId.String(), string(l.DocumentId), string(l.SchemaId))
	if err != nil {
		if isUniqueViolation(err) {
			return werrors.New(werrors.KindStore, "log already exists for (public_key=%s, log_id=%s) or (public_key, document_id)",
				l.PublicKey, l.LogId)
		}
		return werrors.Store(err, "insert log")
	}
	return nil
}

func (s *Store) GetLog(ctx context.Context, pk wid.PublicKey, docID wid.DocumentId) (*store.Log, error) {
	var logID, schemaID string
	err := s.db.QueryRowContext(ctx, `
		SELECT log_id, schema_id FROM logs WHERE public_key = ? AND document_id = ?`,
		pk.String(), string(docID)).Scan(&logID, &schemaID)
	if err != nil {
		if isSQLNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, werrors.Store(err, "get log")
	}
	lid, err := wid.ParseLogId(logID)
	if err != nil {
		return nil, err
	}
	return &store.Log{PublicKey: pk, LogId: lid, DocumentId: docID, SchemaId: wid.SchemaId(schemaID)}, nil
}

// NextLogId returns the smallest non-negative log id not already used by
// pk. This is an O(N) gap scan (spec.md §9 Open Questions), kept as
// specified: it sorts all of the author's log ids and returns the first
// gap (or the successor of the last one).
func (s *Store) NextLogId(ctx context.Context, pk wid.PublicKey) (wid.LogId, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT log_id FROM logs WHERE public_key = ?`, pk.String())
	if err != nil {
		return 0, werrors.Store(err, "next log id: query")
	}
	defer func() { _ = rows.Close() }()

	var ids []uint64
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return 0, werrors.Store(err, "next log id: scan")
		}
		lid, err := wid.ParseLogId(text)
		if err != nil {
			return 0, err
		}
		ids = append(ids, uint64(lid))
	}
	if err := rows.Err(); err != nil {
		return 0, werrors.Store(err, "next log id: rows")
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var next uint64
	for _, id := range ids {
		if id != next {
			break
		}
		next++
	}
	return wid.LogId(next), nil
}
