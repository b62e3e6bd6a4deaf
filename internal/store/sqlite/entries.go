package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/werrors"
	"github.com/weftdb/weft/internal/wid"
)

// InsertEntry atomically inserts an entry and, when op is non-nil, its
// operation and field rows, failing with DuplicateEntry when
// (public_key, log_id, seq_num) or entry_hash already exist (spec.md §4.1).
func (s *Store) InsertEntry(ctx context.Context, entry *store.Entry, op *store.Operation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entries (public_key, entry_hash, log_id, seq_num, backlink_hash, skiplink_hash, payload_hash, payload_size, signature, payload_bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.Decoded.PublicKey.String(), string(entry.Hash), entry.Decoded.LogId.String(), entry.Decoded.SeqNum.String(),
			nullableHash(entry.Decoded.BacklinkHash), nullableHash(entry.Decoded.SkiplinkHash),
			string(entry.Decoded.PayloadHash), entry.Decoded.PayloadSize, hex.EncodeToString(entry.Decoded.Signature),
			entry.EncodedOp,
		); err != nil {
			if isUniqueViolation(err) {
				return werrors.New(werrors.KindDuplicateEntry, "entry (%s, log %s, seq %s) already exists",
					entry.Decoded.PublicKey, entry.Decoded.LogId, entry.Decoded.SeqNum)
			}
			return werrors.Store(err, "insert entry")
		}
		if op != nil {
			if err := insertOperationTx(ctx, tx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

func nullableHash(h wid.Hash) sql.NullString {
	if h == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(h), Valid: true}
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 reports constraint violations via sqlite3.Error with
	// ErrConstraint code; string matching keeps this file driver-agnostic
	// for the in-memory/alternate backends exercising the same contract.
	return err != nil && containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func (s *Store) GetEntry(ctx context.Context, hash wid.Hash) (*store.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT public_key, entry_hash, log_id, seq_num, backlink_hash, skiplink_hash, payload_hash, payload_size, signature, payload_bytes
		FROM entries WHERE entry_hash = ?`, string(hash))
	return scanEntry(row)
}

func (s *Store) GetEntryAtSeqNum(ctx context.Context, pk wid.PublicKey, logID wid.LogId, seq wid.SeqNum) (*store.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT public_key, entry_hash, log_id, seq_num, backlink_hash, skiplink_hash, payload_hash, payload_size, signature, payload_bytes
		FROM entries WHERE public_key = ? AND log_id = ? AND CAST(seq_num AS NUMERIC) = ?`,
		pk.String(), logID.String(), uint64(seq))
	return scanEntry(row)
}

func (s *Store) GetLatestEntry(ctx context.Context, pk wid.PublicKey, logID wid.LogId) (*store.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT public_key, entry_hash, log_id, seq_num, backlink_hash, skiplink_hash, payload_hash, payload_size, signature, payload_bytes
		FROM entries WHERE public_key = ? AND log_id = ?
		ORDER BY CAST(seq_num AS NUMERIC) DESC LIMIT 1`,
		pk.String(), logID.String())
	return scanEntry(row)
}

func (s *Store) GetEntriesFrom(ctx context.Context, pk wid.PublicKey, logID wid.LogId, fromSeq wid.SeqNum) ([]*store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT public_key, entry_hash, log_id, seq_num, backlink_hash, skiplink_hash, payload_hash, payload_size, signature, payload_bytes
		FROM entries WHERE public_key = ? AND log_id = ? AND CAST(seq_num AS NUMERIC) >= ?
		ORDER BY CAST(seq_num AS NUMERIC) ASC`,
		pk.String(), logID.String(), uint64(fromSeq))
	if err != nil {
		return nil, werrors.Store(err, "get entries from")
	}
	defer func() { _ = rows.Close() }()

	var out []*store.Entry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, werrors.Store(err, "scan entry row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*store.Entry, error) {
	e, err := scanEntryRows(row)
	if err != nil {
		if isSQLNoRows(err) {
			return nil, fmt.Errorf("get entry: %w", ErrNotFound)
		}
		return nil, werrors.Store(err, "get entry")
	}
	return e, nil
}

func scanEntryRows(row scannable) (*store.Entry, error) {
	var pk, hash, logID, seq string
	var backlink, skiplink sql.NullString
	var payloadHash string
	var payloadSize int64
	var sigHex string
	var payloadBytes []byte

	if err := row.Scan(&pk, &hash, &logID, &seq, &backlink, &skiplink, &payloadHash, &payloadSize, &sigHex, &payloadBytes); err != nil {
		return nil, err
	}

	pubKey, err := wid.ParsePublicKey(pk)
	if err != nil {
		return nil, err
	}
	lid, err := wid.ParseLogId(logID)
	if err != nil {
		return nil, err
	}
	sn, err := wid.ParseSeqNum(seq)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, err
	}

	e := &store.Entry{
		Hash: wid.Hash(hash),
		Decoded: store.DecodedEntry{
			PublicKey:   pubKey,
			LogId:       lid,
			SeqNum:      sn,
			PayloadHash: wid.Hash(payloadHash),
			PayloadSize: uint64(payloadSize),
			Signature:   sig,
		},
		EncodedOp: payloadBytes,
	}
	if backlink.Valid {
		e.Decoded.BacklinkHash = wid.Hash(backlink.String)
	}
	if skiplink.Valid {
		e.Decoded.SkiplinkHash = wid.Hash(skiplink.String)
	}
	return e, nil
}
