package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// withTx runs fn inside a transaction, retrying the BEGIN/COMMIT dance with
// exponential backoff on SQLITE_BUSY, mirroring the teacher's
// beginImmediateWithRetry helper in storage/sqlite/queries.go.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	op := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}

		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()

		if err := fn(tx); err != nil {
			if isBusy(err) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		committed = true
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "database is locked") ||
		strings.Contains(strings.ToLower(err.Error()), "busy")
}

func isSQLNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
