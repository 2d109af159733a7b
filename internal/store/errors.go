package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicate reports a uniqueness conflict: either a duplicate
	// conversation for (member, theme, period) or a concurrent insert that
	// won the race on a keyed row.
	ErrDuplicate = errors.New("duplicate row")

	// ErrUpsertExhausted reports that the bounded upsert retry ran out of
	// attempts. Callers must surface this; dropping a generated result
	// silently is worse than a visible failure.
	ErrUpsertExhausted = errors.New("upsert retry budget exhausted")
)

const upsertAttempts = 3

// upsertBackoff is the base delay between retries; attempt n waits n times
// this. Shortened in tests.
var upsertBackoff = 50 * time.Millisecond

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UpsertWithRetry is the shared discipline for keyed upserts when the store
// has no atomic insert-or-update primitive: try a conditional update; when no
// row matched, insert; when the insert loses a race to a concurrent insert,
// back off and start over. Bounded at three attempts.
func UpsertWithRetry(ctx context.Context, update func(context.Context) (int64, error), insert func(context.Context) error) error {
	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		affected, err := update(ctx)
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}
		err = insert(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * upsertBackoff):
		}
	}
	return ErrUpsertExhausted
}
