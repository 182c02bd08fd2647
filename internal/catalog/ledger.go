package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteLedger is a continuation ledger that survives restarts. It
// implements engine.ContinuationLedger.
type SQLiteLedger struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteLedger creates a ledger on the continuation_ledger table. Keys
// older than ttl may be claimed again; a zero ttl keeps them forever.
func NewSQLiteLedger(db *sql.DB, ttl time.Duration) *SQLiteLedger {
	return &SQLiteLedger{db: db, ttl: ttl, now: time.Now}
}

// Claim records key and reports true the first time it is seen.
func (l *SQLiteLedger) Claim(ctx context.Context, key string) (bool, error) {
	now := l.now().UTC()
	if l.ttl > 0 {
		cutoff := now.Add(-l.ttl).Format(time.RFC3339)
		if _, err := l.db.ExecContext(ctx,
			`DELETE FROM continuation_ledger WHERE key = ? AND claimed_at < ?`, key, cutoff); err != nil {
			return false, fmt.Errorf("expiring continuation key: %w", err)
		}
	}

	result, err := l.db.ExecContext(ctx,
		`INSERT INTO continuation_ledger (key, claimed_at) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		key, now.Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("claiming continuation key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// Prune deletes expired keys and returns how many were removed.
func (l *SQLiteLedger) Prune(ctx context.Context) (int64, error) {
	if l.ttl <= 0 {
		return 0, nil
	}
	cutoff := l.now().UTC().Add(-l.ttl).Format(time.RFC3339)
	result, err := l.db.ExecContext(ctx, `DELETE FROM continuation_ledger WHERE claimed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning continuation ledger: %w", err)
	}
	return result.RowsAffected()
}
