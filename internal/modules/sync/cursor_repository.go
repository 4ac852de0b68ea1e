package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
)

// CursorRepository manages the append-only transaction cursor log. The
// cursor never moves backwards and is only written together with the batch
// that produced it.
type CursorRepository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewCursorRepository creates a new cursor repository
func NewCursorRepository(q database.Querier, log zerolog.Logger) *CursorRepository {
	return &CursorRepository{
		q:   q,
		log: log.With().Str("repo", "sync_cursor").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *CursorRepository) WithTx(tx *sql.Tx) *CursorRepository {
	return &CursorRepository{q: tx, log: r.log}
}

// Latest returns the current cursor, or "" when no pass has ever advanced.
func (r *CursorRepository) Latest() (string, error) {
	var cursor string
	err := r.q.QueryRow(
		"SELECT transaction_id FROM sync_transactions ORDER BY id DESC LIMIT 1",
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read sync cursor: %w", err)
	}

	return cursor, nil
}

// Advance appends a new cursor value. Moving to a value at or below the
// current cursor is rejected: broker transaction ids are numeric and
// strictly increasing.
func (r *CursorRepository) Advance(transactionID string) error {
	next, err := strconv.ParseInt(transactionID, 10, 64)
	if err != nil {
		return fmt.Errorf("cursor %q is not a numeric transaction id: %w", transactionID, err)
	}

	current, err := r.Latest()
	if err != nil {
		return err
	}
	if current != "" {
		cur, err := strconv.ParseInt(current, 10, 64)
		if err != nil {
			return fmt.Errorf("stored cursor %q is not numeric: %w", current, err)
		}
		if next <= cur {
			return fmt.Errorf("cursor cannot move from %s to %s", current, transactionID)
		}
	}

	_, err = r.q.Exec(
		"INSERT INTO sync_transactions (transaction_id, created_at) VALUES (?, ?)",
		transactionID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
	}

	r.log.Debug().Str("cursor", transactionID).Msg("Sync cursor advanced")

	return nil
}
