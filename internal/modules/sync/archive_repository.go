package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Cocopuffff/TraderJoe/internal/clients/oanda"
	"github.com/Cocopuffff/TraderJoe/internal/database"
)

// ArchiveRepository stores raw change-sets alongside the cursor advance, so
// every applied batch can be replayed or inspected after the fact.
type ArchiveRepository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewArchiveRepository creates a new archive repository
func NewArchiveRepository(q database.Querier, log zerolog.Logger) *ArchiveRepository {
	return &ArchiveRepository{
		q:   q,
		log: log.With().Str("repo", "sync_archive").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *ArchiveRepository) WithTx(tx *sql.Tx) *ArchiveRepository {
	return &ArchiveRepository{q: tx, log: r.log}
}

// Store archives one raw change-set keyed by its last transaction id.
func (r *ArchiveRepository) Store(changes *oanda.AccountChanges) error {
	payload, err := msgpack.Marshal(changes)
	if err != nil {
		return fmt.Errorf("failed to encode change-set %s: %w", changes.LastTransactionID, err)
	}

	_, err = r.q.Exec(
		"INSERT INTO sync_batches (transaction_id, payload, created_at) VALUES (?, ?, ?)",
		changes.LastTransactionID, payload, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive change-set %s: %w", changes.LastTransactionID, err)
	}

	return nil
}

// Load decodes the archived change-set for a transaction id. Returns
// (nil, nil) when no batch was archived under that id.
func (r *ArchiveRepository) Load(transactionID string) (*oanda.AccountChanges, error) {
	var payload []byte
	err := r.q.QueryRow(
		"SELECT payload FROM sync_batches WHERE transaction_id = ? ORDER BY id DESC LIMIT 1",
		transactionID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived change-set %s: %w", transactionID, err)
	}

	var changes oanda.AccountChanges
	if err := msgpack.Unmarshal(payload, &changes); err != nil {
		return nil, fmt.Errorf("failed to decode archived change-set %s: %w", transactionID, err)
	}

	return &changes, nil
}

// Prune deletes archived batches older than the retention window, returning
// the number removed.
func (r *ArchiveRepository) Prune(olderThan time.Time) (int64, error) {
	res, err := r.q.Exec("DELETE FROM sync_batches WHERE created_at < ?", olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync batches: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune result: %w", err)
	}
	if n > 0 {
		r.log.Info().Int64("batches", n).Msg("Pruned archived change-sets")
	}

	return n, nil
}
