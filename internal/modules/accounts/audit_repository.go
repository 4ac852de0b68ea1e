package accounts

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
)

// AuditRepository handles trade audit database operations. Audit rows are
// immutable: there is no update path, only insert and read.
type AuditRepository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(q database.Querier, log zerolog.Logger) *AuditRepository {
	return &AuditRepository{
		q:   q,
		log: log.With().Str("repo", "audit").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *AuditRepository) WithTx(tx *sql.Tx) *AuditRepository {
	return &AuditRepository{q: tx, log: r.log}
}

// Exists reports whether a trade has already been audited. This check is the
// sole duplicate-prevention mechanism for settlement.
func (r *AuditRepository) Exists(tradeID int64) (bool, error) {
	var one int
	err := r.q.QueryRow("SELECT 1 FROM trade_audit WHERE trade_id = ? LIMIT 1", tradeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check audit existence: %w", err)
	}

	return true, nil
}

// Insert writes the settlement record for one closed trade.
func (r *AuditRepository) Insert(entry AuditEntry) error {
	query := `
		INSERT INTO trade_audit (trade_id, trader_id, net_realized_pl, close_time, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	var closeTime sql.NullInt64
	if entry.CloseTime != nil {
		closeTime = sql.NullInt64{Int64: entry.CloseTime.Unix(), Valid: true}
	}

	_, err := r.q.Exec(query, entry.TradeID, entry.TraderID, entry.NetRealizedPL, closeTime, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert audit row for trade %d: %w", entry.TradeID, err)
	}

	r.log.Info().
		Int64("trade_id", entry.TradeID).
		Int64("trader_id", entry.TraderID).
		Float64("net_realized_pl", entry.NetRealizedPL).
		Msg("Trade settled")

	return nil
}

// Get retrieves the audit row for a trade. Returns (nil, nil) when none
// exists.
func (r *AuditRepository) Get(tradeID int64) (*AuditEntry, error) {
	query := `
		SELECT trade_id, trader_id, net_realized_pl, close_time, created_at
		FROM trade_audit WHERE trade_id = ?
	`

	var entry AuditEntry
	var closeTime sql.NullInt64
	var createdAt int64
	err := r.q.QueryRow(query, tradeID).Scan(
		&entry.TradeID, &entry.TraderID, &entry.NetRealizedPL, &closeTime, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit row for trade %d: %w", tradeID, err)
	}

	if closeTime.Valid {
		t := time.Unix(closeTime.Int64, 0).UTC()
		entry.CloseTime = &t
	}
	entry.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &entry, nil
}
