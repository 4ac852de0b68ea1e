package accounts

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
)

// CashRepository handles cash balance database operations
type CashRepository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewCashRepository creates a new cash repository
func NewCashRepository(q database.Querier, log zerolog.Logger) *CashRepository {
	return &CashRepository{
		q:   q,
		log: log.With().Str("repo", "cash").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *CashRepository) WithTx(tx *sql.Tx) *CashRepository {
	return &CashRepository{q: tx, log: r.log}
}

// Allocate grants a trader their initial virtual balance. A second call for
// the same trader is a no-op so derived fields are never reset. Returns true
// when a new balance row was created.
func (r *CashRepository) Allocate(traderID int64, amount float64) (bool, error) {
	query := `
		INSERT INTO cash_balances (trader_id, balance, nav, margin_used, margin_available, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(trader_id) DO NOTHING
	`

	res, err := r.q.Exec(query, traderID, amount, amount, amount, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("failed to allocate cash for trader %d: %w", traderID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read allocation result: %w", err)
	}

	if n > 0 {
		r.log.Info().Int64("trader_id", traderID).Float64("amount", amount).Msg("Cash allocated")
	}
	return n > 0, nil
}

// Get retrieves one trader's balance. Returns (nil, nil) when the trader has
// no allocation.
func (r *CashRepository) Get(traderID int64) (*CashBalance, error) {
	query := `
		SELECT trader_id, balance, nav, margin_used, margin_available, updated_at
		FROM cash_balances WHERE trader_id = ?
	`

	var cb CashBalance
	var updatedAt int64
	err := r.q.QueryRow(query, traderID).Scan(
		&cb.TraderID, &cb.Balance, &cb.NAV, &cb.MarginUsed, &cb.MarginAvailable, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cash balance for trader %d: %w", traderID, err)
	}

	cb.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &cb, nil
}

// AddToBalance books an amount into a trader's cash balance. Used only by
// audit settlement.
func (r *CashRepository) AddToBalance(traderID int64, amount float64) error {
	query := `
		UPDATE cash_balances
		SET balance = balance + ?, updated_at = ?
		WHERE trader_id = ?
	`

	res, err := r.q.Exec(query, amount, time.Now().Unix(), traderID)
	if err != nil {
		return fmt.Errorf("failed to adjust balance for trader %d: %w", traderID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read balance adjustment result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("trader %d has no cash balance to settle into", traderID)
	}

	return nil
}

// RecomputeNAV sets, for every trader with at least one trade, NAV to the
// cash balance plus the sum of that trader's unrealized P&L. Closed trades
// contribute zero because their unrealized P&L was zeroed at close. A full
// recompute, so a stale or wrong NAV heals on the next pass.
func (r *CashRepository) RecomputeNAV() error {
	query := `
		UPDATE cash_balances
		SET nav = balance + COALESCE(
			(SELECT SUM(t.unrealized_pl) FROM trades t WHERE t.trader_id = cash_balances.trader_id), 0),
		    updated_at = ?
		WHERE trader_id IN (SELECT DISTINCT trader_id FROM trades WHERE trader_id IS NOT NULL)
	`

	if _, err := r.q.Exec(query, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to recompute NAV: %w", err)
	}

	return nil
}

// RecomputeMargin sets margin_used to the sum over each trader's non-closed
// trades and margin_available to NAV minus margin_used, for every trader
// with a balance row.
func (r *CashRepository) RecomputeMargin(closedState catalog.StateID) error {
	query := `
		UPDATE cash_balances
		SET margin_used = COALESCE(
			(SELECT SUM(t.margin_used) FROM trades t
			 WHERE t.trader_id = cash_balances.trader_id AND t.state_id != ?), 0),
		    updated_at = ?
	`

	if _, err := r.q.Exec(query, int64(closedState), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to recompute margin used: %w", err)
	}

	// Separate statement so margin_available reads the value just written.
	avail := `UPDATE cash_balances SET margin_available = nav - margin_used`
	if _, err := r.q.Exec(avail); err != nil {
		return fmt.Errorf("failed to recompute margin available: %w", err)
	}

	return nil
}
