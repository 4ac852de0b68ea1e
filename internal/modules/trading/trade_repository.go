package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
)

// tradesColumns is the list of columns for the trades table.
// Column order must match the scan helpers below.
const tradesColumns = `id, trader_id, transaction_id, instrument, open_time, close_time, updated_at,
	initial_units, current_units, price, realized_pl, unrealized_pl, financing, margin_used, state_id, strategy_id`

// TradeRepository handles trade database operations
type TradeRepository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(q database.Querier, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		q:   q,
		log: log.With().Str("repo", "trade").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *TradeRepository) WithTx(tx *sql.Tx) *TradeRepository {
	return &TradeRepository{q: tx, log: r.log}
}

// Upsert inserts or updates a trade keyed by broker transaction id. Every
// mutable field is set, none is incremented, so applying the same delta
// twice leaves the row identical. The local id and the transaction id are
// never touched on update.
func (r *TradeRepository) Upsert(trade Trade) error {
	if err := trade.Validate(); err != nil {
		return fmt.Errorf("failed to upsert trade: %w", err)
	}

	query := `
		INSERT INTO trades
		(trader_id, transaction_id, instrument, open_time, close_time, updated_at,
		 initial_units, current_units, price, realized_pl, unrealized_pl, financing,
		 margin_used, state_id, strategy_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			trader_id     = COALESCE(excluded.trader_id, trades.trader_id),
			close_time    = excluded.close_time,
			updated_at    = excluded.updated_at,
			current_units = excluded.current_units,
			price         = excluded.price,
			realized_pl   = excluded.realized_pl,
			unrealized_pl = excluded.unrealized_pl,
			financing     = excluded.financing,
			margin_used   = excluded.margin_used,
			state_id      = excluded.state_id,
			strategy_id   = COALESCE(excluded.strategy_id, trades.strategy_id)
	`

	_, err := r.q.Exec(query,
		nullInt64Ptr(trade.TraderID),
		trade.TransactionID,
		trade.Instrument,
		trade.OpenTime.Unix(),
		nullTimePtr(trade.CloseTime),
		trade.UpdatedAt.Unix(),
		trade.InitialUnits,
		trade.CurrentUnits,
		trade.Price,
		trade.RealizedPL,
		trade.UnrealizedPL,
		trade.Financing,
		trade.MarginUsed,
		int64(trade.StateID),
		nullInt64Ptr(trade.StrategyID),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert trade %s: %w", trade.TransactionID, err)
	}

	r.log.Debug().
		Str("transaction_id", trade.TransactionID).
		Str("instrument", trade.Instrument).
		Int64("state_id", int64(trade.StateID)).
		Msg("Trade upserted")

	return nil
}

// GetByTransactionID retrieves a trade by broker transaction id.
// Returns (nil, nil) when no such trade exists.
func (r *TradeRepository) GetByTransactionID(transactionID string) (*Trade, error) {
	query := "SELECT " + tradesColumns + " FROM trades WHERE transaction_id = ?"

	trade, err := scanTrade(r.q.QueryRow(query, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade by transaction_id: %w", err)
	}

	return &trade, nil
}

// SetOwnership assigns the owning trader (and optionally the strategy) of a
// trade. Used by the linker once a fill is resolved.
func (r *TradeRepository) SetOwnership(tradeID, traderID int64, strategyID *int64) error {
	query := `
		UPDATE trades
		SET trader_id = ?, strategy_id = COALESCE(?, strategy_id), updated_at = ?
		WHERE id = ?
	`

	_, err := r.q.Exec(query, traderID, nullInt64Ptr(strategyID), time.Now().Unix(), tradeID)
	if err != nil {
		return fmt.Errorf("failed to set trade ownership: %w", err)
	}

	return nil
}

// GetClosedUnaudited returns closed trades with an owner that have no audit
// row yet, oldest close first.
func (r *TradeRepository) GetClosedUnaudited(closedState catalog.StateID) ([]Trade, error) {
	query := `
		SELECT ` + tradesColumns + ` FROM trades
		WHERE state_id = ?
		  AND trader_id IS NOT NULL
		  AND id NOT IN (SELECT trade_id FROM trade_audit)
		ORDER BY close_time ASC
	`

	return r.queryTrades(query, int64(closedState))
}

// GetByTrader returns a trader's trades in the given state, newest close or
// open first.
func (r *TradeRepository) GetByTrader(traderID int64, state catalog.StateID) ([]Trade, error) {
	query := `
		SELECT ` + tradesColumns + ` FROM trades
		WHERE trader_id = ? AND state_id = ?
		ORDER BY COALESCE(close_time, open_time) DESC
	`

	return r.queryTrades(query, traderID, int64(state))
}

// GetOpenByTrader returns a trader's non-closed trades.
func (r *TradeRepository) GetOpenByTrader(traderID int64, closedState catalog.StateID) ([]Trade, error) {
	query := `
		SELECT ` + tradesColumns + ` FROM trades
		WHERE trader_id = ? AND state_id != ?
		ORDER BY open_time DESC
	`

	return r.queryTrades(query, traderID, int64(closedState))
}

func (r *TradeRepository) queryTrades(query string, args ...interface{}) ([]Trade, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		trade, err := scanTradeFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// scanner abstracts *sql.Row and *sql.Rows for the shared scan logic.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row *sql.Row) (Trade, error) {
	return scanTradeFrom(row)
}

func scanTradeFromRows(rows *sql.Rows) (Trade, error) {
	return scanTradeFrom(rows)
}

func scanTradeFrom(s scanner) (Trade, error) {
	var trade Trade
	var traderID, strategyID, closeTime sql.NullInt64
	var openTime, updatedAt int64
	var stateID int64

	err := s.Scan(
		&trade.ID,
		&traderID,
		&trade.TransactionID,
		&trade.Instrument,
		&openTime,
		&closeTime,
		&updatedAt,
		&trade.InitialUnits,
		&trade.CurrentUnits,
		&trade.Price,
		&trade.RealizedPL,
		&trade.UnrealizedPL,
		&trade.Financing,
		&trade.MarginUsed,
		&stateID,
		&strategyID,
	)
	if err != nil {
		return trade, err
	}

	trade.OpenTime = time.Unix(openTime, 0).UTC()
	trade.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	trade.StateID = catalog.StateID(stateID)

	if traderID.Valid {
		trade.TraderID = &traderID.Int64
	}
	if strategyID.Valid {
		trade.StrategyID = &strategyID.Int64
	}
	if closeTime.Valid {
		t := time.Unix(closeTime.Int64, 0).UTC()
		trade.CloseTime = &t
	}

	return trade, nil
}

// Helper functions

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
