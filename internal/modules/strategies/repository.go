package strategies

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
)

const strategyColumns = "id, owner_id, name, script_path"

// Repository handles strategy and strategy-slot database operations
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new strategies repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "strategies").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{q: tx, log: r.log}
}

// Get retrieves a strategy by id. Returns (nil, nil) when not found.
func (r *Repository) Get(id int64) (*Strategy, error) {
	query := fmt.Sprintf("SELECT %s FROM strategies WHERE id = ?", strategyColumns)

	var s Strategy
	err := r.q.QueryRow(query, id).Scan(&s.ID, &s.OwnerID, &s.Name, &s.ScriptPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy %d: %w", id, err)
	}

	return &s, nil
}

// Exists reports whether a strategy id is registered.
func (r *Repository) Exists(id int64) (bool, error) {
	var one int
	err := r.q.QueryRow("SELECT 1 FROM strategies WHERE id = ? LIMIT 1", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check strategy %d: %w", id, err)
	}

	return true, nil
}

// Create registers a strategy and returns its id.
func (r *Repository) Create(ownerID int64, name, scriptPath string) (int64, error) {
	res, err := r.q.Exec(
		"INSERT INTO strategies (owner_id, name, script_path) VALUES (?, ?, ?)",
		ownerID, name, scriptPath,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create strategy: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get strategy id: %w", err)
	}

	return id, nil
}

// ListByOwner returns all strategies registered by a trader.
func (r *Repository) ListByOwner(ownerID int64) ([]Strategy, error) {
	query := fmt.Sprintf("SELECT %s FROM strategies WHERE owner_id = ? ORDER BY id", strategyColumns)

	rows, err := r.q.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	var out []Strategy
	for rows.Next() {
		var s Strategy
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Name, &s.ScriptPath); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

// MatchByScriptPath resolves a trader's strategy whose registered script
// path is contained in the given absolute path. Order submission refuses to
// reach the broker when no match exists.
func (r *Repository) MatchByScriptPath(ownerID int64, absPath string) (*Strategy, error) {
	list, err := r.ListByOwner(ownerID)
	if err != nil {
		return nil, err
	}

	for i := range list {
		if list[i].ScriptPath != "" && strings.Contains(absPath, list[i].ScriptPath) {
			return &list[i], nil
		}
	}

	return nil, nil
}

// LinkOrInsert resolves a trade into a strategy slot. A pending slot (same
// trader, strategy and instrument with no trade yet) is claimed first; when
// none exists a new resolved slot is inserted. Calling again with the same
// trade is a no-op, so linker retries stay idempotent.
func (r *Repository) LinkOrInsert(traderID, strategyID int64, instrument string, tradeID int64) error {
	var one int
	err := r.q.QueryRow(
		"SELECT 1 FROM active_strategies_trades WHERE trade_id = ? LIMIT 1", tradeID,
	).Scan(&one)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check slot for trade %d: %w", tradeID, err)
	}

	res, err := r.q.Exec(`
		UPDATE active_strategies_trades SET trade_id = ?
		WHERE id = (
			SELECT id FROM active_strategies_trades
			WHERE trader_id = ? AND strategy_id = ? AND instrument = ? AND trade_id IS NULL
			ORDER BY id LIMIT 1
		)`,
		tradeID, traderID, strategyID, instrument,
	)
	if err != nil {
		return fmt.Errorf("failed to claim pending slot: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read slot update result: %w", err)
	}
	if n > 0 {
		r.log.Debug().Int64("trade_id", tradeID).Int64("strategy_id", strategyID).Msg("Claimed pending strategy slot")
		return nil
	}

	_, err = r.q.Exec(`
		INSERT INTO active_strategies_trades (trader_id, strategy_id, instrument, trade_id, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
		traderID, strategyID, instrument, tradeID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert strategy slot: %w", err)
	}

	return nil
}

// OpenSlot records that a strategy run was started for an instrument, before
// any fill is known. run_handle is the runner's opaque handle.
func (r *Repository) OpenSlot(traderID, strategyID int64, instrument, runHandle string) (int64, error) {
	res, err := r.q.Exec(`
		INSERT INTO active_strategies_trades (trader_id, strategy_id, instrument, is_active, run_handle, created_at)
		VALUES (?, ?, ?, 1, ?, ?)`,
		traderID, strategyID, instrument, runHandle, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to open strategy slot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get slot id: %w", err)
	}

	return id, nil
}

// ClearSlot deactivates the slot bound to a trade, returning its run handle
// so the caller can stop the runner. Returns ("", nil) when no active slot
// references the trade.
func (r *Repository) ClearSlot(tradeID int64) (string, error) {
	var id int64
	var handle sql.NullString
	err := r.q.QueryRow(
		"SELECT id, run_handle FROM active_strategies_trades WHERE trade_id = ? AND is_active = 1", tradeID,
	).Scan(&id, &handle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find slot for trade %d: %w", tradeID, err)
	}

	if _, err := r.q.Exec("UPDATE active_strategies_trades SET is_active = 0 WHERE id = ?", id); err != nil {
		return "", fmt.Errorf("failed to clear slot %d: %w", id, err)
	}

	return handle.String, nil
}

// SlotsByTrader returns a trader's slots, active first.
func (r *Repository) SlotsByTrader(traderID int64) ([]Slot, error) {
	rows, err := r.q.Query(`
		SELECT id, trader_id, strategy_id, instrument, trade_id, is_active, run_handle, created_at
		FROM active_strategies_trades WHERE trader_id = ?
		ORDER BY is_active DESC, id DESC`, traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots for trader %d: %w", traderID, err)
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		var s Slot
		var tradeID sql.NullInt64
		var handle sql.NullString
		var createdAt int64
		if err := rows.Scan(&s.ID, &s.TraderID, &s.StrategyID, &s.Instrument, &tradeID, &s.IsActive, &handle, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		if tradeID.Valid {
			s.TradeID = &tradeID.Int64
		}
		s.RunHandle = handle.String
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, s)
	}

	return out, rows.Err()
}

// ResetRunState deactivates all slots that never resolved to a trade. Called
// once at startup: runner processes do not survive a restart, so unresolved
// slots are stale.
func (r *Repository) ResetRunState() (int64, error) {
	res, err := r.q.Exec("UPDATE active_strategies_trades SET is_active = 0 WHERE trade_id IS NULL AND is_active = 1")
	if err != nil {
		return 0, fmt.Errorf("failed to reset run state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reset result: %w", err)
	}
	if n > 0 {
		r.log.Warn().Int64("slots", n).Msg("Deactivated stale strategy slots at startup")
	}

	return n, nil
}
