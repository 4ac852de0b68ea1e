package review

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
)

// Repository runs the read-only aggregate queries behind the review
// endpoints. Everything here reads the audit table: settled results only,
// never in-flight figures.
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new review repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "review").Logger(),
	}
}

// Window sums a trader's settled trades with close times in [from, to).
func (r *Repository) Window(traderID int64, from, to time.Time) (int, float64, error) {
	var trades int
	var realized float64
	err := r.q.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(net_realized_pl), 0)
		FROM trade_audit
		WHERE trader_id = ? AND close_time >= ? AND close_time < ?`,
		traderID, from.Unix(), to.Unix(),
	).Scan(&trades, &realized)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate window for trader %d: %w", traderID, err)
	}

	return trades, realized, nil
}

// DailyReturns returns the per-day settled PL since from, oldest first.
// Days without settlements do not appear.
func (r *Repository) DailyReturns(traderID int64, from time.Time) ([]float64, error) {
	rows, err := r.q.Query(`
		SELECT SUM(net_realized_pl)
		FROM trade_audit
		WHERE trader_id = ? AND close_time >= ?
		GROUP BY close_time / 86400
		ORDER BY close_time / 86400`,
		traderID, from.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily returns for trader %d: %w", traderID, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan daily return: %w", err)
		}
		out = append(out, v)
	}

	return out, rows.Err()
}
