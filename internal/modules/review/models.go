package review

import (
	"time"

	"github.com/Cocopuffff/TraderJoe/internal/modules/accounts"
	"github.com/Cocopuffff/TraderJoe/internal/modules/trading"
)

// AccountSummary is a trader's funds and exposure after the freshest pass
// available. Stale is set when the triggering pass failed and the figures
// come from the last committed state.
type AccountSummary struct {
	Balance    *accounts.CashBalance `json:"balance"`
	OpenTrades []trading.Trade       `json:"open_trades"`
	Stale      bool                  `json:"stale"`
}

// WindowStats aggregates settled trades over one time window.
type WindowStats struct {
	Window     string  `json:"window"`
	Trades     int     `json:"trades"`
	RealizedPL float64 `json:"realized_pl"`
}

// Performance is a trader's settled results across the standard review
// windows, with daily-return dispersion over the trailing month.
type Performance struct {
	TraderID    int64         `json:"trader_id"`
	Windows     []WindowStats `json:"windows"`
	DailyMean   float64       `json:"daily_mean"`
	DailyStdDev float64       `json:"daily_std_dev"`
	Stale       bool          `json:"stale"`
	GeneratedAt time.Time     `json:"generated_at"`
}
