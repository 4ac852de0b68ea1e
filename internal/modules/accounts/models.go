package accounts

import "time"

// CashBalance is one trader's account figures. NAV, MarginUsed and
// MarginAvailable are derived from the trade set and recomputed after every
// reconciliation pass; Balance changes only through allocation and audit
// settlement.
type CashBalance struct {
	TraderID        int64     `json:"trader_id"`
	Balance         float64   `json:"balance"`
	NAV             float64   `json:"nav"`
	MarginUsed      float64   `json:"margin_used"`
	MarginAvailable float64   `json:"margin_available"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AuditEntry is the immutable settlement record for one closed trade.
type AuditEntry struct {
	TradeID       int64      `json:"trade_id"`
	TraderID      int64      `json:"trader_id"`
	NetRealizedPL float64    `json:"net_realized_pl"`
	CloseTime     *time.Time `json:"close_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
