package strategies

import "time"

// Strategy is a trader-owned trading script registered with the system.
type Strategy struct {
	ID         int64  `json:"id"`
	OwnerID    int64  `json:"owner_id"`
	Name       string `json:"name"`
	ScriptPath string `json:"script_path"`
}

// Slot binds a running strategy to an instrument for a trader. TradeID is
// nil until the broker confirms a fill and the linker resolves it.
type Slot struct {
	ID         int64     `json:"id"`
	TraderID   int64     `json:"trader_id"`
	StrategyID int64     `json:"strategy_id"`
	Instrument string    `json:"instrument"`
	TradeID    *int64    `json:"trade_id,omitempty"`
	IsActive   bool      `json:"is_active"`
	RunHandle  string    `json:"run_handle,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
