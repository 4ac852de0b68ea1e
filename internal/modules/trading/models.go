package trading

import (
	"fmt"
	"time"

	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
)

// Trade is the local projection of one broker trade. TransactionID is the
// broker's immutable identifier and the only key ever sent upstream; ID is
// local and never exposed to the broker.
type Trade struct {
	ID            int64           `json:"id"`
	TraderID      *int64          `json:"trader_id"`
	TransactionID string          `json:"transaction_id"`
	Instrument    string          `json:"instrument"`
	OpenTime      time.Time       `json:"open_time"`
	CloseTime     *time.Time      `json:"close_time,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
	InitialUnits  float64         `json:"initial_units"`
	CurrentUnits  float64         `json:"current_units"`
	Price         float64         `json:"price"`
	RealizedPL    float64         `json:"realized_pl"`
	UnrealizedPL  float64         `json:"unrealized_pl"`
	Financing     float64         `json:"financing"`
	MarginUsed    float64         `json:"margin_used"`
	StateID       catalog.StateID `json:"state_id"`
	StrategyID    *int64          `json:"strategy_id,omitempty"`
}

// NetRealizedPL is the amount booked into the trader's cash balance when the
// trade closes.
func (t *Trade) NetRealizedPL() float64 {
	return t.RealizedPL + t.Financing
}

// Validate checks the fields the schema cannot.
func (t *Trade) Validate() error {
	if t.TransactionID == "" {
		return fmt.Errorf("trade is missing a transaction id")
	}
	if t.Instrument == "" {
		return fmt.Errorf("trade %s is missing an instrument", t.TransactionID)
	}
	if t.StateID == 0 {
		return fmt.Errorf("trade %s has no state", t.TransactionID)
	}
	return nil
}

// Order records an order this system submitted to the broker. Completed is
// set when the broker reports a fill or cancellation. The Fill* fields hold
// deferred linkage data when a fill delta arrived before its trade row.
type Order struct {
	OrderID           string    `json:"order_id"`
	TraderID          int64     `json:"trader_id"`
	Completed         bool      `json:"completed"`
	FillTransactionID string    `json:"fill_transaction_id,omitempty"`
	LinkTag           string    `json:"link_tag,omitempty"`
	LinkComment       string    `json:"link_comment,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
