package sync

import (
	"time"

	"github.com/Cocopuffff/TraderJoe/internal/clients/oanda"
)

// DeltaKind says which lifecycle transition a trade delta represents.
type DeltaKind int

const (
	DeltaOpened DeltaKind = iota
	DeltaReduced
	DeltaClosed
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaOpened:
		return "opened"
	case DeltaReduced:
		return "reduced"
	case DeltaClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateName is the trade-state catalog name this lifecycle stage resolves
// to. Resolution fails closed: a name missing from the catalog makes the
// record an error, never a guessed id.
func (k DeltaKind) StateName() string {
	switch k {
	case DeltaOpened:
		return "OPEN"
	case DeltaReduced:
		return "REDUCED"
	case DeltaClosed:
		return "CLOSED"
	default:
		return ""
	}
}

// TradeDelta pairs one broker trade record with its lifecycle kind and, for
// non-closed trades, the price-dependent figures from the state snapshot.
type TradeDelta struct {
	Kind  DeltaKind
	Trade oanda.TradeSummary
	Live  *oanda.CalculatedTradeState
}

// Batch is one classified change-set, ready for application.
type Batch struct {
	TransactionID   string
	TradeDeltas     []TradeDelta
	OrdersFilled    []oanda.OrderSummary
	OrdersCancelled []oanda.OrderSummary
}

// Empty reports whether every delta stream is empty. The cursor only
// advances on non-empty batches, so an empty poll leaves no trace.
func (b *Batch) Empty() bool {
	return len(b.TradeDeltas) == 0 && len(b.OrdersFilled) == 0 && len(b.OrdersCancelled) == 0
}

// PassState is the orchestrator's position in a reconciliation pass.
type PassState int

const (
	StateIdle PassState = iota
	StateFetching
	StateClassifying
	StateApplying
	StateAggregating
	StateAdvancing
	StateFailed
)

func (s PassState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateClassifying:
		return "classifying"
	case StateApplying:
		return "applying"
	case StateAggregating:
		return "aggregating"
	case StateAdvancing:
		return "advancing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	CursorBefore    string        `json:"cursor_before"`
	CursorAfter     string        `json:"cursor_after"`
	Advanced        bool          `json:"advanced"`
	TradesUpserted  int           `json:"trades_upserted"`
	OrdersLinked    int           `json:"orders_linked"`
	OrdersCompleted int           `json:"orders_completed"`
	TradesSettled   int           `json:"trades_settled"`
	RecordsSkipped  int           `json:"records_skipped"`
}
