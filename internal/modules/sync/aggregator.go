package sync

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
	"github.com/Cocopuffff/TraderJoe/internal/modules/accounts"
	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
	"github.com/Cocopuffff/TraderJoe/internal/modules/strategies"
	"github.com/Cocopuffff/TraderJoe/internal/modules/trading"
)

// Aggregator books closed trades into cash balances and recomputes the
// derived account figures. Settlement is guarded solely by the audit row:
// a trade with an audit row is settled, full stop, so redelivered closed
// deltas can never double-book.
type Aggregator struct {
	trades *trading.TradeRepository
	audit  *accounts.AuditRepository
	cash   *accounts.CashRepository
	slots  *strategies.Repository
	log    zerolog.Logger
}

// NewAggregator creates a new financial aggregator
func NewAggregator(trades *trading.TradeRepository, audit *accounts.AuditRepository, cash *accounts.CashRepository, slots *strategies.Repository, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		trades: trades,
		audit:  audit,
		cash:   cash,
		slots:  slots,
		log:    log.With().Str("component", "aggregator").Logger(),
	}
}

// AggregateResult summarizes one aggregation run.
type AggregateResult struct {
	Settled int
	// StoppedHandles are runner handles freed by settled trades; the caller
	// stops them after the settlement transaction commits.
	StoppedHandles []string
}

// Run executes the three aggregation steps in one transaction: settlement,
// then the NAV recompute, then the margin recompute. All three are safe to
// repeat, so a rolled-back run simply reruns on the next pass.
func (a *Aggregator) Run(db *sql.DB, closedState catalog.StateID) (AggregateResult, error) {
	var res AggregateResult

	err := database.WithTransaction(db, func(tx *sql.Tx) error {
		var err error
		res, err = a.settleClosed(tx, closedState)
		if err != nil {
			return fmt.Errorf("settlement failed: %w", err)
		}

		cash := a.cash.WithTx(tx)
		if err := cash.RecomputeNAV(); err != nil {
			return fmt.Errorf("nav recompute failed: %w", err)
		}
		if err := cash.RecomputeMargin(closedState); err != nil {
			return fmt.Errorf("margin recompute failed: %w", err)
		}

		return nil
	})

	return res, err
}

// settleClosed books every closed, owned, unaudited trade: one audit row and
// one balance credit of realized PL net of financing, then the trade's
// strategy slot is released.
func (a *Aggregator) settleClosed(tx *sql.Tx, closedState catalog.StateID) (AggregateResult, error) {
	trades := a.trades.WithTx(tx)
	audit := a.audit.WithTx(tx)
	cash := a.cash.WithTx(tx)
	slots := a.slots.WithTx(tx)

	var res AggregateResult

	unaudited, err := trades.GetClosedUnaudited(closedState)
	if err != nil {
		return res, err
	}

	for _, t := range unaudited {
		exists, err := audit.Exists(t.ID)
		if err != nil {
			return res, err
		}
		if exists {
			continue
		}

		net := t.NetRealizedPL()
		if err := audit.Insert(accounts.AuditEntry{
			TradeID:       t.ID,
			TraderID:      *t.TraderID,
			NetRealizedPL: net,
			CloseTime:     t.CloseTime,
		}); err != nil {
			return res, err
		}

		if err := cash.AddToBalance(*t.TraderID, net); err != nil {
			return res, err
		}

		handle, err := slots.ClearSlot(t.ID)
		if err != nil {
			return res, err
		}
		if handle != "" {
			res.StoppedHandles = append(res.StoppedHandles, handle)
		}

		res.Settled++
	}

	return res, nil
}
