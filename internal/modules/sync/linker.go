package sync

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/clients/oanda"
	"github.com/Cocopuffff/TraderJoe/internal/modules/strategies"
	"github.com/Cocopuffff/TraderJoe/internal/modules/trading"
)

// Linker attaches ownership and strategy slots to trades when the broker
// confirms order fills. Linkage is eventually consistent: when a fill delta
// arrives before its trade row exists, the fill details are parked on the
// order row and retried on the next pass.
type Linker struct {
	orders *trading.OrderRepository
	trades *trading.TradeRepository
	slots  *strategies.Repository
	log    zerolog.Logger
}

// NewLinker creates a new order-to-trade linker
func NewLinker(orders *trading.OrderRepository, trades *trading.TradeRepository, slots *strategies.Repository, log zerolog.Logger) *Linker {
	return &Linker{
		orders: orders,
		trades: trades,
		slots:  slots,
		log:    log.With().Str("component", "linker").Logger(),
	}
}

// LinkResult counts what one application did.
type LinkResult struct {
	Linked    int
	Completed int
	Deferred  int
	Skipped   int
}

// Apply processes this batch's order deltas and retries earlier deferred
// fills, all inside the given transaction.
func (l *Linker) Apply(tx *sql.Tx, filled, cancelled []oanda.OrderSummary) (LinkResult, error) {
	orders := l.orders.WithTx(tx)
	trades := l.trades.WithTx(tx)
	slots := l.slots.WithTx(tx)

	var res LinkResult

	for _, o := range cancelled {
		if err := orders.MarkCompleted(o.ID); err != nil {
			return res, fmt.Errorf("failed to complete cancelled order %s: %w", o.ID, err)
		}
		res.Completed++
	}

	for _, o := range filled {
		var tag, comment string
		if o.ClientExtensions != nil {
			tag = o.ClientExtensions.Tag
			comment = o.ClientExtensions.Comment
		}

		if err := l.linkFill(orders, trades, slots, o.ID, o.TradeOpenedID, o.Instrument, tag, comment, &res); err != nil {
			return res, err
		}
	}

	// Retry fills parked on earlier passes whose trade rows may exist now.
	pending, err := orders.GetPendingFills()
	if err != nil {
		return res, err
	}
	for _, o := range pending {
		if err := l.linkFill(orders, trades, slots, o.OrderID, o.FillTransactionID, "", o.LinkTag, o.LinkComment, &res); err != nil {
			return res, err
		}
	}

	return res, nil
}

// linkFill resolves one fill to its trade. tradeTxID is empty for
// reduce-only fills, which complete the order without opening anything.
func (l *Linker) linkFill(orders *trading.OrderRepository, trades *trading.TradeRepository, slots *strategies.Repository, orderID, tradeTxID, instrument, tag, comment string, res *LinkResult) error {
	if tradeTxID == "" {
		if err := orders.MarkCompleted(orderID); err != nil {
			return fmt.Errorf("failed to complete reduce-only order %s: %w", orderID, err)
		}
		res.Completed++
		return nil
	}

	trade, err := trades.GetByTransactionID(tradeTxID)
	if err != nil {
		return err
	}
	if trade == nil {
		// The trade delta has not landed yet. Park the fill details so a
		// later pass can finish the linkage without a redelivery.
		parked, err := orders.RecordFill(orderID, tradeTxID, tag, comment)
		if err != nil {
			return err
		}
		if !parked {
			// No local order row to park on (the order was placed outside
			// this system). Ownership still arrives via the trade's own tag.
			l.log.Warn().Str("order_id", orderID).Str("trade_tx", tradeTxID).
				Msg("No order row for fill; skipping linkage")
			res.Skipped++
			return nil
		}
		l.log.Debug().Str("order_id", orderID).Str("trade_tx", tradeTxID).
			Msg("Fill deferred: trade row not present yet")
		res.Deferred++
		return nil
	}

	stored, err := orders.Get(orderID)
	if err != nil {
		return err
	}

	traderID, tagErr := ParseTraderTag(tag)
	if tagErr != nil {
		if stored == nil {
			l.log.Warn().Str("order_id", orderID).Str("tag", tag).
				Msg("Skipping fill with no resolvable owner")
			res.Skipped++
			return nil
		}
		traderID = stored.TraderID
	} else if stored != nil && stored.TraderID != traderID {
		l.log.Warn().Str("order_id", orderID).
			Int64("tag_trader", traderID).Int64("order_trader", stored.TraderID).
			Msg("Skipping fill: tag disagrees with submitted order")
		res.Skipped++
		return nil
	}

	var strategyID *int64
	if id, err := ParseStrategyTag(comment); err == nil {
		// Slot linkage needs a strategies row; an unregistered id would
		// break the slot foreign key and abort the pass.
		known, err := slots.Exists(id)
		if err != nil {
			return err
		}
		if known {
			strategyID = &id
		} else {
			l.log.Warn().Str("order_id", orderID).Int64("strategy_id", id).
				Msg("Fill references an unregistered strategy; linking trader only")
		}
	}

	if err := trades.SetOwnership(trade.ID, traderID, strategyID); err != nil {
		return err
	}

	if strategyID != nil {
		inst := instrument
		if inst == "" {
			inst = trade.Instrument
		}
		if err := slots.LinkOrInsert(traderID, *strategyID, inst, trade.ID); err != nil {
			return err
		}
	}

	if err := orders.MarkCompleted(orderID); err != nil {
		return fmt.Errorf("failed to complete order %s: %w", orderID, err)
	}

	res.Linked++
	return nil
}
