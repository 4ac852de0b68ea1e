package sync

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cocopuffff/TraderJoe/internal/clients/oanda"
	"github.com/Cocopuffff/TraderJoe/internal/modules/accounts"
	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
	"github.com/Cocopuffff/TraderJoe/internal/modules/strategies"
	"github.com/Cocopuffff/TraderJoe/internal/modules/trading"
	"github.com/Cocopuffff/TraderJoe/internal/testutil"
)

type fakeBroker struct {
	changes   *oanda.AccountChanges
	err       error
	calls     int
	lastSince string
}

func (f *fakeBroker) Changes(_ context.Context, sinceTransactionID string) (*oanda.AccountChanges, error) {
	f.calls++
	f.lastSince = sinceTransactionID
	return f.changes, f.err
}

type serviceEnv struct {
	db     *sql.DB
	broker *fakeBroker
	states *catalog.Catalog
	trades *trading.TradeRepository
	orders *trading.OrderRepository
	cash   *accounts.CashRepository
	slots  *strategies.Repository
	svc    *Service
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	db := testutil.NewLedgerDB(t)
	states := testCatalog(t, db)
	trades := trading.NewTradeRepository(db, testLog)
	orders := trading.NewOrderRepository(db, testLog)
	audit := accounts.NewAuditRepository(db, testLog)
	cash := accounts.NewCashRepository(db, testLog)
	slots := strategies.NewRepository(db, testLog)
	broker := &fakeBroker{}

	svc := NewService(
		db,
		broker,
		states,
		NewUpsertEngine(trades, slots, states, 0, testLog),
		NewLinker(orders, trades, slots, testLog),
		NewAggregator(trades, audit, cash, slots, testLog),
		NewCursorRepository(db, testLog),
		NewArchiveRepository(db, testLog),
		strategies.NopRunner{},
		"1",
		testLog,
	)

	return &serviceEnv{
		db:     db,
		broker: broker,
		states: states,
		trades: trades,
		orders: orders,
		cash:   cash,
		slots:  slots,
		svc:    svc,
	}
}

func (e *serviceEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestServiceRunEmptyChangeSetWritesNothing(t *testing.T) {
	env := newServiceEnv(t)
	env.broker.changes = &oanda.AccountChanges{LastTransactionID: "1"}

	res, err := env.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1", env.broker.lastSince)
	assert.False(t, res.Advanced)
	assert.Equal(t, "1", res.CursorBefore)
	assert.Equal(t, "1", res.CursorAfter)
	assert.Equal(t, 0, res.TradesUpserted)
	assert.Equal(t, StateIdle, env.svc.State())

	assert.Equal(t, 0, env.count(t, "trades"))
	assert.Equal(t, 0, env.count(t, "sync_transactions"))
	assert.Equal(t, 0, env.count(t, "sync_batches"))
}

func TestServiceRunOpenedTradeWithoutOrderRow(t *testing.T) {
	// A trade opened outside this system is still adopted as long as its
	// client extensions identify the owner.
	env := newServiceEnv(t)

	_, err := env.db.Exec(
		"INSERT INTO strategies (id, owner_id, name, script_path) VALUES (3, 7, 'momentum', '/scripts/momentum.py')",
	)
	require.NoError(t, err)

	env.broker.changes = &oanda.AccountChanges{
		LastTransactionID: "8",
		Changes: oanda.Changes{
			TradesOpened: []oanda.TradeSummary{openedSummary("5", "trader_7", "strategy_3")},
		},
		State: oanda.AccountState{
			Trades: []oanda.CalculatedTradeState{{ID: "5", UnrealizedPL: "2.5", MarginUsed: "5.5"}},
		},
	}

	res, err := env.svc.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Advanced)
	assert.Equal(t, "1", res.CursorBefore)
	assert.Equal(t, "8", res.CursorAfter)
	assert.Equal(t, 1, res.TradesUpserted)
	assert.Equal(t, StateIdle, env.svc.State())

	trade, err := env.trades.GetByTransactionID("5")
	require.NoError(t, err)
	require.NotNil(t, trade)
	require.NotNil(t, trade.TraderID)
	assert.Equal(t, int64(7), *trade.TraderID)
	require.NotNil(t, trade.StrategyID)
	assert.Equal(t, int64(3), *trade.StrategyID)
	assert.Equal(t, env.states.Open(), trade.StateID)

	// The cursor and the raw batch are written together.
	assert.Equal(t, 1, env.count(t, "sync_transactions"))
	assert.Equal(t, 1, env.count(t, "sync_batches"))

	// The next pass polls from the advanced cursor.
	env.broker.changes = &oanda.AccountChanges{LastTransactionID: "8"}
	_, err = env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "8", env.broker.lastSince)
}

func TestServiceRunClosedTradeSettles(t *testing.T) {
	env := newServiceEnv(t)

	_, err := env.cash.Allocate(7, 100.00)
	require.NoError(t, err)

	env.broker.changes = &oanda.AccountChanges{
		LastTransactionID: "6",
		Changes: oanda.Changes{
			TradesOpened: []oanda.TradeSummary{openedSummary("5", "trader_7", "")},
		},
	}
	_, err = env.svc.Run(context.Background())
	require.NoError(t, err)

	env.broker.changes = &oanda.AccountChanges{
		LastTransactionID: "9",
		Changes: oanda.Changes{
			TradesClosed: []oanda.TradeSummary{closedSummary("5", "trader_7", "5.00", "-0.50")},
		},
	}

	res, err := env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TradesSettled)
	assert.Equal(t, "9", res.CursorAfter)

	cb, err := env.cash.Get(7)
	require.NoError(t, err)
	require.NotNil(t, cb)
	assert.InDelta(t, 104.50, cb.Balance, 1e-9)
	assert.InDelta(t, 104.50, cb.NAV, 1e-9)

	var net float64
	require.NoError(t, env.db.QueryRow("SELECT net_realized_pl FROM trade_audit").Scan(&net))
	assert.InDelta(t, 4.50, net, 1e-9)
}

func TestServiceRunRedeliveryDoesNotDoubleBook(t *testing.T) {
	env := newServiceEnv(t)

	_, err := env.cash.Allocate(7, 100.00)
	require.NoError(t, err)

	closed := closedSummary("5", "trader_7", "5.00", "-0.50")
	env.broker.changes = &oanda.AccountChanges{
		LastTransactionID: "9",
		Changes:           oanda.Changes{TradesClosed: []oanda.TradeSummary{closed}},
	}
	_, err = env.svc.Run(context.Background())
	require.NoError(t, err)

	// The broker repeats the closed delta in a later window.
	env.broker.changes = &oanda.AccountChanges{
		LastTransactionID: "12",
		Changes:           oanda.Changes{TradesClosed: []oanda.TradeSummary{closed}},
	}

	res, err := env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TradesUpserted)
	assert.Equal(t, 0, res.TradesSettled)
	assert.Equal(t, "12", res.CursorAfter)

	cb, err := env.cash.Get(7)
	require.NoError(t, err)
	assert.InDelta(t, 104.50, cb.Balance, 1e-9)
	assert.Equal(t, 1, env.count(t, "trade_audit"))
	assert.Equal(t, 1, env.count(t, "trades"))
}

func TestServiceRunFillBeforeTradeLinksAcrossPasses(t *testing.T) {
	env := newServiceEnv(t)

	strategyID, err := env.slots.Create(7, "momentum", "/scripts/momentum.py")
	require.NoError(t, err)
	require.NoError(t, env.orders.Create("100", 7))

	// Pass one: the fill delta arrives before its trade delta.
	env.broker.changes = &oanda.AccountChanges{
		LastTransactionID: "7",
		Changes: oanda.Changes{
			OrdersFilled: []oanda.OrderSummary{{
				ID:            "100",
				TradeOpenedID: "5",
				Instrument:    "EUR_USD",
				ClientExtensions: &oanda.ClientExtensions{
					Tag:     "trader_7",
					Comment: FormatStrategyTag(strategyID),
				},
			}},
		},
	}

	res, err := env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.OrdersLinked)
	assert.True(t, res.Advanced)

	order, err := env.orders.Get("100")
	require.NoError(t, err)
	assert.False(t, order.Completed)
	assert.Equal(t, "5", order.FillTransactionID)

	// Pass two: the trade delta lands and the parked fill resolves.
	env.broker.changes = &oanda.AccountChanges{
		LastTransactionID: "8",
		Changes: oanda.Changes{
			TradesOpened: []oanda.TradeSummary{openedSummary("5", "trader_7", "")},
		},
	}

	res, err = env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.OrdersLinked)

	order, err = env.orders.Get("100")
	require.NoError(t, err)
	assert.True(t, order.Completed)

	trade, err := env.trades.GetByTransactionID("5")
	require.NoError(t, err)
	require.NotNil(t, trade.TraderID)
	assert.Equal(t, int64(7), *trade.TraderID)

	slots, err := env.slots.SlotsByTrader(7)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.NotNil(t, slots[0].TradeID)
	assert.Equal(t, trade.ID, *slots[0].TradeID)
}

func TestServiceRunCursorNotAdvancedOnEmptyBatch(t *testing.T) {
	// Price movement alone changes lastTransactionID without producing any
	// delta; the cursor must not move.
	env := newServiceEnv(t)
	env.broker.changes = &oanda.AccountChanges{
		LastTransactionID: "5",
		State:             oanda.AccountState{NAV: "100.00"},
	}

	res, err := env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.Equal(t, "1", res.CursorAfter)
	assert.Equal(t, 0, env.count(t, "sync_transactions"))

	// The next pass polls from the seed again.
	_, err = env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", env.broker.lastSince)
}

func TestServiceRunMalformedRecordDoesNotBlockBatch(t *testing.T) {
	env := newServiceEnv(t)

	bad := openedSummary("6", "trader_7", "")
	bad.Price = "not-a-number"

	env.broker.changes = &oanda.AccountChanges{
		LastTransactionID: "9",
		Changes: oanda.Changes{
			TradesOpened: []oanda.TradeSummary{bad, openedSummary("7", "trader_7", "")},
		},
	}

	res, err := env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TradesUpserted)
	assert.Equal(t, 1, res.RecordsSkipped)
	assert.True(t, res.Advanced)
	assert.Equal(t, "9", res.CursorAfter)
}

func TestServiceRunUnregisteredStrategyDoesNotPoisonBatch(t *testing.T) {
	// A delta naming a strategy with no local row must not abort the pass:
	// the sibling delta lands, the cursor advances, and the next pass does
	// not re-fail on the same window.
	env := newServiceEnv(t)

	env.broker.changes = &oanda.AccountChanges{
		LastTransactionID: "8",
		Changes: oanda.Changes{
			TradesOpened: []oanda.TradeSummary{
				openedSummary("5", "trader_7", "strategy_42"),
				openedSummary("6", "trader_7", ""),
			},
		},
	}

	res, err := env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TradesUpserted)
	assert.True(t, res.Advanced)
	assert.Equal(t, "8", res.CursorAfter)
	assert.Equal(t, StateIdle, env.svc.State())

	trade, err := env.trades.GetByTransactionID("5")
	require.NoError(t, err)
	require.NotNil(t, trade)
	require.NotNil(t, trade.TraderID)
	assert.Equal(t, int64(7), *trade.TraderID)
	assert.Nil(t, trade.StrategyID)

	sibling, err := env.trades.GetByTransactionID("6")
	require.NoError(t, err)
	assert.NotNil(t, sibling)

	// The next poll starts past the window instead of replaying it.
	env.broker.changes = &oanda.AccountChanges{LastTransactionID: "8"}
	_, err = env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "8", env.broker.lastSince)
}

func TestServiceRunFetchFailure(t *testing.T) {
	env := newServiceEnv(t)
	env.broker.err = errors.New("connection refused")

	_, err := env.svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, env.svc.State())

	// A later successful fetch recovers without intervention.
	env.broker.err = nil
	env.broker.changes = &oanda.AccountChanges{LastTransactionID: "1"}
	_, err = env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, env.svc.State())
}

func TestServiceLastResult(t *testing.T) {
	env := newServiceEnv(t)
	assert.Nil(t, env.svc.LastResult())

	env.broker.changes = &oanda.AccountChanges{LastTransactionID: "1"}
	_, err := env.svc.Run(context.Background())
	require.NoError(t, err)

	last := env.svc.LastResult()
	require.NotNil(t, last)
	assert.Equal(t, "1", last.CursorAfter)
}
