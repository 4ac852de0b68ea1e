package orders

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cocopuffff/TraderJoe/internal/clients/oanda"
	"github.com/Cocopuffff/TraderJoe/internal/modules/accounts"
	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
	"github.com/Cocopuffff/TraderJoe/internal/modules/strategies"
	"github.com/Cocopuffff/TraderJoe/internal/modules/sync"
	"github.com/Cocopuffff/TraderJoe/internal/modules/trading"
	"github.com/Cocopuffff/TraderJoe/internal/testutil"
)

var testLog = zerolog.New(nil).Level(zerolog.Disabled)

type fakeBroker struct {
	createdOrders []oanda.MarketOrderRequest
	closedTrades  []string
	createErr     error
	closeErr      error
}

func (f *fakeBroker) CreateMarketOrder(_ context.Context, order oanda.MarketOrderRequest) (*oanda.OrderResponse, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createdOrders = append(f.createdOrders, order)
	return &oanda.OrderResponse{
		OrderCreateTransaction: &oanda.TransactionRef{ID: "42"},
		OrderFillTransaction:   &oanda.TransactionRef{ID: "43", TradeOpenedID: "44"},
	}, nil
}

func (f *fakeBroker) CloseTrade(_ context.Context, tradeID string) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closedTrades = append(f.closedTrades, tradeID)
	return nil
}

type fakeReconciler struct {
	runs int
}

func (f *fakeReconciler) Run(context.Context) (*sync.PassResult, error) {
	f.runs++
	return &sync.PassResult{}, nil
}

type serviceEnv struct {
	db         *sql.DB
	broker     *fakeBroker
	reconciler *fakeReconciler
	orders     *trading.OrderRepository
	trades     *trading.TradeRepository
	strategies *strategies.Repository
	cash       *accounts.CashRepository
	states     *catalog.Catalog
	svc        *Service
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	db := testutil.NewLedgerDB(t)
	states, err := catalog.Load(db, testLog)
	require.NoError(t, err)

	broker := &fakeBroker{}
	reconciler := &fakeReconciler{}
	orders := trading.NewOrderRepository(db, testLog)
	trades := trading.NewTradeRepository(db, testLog)
	strats := strategies.NewRepository(db, testLog)
	cash := accounts.NewCashRepository(db, testLog)

	_, err = cash.Allocate(7, 1000.00)
	require.NoError(t, err)

	return &serviceEnv{
		db:         db,
		broker:     broker,
		reconciler: reconciler,
		orders:     orders,
		trades:     trades,
		strategies: strats,
		cash:       cash,
		states:     states,
		svc:        NewService(broker, orders, trades, strats, cash, states, strategies.NopRunner{}, reconciler, 20, testLog),
	}
}

func TestSubmitRequestValidate(t *testing.T) {
	valid := SubmitRequest{TraderID: 7, Instrument: "EUR_USD", Units: 100, ScriptPath: "/scripts/momentum.py"}

	testCases := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{name: "missing trader", mutate: func(r *SubmitRequest) { r.TraderID = 0 }},
		{name: "missing instrument", mutate: func(r *SubmitRequest) { r.Instrument = "" }},
		{name: "zero units", mutate: func(r *SubmitRequest) { r.Units = 0 }},
		{name: "missing script path", mutate: func(r *SubmitRequest) { r.ScriptPath = "" }},
	}

	require.NoError(t, valid.Validate())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			assert.Error(t, req.Validate())
		})
	}
}

func TestSubmitRefusesUnregisteredStrategy(t *testing.T) {
	env := newServiceEnv(t)

	_, err := env.svc.Submit(context.Background(), SubmitRequest{
		TraderID:   7,
		Instrument: "EUR_USD",
		Units:      100,
		ScriptPath: "/home/trader/scripts/unknown.py",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registered strategy")

	// Nothing reached the broker.
	assert.Empty(t, env.broker.createdOrders)
	assert.Equal(t, 0, env.reconciler.runs)
}

func TestSubmitRefusesWhenMarginInsufficient(t *testing.T) {
	env := newServiceEnv(t)

	_, err := env.strategies.Create(7, "momentum", "scripts/momentum.py")
	require.NoError(t, err)

	// 100000 units at 20x leverage needs 5000 margin against 1000 available.
	_, err = env.svc.Submit(context.Background(), SubmitRequest{
		TraderID:   7,
		Instrument: "EUR_USD",
		Units:      100000,
		ScriptPath: "/home/trader/scripts/momentum.py",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient margin")
	assert.Empty(t, env.broker.createdOrders)
}

func TestSubmitRefusesUnallocatedTrader(t *testing.T) {
	env := newServiceEnv(t)

	_, err := env.strategies.Create(8, "momentum", "scripts/momentum.py")
	require.NoError(t, err)

	_, err = env.svc.Submit(context.Background(), SubmitRequest{
		TraderID:   8,
		Instrument: "EUR_USD",
		Units:      100,
		ScriptPath: "/home/trader/scripts/momentum.py",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cash allocation")
	assert.Empty(t, env.broker.createdOrders)
}

func TestSubmitTagsOrderWithOwnership(t *testing.T) {
	env := newServiceEnv(t)

	strategyID, err := env.strategies.Create(7, "momentum", "scripts/momentum.py")
	require.NoError(t, err)

	result, err := env.svc.Submit(context.Background(), SubmitRequest{
		TraderID:        7,
		Instrument:      "EUR_USD",
		Units:           100,
		StopLossPrice:   1.0855,
		TakeProfitPrice: 1.1,
		ScriptPath:      "/home/trader/scripts/momentum.py",
	})
	require.NoError(t, err)

	assert.Equal(t, "42", result.OrderID)
	assert.Equal(t, "43", result.FilledTransactionID)
	assert.Equal(t, strategyID, result.StrategyID)
	assert.NotEmpty(t, result.RunHandle)

	require.Len(t, env.broker.createdOrders, 1)
	order := env.broker.createdOrders[0].Order
	assert.Equal(t, "MARKET", order.Type)
	assert.Equal(t, "FOK", order.TimeInForce)
	assert.Equal(t, 100, order.Units)
	require.NotNil(t, order.ClientExtensions)
	assert.Equal(t, "trader_7", order.ClientExtensions.Tag)
	assert.Equal(t, sync.FormatStrategyTag(strategyID), order.ClientExtensions.Comment)
	require.NotNil(t, order.StopLossOnFill)
	assert.Equal(t, "1.08550", order.StopLossOnFill.Price)
	require.NotNil(t, order.TakeProfitOnFill)
	assert.Equal(t, "1.10000", order.TakeProfitOnFill.Price)

	// The order row exists for the linker, the slot for the aggregator.
	stored, err := env.orders.Get("42")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(7), stored.TraderID)

	slots, err := env.strategies.SlotsByTrader(7)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, result.RunHandle, slots[0].RunHandle)

	// Submission triggers a pass so the fill lands immediately.
	assert.Equal(t, 1, env.reconciler.runs)
}

func TestSubmitBrokerFailure(t *testing.T) {
	env := newServiceEnv(t)

	_, err := env.strategies.Create(7, "momentum", "scripts/momentum.py")
	require.NoError(t, err)
	env.broker.createErr = errors.New("rejected")

	_, err = env.svc.Submit(context.Background(), SubmitRequest{
		TraderID:   7,
		Instrument: "EUR_USD",
		Units:      100,
		ScriptPath: "/home/trader/scripts/momentum.py",
	})

	require.Error(t, err)

	var count int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(*) FROM orders").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestCloseAllForTrader(t *testing.T) {
	env := newServiceEnv(t)

	traderID := int64(7)
	for _, txID := range []string{"5", "6"} {
		require.NoError(t, env.trades.Upsert(trading.Trade{
			TraderID:      &traderID,
			TransactionID: txID,
			Instrument:    "EUR_USD",
			InitialUnits:  100,
			CurrentUnits:  100,
			Price:         1.1,
			StateID:       env.states.Open(),
		}))
	}

	closed, err := env.svc.CloseAllForTrader(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, closed)
	assert.ElementsMatch(t, []string{"5", "6"}, env.broker.closedTrades)
	assert.Equal(t, 1, env.reconciler.runs)
}

func TestCloseAllForTraderNothingOpen(t *testing.T) {
	env := newServiceEnv(t)

	closed, err := env.svc.CloseAllForTrader(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
	assert.Empty(t, env.broker.closedTrades)
	assert.Equal(t, 0, env.reconciler.runs)
}

func TestFormatPrice(t *testing.T) {
	testCases := []struct {
		name       string
		instrument string
		price      float64
		expected   string
	}{
		{name: "jpy pair uses two places", instrument: "USD_JPY", price: 145.2567, expected: "145.26"},
		{name: "major pair uses five places", instrument: "EUR_USD", price: 1.1, expected: "1.10000"},
		{name: "cross pair uses five places", instrument: "AUD_NZD", price: 1.08555, expected: "1.08555"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatPrice(tc.instrument, tc.price))
		})
	}
}
