// Package orders submits market orders to the broker with the ownership
// client extensions the reconciler relies on to link fills back to traders.
package orders

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/clients/oanda"
	"github.com/Cocopuffff/TraderJoe/internal/modules/accounts"
	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
	"github.com/Cocopuffff/TraderJoe/internal/modules/strategies"
	"github.com/Cocopuffff/TraderJoe/internal/modules/sync"
	"github.com/Cocopuffff/TraderJoe/internal/modules/trading"
)

// Broker is the slice of the OANDA client order submission needs.
type Broker interface {
	CreateMarketOrder(ctx context.Context, order oanda.MarketOrderRequest) (*oanda.OrderResponse, error)
	CloseTrade(ctx context.Context, tradeID string) error
}

var _ Broker = (*oanda.Client)(nil)

// Reconciler triggers a reconciliation pass so fills submitted here show up
// in the ledger without waiting for the next read-path trigger.
type Reconciler interface {
	Run(ctx context.Context) (*sync.PassResult, error)
}

// SubmitRequest is one market-order submission.
type SubmitRequest struct {
	TraderID        int64   `json:"trader_id"`
	Instrument      string  `json:"instrument"`
	Units           int     `json:"units"`
	StopLossPrice   float64 `json:"stop_loss_price,omitempty"`
	TakeProfitPrice float64 `json:"take_profit_price,omitempty"`
	// ScriptPath is the absolute path of the strategy script driving this
	// order; it must match a registered strategy of the trader.
	ScriptPath string `json:"script_path"`
}

// Validate checks the request before anything reaches the broker.
func (r *SubmitRequest) Validate() error {
	if r.TraderID <= 0 {
		return fmt.Errorf("invalid trader id %d", r.TraderID)
	}
	if r.Instrument == "" {
		return fmt.Errorf("instrument is required")
	}
	if r.Units == 0 {
		return fmt.Errorf("units must be non-zero")
	}
	if r.ScriptPath == "" {
		return fmt.Errorf("script path is required")
	}
	return nil
}

// SubmitResult reports what the broker did with the order.
type SubmitResult struct {
	OrderID             string `json:"order_id"`
	FilledTransactionID string `json:"filled_transaction_id,omitempty"`
	StrategyID          int64  `json:"strategy_id"`
	RunHandle           string `json:"run_handle,omitempty"`
}

// Service coordinates order submission: strategy resolution, broker call,
// local order row, strategy run.
type Service struct {
	broker     Broker
	orders     *trading.OrderRepository
	trades     *trading.TradeRepository
	strategies *strategies.Repository
	cash       *accounts.CashRepository
	states     *catalog.Catalog
	runner     strategies.Runner
	reconciler Reconciler
	leverage   int
	log        zerolog.Logger
}

// NewService creates a new orders service. leverage caps order size against
// the trader's available margin; zero disables the pre-trade check.
func NewService(broker Broker, orders *trading.OrderRepository, trades *trading.TradeRepository, strats *strategies.Repository, cash *accounts.CashRepository, states *catalog.Catalog, runner strategies.Runner, reconciler Reconciler, leverage int, log zerolog.Logger) *Service {
	return &Service{
		broker:     broker,
		orders:     orders,
		trades:     trades,
		strategies: strats,
		cash:       cash,
		states:     states,
		runner:     runner,
		reconciler: reconciler,
		leverage:   leverage,
		log:        log.With().Str("service", "orders").Logger(),
	}
}

// Submit places a fill-or-kill market order tagged with the trader and the
// strategy resolved from the script path. The strategy must be registered
// before anything is sent to the broker.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	strategy, err := s.strategies.MatchByScriptPath(req.TraderID, req.ScriptPath)
	if err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, fmt.Errorf("no registered strategy of trader %d matches script %s", req.TraderID, req.ScriptPath)
	}

	// Pre-trade margin check at the configured leverage, with one unit of
	// exposure approximated as one unit of account currency.
	if s.leverage > 0 {
		account, err := s.cash.Get(req.TraderID)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, fmt.Errorf("trader %d has no cash allocation", req.TraderID)
		}
		required := math.Abs(float64(req.Units)) / float64(s.leverage)
		if required > account.MarginAvailable {
			return nil, fmt.Errorf("insufficient margin: %d units need %.2f, trader %d has %.2f available",
				req.Units, required, req.TraderID, account.MarginAvailable)
		}
	}

	order := oanda.MarketOrderRequest{
		Order: oanda.MarketOrder{
			Type:         "MARKET",
			Instrument:   req.Instrument,
			Units:        req.Units,
			TimeInForce:  "FOK",
			PositionFill: "DEFAULT",
			ClientExtensions: &oanda.ClientExtensions{
				ID:      uuid.NewString(),
				Tag:     sync.FormatTraderTag(req.TraderID),
				Comment: sync.FormatStrategyTag(strategy.ID),
			},
		},
	}
	if req.StopLossPrice > 0 {
		order.Order.StopLossOnFill = &oanda.StopLossDetails{Price: FormatPrice(req.Instrument, req.StopLossPrice)}
	}
	if req.TakeProfitPrice > 0 {
		order.Order.TakeProfitOnFill = &oanda.TakeProfitDetails{Price: FormatPrice(req.Instrument, req.TakeProfitPrice)}
	}

	resp, err := s.broker.CreateMarketOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("order submission failed: %w", err)
	}

	orderID := resp.PendingOrderID()
	if orderID == "" {
		return nil, fmt.Errorf("broker returned no order transaction for %s", req.Instrument)
	}

	if err := s.orders.Create(orderID, req.TraderID); err != nil {
		return nil, err
	}

	result := &SubmitResult{
		OrderID:             orderID,
		FilledTransactionID: resp.FilledTransactionID(),
		StrategyID:          strategy.ID,
	}

	handle, err := s.runner.Start(ctx, *strategy, req.Instrument)
	if err != nil {
		s.log.Warn().Err(err).Int64("strategy_id", strategy.ID).Msg("Failed to start strategy run")
	} else {
		if _, err := s.strategies.OpenSlot(req.TraderID, strategy.ID, req.Instrument, handle); err != nil {
			return nil, err
		}
		result.RunHandle = handle
	}

	// Pull the fill into the ledger right away. Best effort: the next
	// triggered pass picks it up regardless.
	if _, err := s.reconciler.Run(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Post-order reconciliation failed")
	}

	return result, nil
}

// CloseAllForTrader closes every open trade of a trader at the broker and
// triggers a pass so settlement lands immediately. Returns the number of
// close requests accepted by the broker; the first refusal aborts.
func (s *Service) CloseAllForTrader(ctx context.Context, traderID int64) (int, error) {
	open, err := s.trades.GetOpenByTrader(traderID, s.states.Closed())
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, t := range open {
		if err := s.broker.CloseTrade(ctx, t.TransactionID); err != nil {
			return closed, fmt.Errorf("failed to close trade %s: %w", t.TransactionID, err)
		}
		closed++
	}

	if closed > 0 {
		if _, err := s.reconciler.Run(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Post-close reconciliation failed")
		}
	}

	return closed, nil
}

// FormatPrice renders a price with the instrument's decimal precision: two
// places for JPY-quoted pairs, five for everything else.
func FormatPrice(instrument string, price float64) string {
	if strings.HasSuffix(instrument, "_JPY") {
		return strconv.FormatFloat(price, 'f', 2, 64)
	}
	return strconv.FormatFloat(price, 'f', 5, 64)
}
