// Package review serves the read paths: account summaries, trade history
// and manager performance. Every read triggers a reconciliation pass first
// and degrades to the last committed state when the pass fails.
package review

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/Cocopuffff/TraderJoe/internal/modules/accounts"
	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
	"github.com/Cocopuffff/TraderJoe/internal/modules/sync"
	"github.com/Cocopuffff/TraderJoe/internal/modules/trading"
)

// Reconciler triggers a pass before reads.
type Reconciler interface {
	Run(ctx context.Context) (*sync.PassResult, error)
}

// Service answers review queries over reconciled ledger state.
type Service struct {
	repo       *Repository
	trades     *trading.TradeRepository
	cash       *accounts.CashRepository
	states     *catalog.Catalog
	reconciler Reconciler
	log        zerolog.Logger
}

// NewService creates a new review service
func NewService(repo *Repository, trades *trading.TradeRepository, cash *accounts.CashRepository, states *catalog.Catalog, reconciler Reconciler, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		trades:     trades,
		cash:       cash,
		states:     states,
		reconciler: reconciler,
		log:        log.With().Str("service", "review").Logger(),
	}
}

// refresh runs a pass and reports whether the caller is reading stale data.
func (s *Service) refresh(ctx context.Context) bool {
	if _, err := s.reconciler.Run(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Reconciliation failed, serving last committed state")
		return true
	}
	return false
}

// Summary returns a trader's cash figures and open trades.
func (s *Service) Summary(ctx context.Context, traderID int64) (*AccountSummary, error) {
	stale := s.refresh(ctx)

	balance, err := s.cash.Get(traderID)
	if err != nil {
		return nil, err
	}

	open, err := s.trades.GetOpenByTrader(traderID, s.states.Closed())
	if err != nil {
		return nil, err
	}

	return &AccountSummary{Balance: balance, OpenTrades: open, Stale: stale}, nil
}

// History returns a trader's closed trades.
func (s *Service) History(ctx context.Context, traderID int64) ([]trading.Trade, bool, error) {
	stale := s.refresh(ctx)

	closed, err := s.trades.GetByTrader(traderID, s.states.Closed())
	if err != nil {
		return nil, stale, err
	}

	return closed, stale, nil
}

// Performance aggregates a trader's settled results over the standard
// windows and computes daily-return dispersion over the trailing 30 days.
func (s *Service) Performance(ctx context.Context, traderID int64) (*Performance, error) {
	stale := s.refresh(ctx)

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)

	windows := []struct {
		name string
		from time.Time
		to   time.Time
	}{
		{"yesterday", today.AddDate(0, 0, -1), today},
		{"7d", now.AddDate(0, 0, -7), now},
		{"30d", now.AddDate(0, 0, -30), now},
		{"ytd", yearStart, now},
	}

	perf := &Performance{TraderID: traderID, GeneratedAt: now, Stale: stale}
	for _, w := range windows {
		trades, realized, err := s.repo.Window(traderID, w.from, w.to)
		if err != nil {
			return nil, err
		}
		perf.Windows = append(perf.Windows, WindowStats{Window: w.name, Trades: trades, RealizedPL: realized})
	}

	daily, err := s.repo.DailyReturns(traderID, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}
	if len(daily) > 0 {
		perf.DailyMean = stat.Mean(daily, nil)
	}
	if len(daily) > 1 {
		perf.DailyStdDev = stat.StdDev(daily, nil)
	}

	return perf, nil
}
