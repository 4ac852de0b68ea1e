package sync

import (
	"context"
	"database/sql"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/clients/oanda"
	"github.com/Cocopuffff/TraderJoe/internal/database"
	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
	"github.com/Cocopuffff/TraderJoe/internal/modules/strategies"
)

// ChangesFetcher is the slice of the broker client a reconciliation pass
// needs.
type ChangesFetcher interface {
	Changes(ctx context.Context, sinceTransactionID string) (*oanda.AccountChanges, error)
}

var _ ChangesFetcher = (*oanda.Client)(nil)

// Service drives reconciliation passes. Passes are serialized: there is no
// background poller, read paths trigger a pass on demand and a mutex makes
// concurrent triggers queue up.
type Service struct {
	db          *sql.DB
	broker      ChangesFetcher
	states      *catalog.Catalog
	upsert      *UpsertEngine
	linker      *Linker
	aggregator  *Aggregator
	cursors     *CursorRepository
	archive     *ArchiveRepository
	runner      strategies.Runner
	startCursor string
	log         zerolog.Logger

	mu gosync.Mutex // serializes passes

	stateMu    gosync.Mutex
	state      PassState
	lastResult *PassResult
}

// NewService creates a new sync service. startCursor seeds the very first
// pass when no cursor row exists yet.
func NewService(
	db *sql.DB,
	broker ChangesFetcher,
	states *catalog.Catalog,
	upsert *UpsertEngine,
	linker *Linker,
	aggregator *Aggregator,
	cursors *CursorRepository,
	archive *ArchiveRepository,
	runner strategies.Runner,
	startCursor string,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:          db,
		broker:      broker,
		states:      states,
		upsert:      upsert,
		linker:      linker,
		aggregator:  aggregator,
		cursors:     cursors,
		archive:     archive,
		runner:      runner,
		startCursor: startCursor,
		log:         log.With().Str("service", "sync").Logger(),
	}
}

// State returns the orchestrator's current position.
func (s *Service) State() PassState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// LastResult returns the most recent completed pass summary, or nil before
// the first pass.
func (s *Service) LastResult() *PassResult {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.lastResult == nil {
		return nil
	}
	r := *s.lastResult
	return &r
}

func (s *Service) setState(st PassState) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Run executes one reconciliation pass: fetch, classify, apply, aggregate,
// advance. Sub-stages commit independently; a failure leaves earlier
// commits in place and the cursor untouched, so the next pass replays the
// same batch against idempotent writes.
func (s *Service) Run(ctx context.Context) (*PassResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := PassResult{StartedAt: time.Now().UTC()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		s.stateMu.Lock()
		s.lastResult = &result
		s.stateMu.Unlock()
	}()

	s.setState(StateFetching)
	cursor, err := s.cursors.Latest()
	if err != nil {
		return s.fail(&result, err)
	}
	if cursor == "" {
		cursor = s.startCursor
	}
	result.CursorBefore = cursor
	result.CursorAfter = cursor

	changes, err := s.broker.Changes(ctx, cursor)
	if err != nil {
		return s.fail(&result, fmt.Errorf("fetch failed at cursor %s: %w", cursor, err))
	}

	// Nothing happened since the cursor. The common case under frequent
	// triggering, and it must not write anything.
	if changes.LastTransactionID == cursor {
		s.setState(StateIdle)
		return &result, nil
	}

	s.setState(StateClassifying)
	batch := Classify(changes)

	s.setState(StateApplying)
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		ur, err := s.upsert.Apply(tx, batch.TradeDeltas)
		result.TradesUpserted = ur.Applied
		result.RecordsSkipped += ur.Skipped
		return err
	})
	if err != nil {
		return s.fail(&result, err)
	}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		lr, err := s.linker.Apply(tx, batch.OrdersFilled, batch.OrdersCancelled)
		result.OrdersLinked = lr.Linked
		result.OrdersCompleted = lr.Completed
		result.RecordsSkipped += lr.Skipped
		return err
	})
	if err != nil {
		return s.fail(&result, err)
	}

	s.setState(StateAggregating)
	agg, err := s.aggregator.Run(s.db, s.states.Closed())
	if err != nil {
		return s.fail(&result, err)
	}
	result.TradesSettled = agg.Settled

	for _, handle := range agg.StoppedHandles {
		if err := s.runner.Stop(ctx, handle); err != nil {
			s.log.Warn().Err(err).Str("handle", handle).Msg("Failed to stop strategy run")
		}
	}

	s.setState(StateAdvancing)
	if !batch.Empty() {
		err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
			if err := s.cursors.WithTx(tx).Advance(batch.TransactionID); err != nil {
				return err
			}
			return s.archive.WithTx(tx).Store(changes)
		})
		if err != nil {
			return s.fail(&result, err)
		}
		result.Advanced = true
		result.CursorAfter = batch.TransactionID
	}

	if result.RecordsSkipped > 0 {
		// The cursor has moved past these records; they will not be
		// redelivered. Loud on purpose.
		s.log.Error().Int("skipped", result.RecordsSkipped).
			Str("cursor", result.CursorAfter).
			Msg("Pass skipped malformed records that are now behind the cursor")
	}

	s.log.Info().
		Str("cursor_before", result.CursorBefore).
		Str("cursor_after", result.CursorAfter).
		Int("trades_upserted", result.TradesUpserted).
		Int("orders_linked", result.OrdersLinked).
		Int("trades_settled", result.TradesSettled).
		Dur("duration", time.Since(result.StartedAt)).
		Msg("Reconciliation pass complete")

	s.setState(StateIdle)
	return &result, nil
}

func (s *Service) fail(result *PassResult, err error) (*PassResult, error) {
	s.setState(StateFailed)
	s.log.Error().Err(err).Str("cursor", result.CursorBefore).Msg("Reconciliation pass failed")
	return result, err
}
