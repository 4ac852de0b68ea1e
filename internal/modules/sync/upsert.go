package sync

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/modules/catalog"
	"github.com/Cocopuffff/TraderJoe/internal/modules/strategies"
	"github.com/Cocopuffff/TraderJoe/internal/modules/trading"
)

// UpsertEngine turns classified trade deltas into idempotent ledger writes.
// Applying the same delta twice produces a byte-identical row; no field is
// ever incremented from a delta.
type UpsertEngine struct {
	trades           *trading.TradeRepository
	strategies       *strategies.Repository
	states           *catalog.Catalog
	fallbackTraderID int64
	log              zerolog.Logger
}

// NewUpsertEngine creates a new upsert engine. fallbackTraderID is assigned
// to untagged trades; zero means untagged trades are rejected.
func NewUpsertEngine(trades *trading.TradeRepository, strats *strategies.Repository, states *catalog.Catalog, fallbackTraderID int64, log zerolog.Logger) *UpsertEngine {
	return &UpsertEngine{
		trades:           trades,
		strategies:       strats,
		states:           states,
		fallbackTraderID: fallbackTraderID,
		log:              log.With().Str("component", "upsert").Logger(),
	}
}

// UpsertResult counts what one application did.
type UpsertResult struct {
	Applied int
	Skipped int
}

// Apply upserts every trade delta in order inside the given transaction.
// A malformed record fails alone: it is logged, counted as skipped, and the
// rest of the batch proceeds. Database errors abort the whole application.
func (e *UpsertEngine) Apply(tx *sql.Tx, deltas []TradeDelta) (UpsertResult, error) {
	repo := e.trades.WithTx(tx)
	strats := e.strategies.WithTx(tx)

	var res UpsertResult
	for _, d := range deltas {
		trade, err := e.buildTrade(d)
		if err != nil {
			e.log.Warn().Err(err).
				Str("transaction_id", d.Trade.ID).
				Str("kind", d.Kind.String()).
				Msg("Skipping malformed trade record")
			res.Skipped++
			continue
		}

		// A strategy id with no strategies row would violate the trades
		// foreign key and roll back the whole batch. Keep the trade under
		// its trader and drop the reference instead.
		if trade.StrategyID != nil {
			known, err := strats.Exists(*trade.StrategyID)
			if err != nil {
				return res, err
			}
			if !known {
				e.log.Warn().
					Str("transaction_id", d.Trade.ID).
					Int64("strategy_id", *trade.StrategyID).
					Msg("Trade references an unregistered strategy")
				trade.StrategyID = nil
			}
		}

		if err := repo.Upsert(*trade); err != nil {
			return res, fmt.Errorf("failed to apply %s delta for trade %s: %w", d.Kind, d.Trade.ID, err)
		}
		res.Applied++
	}

	return res, nil
}

// buildTrade converts one broker record into the local projection. Every
// parse failure is an error for this record only.
func (e *UpsertEngine) buildTrade(d TradeDelta) (*trading.Trade, error) {
	stateID, ok := e.states.StateID(d.Kind.StateName())
	if !ok {
		return nil, fmt.Errorf("state %q is not in the trade-state catalog", d.Kind.StateName())
	}

	price, err := parseDecimal(d.Trade.Price, "price")
	if err != nil {
		return nil, err
	}
	initialUnits, err := parseDecimal(d.Trade.InitialUnits, "initialUnits")
	if err != nil {
		return nil, err
	}
	currentUnits, err := parseDecimal(d.Trade.CurrentUnits, "currentUnits")
	if err != nil {
		return nil, err
	}
	realizedPL, err := parseDecimal(d.Trade.RealizedPL, "realizedPL")
	if err != nil {
		return nil, err
	}
	financing, err := parseDecimal(d.Trade.Financing, "financing")
	if err != nil {
		return nil, err
	}

	openTime, err := time.Parse(time.RFC3339, d.Trade.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("invalid openTime %q: %w", d.Trade.OpenTime, err)
	}

	trade := trading.Trade{
		TransactionID: d.Trade.ID,
		Instrument:    d.Trade.Instrument,
		OpenTime:      openTime.UTC(),
		UpdatedAt:     time.Now().UTC(),
		InitialUnits:  initialUnits,
		CurrentUnits:  currentUnits,
		Price:         price,
		RealizedPL:    realizedPL,
		Financing:     financing,
		StateID:       stateID,
	}

	if d.Kind == DeltaClosed {
		// A closed trade has no market exposure left; the snapshot no
		// longer carries it, and its unrealized figures are zero.
		if d.Trade.CloseTime == "" {
			return nil, fmt.Errorf("closed trade %s has no closeTime", d.Trade.ID)
		}
		closeTime, err := time.Parse(time.RFC3339, d.Trade.CloseTime)
		if err != nil {
			return nil, fmt.Errorf("invalid closeTime %q: %w", d.Trade.CloseTime, err)
		}
		ct := closeTime.UTC()
		trade.CloseTime = &ct
	} else if d.Live != nil {
		trade.UnrealizedPL, err = parseDecimal(d.Live.UnrealizedPL, "unrealizedPL")
		if err != nil {
			return nil, err
		}
		trade.MarginUsed, err = parseDecimal(d.Live.MarginUsed, "marginUsed")
		if err != nil {
			return nil, err
		}
	}

	traderID, strategyID, err := e.resolveOwnership(d)
	if err != nil {
		return nil, err
	}
	trade.TraderID = traderID
	trade.StrategyID = strategyID

	if err := trade.Validate(); err != nil {
		return nil, err
	}

	return &trade, nil
}

// resolveOwnership extracts trader and strategy ids from the record's client
// extensions. Trades carrying no usable tag take the fallback trader when
// one is configured, otherwise they are rejected.
func (e *UpsertEngine) resolveOwnership(d TradeDelta) (*int64, *int64, error) {
	var tag, comment string
	if d.Trade.ClientExtensions != nil {
		tag = d.Trade.ClientExtensions.Tag
		comment = d.Trade.ClientExtensions.Comment
	}

	traderID, tagErr := ParseTraderTag(tag)
	if tagErr != nil {
		if e.fallbackTraderID <= 0 {
			return nil, nil, fmt.Errorf("trade %s has no owner: %w", d.Trade.ID, tagErr)
		}
		e.log.Warn().Str("transaction_id", d.Trade.ID).Str("tag", tag).
			Int64("fallback", e.fallbackTraderID).
			Msg("Untagged trade assigned to fallback trader")
		traderID = e.fallbackTraderID
	}

	var strategyID *int64
	if id, err := ParseStrategyTag(comment); err == nil {
		strategyID = &id
	}

	return &traderID, strategyID, nil
}

func parseDecimal(s, field string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return v, nil
}
