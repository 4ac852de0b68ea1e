package sync

import (
	"fmt"
	"strconv"
	"strings"
)

// Ownership travels through the broker round-trip in client extensions:
// tag "trader_<id>" and comment "strategy_<id>". Parsing is centralized here
// so a format change touches one place.

const (
	traderTagPrefix   = "trader_"
	strategyTagPrefix = "strategy_"
)

// FormatTraderTag builds the client extension tag for a trader.
func FormatTraderTag(traderID int64) string {
	return traderTagPrefix + strconv.FormatInt(traderID, 10)
}

// FormatStrategyTag builds the client extension comment for a strategy.
func FormatStrategyTag(strategyID int64) string {
	return strategyTagPrefix + strconv.FormatInt(strategyID, 10)
}

// ParseTraderTag extracts the trader id from a client extension tag. An
// empty, foreign or malformed tag is an explicit error, never a silent zero.
func ParseTraderTag(tag string) (int64, error) {
	rest, ok := strings.CutPrefix(tag, traderTagPrefix)
	if !ok {
		return 0, fmt.Errorf("tag %q does not identify a trader", tag)
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("tag %q has an invalid trader id", tag)
	}

	return id, nil
}

// ParseStrategyTag extracts the strategy id from a client extension comment.
func ParseStrategyTag(comment string) (int64, error) {
	rest, ok := strings.CutPrefix(comment, strategyTagPrefix)
	if !ok {
		return 0, fmt.Errorf("comment %q does not identify a strategy", comment)
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("comment %q has an invalid strategy id", comment)
	}

	return id, nil
}
