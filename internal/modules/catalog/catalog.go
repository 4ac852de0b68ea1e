// Package catalog provides the trade-state catalog: the mapping from broker
// state names to local state ids, loaded once at startup and injected into
// every component that resolves states.
package catalog

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
)

// StateID identifies a row in the trade_states table.
type StateID int64

// Catalog resolves broker state names case-insensitively. It is immutable
// after Load and safe for concurrent use.
type Catalog struct {
	states map[string]StateID
	open   StateID
	closed StateID
}

// Load reads the trade_states table. It fails when the canonical OPEN and
// CLOSED states are missing: the aggregator cannot work without them.
func Load(q database.Querier, log zerolog.Logger) (*Catalog, error) {
	rows, err := q.Query("SELECT id, name FROM trade_states")
	if err != nil {
		return nil, fmt.Errorf("failed to load trade states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]StateID)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan trade state: %w", err)
		}
		states[strings.ToUpper(strings.TrimSpace(name))] = StateID(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade states: %w", err)
	}

	open, ok := states["OPEN"]
	if !ok {
		return nil, fmt.Errorf("trade_states is missing the OPEN state")
	}
	closed, ok := states["CLOSED"]
	if !ok {
		return nil, fmt.Errorf("trade_states is missing the CLOSED state")
	}

	log.Info().Int("states", len(states)).Msg("Trade-state catalog loaded")

	return &Catalog{states: states, open: open, closed: closed}, nil
}

// StateID resolves a broker state name. The second return is false for
// unknown names; callers must fail the record rather than defaulting.
func (c *Catalog) StateID(name string) (StateID, bool) {
	id, ok := c.states[strings.ToUpper(strings.TrimSpace(name))]
	return id, ok
}

// Open returns the id of the canonical OPEN state.
func (c *Catalog) Open() StateID {
	return c.open
}

// Closed returns the id of the canonical CLOSED state.
func (c *Catalog) Closed() StateID {
	return c.closed
}
