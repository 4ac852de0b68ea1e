// Package watchlist stores each trader's instrument watchlist.
package watchlist

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
)

// Item is one watched instrument.
type Item struct {
	ID          int64     `json:"id"`
	TraderID    int64     `json:"trader_id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository handles watchlist database operations
type Repository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewRepository creates a new watchlist repository
func NewRepository(q database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		q:   q,
		log: log.With().Str("repo", "watchlist").Logger(),
	}
}

// List returns a trader's watchlist, newest first.
func (r *Repository) List(traderID int64) ([]Item, error) {
	rows, err := r.q.Query(`
		SELECT id, trader_id, name, display_name, type, created_at
		FROM watchlist WHERE trader_id = ? ORDER BY id DESC`, traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist for trader %d: %w", traderID, err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		var createdAt int64
		if err := rows.Scan(&it.ID, &it.TraderID, &it.Name, &it.DisplayName, &it.Type, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist item: %w", err)
		}
		it.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, it)
	}

	return out, rows.Err()
}

// Add inserts an instrument into a trader's watchlist and returns its id.
func (r *Repository) Add(traderID int64, name, displayName, instrumentType string) (int64, error) {
	res, err := r.q.Exec(`
		INSERT INTO watchlist (trader_id, name, display_name, type, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		traderID, name, displayName, instrumentType, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to add %s to watchlist: %w", name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get watchlist item id: %w", err)
	}

	return id, nil
}

// Delete removes a watchlist item, scoped to its owner so a trader cannot
// delete another trader's entries.
func (r *Repository) Delete(traderID, itemID int64) (bool, error) {
	res, err := r.q.Exec("DELETE FROM watchlist WHERE id = ? AND trader_id = ?", itemID, traderID)
	if err != nil {
		return false, fmt.Errorf("failed to delete watchlist item %d: %w", itemID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}

	return n > 0, nil
}
