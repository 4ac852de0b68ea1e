package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
)

const ordersColumns = `order_id, trader_id, completed, fill_transaction_id, link_tag, link_comment, created_at`

// OrderRepository handles order database operations
type OrderRepository struct {
	q   database.Querier
	log zerolog.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(q database.Querier, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		q:   q,
		log: log.With().Str("repo", "order").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *OrderRepository) WithTx(tx *sql.Tx) *OrderRepository {
	return &OrderRepository{q: tx, log: r.log}
}

// Create records an order submitted to the broker. Duplicate submissions of
// the same broker order id are ignored.
func (r *OrderRepository) Create(orderID string, traderID int64) error {
	query := `
		INSERT INTO orders (order_id, trader_id, completed, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(order_id) DO NOTHING
	`

	_, err := r.q.Exec(query, orderID, traderID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create order %s: %w", orderID, err)
	}

	r.log.Info().Str("order_id", orderID).Int64("trader_id", traderID).Msg("Order recorded")
	return nil
}

// Get retrieves an order by broker order id. Returns (nil, nil) when the
// order is unknown locally.
func (r *OrderRepository) Get(orderID string) (*Order, error) {
	query := "SELECT " + ordersColumns + " FROM orders WHERE order_id = ?"

	var order Order
	var completed int
	var fillTxID, linkTag, linkComment sql.NullString
	var createdAt int64

	err := r.q.QueryRow(query, orderID).Scan(
		&order.OrderID,
		&order.TraderID,
		&completed,
		&fillTxID,
		&linkTag,
		&linkComment,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}

	order.Completed = completed != 0
	order.FillTransactionID = fillTxID.String
	order.LinkTag = linkTag.String
	order.LinkComment = linkComment.String
	order.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &order, nil
}

// RecordFill stores the fill transaction id and linkage tags on an order
// whose trade row is not visible yet, so the linker can retry on a later
// pass without the delta being redelivered. Returns false when no local
// order row exists to park the fill on.
func (r *OrderRepository) RecordFill(orderID, fillTransactionID, tag, comment string) (bool, error) {
	query := `
		UPDATE orders
		SET fill_transaction_id = ?, link_tag = ?, link_comment = ?
		WHERE order_id = ?
	`

	res, err := r.q.Exec(query, fillTransactionID, tag, comment, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to record fill for order %s: %w", orderID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read fill update result for order %s: %w", orderID, err)
	}

	return n > 0, nil
}

// MarkCompleted flags an order as done (filled and linked, or cancelled).
func (r *OrderRepository) MarkCompleted(orderID string) error {
	_, err := r.q.Exec("UPDATE orders SET completed = 1 WHERE order_id = ?", orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order %s completed: %w", orderID, err)
	}

	return nil
}

// GetPendingFills returns incomplete orders that already saw a fill delta.
// These are the linkage retries for fills that arrived before their trade.
func (r *OrderRepository) GetPendingFills() ([]Order, error) {
	query := `
		SELECT ` + ordersColumns + ` FROM orders
		WHERE completed = 0 AND fill_transaction_id IS NOT NULL
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending fills: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var order Order
		var completed int
		var fillTxID, linkTag, linkComment sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&order.OrderID,
			&order.TraderID,
			&completed,
			&fillTxID,
			&linkTag,
			&linkComment,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending fill: %w", err)
		}

		order.Completed = completed != 0
		order.FillTransactionID = fillTxID.String
		order.LinkTag = linkTag.String
		order.LinkComment = linkComment.String
		order.CreatedAt = time.Unix(createdAt, 0).UTC()
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending fills: %w", err)
	}

	return orders, nil
}
