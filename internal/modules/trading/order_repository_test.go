package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cocopuffff/TraderJoe/internal/testutil"
)

func TestOrderCreateIdempotent(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewOrderRepository(db, testLog)

	require.NoError(t, repo.Create("100", 7))
	require.NoError(t, repo.Create("100", 7))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM orders").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOrderGetMissing(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewOrderRepository(db, testLog)

	order, err := repo.Get("100")
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestOrderRecordFillUnknownOrder(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewOrderRepository(db, testLog)

	// No local row: the fill has nowhere to park and the caller must know.
	parked, err := repo.RecordFill("999", "5", "trader_7", "")
	require.NoError(t, err)
	assert.False(t, parked)
}

func TestOrderRecordFillAndPending(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewOrderRepository(db, testLog)

	require.NoError(t, repo.Create("100", 7))
	require.NoError(t, repo.Create("101", 7))

	pending, err := repo.GetPendingFills()
	require.NoError(t, err)
	assert.Empty(t, pending)

	parked, err := repo.RecordFill("100", "5", "trader_7", "strategy_3")
	require.NoError(t, err)
	assert.True(t, parked)

	pending, err = repo.GetPendingFills()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "100", pending[0].OrderID)
	assert.Equal(t, "5", pending[0].FillTransactionID)
	assert.Equal(t, "trader_7", pending[0].LinkTag)
	assert.Equal(t, "strategy_3", pending[0].LinkComment)

	// Completion removes the order from the retry queue.
	require.NoError(t, repo.MarkCompleted("100"))

	pending, err = repo.GetPendingFills()
	require.NoError(t, err)
	assert.Empty(t, pending)

	order, err := repo.Get("100")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.True(t, order.Completed)
}
