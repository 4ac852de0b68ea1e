package accounts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cocopuffff/TraderJoe/internal/testutil"
)

func TestAuditInsertAndExists(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewAuditRepository(db, testLog)

	insertTrade(t, db, 7, 0, 0, stateClosed)
	var tradeID int64
	require.NoError(t, db.QueryRow("SELECT id FROM trades LIMIT 1").Scan(&tradeID))

	exists, err := repo.Exists(tradeID)
	require.NoError(t, err)
	assert.False(t, exists)

	closeTime := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Insert(AuditEntry{
		TradeID:       tradeID,
		TraderID:      7,
		NetRealizedPL: 4.50,
		CloseTime:     &closeTime,
	}))

	exists, err = repo.Exists(tradeID)
	require.NoError(t, err)
	assert.True(t, exists)

	entry, err := repo.Get(tradeID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(7), entry.TraderID)
	assert.InDelta(t, 4.50, entry.NetRealizedPL, 1e-9)
	require.NotNil(t, entry.CloseTime)
	assert.Equal(t, closeTime, entry.CloseTime.UTC())
}

func TestAuditIsImmutablePerTrade(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewAuditRepository(db, testLog)

	insertTrade(t, db, 7, 0, 0, stateClosed)
	var tradeID int64
	require.NoError(t, db.QueryRow("SELECT id FROM trades LIMIT 1").Scan(&tradeID))

	require.NoError(t, repo.Insert(AuditEntry{TradeID: tradeID, TraderID: 7, NetRealizedPL: 4.50}))

	// The primary key rejects a second settlement of the same trade.
	assert.Error(t, repo.Insert(AuditEntry{TradeID: tradeID, TraderID: 7, NetRealizedPL: 4.50}))
}

func TestAuditGetMissing(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewAuditRepository(db, testLog)

	entry, err := repo.Get(99)
	require.NoError(t, err)
	assert.Nil(t, entry)
}
