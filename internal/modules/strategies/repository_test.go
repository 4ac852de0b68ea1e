package strategies

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cocopuffff/TraderJoe/internal/testutil"
)

var testLog = zerolog.New(nil).Level(zerolog.Disabled)

func insertTrade(t *testing.T, db *sql.DB) int64 {
	t.Helper()

	res, err := db.Exec(`
		INSERT INTO trades (transaction_id, instrument, open_time, updated_at,
			initial_units, current_units, price, state_id)
		VALUES (?, 'EUR_USD', ?, ?, 100, 100, 1.1, 1)`,
		time.Now().UnixNano(), time.Now().Unix(), time.Now().Unix(),
	)
	require.NoError(t, err)

	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestStrategyCreateAndGet(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewRepository(db, testLog)

	id, err := repo.Create(7, "momentum", "/scripts/momentum.py")
	require.NoError(t, err)

	s, err := repo.Get(id)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, int64(7), s.OwnerID)
	assert.Equal(t, "momentum", s.Name)

	missing, err := repo.Get(99)
	require.NoError(t, err)
	assert.Nil(t, missing)

	exists, err := repo.Exists(id)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStrategyMatchByScriptPath(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewRepository(db, testLog)

	id, err := repo.Create(7, "momentum", "scripts/momentum.py")
	require.NoError(t, err)
	_, err = repo.Create(8, "momentum", "scripts/momentum.py")
	require.NoError(t, err)

	testCases := []struct {
		name     string
		ownerID  int64
		path     string
		expected *int64
	}{
		{
			name:     "registered path matches",
			ownerID:  7,
			path:     "/home/trader/scripts/momentum.py",
			expected: &id,
		},
		{
			name:    "unregistered path",
			ownerID: 7,
			path:    "/home/trader/scripts/scalper.py",
		},
		{
			name:    "other trader's strategies are invisible",
			ownerID: 9,
			path:    "/home/trader/scripts/momentum.py",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := repo.MatchByScriptPath(tc.ownerID, tc.path)
			require.NoError(t, err)
			if tc.expected == nil {
				assert.Nil(t, s)
				return
			}
			require.NotNil(t, s)
			assert.Equal(t, *tc.expected, s.ID)
		})
	}
}

func TestLinkOrInsertClaimsPendingSlot(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewRepository(db, testLog)

	strategyID, err := repo.Create(7, "momentum", "/scripts/momentum.py")
	require.NoError(t, err)

	slotID, err := repo.OpenSlot(7, strategyID, "EUR_USD", "run-1")
	require.NoError(t, err)

	tradeID := insertTrade(t, db)
	require.NoError(t, repo.LinkOrInsert(7, strategyID, "EUR_USD", tradeID))

	slots, err := repo.SlotsByTrader(7)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, slotID, slots[0].ID)
	require.NotNil(t, slots[0].TradeID)
	assert.Equal(t, tradeID, *slots[0].TradeID)
	assert.Equal(t, "run-1", slots[0].RunHandle)
}

func TestLinkOrInsertIdempotent(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewRepository(db, testLog)

	strategyID, err := repo.Create(7, "momentum", "/scripts/momentum.py")
	require.NoError(t, err)

	tradeID := insertTrade(t, db)

	// No pending slot: a resolved one is inserted, and retries are no-ops.
	require.NoError(t, repo.LinkOrInsert(7, strategyID, "EUR_USD", tradeID))
	require.NoError(t, repo.LinkOrInsert(7, strategyID, "EUR_USD", tradeID))

	slots, err := repo.SlotsByTrader(7)
	require.NoError(t, err)
	assert.Len(t, slots, 1)
}

func TestClearSlotReturnsRunHandle(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewRepository(db, testLog)

	strategyID, err := repo.Create(7, "momentum", "/scripts/momentum.py")
	require.NoError(t, err)

	_, err = repo.OpenSlot(7, strategyID, "EUR_USD", "run-1")
	require.NoError(t, err)

	tradeID := insertTrade(t, db)
	require.NoError(t, repo.LinkOrInsert(7, strategyID, "EUR_USD", tradeID))

	handle, err := repo.ClearSlot(tradeID)
	require.NoError(t, err)
	assert.Equal(t, "run-1", handle)

	// Already cleared.
	handle, err = repo.ClearSlot(tradeID)
	require.NoError(t, err)
	assert.Equal(t, "", handle)
}

func TestResetRunState(t *testing.T) {
	db := testutil.NewLedgerDB(t)
	repo := NewRepository(db, testLog)

	strategyID, err := repo.Create(7, "momentum", "/scripts/momentum.py")
	require.NoError(t, err)

	_, err = repo.OpenSlot(7, strategyID, "EUR_USD", "stale-run")
	require.NoError(t, err)

	tradeID := insertTrade(t, db)
	require.NoError(t, repo.LinkOrInsert(7, strategyID, "USD_CHF", tradeID))

	n, err := repo.ResetRunState()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	slots, err := repo.SlotsByTrader(7)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	// Only the unresolved slot was deactivated.
	for _, s := range slots {
		if s.TradeID == nil {
			assert.False(t, s.IsActive)
		} else {
			assert.True(t, s.IsActive)
		}
	}
}
