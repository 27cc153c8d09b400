package history

import (
	"testing"
	"time"

	"github.com/fileforge/atomix/internal/rollback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRecordAndRecent(t *testing.T) {
	store, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	first := rollback.HistoryEntry{
		TransactionID:  "01HZXFIRST",
		Status:         rollback.StatusCommitted,
		FinishedAt:     time.Now().UTC().Add(-time.Minute),
		OperationCount: 2,
		Description:    "write two files",
	}
	second := rollback.HistoryEntry{
		TransactionID:  "01HZXSECOND",
		Status:         rollback.StatusRolledBack,
		FinishedAt:     time.Now().UTC(),
		OperationCount: 1,
	}
	require.NoError(t, store.Record(first))
	require.NoError(t, store.Record(second))

	entries, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.TransactionID, entries[0].TransactionID)
	assert.Equal(t, first.TransactionID, entries[1].TransactionID)
}

func TestSQLiteStoreRecentRespectsLimit(t *testing.T) {
	store, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(rollback.HistoryEntry{
			TransactionID: rollback.TransactionID(rune('a' + i)),
			Status:        rollback.StatusCommitted,
			FinishedAt:    time.Now().UTC(),
		}))
	}

	entries, err := store.Recent(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSQLiteStoreImplementsHistoryStore(t *testing.T) {
	var _ rollback.HistoryStore = (*SQLiteStore)(nil)
}
