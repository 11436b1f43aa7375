package histdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-history-intelligence/internal/models"
)

func newTestMemoryDB(t *testing.T) *MemoryDatabase {
	t.Helper()
	db := NewMemoryDatabase()
	require.NoError(t, db.Initialize(context.Background()))
	return db
}

func TestMemoryDatabaseFirstWriteWins(t *testing.T) {
	db := newTestMemoryDB(t)
	ctx := context.Background()
	first := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)

	outcome, err := db.StoreCutoff(ctx, "BINANCE_BTC_USDT", first, 24, nil)
	require.NoError(t, err)
	assert.Equal(t, StoreCreated, outcome)

	outcome, err = db.StoreCutoff(ctx, "BINANCE_BTC_USDT", first.AddDate(1, 0, 0), 12, nil)
	require.NoError(t, err)
	assert.Equal(t, StoreAlreadyExists, outcome)

	record, err := db.GetCutoff(ctx, "BINANCE_BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, first, record.CutoffDate)
}

func TestMemoryDatabaseSnapshotIsolation(t *testing.T) {
	db := newTestMemoryDB(t)
	ctx := context.Background()

	_, err := db.StoreCutoff(ctx, "BINANCE_BTC_USDT", time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC), 24, nil)
	require.NoError(t, err)

	snapshot, err := db.GetAllCutoffs(ctx)
	require.NoError(t, err)
	snapshot["BINANCE_BTC_USDT"].PrecisionHours = 999

	record, err := db.GetCutoff(ctx, "BINANCE_BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, 24, record.PrecisionHours, "snapshots are copies, not views")
}

func TestMemoryDatabaseIntegrityScan(t *testing.T) {
	db := newTestMemoryDB(t)
	ctx := context.Background()

	db.injectRecord(&models.CutoffRecord{
		MarketTag:      "BINANCE_BTC_USDT",
		CutoffDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DiscoveryDate:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		PrecisionHours: 0,
		Exchange:       "BINANCE",
		PrimaryAsset:   "BTC",
		SecondaryAsset: "USDT",
	})

	report, err := db.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	require.Len(t, report.Issues, 2, "bad date ordering and bad precision both flagged")
	for _, issue := range report.Issues {
		assert.Equal(t, "BINANCE_BTC_USDT", issue.MarketTag)
	}
}

func TestStoreDiscoveryResult(t *testing.T) {
	db := newTestMemoryDB(t)
	ctx := context.Background()

	result := models.CutoffResult{
		MarketTag:         "BINANCE_BTC_USDT",
		Success:           true,
		CutoffDate:        time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC),
		PrecisionAchieved: 18 * time.Hour,
		TestsPerformed:    11,
		Metadata:          map[string]interface{}{"job_id": "test"},
	}

	outcome, err := StoreDiscoveryResult(ctx, db, result)
	require.NoError(t, err)
	assert.Equal(t, StoreCreated, outcome)

	record, err := db.GetCutoff(ctx, "BINANCE_BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, 18, record.PrecisionHours)
	assert.Equal(t, "test", record.DiscoveryMetadata["job_id"])

	_, err = StoreDiscoveryResult(ctx, db, models.CutoffResult{MarketTag: "KRAKEN_ETH_USD"})
	require.Error(t, err, "non-converged results cannot be stored")
}
