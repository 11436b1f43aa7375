package histdb

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-history-intelligence/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestFileDB(t *testing.T, dir string) *FileDatabase {
	t.Helper()
	db, err := NewFileDatabase(FileOptions{
		Path:   filepath.Join(dir, "cutoffs.json"),
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, db.Initialize(context.Background()))
	return db
}

func TestFileDatabaseStoreAndGet(t *testing.T) {
	db := newTestFileDB(t, t.TempDir())
	ctx := context.Background()
	cutoff := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)

	outcome, err := db.StoreCutoff(ctx, "binance_btc_usdt", cutoff, 24, map[string]interface{}{"tests_performed": 11})
	require.NoError(t, err)
	assert.Equal(t, StoreCreated, outcome)
	assert.True(t, outcome.Created())

	record, err := db.GetCutoff(ctx, "BINANCE_BTC_USDT")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, cutoff, record.CutoffDate)
	assert.Equal(t, "BINANCE", record.Exchange)
	assert.Equal(t, 24, record.PrecisionHours)

	// Lookup is case-insensitive through canonicalization.
	record, err = db.GetCutoff(ctx, "binance_btc_usdt")
	require.NoError(t, err)
	require.NotNil(t, record)

	missing, err := db.GetCutoff(ctx, "KRAKEN_ETH_USD")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFileDatabaseImmutability(t *testing.T) {
	db := newTestFileDB(t, t.TempDir())
	ctx := context.Background()
	first := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)
	second := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

	outcome, err := db.StoreCutoff(ctx, "BINANCE_BTC_USDT", first, 24, nil)
	require.NoError(t, err)
	require.Equal(t, StoreCreated, outcome)

	outcome, err = db.StoreCutoff(ctx, "BINANCE_BTC_USDT", second, 12, nil)
	require.NoError(t, err, "rejected duplicate write is not an error")
	assert.Equal(t, StoreAlreadyExists, outcome)
	assert.False(t, outcome.Created())

	record, err := db.GetCutoff(ctx, "BINANCE_BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, first, record.CutoffDate, "first write wins")
	assert.Equal(t, 24, record.PrecisionHours)
}

func TestFileDatabaseConcurrentDisjointKeys(t *testing.T) {
	db := newTestFileDB(t, t.TempDir())
	ctx := context.Background()
	cutoff := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)

	exchanges := []string{"BINANCE", "KRAKEN", "COINBASE", "BITSTAMP", "OKX"}
	var wg sync.WaitGroup
	outcomes := make([]StoreOutcome, len(exchanges))

	for i, ex := range exchanges {
		wg.Add(1)
		go func(i int, tag string) {
			defer wg.Done()
			outcome, err := db.StoreCutoff(ctx, tag, cutoff, 24, nil)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i, ex+"_BTC_USDT")
	}
	wg.Wait()

	for i, outcome := range outcomes {
		assert.Equal(t, StoreCreated, outcome, "writer %d should have created its record", i)
	}

	all, err := db.GetAllCutoffs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(exchanges))
}

func TestFileDatabaseConcurrentSameKey(t *testing.T) {
	db := newTestFileDB(t, t.TempDir())
	ctx := context.Background()

	const writers = 8
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	values := make([]time.Time, writers)
	outcomes := make([]StoreOutcome, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i] = base.AddDate(0, 0, i)
			outcome, err := db.StoreCutoff(ctx, "BINANCE_BTC_USDT", values[i], 24, nil)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	created := -1
	for i, outcome := range outcomes {
		if outcome == StoreCreated {
			require.Equal(t, -1, created, "more than one writer won")
			created = i
		} else {
			assert.Equal(t, StoreAlreadyExists, outcome)
		}
	}
	require.NotEqual(t, -1, created, "exactly one writer must win")

	record, err := db.GetCutoff(ctx, "BINANCE_BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, values[created], record.CutoffDate, "persisted value belongs to the winner")
}

func TestFileDatabaseExportJSONRoundTrip(t *testing.T) {
	db := newTestFileDB(t, t.TempDir())
	ctx := context.Background()

	_, err := db.StoreCutoff(ctx, "BINANCE_BTC_USDT", time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC), 24, nil)
	require.NoError(t, err)
	_, err = db.StoreCutoff(ctx, "KRAKEN_ETH_USD", time.Date(2019, 7, 1, 6, 0, 0, 0, time.UTC), 12, nil)
	require.NoError(t, err)

	exported, err := db.ExportCutoffs(ctx, "json")
	require.NoError(t, err)

	parsed := make(map[string]*models.CutoffRecord)
	require.NoError(t, json.Unmarshal([]byte(exported), &parsed))

	snapshot, err := db.GetAllCutoffs(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot, parsed)
}

func TestFileDatabaseExportCSV(t *testing.T) {
	db := newTestFileDB(t, t.TempDir())
	ctx := context.Background()

	_, err := db.StoreCutoff(ctx, "KRAKEN_ETH_USD", time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC), 12, nil)
	require.NoError(t, err)
	_, err = db.StoreCutoff(ctx, "BINANCE_BTC_USDT", time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC), 24, nil)
	require.NoError(t, err)

	exported, err := db.ExportCutoffs(ctx, "csv")
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(exported)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{
		"market_tag", "cutoff_date", "discovery_date", "precision_hours",
		"exchange", "primary_asset", "secondary_asset",
	}, rows[0])

	// Rows come out in lexical tag order.
	assert.Equal(t, "BINANCE_BTC_USDT", rows[1][0])
	assert.Equal(t, "2020-01-15T00:00:00Z", rows[1][1])
	assert.Equal(t, "24", rows[1][3])
	assert.Equal(t, "KRAKEN_ETH_USD", rows[2][0])
}

func TestFileDatabaseUnsupportedExportFormat(t *testing.T) {
	db := newTestFileDB(t, t.TempDir())
	_, err := db.ExportCutoffs(context.Background(), "xml")
	require.Error(t, err)
}

func TestFileDatabaseBackupRotation(t *testing.T) {
	dir := t.TempDir()
	db, err := NewFileDatabase(FileOptions{
		Path:            filepath.Join(dir, "cutoffs.json"),
		BackupRetention: 2,
		Logger:          quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, db.Initialize(context.Background()))

	ctx := context.Background()
	cutoff := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		tag := fmt.Sprintf("EXCHANGE%d_BTC_USDT", i)
		_, err := db.StoreCutoff(ctx, tag, cutoff, 24, nil)
		require.NoError(t, err)
	}

	backups, err := filepath.Glob(filepath.Join(dir, "cutoffs.json.backup.*"))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 2, "backups must be pruned to the retention count")

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(backups), stats.BackupCount)
}

func TestFileDatabasePersistenceAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cutoff := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)

	db := newTestFileDB(t, dir)
	_, err := db.StoreCutoff(ctx, "BINANCE_BTC_USDT", cutoff, 24, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened := newTestFileDB(t, dir)
	record, err := reopened.GetCutoff(ctx, "BINANCE_BTC_USDT")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, cutoff, record.CutoffDate)
}

func TestFileDatabaseCorruptDocumentFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	path := filepath.Join(dir, "cutoffs.json")

	db := newTestFileDB(t, dir)
	_, err := db.StoreCutoff(ctx, "BINANCE_BTC_USDT", time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC), 24, nil)
	require.NoError(t, err)
	// Second write backs up the one-record document.
	_, err = db.StoreCutoff(ctx, "KRAKEN_ETH_USD", time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC), 12, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, os.WriteFile(path, []byte("{ this is not json"), 0o644))

	recovered := newTestFileDB(t, dir)
	all, err := recovered.GetAllCutoffs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "newest valid backup holds the first record")
	assert.Contains(t, all, "BINANCE_BTC_USDT")
}

func TestFileDatabaseCorruptDocumentNoBackupStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cutoffs.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	db := newTestFileDB(t, dir)
	all, err := db.GetAllCutoffs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileDatabaseIntegrityDetection(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	path := filepath.Join(dir, "cutoffs.json")

	db := newTestFileDB(t, dir)
	_, err := db.StoreCutoff(ctx, "BINANCE_BTC_USDT", time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC), 24, nil)
	require.NoError(t, err)

	report, err := db.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	require.NoError(t, db.Close())

	// Corrupt the stored record so the cutoff postdates its discovery.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	docs := make(map[string]*models.CutoffRecord)
	require.NoError(t, json.Unmarshal(raw, &docs))
	docs["BINANCE_BTC_USDT"].CutoffDate = docs["BINANCE_BTC_USDT"].DiscoveryDate.Add(48 * time.Hour)
	raw, err = json.Marshal(docs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	tampered := newTestFileDB(t, dir)
	report, err = tampered.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, "BINANCE_BTC_USDT", report.Issues[0].MarketTag)
	assert.Equal(t, "cutoff_date", report.Issues[0].Field)
}

func TestFileDatabaseStats(t *testing.T) {
	db := newTestFileDB(t, t.TempDir())
	ctx := context.Background()
	cutoff := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)

	_, err := db.StoreCutoff(ctx, "BINANCE_BTC_USDT", cutoff, 24, nil)
	require.NoError(t, err)
	_, err = db.StoreCutoff(ctx, "BINANCE_ETH_USDT", cutoff, 24, nil)
	require.NoError(t, err)
	_, err = db.StoreCutoff(ctx, "KRAKEN_ETH_USD", cutoff, 24, nil)
	require.NoError(t, err)

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCutoffs)
	assert.Equal(t, 2, stats.Exchanges["BINANCE"])
	assert.Equal(t, 1, stats.Exchanges["KRAKEN"])
	assert.Greater(t, stats.FileSizeBytes, int64(0))
}

func TestFileDatabasePurge(t *testing.T) {
	dir := t.TempDir()
	db := newTestFileDB(t, dir)
	ctx := context.Background()

	_, err := db.StoreCutoff(ctx, "BINANCE_BTC_USDT", time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC), 24, nil)
	require.NoError(t, err)

	require.NoError(t, db.PurgeCutoff(ctx, "BINANCE_BTC_USDT"))
	record, err := db.GetCutoff(ctx, "BINANCE_BTC_USDT")
	require.NoError(t, err)
	assert.Nil(t, record)

	// Purge is idempotent and survives reopen.
	require.NoError(t, db.PurgeCutoff(ctx, "BINANCE_BTC_USDT"))
	require.NoError(t, db.Close())

	reopened := newTestFileDB(t, dir)
	record, err = reopened.GetCutoff(ctx, "BINANCE_BTC_USDT")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestFileDatabaseRejectsInvalidArguments(t *testing.T) {
	db := newTestFileDB(t, t.TempDir())
	ctx := context.Background()

	outcome, err := db.StoreCutoff(ctx, "not a tag", time.Now().Add(-time.Hour), 24, nil)
	require.Error(t, err)
	assert.Equal(t, StoreFailed, outcome)

	outcome, err = db.StoreCutoff(ctx, "BINANCE_BTC_USDT", time.Now().Add(-time.Hour), 0, nil)
	require.Error(t, err)
	assert.Equal(t, StoreFailed, outcome)
}

func TestFileDatabaseLifecycle(t *testing.T) {
	db, err := NewFileDatabase(FileOptions{Path: filepath.Join(t.TempDir(), "cutoffs.json"), Logger: quietLogger()})
	require.NoError(t, err)

	_, err = db.GetCutoff(context.Background(), "BINANCE_BTC_USDT")
	require.Error(t, err, "reads before Initialize fail")

	require.NoError(t, db.Initialize(context.Background()))
	require.NoError(t, db.Close())

	_, err = db.GetCutoff(context.Background(), "BINANCE_BTC_USDT")
	require.Error(t, err, "reads after Close fail")
}
