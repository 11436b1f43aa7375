package histdb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/johnayoung/go-history-intelligence/internal/models"
)

// MemoryDatabase is a volatile HistoryStore with the same first-write-wins
// contract as FileDatabase. It backs tests and embedders that provide
// their own durability.
type MemoryDatabase struct {
	mu      sync.RWMutex
	records map[string]*models.CutoffRecord

	initialized bool
	closed      bool

	now func() time.Time
}

// NewMemoryDatabase creates an in-memory store. Initialize must still be
// called, matching the file store's lifecycle.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		records: make(map[string]*models.CutoffRecord),
		now:     time.Now,
	}
}

// Initialize implements Manager.
func (db *MemoryDatabase) Initialize(ctx context.Context) error {
	if ctx.Err() != nil {
		return NewStorageError("initialize", "", ctx.Err())
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.initialized = true
	return nil
}

// Close implements Manager.
func (db *MemoryDatabase) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// StoreCutoff implements CutoffStorer.
func (db *MemoryDatabase) StoreCutoff(ctx context.Context, marketTag string, cutoffDate time.Time, precisionHours int, metadata map[string]interface{}) (StoreOutcome, error) {
	if ctx.Err() != nil {
		return StoreFailed, NewStorageError("store", "", ctx.Err())
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.usableLocked(); err != nil {
		return StoreFailed, err
	}

	record, err := models.NewCutoffRecord(marketTag, cutoffDate, db.now().UTC(), precisionHours, metadata)
	if err != nil {
		return StoreFailed, err
	}

	if _, exists := db.records[record.MarketTag]; exists {
		return StoreAlreadyExists, nil
	}

	db.records[record.MarketTag] = record
	return StoreCreated, nil
}

// PurgeCutoff implements CutoffStorer.
func (db *MemoryDatabase) PurgeCutoff(ctx context.Context, marketTag string) error {
	if ctx.Err() != nil {
		return NewStorageError("purge", "", ctx.Err())
	}

	parsed, err := models.ParseMarketTag(marketTag)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.usableLocked(); err != nil {
		return err
	}
	delete(db.records, parsed.Raw)
	return nil
}

// GetCutoff implements CutoffReader.
func (db *MemoryDatabase) GetCutoff(ctx context.Context, marketTag string) (*models.CutoffRecord, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError("get", "", ctx.Err())
	}

	parsed, err := models.ParseMarketTag(marketTag)
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.usableLocked(); err != nil {
		return nil, err
	}

	record, exists := db.records[parsed.Raw]
	if !exists {
		return nil, nil
	}
	return record.Clone(), nil
}

// GetAllCutoffs implements CutoffReader.
func (db *MemoryDatabase) GetAllCutoffs(ctx context.Context) (map[string]*models.CutoffRecord, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError("get_all", "", ctx.Err())
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.usableLocked(); err != nil {
		return nil, err
	}
	return cloneRecords(db.records), nil
}

// ExportCutoffs implements CutoffExporter.
func (db *MemoryDatabase) ExportCutoffs(ctx context.Context, format string) (string, error) {
	snapshot, err := db.GetAllCutoffs(ctx)
	if err != nil {
		return "", err
	}
	return exportRecords(snapshot, format)
}

// ValidateIntegrity implements IntegrityChecker.
func (db *MemoryDatabase) ValidateIntegrity(ctx context.Context) (*IntegrityReport, error) {
	snapshot, err := db.GetAllCutoffs(ctx)
	if err != nil {
		return nil, err
	}
	return checkIntegrity(snapshot), nil
}

// GetStats implements Manager. File size and backup count are always zero
// for a memory store.
func (db *MemoryDatabase) GetStats(ctx context.Context) (*DatabaseStats, error) {
	snapshot, err := db.GetAllCutoffs(ctx)
	if err != nil {
		return nil, err
	}
	return computeStats(snapshot), nil
}

// injectRecord force-writes a record bypassing validation and
// immutability. Test helper for integrity scans of corrupted state.
func (db *MemoryDatabase) injectRecord(record *models.CutoffRecord) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.records[record.MarketTag] = record.Clone()
}

func (db *MemoryDatabase) usableLocked() error {
	if !db.initialized {
		return NewStorageError("access", "", errors.New("database is not initialized"))
	}
	if db.closed {
		return NewStorageError("access", "", errors.New("database is closed"))
	}
	return nil
}
