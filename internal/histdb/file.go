package histdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/johnayoung/go-history-intelligence/internal/models"
)

// DefaultBackupRetention is how many timestamped backups a FileDatabase
// keeps when not configured otherwise.
const DefaultBackupRetention = 5

// backupStampLayout orders backups lexically by creation time.
const backupStampLayout = "20060102T150405.000000000"

// FileOptions configures a FileDatabase.
type FileOptions struct {
	// Path is the live JSON document. Backups live alongside it as
	// <Path>.backup.<timestamp>.
	Path string

	// BackupRetention bounds how many backups are kept (default 5)
	BackupRetention int

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// FileDatabase is the durable HistoryStore: one UTF-8 JSON document
// mapping market tags to cutoff records.
//
// Writes never mutate the live file in place. Each write serializes the
// updated snapshot to a temporary file in the same directory, syncs it,
// preserves the previous live document as a timestamped backup, then
// atomically renames the temporary file over the live one. Backups are
// pruned beyond the retention count.
//
// All discovery I/O happens before StoreCutoff is called, so the mutex is
// only held for the in-memory update and the short persist step.
type FileDatabase struct {
	path      string
	retention int
	logger    *slog.Logger

	mu      sync.RWMutex
	records map[string]*models.CutoffRecord

	initialized bool
	closed      bool

	// now is swappable for tests
	now func() time.Time
}

// NewFileDatabase creates a file-backed store. Initialize must be called
// before use.
func NewFileDatabase(opts FileOptions) (*FileDatabase, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("histdb: file path is required")
	}
	if opts.BackupRetention <= 0 {
		opts.BackupRetention = DefaultBackupRetention
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &FileDatabase{
		path:      opts.Path,
		retention: opts.BackupRetention,
		logger:    opts.Logger.With(slog.String("component", "histdb")),
		records:   make(map[string]*models.CutoffRecord),
		now:       time.Now,
	}, nil
}

// Initialize loads the live document. A missing file starts an empty
// store; a corrupt one falls back to the newest valid backup, else an
// empty store with a logged warning. Initialization never fails because
// of document corruption.
func (db *FileDatabase) Initialize(ctx context.Context) error {
	if ctx.Err() != nil {
		return NewStorageError("initialize", db.path, ctx.Err())
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.initialized {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(db.path), 0o755); err != nil {
		return NewStorageError("initialize", db.path, err)
	}

	records, err := db.loadDocument(db.path)
	switch {
	case err == nil:
		db.records = records
	case errors.Is(err, os.ErrNotExist):
		db.logger.Debug("no existing history database, starting empty", slog.String("path", db.path))
	default:
		db.logger.Warn("history document is corrupt, trying backups",
			slog.String("path", db.path),
			slog.Any("error", err))
		db.records = db.loadNewestValidBackup()
	}

	db.initialized = true
	db.logger.Info("history database loaded",
		slog.String("path", db.path),
		slog.Int("records", len(db.records)))
	return nil
}

// Close marks the store unusable. The live document is already durable
// after every write, so there is nothing to flush.
func (db *FileDatabase) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// StoreCutoff implements CutoffStorer with first-write-wins semantics.
// An already-known market returns StoreAlreadyExists and a nil error. A
// persistence failure leaves both memory and disk untouched and returns
// StoreFailed with a retryable error.
func (db *FileDatabase) StoreCutoff(ctx context.Context, marketTag string, cutoffDate time.Time, precisionHours int, metadata map[string]interface{}) (StoreOutcome, error) {
	if ctx.Err() != nil {
		return StoreFailed, NewStorageError("store", db.path, ctx.Err())
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
		db.logger.Debug("cutoff already recorded, write rejected",
			slog.String("market_tag", record.MarketTag))
		return StoreAlreadyExists, nil
	}

	next := cloneRecords(db.records)
	next[record.MarketTag] = record

	if err := db.persistLocked(next); err != nil {
		return StoreFailed, err
	}

	db.records = next
	db.logger.Info("cutoff recorded",
		slog.String("market_tag", record.MarketTag),
		slog.Time("cutoff_date", record.CutoffDate),
		slog.Int("precision_hours", record.PrecisionHours))
	return StoreCreated, nil
}

// PurgeCutoff removes a record and persists the removal. Purging an
// unknown market is a no-op.
func (db *FileDatabase) PurgeCutoff(ctx context.Context, marketTag string) error {
	if ctx.Err() != nil {
		return NewStorageError("purge", db.path, ctx.Err())
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
	if _, exists := db.records[parsed.Raw]; !exists {
		return nil
	}

	next := cloneRecords(db.records)
	delete(next, parsed.Raw)

	if err := db.persistLocked(next); err != nil {
		return err
	}

	db.records = next
	db.logger.Info("cutoff purged", slog.String("market_tag", parsed.Raw))
	return nil
}

// GetCutoff implements CutoffReader. Returns nil when the market has no
// stored cutoff.
func (db *FileDatabase) GetCutoff(ctx context.Context, marketTag string) (*models.CutoffRecord, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError("get", db.path, ctx.Err())
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

// GetAllCutoffs implements CutoffReader with a point-in-time snapshot.
func (db *FileDatabase) GetAllCutoffs(ctx context.Context) (map[string]*models.CutoffRecord, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError("get_all", db.path, ctx.Err())
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.usableLocked(); err != nil {
		return nil, err
	}
	return cloneRecords(db.records), nil
}

// ExportCutoffs implements CutoffExporter.
func (db *FileDatabase) ExportCutoffs(ctx context.Context, format string) (string, error) {
	snapshot, err := db.GetAllCutoffs(ctx)
	if err != nil {
		return "", err
	}
	return exportRecords(snapshot, format)
}

// ValidateIntegrity implements IntegrityChecker.
func (db *FileDatabase) ValidateIntegrity(ctx context.Context) (*IntegrityReport, error) {
	snapshot, err := db.GetAllCutoffs(ctx)
	if err != nil {
		return nil, err
	}
	return checkIntegrity(snapshot), nil
}

// GetStats implements Manager.
func (db *FileDatabase) GetStats(ctx context.Context) (*DatabaseStats, error) {
	snapshot, err := db.GetAllCutoffs(ctx)
	if err != nil {
		return nil, err
	}

	stats := computeStats(snapshot)
	if info, err := os.Stat(db.path); err == nil {
		stats.FileSizeBytes = info.Size()
	}
	stats.BackupCount = len(db.listBackups())
	return stats, nil
}

// usableLocked checks lifecycle state under the caller's lock.
func (db *FileDatabase) usableLocked() error {
	if !db.initialized {
		return NewStorageError("access", db.path, errors.New("database is not initialized"))
	}
	if db.closed {
		return NewStorageError("access", db.path, errors.New("database is closed"))
	}
	return nil
}

// loadDocument reads and parses one JSON document.
func (db *FileDatabase) loadDocument(path string) (map[string]*models.CutoffRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	records := make(map[string]*models.CutoffRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return records, nil
}

// loadNewestValidBackup walks backups newest-first and returns the first
// one that parses, else an empty map.
func (db *FileDatabase) loadNewestValidBackup() map[string]*models.CutoffRecord {
	backups := db.listBackups()
	for i := len(backups) - 1; i >= 0; i-- {
		records, err := db.loadDocument(backups[i])
		if err != nil {
			db.logger.Warn("backup is also corrupt",
				slog.String("path", backups[i]),
				slog.Any("error", err))
			continue
		}
		db.logger.Warn("recovered history database from backup",
			slog.String("path", backups[i]),
			slog.Int("records", len(records)))
		return records
	}

	db.logger.Warn("no valid backup found, starting with empty history database",
		slog.String("path", db.path))
	return make(map[string]*models.CutoffRecord)
}

// persistLocked durably writes a snapshot: temp file, fsync, backup of
// the previous live document, atomic rename. Caller holds db.mu.
func (db *FileDatabase) persistLocked(records map[string]*models.CutoffRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return NewStorageError("persist", db.path, err)
	}

	dir := filepath.Dir(db.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(db.path)+".tmp-*")
	if err != nil {
		return NewStorageError("persist", db.path, err)
	}
	tmpPath := tmp.Name()

	cleanup := func(cause error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return NewStorageError("persist", db.path, cause)
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("persist", db.path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("persist", db.path, err)
	}

	// Preserve the previous live document before it is replaced.
	if _, err := os.Stat(db.path); err == nil {
		backup := fmt.Sprintf("%s.backup.%s", db.path, db.now().UTC().Format(backupStampLayout))
		if err := copyFile(db.path, backup); err != nil {
			os.Remove(tmpPath)
			return NewStorageError("backup", backup, err)
		}
	}

	if err := os.Rename(tmpPath, db.path); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("persist", db.path, err)
	}

	db.pruneBackups()
	return nil
}

// listBackups returns backup paths sorted oldest-first. The timestamp
// layout makes lexical order chronological.
func (db *FileDatabase) listBackups() []string {
	matches, err := filepath.Glob(db.path + ".backup.*")
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

// pruneBackups removes the oldest backups beyond the retention count.
func (db *FileDatabase) pruneBackups() {
	backups := db.listBackups()
	for len(backups) > db.retention {
		oldest := backups[0]
		if err := os.Remove(oldest); err != nil {
			db.logger.Warn("failed to prune backup",
				slog.String("path", oldest),
				slog.Any("error", err))
			return
		}
		db.logger.Debug("pruned backup", slog.String("path", oldest))
		backups = backups[1:]
	}
}

// copyFile copies src to dst and syncs the copy.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
