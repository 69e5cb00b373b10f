// Package datastore keeps the local journal of reconciliation outcomes in SQLite.
package datastore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

const (
	// DefaultLimit is used when a query passes no positive limit
	DefaultLimit = 50
	// MaxLimit caps a single query
	MaxLimit = 1000

	slowQueryThreshold = 200 * time.Millisecond
)

// Journal records outcomes
type Journal struct {
	db   *gorm.DB
	path string
	log  logger.Logger
}

// Open opens or creates the journal database at settings.Path and migrates it.
// The special path ":memory:" keeps the journal in memory.
func Open(settings conf.JournalSettings, log logger.Logger) (*Journal, error) {
	if log == nil {
		log = logger.Global().Module("journal")
	}

	path := settings.Path
	if path == "" {
		path = conf.DefaultJournalPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.New(err).
				Component("journal").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open", path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open", path)
	}
	// one connection: SQLite has a single writer and ":memory:" is per connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		_ = sqlDB.Close()
		return nil, dbError(err, "migrate", path)
	}

	log.Info("journal opened", logger.String("path", path))
	return &Journal{db: db, path: path, log: log}, nil
}

// Record stores outcome
func (j *Journal) Record(ctx context.Context, outcome *reconcile.Outcome) error {
	if outcome == nil {
		return errors.ValidationError("outcome cannot be nil")
	}
	entry := newEntry(outcome)
	if err := j.db.WithContext(ctx).Create(entry).Error; err != nil {
		return dbError(err, "record", j.path)
	}
	j.log.WithContext(ctx).Trace("outcome recorded",
		logger.String("document", outcome.Document),
		logger.String("action", string(outcome.Action)))
	return nil
}

// Recent returns the newest entries first
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.WithContext(ctx).
		Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&entries).Error
	if err != nil {
		return nil, dbError(err, "recent", j.path)
	}
	return entries, nil
}

// ForDocument returns the newest entries of one document across environments
func (j *Journal) ForDocument(ctx context.Context, document string, limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.WithContext(ctx).
		Where("document = ?", document).
		Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&entries).Error
	if err != nil {
		return nil, dbError(err, "for_document", j.path)
	}
	return entries, nil
}

// Prune deletes entries started before cutoff and returns how many were removed
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := j.db.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&Entry{})
	if res.Error != nil {
		return 0, dbError(res.Error, "prune", j.path)
	}
	return res.RowsAffected, nil
}

// Close closes the database
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return dbError(err, "close", j.path)
	}
	return sqlDB.Close()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func dbError(err error, operation, path string) error {
	return errors.New(err).
		Component("journal").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("path", path).
		Build()
}
