package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mactrack/internal/models"
)

// ErrPersistence marks failures of the underlying store.
var ErrPersistence = errors.New("persistence error")

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

// Store owns the gorm handle and the clock used to stamp new rows.
//
// Timestamps are written in UTC so that range comparisons order correctly on
// every driver; they are converted back to the configured zone on read.
type Store struct {
	db  *gorm.DB
	loc *time.Location
	now func() time.Time
}

type Option func(*Store)

// WithLocation sets the serving time zone used for new timestamps and reads.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to driver ("sqlite" or "postgres") at dsn and migrates the schema.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if driver == "" || driver == "sqlite" {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		// One writer at a time; WAL keeps readers unblocked.
		sqlDB.SetMaxOpenConns(1)
		for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if err := gdb.Exec(p).Error; err != nil {
				return nil, fmt.Errorf("exec %q: %w", p, err)
			}
		}
	}

	return New(gdb, opts...)
}

func New(gdb *gorm.DB, opts ...Option) (*Store, error) {
	s := &Store{db: gdb, loc: time.Local, now: time.Now}
	for _, o := range opts {
		o(s)
	}

	if err := gdb.AutoMigrate(&models.MacEntry{}, &models.LogEntry{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) Now() time.Time { return s.now().In(s.loc) }

func (s *Store) Location() *time.Location { return s.loc }

func (s *Store) Gorm() *gorm.DB { return s.db }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Tx runs fn in one transaction. It commits when fn returns nil and rolls back
// otherwise, including on panic. Errors from fn are returned unchanged;
// begin/commit failures are wrapped with ErrPersistence.
func (s *Store) Tx(ctx context.Context, fn func(tx *Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		fnErr = fn(&Tx{db: gtx, now: s.Now})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return persistErr("transaction", err)
}

// AddLog writes one audit entry in its own transaction.
func (s *Store) AddLog(ctx context.Context, message string) error {
	return s.Tx(ctx, func(tx *Tx) error {
		return tx.AddLog(message)
	})
}

// Tx is the write surface available inside Store.Tx.
type Tx struct {
	db  *gorm.DB
	now func() time.Time
}

// AddMacEntry inserts e, stamping it with the current time when unset.
func (t *Tx) AddMacEntry(e *models.MacEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if err := t.db.Create(e).Error; err != nil {
		return persistErr("insert mac entry", err)
	}
	return nil
}

func (t *Tx) AddLog(message string) error {
	entry := models.LogEntry{Message: message, Timestamp: t.now().UTC()}
	if err := t.db.Create(&entry).Error; err != nil {
		return persistErr("insert log entry", err)
	}
	return nil
}

// DeleteMacEntriesBefore removes entries strictly older than cutoff.
func (t *Tx) DeleteMacEntriesBefore(cutoff time.Time) (int64, error) {
	res := t.db.Where("timestamp < ?", cutoff.UTC()).Delete(&models.MacEntry{})
	if res.Error != nil {
		return 0, persistErr("delete mac entries", res.Error)
	}
	return res.RowsAffected, nil
}

func (t *Tx) DeleteAllMacEntries() (int64, error) {
	res := t.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.MacEntry{})
	if res.Error != nil {
		return 0, persistErr("delete mac entries", res.Error)
	}
	return res.RowsAffected, nil
}
