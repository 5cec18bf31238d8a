package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrBackupNotAvail = errors.New("backup is only supported for the sqlite driver")
)

type Options struct {
	Driver       string // sqlite or mysql
	Path         string
	User         string
	Password     string
	Host         string
	Port         string
	Name         string
	Var          string
	MaxIdleConns int
	MaxOpenConns int
}

// Store is the only owner of durable state. Every method is safe for
// concurrent use; writes go through transactions.
type Store struct {
	db     *gorm.DB
	log    logrus.FieldLogger
	driver string
	path   string
	now    func() time.Time
}

func Open(opts Options, log logrus.FieldLogger) (*Store, error) {
	log.WithField("driver", opts.Driver).Info("Connecting to database...")

	gormConfig := &gorm.Config{
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch opts.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn := opts.Path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s%s", opts.User, opts.Password, opts.Host, opts.Port, opts.Name, opts.Var)
		db, err = gorm.Open(mysql.Open(dsn), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if opts.Driver == "sqlite" {
		// SQLite has a single writer; one connection serializes writes.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	s := &Store{db: db, log: log, driver: opts.Driver, path: opts.Path, now: time.Now}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an already opened connection, mainly for tests.
func New(db *gorm.DB, driver string, log logrus.FieldLogger) *Store {
	return &Store{db: db, log: log, driver: driver, now: time.Now}
}

// SetClock replaces the time source used for last_used_time bookkeeping.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MonitorHealth pings the database every interval until ctx is done.
func (s *Store) MonitorHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sqlDB, err := s.db.DB()
		if err != nil {
			s.log.WithError(err).Error("Failed to get database instance for health check")
			continue
		}

		if err := sqlDB.PingContext(ctx); err != nil {
			s.log.WithError(err).Error("Database health check failed")
			continue
		}

		stats := sqlDB.Stats()
		s.log.Debugf("DB Stats - Open connections: %d, In use: %d, Idle: %d", stats.OpenConnections, stats.InUse, stats.Idle)
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
