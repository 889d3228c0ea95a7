// Package store is the persistence layer: idempotent batched upserts for
// synced mail, cursor-paginated reads, classification updates and the
// whitelist/settings tables.
package store

import (
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the SQLite database at dsn, runs migrations and seeds the
// settings singleton. Callers that need foreign-key enforcement should pass a
// DSN with `_fk=1`.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "database handle")
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	err := s.db.AutoMigrate(
		&Account{},
		&Folder{},
		&Message{},
		&Body{},
		&Recipient{},
		&FolderMessage{},
		&SenderWhitelistRule{},
		&URLWhitelistRule{},
		&SystemSettings{},
	)
	if err != nil {
		return errors.Wrap(err, "migrate")
	}

	// Settings singleton must exist with detection enabled by default.
	var settings SystemSettings
	err = s.db.Where(SystemSettings{ID: settingsRowID}).
		Attrs(SystemSettings{EnableLongURLDetection: true}).
		FirstOrCreate(&settings).Error
	if err != nil {
		return errors.Wrap(err, "seed settings")
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure, used
// to retry a batch once when two writers race past the existence lookup.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
