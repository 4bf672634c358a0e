package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"escrow_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the SQLite-backed transaction journal.
type Storage struct {
	db *gorm.DB
}

var _ domain.JournalRepository = (*Storage)(nil)

// NewStorage opens (or creates) the journal database at path.
// An empty path resolves to the per-user config directory.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		var err error
		path, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.JournalEntry{}, &domain.LedgerMeta{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "EscrowGo", "data", "journal.db"), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Journal Operations
// ======================================================================================

// Append writes one committed transaction. Sequence numbers are never reused;
// a duplicate seq is a primary key violation.
func (s *Storage) Append(ctx context.Context, entry *domain.JournalEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append seq %d: %w", entry.Seq, err)
	}
	return nil
}

// Entries returns every transaction after afterSeq in sequence order.
func (s *Storage) Entries(ctx context.Context, afterSeq uint64) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	err := s.db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Find(&entries).Error
	return entries, err
}

// LastSeq returns the highest journaled sequence number, or 0 for an empty journal.
func (s *Storage) LastSeq(ctx context.Context) (uint64, error) {
	var last domain.JournalEntry
	err := s.db.WithContext(ctx).Order("seq DESC").Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil // Empty journal is not an error
	}
	if err != nil {
		return 0, err
	}
	return last.Seq, nil
}

// ======================================================================================
// Meta Operations
// ======================================================================================

// SaveMeta stores a journal-wide setting
func (s *Storage) SaveMeta(key, value string) error {
	meta := domain.LedgerMeta{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&meta).Error
}

// LoadMetaMap loads all journal-wide settings as a map
func (s *Storage) LoadMetaMap() (map[string]string, error) {
	var metas []domain.LedgerMeta
	if err := s.db.Find(&metas).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, m := range metas {
		result[m.Key] = m.Value
	}
	return result, nil
}
