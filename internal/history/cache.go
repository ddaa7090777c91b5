// Package history is a durable local-only transcript cache, backed by an
// embedded SQLite database. It predates (and is decoupled from) the remote
// session store: the conversation controller snapshots the visible transcript
// here after every local mutation, so a transcript survives process restarts
// even when the remote store was unreachable and some turns are still pending.
//
// The interface is a deliberate key-value contract (Get/Set/Remove by key);
// transcript helpers sit on top of it.
package history

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-docchat-core/internal/domain"
)

// transcriptKeyPrefix namespaces transcript snapshots within the KV table.
const transcriptKeyPrefix = "transcript:"

// Entry is one cached key-value pair.
type Entry struct {
	Key       string    `gorm:"primaryKey;type:varchar(255)"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName returns the database table name for Entry.
func (Entry) TableName() string { return "history_entries" }

// Cache is the embedded key-value store. Safe for concurrent use (the
// underlying pool serializes writes).
type Cache struct {
	db *gorm.DB
}

// Open opens (or creates) the cache database at path and migrates the schema.
func Open(path string) (*Cache, error) {
	// Fail early if the parent directory does not exist, instead of an
	// opaque sqlite error later.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get returns the value stored under key and whether it exists.
func (c *Cache) Get(key string) (string, bool, error) {
	var e Entry
	err := c.db.First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return e.Value, true, nil
}

// Set stores value under key, overwriting any previous value.
func (c *Cache) Set(key, value string) error {
	e := Entry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return c.db.Save(&e).Error
}

// Remove deletes the value stored under key. Removing a missing key is not
// an error.
func (c *Cache) Remove(key string) error {
	return c.db.Delete(&Entry{}, "key = ?", key).Error
}

// SaveTranscript snapshots a chat's visible message list.
func (c *Cache) SaveTranscript(chatID string, messages []domain.Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	return c.Set(transcriptKeyPrefix+chatID, string(raw))
}

// LoadTranscript returns the cached snapshot for a chat, or (nil, false) when
// none exists.
func (c *Cache) LoadTranscript(chatID string) ([]domain.Message, bool, error) {
	raw, ok, err := c.Get(transcriptKeyPrefix + chatID)
	if err != nil || !ok {
		return nil, false, err
	}
	var out []domain.Message
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// RemoveTranscript drops a chat's snapshot (used on chat deletion).
func (c *Cache) RemoveTranscript(chatID string) error {
	return c.Remove(transcriptKeyPrefix + chatID)
}
