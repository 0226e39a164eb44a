package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

// BuntCache is a JSON value cache with per-entry expiry backed by BuntDB
type BuntCache struct {
	db  *buntdb.DB
	ttl time.Duration
}

// FromMemory creates an in-memory cache
func FromMemory(ttl time.Duration) (*BuntCache, error) {
	return NewBuntCache(":memory:", ttl)
}

// FromFile creates a file-backed cache
func FromFile(file string, ttl time.Duration) (*BuntCache, error) {
	return NewBuntCache(file, ttl)
}

// NewBuntCache opens a BuntDB database. Entries expire after ttl; a
// non-positive ttl keeps them until they are overwritten or deleted.
func NewBuntCache(sourceFile string, ttl time.Duration) (*BuntCache, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	err = db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.Never,
		AutoShrinkPercentage: 100,
		AutoShrinkMinSize:    32 * 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure buntdb: %w", err)
	}

	return &BuntCache{db: db, ttl: ttl}, nil
}

// Put stores value under key
func (b *BuntCache) Put(key string, value any) error {
	content, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	var opts *buntdb.SetOptions
	if b.ttl > 0 {
		opts = &buntdb.SetOptions{Expires: true, TTL: b.ttl}
	}

	return b.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(key, string(content), opts); err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
		return nil
	})
}

// Get loads the value under key into out. It reports false when the key is
// missing or expired.
func (b *BuntCache) Get(key string, out any) (bool, error) {
	var content string
	err := b.db.View(func(tx *buntdb.Tx) error {
		var err error
		content, err = tx.Get(key)
		return err
	})

	if errors.Is(err, buntdb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(content), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key. Missing keys are ignored.
func (b *BuntCache) Delete(key string) error {
	err := b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

// Len returns the number of live entries
func (b *BuntCache) Len() (int, error) {
	var n int
	err := b.db.View(func(tx *buntdb.Tx) error {
		var err error
		n, err = tx.Len()
		return err
	})
	return n, err
}

// Close closes the database connection
func (b *BuntCache) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
