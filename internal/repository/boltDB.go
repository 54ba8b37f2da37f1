package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

// Table names used by the simulator. One BoltDB bucket per table.
const (
	NetworkConfigsTable = "user_network_configs"
	FilesystemsTable    = "user_filesystems"
)

// ErrNotFound is returned when a record does not exist in a table.
var ErrNotFound = errors.New("record not found")

// BoltRepository is a generic per-table key/value store backed by BoltDB.
// Values are stored as JSON.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (or creates) the database at dbPath and ensures
// the simulator tables exist.
func NewBoltRepository(dbPath string) (*BoltRepository, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, table := range []string{NetworkConfigsTable, FilesystemsTable} {
			if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltRepository{db: db}, nil
}

// Save marshals value and stores it under key in the given table.
func (r *BoltRepository) Save(table, key string, value any) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", table, err)
		}

		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		if err := bucket.Put([]byte(key), data); err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}

		return nil
	})
}

// Load reads the record stored under key in the given table into out.
// Returns ErrNotFound if no such record exists.
func (r *BoltRepository) Load(table, key string, out any) error {
	return r.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return ErrNotFound
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}

		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}

		return nil
	})
}

// Delete removes the record stored under key in the given table. Deleting
// a missing record is not an error.
func (r *BoltRepository) Delete(table, key string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return nil
		}

		return bucket.Delete([]byte(key))
	})
}

// Keys returns all keys present in the given table.
func (r *BoltRepository) Keys(table string) ([]string, error) {
	var keys []string

	err := r.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

// Close closes the database.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}
