// Package checkpoint tracks which memories have already been captured so
// that ingestion can resume after a crash without duplicating work.
//
// The store is backed by BadgerDB. Each processed memory is recorded under
// a prefixed key whose value is the UTC timestamp of completion. A nil
// *Store is a valid "checkpointing disabled" value for callers that guard
// against it.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrInvalidMemoryID is returned when a memory ID is empty.
var ErrInvalidMemoryID = errors.New("invalid memory ID")

// keyPrefix namespaces processed-memory records so future record kinds can
// share the same database.
const keyPrefix = "processed:"

// Store records processed memory IDs in a BadgerDB database on disk.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewStore opens (or creates) a checkpoint database at path. If path is
// empty, a directory under os.TempDir() is used.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = filepath.Join(os.TempDir(), "memoria-checkpoints")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// MarkProcessed records that a memory has been fully captured. The stored
// value is the completion timestamp.
func (s *Store) MarkProcessed(ctx context.Context, memoryID string) error {
	if memoryID == "" {
		return ErrInvalidMemoryID
	}

	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(processedKey(memoryID), []byte(stamp))
	})
	if err != nil {
		return fmt.Errorf("failed to mark memory %s processed: %w", memoryID, err)
	}

	s.logger.Debug("Checkpoint recorded", "memory_id", memoryID)
	return nil
}

// IsProcessed reports whether a memory has already been captured.
func (s *Store) IsProcessed(ctx context.Context, memoryID string) (bool, error) {
	if memoryID == "" {
		return false, ErrInvalidMemoryID
	}

	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(processedKey(memoryID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check checkpoint for memory %s: %w", memoryID, err)
	}

	return found, nil
}

// ProcessedAt returns the completion timestamp for a memory, or ok=false
// when the memory has not been processed.
func (s *Store) ProcessedAt(ctx context.Context, memoryID string) (time.Time, bool, error) {
	if memoryID == "" {
		return time.Time{}, false, ErrInvalidMemoryID
	}

	var stamp []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(processedKey(memoryID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		stamp, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read checkpoint for memory %s: %w", memoryID, err)
	}
	if stamp == nil {
		return time.Time{}, false, nil
	}

	at, err := time.Parse(time.RFC3339Nano, string(stamp))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt checkpoint for memory %s: %w", memoryID, err)
	}

	return at, true, nil
}

// Delete removes the checkpoint for a memory. Deleting a memory that was
// never processed is not an error.
func (s *Store) Delete(ctx context.Context, memoryID string) error {
	if memoryID == "" {
		return ErrInvalidMemoryID
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(processedKey(memoryID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for memory %s: %w", memoryID, err)
	}

	return nil
}

// ProcessedCount returns the number of memories recorded as processed.
func (s *Store) ProcessedCount(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count checkpoints: %w", err)
	}

	return count, nil
}

// CleanOld removes checkpoints older than maxAge and returns how many were
// deleted. Records with unparseable timestamps are removed as well.
func (s *Store) CleanOld(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			stamp, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			at, err := time.Parse(time.RFC3339Nano, string(stamp))
			if err != nil || at.Before(cutoff) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan checkpoints: %w", err)
	}

	for _, key := range stale {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			return 0, fmt.Errorf("failed to delete stale checkpoint: %w", err)
		}
	}

	if len(stale) > 0 {
		s.logger.Info("Cleaned old checkpoints", "count", len(stale))
	}

	return len(stale), nil
}

// Clear removes every checkpoint. Capture of previously processed memories
// starts over after a clear.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("failed to clear checkpoint store: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint store: %w", err)
	}
	return nil
}

func processedKey(memoryID string) []byte {
	return []byte(keyPrefix + memoryID)
}
