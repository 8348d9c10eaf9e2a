package flushmanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// BadgerStore keeps pages as values in a badger database, one key per page.
type BadgerStore struct {
	db       *badger.DB
	pageSize int
	logger   *zap.Logger
}

// NewBadgerStore opens a badger database at path. An empty path opens an
// in-memory database.
func NewBadgerStore(path string, pageSize int, logger *zap.Logger) (*BadgerStore, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", ErrIO, err)
	}
	return &BadgerStore{db: db, pageSize: pageSize, logger: logger.Named("badger_store")}, nil
}

func pageKey(id pagemanager.PageID) []byte {
	key := make([]byte, 0, 1+pagemanager.PageIDSize)
	key = append(key, 'p')
	return id.AppendBinary(key)
}

// ReadPage copies the stored page into buf.
func (s *BadgerStore) ReadPage(ctx context.Context, id pagemanager.PageID, buf []byte) error {
	if len(buf) != s.pageSize {
		return fmt.Errorf("%w: %d != %d", ErrShortBuffer, len(buf), s.pageSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != s.pageSize {
				return fmt.Errorf("stored page %s has %d bytes, expected %d", id, len(val), s.pageSize)
			}
			copy(buf, val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %w: page %s", ErrIO, ErrPageNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: reading page %s: %v", ErrIO, id, err)
	}
	return nil
}

// WritePage stores a copy of buf under the page's key.
func (s *BadgerStore) WritePage(ctx context.Context, id pagemanager.PageID, buf []byte) error {
	if len(buf) != s.pageSize {
		return fmt.Errorf("%w: %d != %d", ErrShortBuffer, len(buf), s.pageSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	val := make([]byte, len(buf))
	copy(val, buf)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pageKey(id), val)
	})
	if err != nil {
		return fmt.Errorf("%w: writing page %s: %v", ErrIO, id, err)
	}
	return nil
}

// Sync is a no-op for in-memory databases.
func (s *BadgerStore) Sync() error {
	if s.db.Opts().InMemory {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("%w: badger sync: %v", ErrIO, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	s.logger.Debug("Closing badger store")
	return s.db.Close()
}
