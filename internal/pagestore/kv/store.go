// Package kv stores pages in an embedded badger database.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/objectfs/pagecache/internal/pagestore/codec"
	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/types"
	"github.com/objectfs/pagecache/pkg/utils"
)

const component = "kv"

// maxConflictRetries bounds retries of read-modify-write transactions.
const maxConflictRetries = 16

// Options configures a badger-backed Store.
type Options struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// SyncWrites makes every write durable before it returns.
	SyncWrites bool
	// Codec encodes pages before they are stored. Nil stores pages raw.
	Codec codec.Codec
	// GCInterval is how often value log garbage collection runs; zero disables it.
	GCInterval time.Duration
	Logger     *utils.StructuredLogger
}

// Store is a badger types.TempPageStore.
type Store struct {
	db     *badger.DB
	codec  codec.Codec
	logger *utils.StructuredLogger

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

var _ types.TempPageStore = (*Store)(nil)

// Open opens (or creates) the database.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, fmt.Errorf("kv page store requires a directory")
	}
	if opts.Codec == nil {
		opts.Codec = codec.None{}
	}
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}
	logger := opts.Logger.WithComponent(component)

	dbOpts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(badgerLogger{logger: logger})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{
		db:     db,
		codec:  opts.Codec,
		logger: logger,
		stop:   make(chan struct{}),
	}

	if opts.GCInterval > 0 && !opts.InMemory {
		s.wg.Add(1)
		go s.gcLoop(opts.GCInterval)
	}

	logger.Info("page store opened", map[string]interface{}{
		"dir":         opts.Dir,
		"in_memory":   opts.InMemory,
		"compression": s.codec.Name(),
	})
	return s, nil
}

func (s *Store) gcLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// Rewrite value log files until there is nothing left to reclaim.
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
					s.logger.Warn("value log gc failed", map[string]interface{}{"error": err.Error()})
				}
				break
			}
		}
	}
}

// Put stores page under id, replacing any previous version.
func (s *Store) Put(_ context.Context, id types.PageID, page []byte, isTemporary bool) error {
	if err := validate(id); err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("put")
	}

	data, err := s.codec.Encode(page)
	if err != nil {
		return pcerrors.StorageIO(err).WithComponent(component).WithOperation("put")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pageKey(id, isTemporary), data)
	})
	if err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return pcerrors.ResourceExhausted(id.String(), err).WithComponent(component).WithOperation("put")
		}
		return s.ioError("put", err)
	}
	return nil
}

// Get copies up to length bytes from offset into target.
func (s *Store) Get(_ context.Context, id types.PageID, offset, length int, target types.ReadTarget, isTemporary bool) (int, error) {
	if err := validate(id); err != nil {
		return 0, pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("get")
	}

	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(id, isTemporary))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			page, err := s.codec.Decode(val)
			if err != nil {
				return pcerrors.StorageIO(fmt.Errorf("corrupt page %s: %w", id, err))
			}
			n, err = types.CopyRange(page, offset, length, target)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, pcerrors.PageNotFound(id.String()).WithComponent(component).WithOperation("get")
		}
		var pe *pcerrors.PageCacheError
		if errors.As(err, &pe) {
			return n, pe.WithComponent(component).WithOperation("get")
		}
		return n, s.ioError("get", err)
	}
	return n, nil
}

// Delete removes a committed page.
func (s *Store) Delete(_ context.Context, id types.PageID) error {
	if err := validate(id); err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("delete")
	}

	key := pageKey(id, false)
	err := s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return pcerrors.PageNotFound(id.String()).WithComponent(component).WithOperation("delete")
		}
		return s.ioError("delete", err)
	}
	return nil
}

// Commit rewrites the temporary pages of fileID as committed pages of newFileID.
func (s *Store) Commit(_ context.Context, fileID, newFileID string) error {
	if err := validateFileID(fileID); err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("commit")
	}
	if err := validateFileID(newFileID); err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("commit")
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	moved := 0
	err := s.scan(filePrefix(fileID, true), true, func(key, val []byte) error {
		dst := pageKey(types.NewPageID(newFileID, pageIndex(key)), false)
		if err := wb.Set(dst, val); err != nil {
			return err
		}
		moved++
		return wb.Delete(key)
	})
	if err != nil {
		return s.ioError("commit", err)
	}
	if moved == 0 {
		return pcerrors.PageNotFound(fileID).WithComponent(component).WithOperation("commit")
	}
	if err := wb.Flush(); err != nil {
		return s.ioError("commit", err)
	}
	return nil
}

// Abort drops every temporary page of fileID.
func (s *Store) Abort(_ context.Context, fileID string) error {
	if err := validateFileID(fileID); err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("abort")
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	err := s.scan(filePrefix(fileID, true), false, func(key, _ []byte) error {
		return wb.Delete(key)
	})
	if err == nil {
		err = wb.Flush()
	}
	if err != nil {
		return s.ioError("abort", err)
	}
	return nil
}

// update runs a read-modify-write transaction, retrying when a concurrent
// writer touched a key it read.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt == maxConflictRetries {
			return err
		}
	}
}

// scan calls fn with a copy of every key (and value, when values is set)
// under prefix.
func (s *Store) scan(prefix []byte, values bool, fn func(key, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: values,
			PrefetchSize:   16,
			Prefix:         prefix,
		})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var val []byte
			if values {
				var err error
				if val, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops background garbage collection and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.closeErr = s.db.Close()
		s.logger.Info("page store closed")
	})
	return s.closeErr
}

func (s *Store) ioError(op string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return pcerrors.NewError(pcerrors.ErrCodeComponentStopped, "page store is closed").
			WithComponent(component).WithOperation(op).WithCause(err)
	}
	return pcerrors.StorageIO(err).WithComponent(component).WithOperation(op)
}

func validate(id types.PageID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return validateFileID(id.FileID)
}
