// Package memory keeps pages in process memory. It is the lightest backend
// and the one most tests run against.
package memory

import (
	"context"
	"sync"

	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/types"
	"github.com/objectfs/pagecache/pkg/utils"
)

const component = "memory"

type pageKey struct {
	id   types.PageID
	temp bool
}

// Store is an in-memory types.TempPageStore.
type Store struct {
	mu     sync.RWMutex
	pages  map[pageKey][]byte
	bytes  int64
	closed bool
	logger *utils.StructuredLogger
}

var _ types.TempPageStore = (*Store)(nil)

// New returns an empty store. A nil logger discards output.
func New(logger *utils.StructuredLogger) *Store {
	if logger == nil {
		logger = utils.NopLogger()
	}
	s := &Store{
		pages:  make(map[pageKey][]byte),
		logger: logger.WithComponent(component),
	}
	s.logger.Info("page store opened")
	return s
}

// Put stores a copy of page.
func (s *Store) Put(_ context.Context, id types.PageID, page []byte, isTemporary bool) error {
	if err := id.Validate(); err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("put")
	}

	data := make([]byte, len(page))
	copy(data, page)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stopped("put")
	}

	key := pageKey{id: id, temp: isTemporary}
	s.bytes += int64(len(data)) - int64(len(s.pages[key]))
	s.pages[key] = data
	return nil
}

// Get copies up to length bytes starting at offset into target.
func (s *Store) Get(_ context.Context, id types.PageID, offset, length int, target types.ReadTarget, isTemporary bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, stopped("get")
	}

	page, ok := s.pages[pageKey{id: id, temp: isTemporary}]
	if !ok {
		return 0, pcerrors.PageNotFound(id.String()).WithComponent(component).WithOperation("get")
	}
	return types.CopyRange(page, offset, length, target)
}

// Delete removes a committed page.
func (s *Store) Delete(_ context.Context, id types.PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stopped("delete")
	}

	key := pageKey{id: id}
	page, ok := s.pages[key]
	if !ok {
		return pcerrors.PageNotFound(id.String()).WithComponent(component).WithOperation("delete")
	}
	s.bytes -= int64(len(page))
	delete(s.pages, key)
	return nil
}

// Commit moves every temporary page of fileID to newFileID as committed pages.
func (s *Store) Commit(_ context.Context, fileID, newFileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stopped("commit")
	}

	moved := 0
	for key, page := range s.pages {
		if !key.temp || key.id.FileID != fileID {
			continue
		}
		delete(s.pages, key)
		committed := pageKey{id: types.NewPageID(newFileID, key.id.PageIndex)}
		s.bytes -= int64(len(s.pages[committed]))
		s.pages[committed] = page
		moved++
	}
	if moved == 0 {
		return pcerrors.PageNotFound(fileID).WithComponent(component).WithOperation("commit")
	}
	return nil
}

// Abort drops every temporary page of fileID.
func (s *Store) Abort(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stopped("abort")
	}

	for key, page := range s.pages {
		if key.temp && key.id.FileID == fileID {
			s.bytes -= int64(len(page))
			delete(s.pages, key)
		}
	}
	return nil
}

// pageCount returns the number of stored pages, temporary ones included.
func (s *Store) pageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

// storedBytes returns the total size of stored pages.
func (s *Store) storedBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// Close releases all pages. Calling Close twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("page store closed", map[string]interface{}{
		"pages_released": len(s.pages),
		"bytes_released": s.bytes,
	})
	s.pages = nil
	s.bytes = 0
	return nil
}

func stopped(op string) error {
	return pcerrors.NewError(pcerrors.ErrCodeComponentStopped, "page store is closed").
		WithComponent(component).
		WithOperation(op)
}
