// Package local stores pages as files on local media.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/objectfs/pagecache/internal/pagestore/codec"
	pcerrors "github.com/objectfs/pagecache/pkg/errors"
	"github.com/objectfs/pagecache/pkg/types"
	"github.com/objectfs/pagecache/pkg/utils"
)

const component = "local"

// dirLockStripes is the number of locks guarding file directories.
const dirLockStripes = 64

// Options configures a local Store.
type Options struct {
	// Root is the cache directory.
	Root string
	// PageSize names the page tree; pages of different sizes never share a tree.
	PageSize int64
	// FileBuckets spreads file directories to keep directory sizes bounded.
	FileBuckets int
	// Codec encodes pages on disk. Nil stores pages raw.
	Codec codec.Codec
	// WriteRateLimit caps written bytes per second; zero is unlimited.
	WriteRateLimit int64
	// SyncWrites fsyncs each page before it becomes visible.
	SyncWrites bool
	Logger     *utils.StructuredLogger
}

// Store is a filesystem types.TempPageStore. Each page is written to a temp
// file and renamed into place, so readers never observe a partial page.
type Store struct {
	layout  layout
	codec   codec.Codec
	limiter *rate.Limiter
	sync    bool
	closed  atomic.Bool
	logger  *utils.StructuredLogger

	// dirLocks serialise removal of a file directory against writers
	// creating pages inside it. Writers share the lock.
	dirLocks [dirLockStripes]sync.RWMutex
}

var _ types.TempPageStore = (*Store)(nil)

// Open prepares the directory tree under opts.Root. Temporary pages left by
// a previous process are discarded.
func Open(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("local page store requires a root directory")
	}
	if opts.PageSize <= 0 {
		return nil, fmt.Errorf("invalid page size: %d", opts.PageSize)
	}
	if opts.FileBuckets <= 0 {
		return nil, fmt.Errorf("invalid file bucket count: %d", opts.FileBuckets)
	}
	if opts.Codec == nil {
		opts.Codec = codec.None{}
	}
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}

	s := &Store{
		layout: layout{
			root:     filepath.Clean(opts.Root),
			pageSize: strconv.FormatInt(opts.PageSize, 10),
			buckets:  uint32(opts.FileBuckets),
		},
		codec:  opts.Codec,
		sync:   opts.SyncWrites,
		logger: opts.Logger.WithComponent(component),
	}

	if opts.WriteRateLimit > 0 {
		burst := opts.WriteRateLimit
		if burst < opts.PageSize {
			burst = opts.PageSize
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.WriteRateLimit), int(burst))
	}

	if err := os.RemoveAll(s.layout.tempRoot()); err != nil {
		return nil, fmt.Errorf("failed to clear temporary pages: %w", err)
	}
	for _, dir := range []string{s.layout.committedRoot(), s.layout.tempRoot()} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create page directory: %w", err)
		}
	}

	var pages, stored int64
	err := s.Scan(context.Background(), func(info PageInfo) error {
		pages++
		stored += info.Size
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing pages: %w", err)
	}

	s.logger.Info("page store opened", map[string]interface{}{
		"root":         s.layout.root,
		"page_size":    opts.PageSize,
		"buckets":      opts.FileBuckets,
		"compression":  s.codec.Name(),
		"pages":        pages,
		"stored_bytes": stored,
	})
	return s, nil
}

// Put writes page atomically, replacing any previous version.
func (s *Store) Put(ctx context.Context, id types.PageID, page []byte, isTemporary bool) error {
	if s.closed.Load() {
		return stopped("put")
	}
	path, err := s.layout.pagePath(id, isTemporary)
	if err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("put")
	}

	if err := s.waitWrite(ctx, len(page)); err != nil {
		return err
	}

	data, err := s.codec.Encode(page)
	if err != nil {
		return pcerrors.StorageIO(err).WithComponent(component).WithOperation("put")
	}

	lock := s.dirLock(id.FileID)
	lock.RLock()
	err = s.writeFile(path, data)
	lock.RUnlock()
	if err != nil {
		if isNoSpace(err) {
			return pcerrors.ResourceExhausted(id.String(), err).WithComponent(component).WithOperation("put")
		}
		return pcerrors.StorageIO(err).WithComponent(component).WithOperation("put")
	}
	return nil
}

func (s *Store) dirLock(fileID string) *sync.RWMutex {
	return &s.dirLocks[hashFileID(fileID)%dirLockStripes]
}

// waitWrite blocks until the limiter admits n bytes, in burst-sized steps.
func (s *Store) waitWrite(ctx context.Context, n int) error {
	if s.limiter == nil {
		return nil
	}
	burst := s.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := s.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

func (s *Store) writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".page-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if s.sync {
		if err := tmp.Sync(); err != nil {
			cleanup()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Get copies up to length bytes from offset into target.
func (s *Store) Get(_ context.Context, id types.PageID, offset, length int, target types.ReadTarget, isTemporary bool) (int, error) {
	if s.closed.Load() {
		return 0, stopped("get")
	}
	path, err := s.layout.pagePath(id, isTemporary)
	if err != nil {
		return 0, pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("get")
	}

	if _, raw := s.codec.(codec.None); raw {
		return s.readRange(id, path, offset, length, target)
	}

	stored, err := os.ReadFile(path)
	if err != nil {
		return 0, s.readError(id, err)
	}
	page, err := s.codec.Decode(stored)
	if err != nil {
		return 0, pcerrors.StorageIO(fmt.Errorf("corrupt page %s: %w", id, err)).
			WithComponent(component).WithOperation("get")
	}
	return types.CopyRange(page, offset, length, target)
}

// readRange reads only the requested span of an uncompressed page.
func (s *Store) readRange(id types.PageID, path string, offset, length int, target types.ReadTarget) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, s.readError(id, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, s.readError(id, err)
	}
	size := int(info.Size())
	if offset < 0 || length < 0 || offset > size {
		return 0, pcerrors.InvalidArgument("offset %d out of range for page %s of %d bytes", offset, id, size).
			WithComponent(component).WithOperation("get")
	}

	n := min(size-offset, length, target.Remaining())
	if n == 0 {
		return 0, nil
	}
	copied, err := io.Copy(target, io.NewSectionReader(f, int64(offset), int64(n)))
	if err != nil {
		return int(copied), pcerrors.StorageIO(err).WithComponent(component).WithOperation("get")
	}
	return int(copied), nil
}

func (s *Store) readError(id types.PageID, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return pcerrors.PageNotFound(id.String()).WithComponent(component).WithOperation("get").WithCause(err)
	}
	return pcerrors.StorageIO(err).WithComponent(component).WithOperation("get")
}

// Delete removes a committed page and prunes its file directory once empty.
func (s *Store) Delete(_ context.Context, id types.PageID) error {
	if s.closed.Load() {
		return stopped("delete")
	}
	path, err := s.layout.pagePath(id, false)
	if err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("delete")
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pcerrors.PageNotFound(id.String()).WithComponent(component).WithOperation("delete").WithCause(err)
		}
		return pcerrors.StorageIO(err).WithComponent(component).WithOperation("delete")
	}

	// Fails while other pages remain, which is the expected case.
	lock := s.dirLock(id.FileID)
	lock.Lock()
	_ = os.Remove(filepath.Dir(path))
	lock.Unlock()
	return nil
}

// Commit turns the temporary pages of fileID into committed pages of newFileID.
func (s *Store) Commit(_ context.Context, fileID, newFileID string) error {
	if s.closed.Load() {
		return stopped("commit")
	}
	src, err := s.layout.fileDir(fileID, true)
	if err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("commit")
	}
	dst, err := s.layout.fileDir(newFileID, false)
	if err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("commit")
	}

	unlock := s.lockFiles(fileID, newFileID)
	defer unlock()

	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return pcerrors.PageNotFound(fileID).WithComponent(component).WithOperation("commit").WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return pcerrors.StorageIO(err).WithComponent(component).WithOperation("commit")
	}
	if err := os.Rename(src, dst); err != nil {
		return pcerrors.StorageIO(err).WithComponent(component).WithOperation("commit")
	}
	return nil
}

// Abort discards the temporary pages of fileID. Aborting an unknown file is a no-op.
func (s *Store) Abort(_ context.Context, fileID string) error {
	if s.closed.Load() {
		return stopped("abort")
	}
	dir, err := s.layout.fileDir(fileID, true)
	if err != nil {
		return pcerrors.InvalidArgument("%v", err).WithComponent(component).WithOperation("abort")
	}
	lock := s.dirLock(fileID)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return pcerrors.StorageIO(err).WithComponent(component).WithOperation("abort")
	}
	return nil
}

// lockFiles takes the directory locks of both file IDs in stripe order.
func (s *Store) lockFiles(a, b string) func() {
	i, j := hashFileID(a)%dirLockStripes, hashFileID(b)%dirLockStripes
	if i > j {
		i, j = j, i
	}
	s.dirLocks[i].Lock()
	if i == j {
		return s.dirLocks[i].Unlock
	}
	s.dirLocks[j].Lock()
	return func() {
		s.dirLocks[j].Unlock()
		s.dirLocks[i].Unlock()
	}
}

// PageInfo describes a committed page found on disk.
type PageInfo struct {
	ID   types.PageID
	Size int64
}

// Scan walks the committed page tree and calls fn for every page, so a cache
// can rebuild its index after a restart. Unrecognized files are skipped.
func (s *Store) Scan(ctx context.Context, fn func(PageInfo) error) error {
	return filepath.WalkDir(s.layout.committedRoot(), func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		id, ok := s.layout.parsePagePath(path)
		if !ok {
			s.logger.Debug("skipping unrecognized file", map[string]interface{}{"path": path})
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		return fn(PageInfo{ID: id, Size: info.Size()})
	})
}

// Close marks the store closed. Pages stay on disk.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.logger.Info("page store closed")
	return nil
}

func stopped(op string) error {
	return pcerrors.NewError(pcerrors.ErrCodeComponentStopped, "page store is closed").
		WithComponent(component).
		WithOperation(op)
}
