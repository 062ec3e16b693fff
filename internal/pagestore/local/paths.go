package local

import (
	"hash/fnv"
	"path/filepath"
	"strconv"

	"github.com/objectfs/pagecache/pkg/types"
	"github.com/objectfs/pagecache/pkg/utils"
)

// tempDirName holds temporary pages, outside the committed page tree.
const tempDirName = "TEMP"

// Layout:
//
//	<root>/<pageSize>/<bucket>/<fileID>/<pageIndex>   committed pages
//	<root>/TEMP/<pageSize>/<fileID>/<pageIndex>       temporary pages
type layout struct {
	root     string
	pageSize string
	buckets  uint32
}

func hashFileID(fileID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fileID))
	return h.Sum32()
}

func (l layout) bucket(fileID string) string {
	return strconv.FormatUint(uint64(hashFileID(fileID)%l.buckets), 10)
}

func (l layout) committedRoot() string {
	return filepath.Join(l.root, l.pageSize)
}

func (l layout) tempRoot() string {
	return filepath.Join(l.root, tempDirName, l.pageSize)
}

// fileDir returns the directory holding the pages of fileID.
func (l layout) fileDir(fileID string, temp bool) (string, error) {
	if err := utils.ValidateName(fileID); err != nil {
		return "", err
	}
	if temp {
		return utils.SecureJoin(l.tempRoot(), fileID)
	}
	return utils.SecureJoin(l.committedRoot(), l.bucket(fileID), fileID)
}

func (l layout) pagePath(id types.PageID, temp bool) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	dir, err := l.fileDir(id.FileID, temp)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, strconv.FormatInt(id.PageIndex, 10)), nil
}

// parsePagePath recovers the page ID from a committed page path.
func (l layout) parsePagePath(path string) (types.PageID, bool) {
	rel, err := filepath.Rel(l.committedRoot(), path)
	if err != nil {
		return types.PageID{}, false
	}
	// bucket/fileID/index
	dir, name := filepath.Split(rel)
	dir = filepath.Clean(dir)
	bucketDir, fileID := filepath.Split(dir)
	if fileID == "" || filepath.Clean(bucketDir) != l.bucket(fileID) {
		return types.PageID{}, false
	}
	index, err := strconv.ParseInt(name, 10, 64)
	if err != nil || index < 0 {
		return types.PageID{}, false
	}
	return types.NewPageID(fileID, index), true
}
