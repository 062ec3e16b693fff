package types

import (
	pcerrors "github.com/objectfs/pagecache/pkg/errors"
)

// CopyRange writes page[offset:] into target, bounded by length and by the
// target's remaining capacity, and returns the number of bytes written.
func CopyRange(page []byte, offset, length int, target ReadTarget) (int, error) {
	if offset < 0 || length < 0 {
		return 0, pcerrors.InvalidArgument("offset %d and length %d must be non-negative", offset, length)
	}
	if offset > len(page) {
		return 0, pcerrors.InvalidArgument("page offset %d exceeded page size %d", offset, len(page))
	}
	n := min(len(page)-offset, length, target.Remaining())
	if n == 0 {
		return 0, nil
	}
	return target.Write(page[offset : offset+n])
}
