package types

import (
	"cmp"
	"fmt"
	"io"
	"time"
)

// PageID identifies one cache page: the owning file and the page index
// within that file. It is comparable and can be used as a map key.
type PageID struct {
	FileID    string `json:"file_id"`
	PageIndex int64  `json:"page_index"`
}

// NewPageID returns the identifier of page index within fileID.
func NewPageID(fileID string, index int64) PageID {
	return PageID{FileID: fileID, PageIndex: index}
}

// Compare orders page identifiers by file ID, then by page index.
func (p PageID) Compare(other PageID) int {
	if c := cmp.Compare(p.FileID, other.FileID); c != 0 {
		return c
	}
	return cmp.Compare(p.PageIndex, other.PageIndex)
}

// String returns fileID:index
func (p PageID) String() string {
	return fmt.Sprintf("%s:%d", p.FileID, p.PageIndex)
}

// Validate reports whether the identifier can address a page.
func (p PageID) Validate() error {
	if p.FileID == "" {
		return fmt.Errorf("page id %s: empty file id", p)
	}
	if p.PageIndex < 0 {
		return fmt.Errorf("page id %s: negative page index", p)
	}
	return nil
}

// ReadTarget is the destination of a page read. Implementations accept at
// most Remaining() bytes.
type ReadTarget interface {
	io.Writer
	Remaining() int
}

// ByteTarget is a ReadTarget backed by a caller-owned slice.
type ByteTarget struct {
	buf    []byte
	offset int
}

// NewByteTarget wraps buf; reads fill it from the start.
func NewByteTarget(buf []byte) *ByteTarget {
	return &ByteTarget{buf: buf}
}

// Write copies p into the unwritten tail of the buffer.
func (t *ByteTarget) Write(p []byte) (int, error) {
	if len(p) > t.Remaining() {
		return 0, io.ErrShortBuffer
	}
	n := copy(t.buf[t.offset:], p)
	t.offset += n
	return n, nil
}

// Remaining returns the number of bytes that can still be written.
func (t *ByteTarget) Remaining() int {
	return len(t.buf) - t.offset
}

// Offset returns the number of bytes written so far.
func (t *ByteTarget) Offset() int {
	return t.offset
}

// Bytes returns the written portion of the buffer.
func (t *ByteTarget) Bytes() []byte {
	return t.buf[:t.offset]
}

// Operation names a page store call for metrics and logging.
type Operation string

const (
	OpPut    Operation = "put"
	OpGet    Operation = "get"
	OpDelete Operation = "delete"
	OpCommit Operation = "commit"
	OpAbort  Operation = "abort"
)

// StoreStats is a point-in-time view of a time-bounded page store.
type StoreStats struct {
	Workers   int           `json:"workers"`
	Active    int           `json:"active"`
	Submitted uint64        `json:"submitted"`
	Completed uint64        `json:"completed"`
	Rejected  uint64        `json:"rejected"`
	TimedOut  uint64        `json:"timed_out"`
	Canceled  uint64        `json:"canceled"`
	Timeout   time.Duration `json:"timeout"`
}
