package kv

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/objectfs/pagecache/pkg/types"
)

// Key layout: kind(1) | fileID | 0x00 | pageIndex(8, big endian).
// Big-endian indexes keep the pages of a file in order under a prefix scan.
const (
	kindCommitted byte = 'p'
	kindTemporary byte = 't'
	separator     byte = 0x00
)

func kindOf(temp bool) byte {
	if temp {
		return kindTemporary
	}
	return kindCommitted
}

func validateFileID(fileID string) error {
	if fileID == "" {
		return fmt.Errorf("file ID cannot be empty")
	}
	if strings.IndexByte(fileID, separator) >= 0 {
		return fmt.Errorf("file ID %q contains a NUL byte", fileID)
	}
	return nil
}

func filePrefix(fileID string, temp bool) []byte {
	key := make([]byte, 0, len(fileID)+2)
	key = append(key, kindOf(temp))
	key = append(key, fileID...)
	return append(key, separator)
}

func pageKey(id types.PageID, temp bool) []byte {
	key := filePrefix(id.FileID, temp)
	return binary.BigEndian.AppendUint64(key, uint64(id.PageIndex))
}

// pageIndex extracts the page index from a key produced by pageKey.
func pageIndex(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]))
}
