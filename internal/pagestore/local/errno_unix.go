//go:build unix

package local

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isNoSpace reports whether err means the device or quota is full.
func isNoSpace(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT)
}
