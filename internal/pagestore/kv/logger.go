package kv

import (
	"fmt"
	"strings"

	"github.com/objectfs/pagecache/pkg/utils"
)

// badgerLogger routes badger's internal logging into the structured logger.
// Badger is chatty at info level, so its info lines are demoted to debug.
type badgerLogger struct {
	logger *utils.StructuredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(trim(format, args))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(trim(format, args))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(trim(format, args))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace(trim(format, args))
}

func trim(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
