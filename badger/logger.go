package badger

import (
	"fmt"
	"strings"

	"github.com/velmie/beacon"
)

// badgerLogger adapts beacon.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger beacon.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(message(format, args))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(message(format, args))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(message(format, args))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(message(format, args))
}

func message(format string, args []any) string {
	return "badger: " + strings.TrimSpace(fmt.Sprintf(format, args...))
}
