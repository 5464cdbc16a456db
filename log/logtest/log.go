// Package logtest provides loggers for tests.
package logtest

import (
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

const testLogLevel = "TEST_LOG_LEVEL"

// New creates a logger writing through testing.TB.Log. Unless a level is given, the
// level is read from the TEST_LOG_LEVEL environment variable, and nothing is logged if
// it isn't set.
func New(tb testing.TB, override ...zapcore.Level) *zap.Logger {
	var level zapcore.Level
	if len(override) > 0 {
		level = override[0]
	} else {
		lvl := os.Getenv(testLogLevel)
		if len(lvl) == 0 {
			return zap.NewNop()
		}
		if err := level.Set(lvl); err != nil {
			panic(err)
		}
	}
	return zaptest.NewLogger(tb, zaptest.Level(level))
}
