// Package log wraps zap so the rest of the tree logs through one type.
package log

import (
	"go.uber.org/zap"
)

type Logger struct {
	*zap.SugaredLogger
}

func NewLogger() *Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return &Logger{logger.Sugar()}
}

// NewNop returns a Logger that discards everything, for tests that don't
// care about log output.
func NewNop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

func NewDevelopment() *Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return &Logger{logger.Sugar()}
}
