package server

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// RPCLogger adapts zap to the jsonrpc2 logger.
type RPCLogger struct {
	logger *zap.Logger
}

func NewRPCLogger(logger *zap.Logger) *RPCLogger {
	return &RPCLogger{
		logger,
	}
}

func (l *RPCLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
