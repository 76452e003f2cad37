package internal

import (
	"log"
	"os"
)

const logPrefix = "mercuryhooks"

// NewLogger returns a stdout logger prefixed with the component name.
func NewLogger(component string) *log.Logger {
	prefix := logPrefix
	if component != "" {
		prefix = prefix + "/" + component
	}
	return log.New(os.Stdout, prefix+" ", log.LstdFlags|log.Lmicroseconds)
}

// WithRequestID derives a logger that tags every line with the request id.
func WithRequestID(logger *log.Logger, requestID string) *log.Logger {
	if logger == nil {
		logger = NewLogger("")
	}
	if requestID == "" {
		return logger
	}
	return log.New(logger.Writer(), logger.Prefix()+"request_id="+requestID+" ", logger.Flags())
}
