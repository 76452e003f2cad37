package worker

import "mercuryhooks/internal"

type Logger interface {
	Printf(format string, args ...interface{})
}

var defaultWorkerLogger Logger = internal.NewLogger("worker")
