package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// PanicError is a recovered panic turned into an error.
type PanicError struct {
	Name  string
	Value any
	Stack string
}

// Error implements the error interface
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Name, e.Value)
}

// Recover recovers from panics in goroutines and logs them.
// If logger is nil, falls back to stderr so the panic is still recorded.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, r, stack(), logger)
	}
}

// RecoverError recovers a panic, logs it and stores a *PanicError in errp.
// It must be deferred directly.
func RecoverError(name string, logger *zap.SugaredLogger, errp *error) {
	if r := recover(); r != nil {
		st := stack()
		logPanic(name, r, st, logger)
		if errp != nil {
			*errp = &PanicError{Name: name, Value: r, Stack: st}
		}
	}
}

func stack() string {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

func logPanic(name string, r any, st string, logger *zap.SugaredLogger) {
	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", st)
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, st)
}
