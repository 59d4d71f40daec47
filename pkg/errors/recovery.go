package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic value into a fatal error carrying
// the stack trace. The ingestion loop must survive any single bad frame, so
// pipeline workers recover and log instead of crashing the process.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	return ErrInternal.WithCause(fmt.Errorf("%w\n%s", err, debug.Stack())).AsFatal()
}
