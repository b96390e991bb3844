package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// Call it in a defer statement at the top of goroutines and scheduled jobs.
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}
