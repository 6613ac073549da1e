package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack. It must be called
// directly in a defer statement:
//
//	func (s *Scheduler) tick() {
//	    defer observability.RecoverPanic(s.logger, "rollup tick")
//	    ...
//	}
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverPanicWithCallback is RecoverPanic that also runs callback when a panic was
// recovered, for example to write an error response.
func RecoverPanicWithCallback(logger *Logger, where string, callback func(recovered interface{})) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		if callback != nil {
			callback(r)
		}
	}
}

func logPanic(logger *Logger, where string, r interface{}) {
	logger.WithFields(map[string]interface{}{
		"panic":   r,
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
