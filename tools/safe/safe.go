package safe

import (
	"reflect"

	"TProject/logger"
	"TProject/tools/errs"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required fields during struct initialization.
func MustNotNil(v any, name string) {
	if v == nil || reflect.ValueOf(v).IsNil() {
		panic(name + " must not be nil")
	}
}

// Go starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("goroutine panic recovered: %v", errs.ErrPanic(r))
			}
		}()
		f()
	}()
}
