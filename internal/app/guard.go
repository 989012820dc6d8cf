package app

import (
	"fmt"
	"runtime/debug"

	"droneaid/internal/logger"
)

// guarded turns a panic in an errgroup worker into an error, so the group
// cancels its siblings and Run returns instead of the process dying.
func guarded(name string, log *logger.Logger, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("%s panicked: %v\n%s", name, r, debug.Stack())
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		return fn()
	}
}
