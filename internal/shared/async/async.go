// Package async provides a goroutine launcher that recovers panics and
// logs them instead of crashing the daemon, matching the async.Go call
// sites relied on throughout the bootstrap sequence.
package async

import (
	"fmt"
	"runtime/debug"

	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// Go launches fn in a new goroutine. Panics are recovered and logged
// under the given name via logger; they are never propagated.
func Go(logger logging.Logger, name string, fn func()) {
	logger = logging.OrNop(logger)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in %s: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}

// GoErr is like Go but fn can report an error, delivered to errCh
// (which must be buffered by at least 1 or drained promptly).
func GoErr(logger logging.Logger, name string, errCh chan<- error, fn func() error) {
	logger = logging.OrNop(logger)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("panic in %s: %v", name, r)
			}
		}()
		if err := fn(); err != nil {
			errCh <- err
		}
	}()
}
