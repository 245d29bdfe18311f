// Package guard switches binaries into test mode when imported by a test, so
// calling main() returns before any database or Redis connection is made.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("AMTRADING_TEST_MODE") == "" {
			_ = os.Setenv("AMTRADING_TEST_MODE", "1")
		}
	})
}
