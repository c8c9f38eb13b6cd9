//go:build lockdebug

package lock

import (
	"os"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
	log "github.com/sirupsen/logrus"
)

const (
	// selfishTimeout is how long a lock may be held before the
	// holder is reported.
	selfishTimeout = 100 * time.Millisecond
)

func init() {
	deadlock.Opts.DeadlockTimeout = selfishTimeout
	deadlock.Opts.LogBuf = os.Stderr
	deadlock.Opts.OnPotentialDeadlock = func() {
		log.Panic("Potential deadlock detected")
	}
}

type internalRWMutex struct {
	deadlock.RWMutex
}
