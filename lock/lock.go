// Package lock provides the mutex used by nattable. Builds tagged
// lockdebug swap it for a deadlock-detecting implementation.
package lock

// RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	internalRWMutex
}
