//go:build !lockdebug

package lock

import "sync"

type internalRWMutex struct {
	sync.RWMutex
}
