// Package lock provides mutexes with deadlock detection enabled.
// go-deadlock mutexes are drop-in replacements for sync and report
// lock-order inversions and long lock waits at runtime.
package lock

import (
	"github.com/sasha-s/go-deadlock"
)

type Mutex = deadlock.Mutex

type RWMutex = deadlock.RWMutex
