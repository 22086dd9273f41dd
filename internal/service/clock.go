// Package service provides the alerting pipeline: evaluation, flood control,
// escalation, rendering, dispatch and auto-resolution.
package service

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now() }

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock locks key and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
