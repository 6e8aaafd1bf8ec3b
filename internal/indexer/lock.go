package indexer

import "sync/atomic"

// RebuildLock admits one rebuild at a time without blocking the caller.
type RebuildLock struct {
	state atomic.Int32 // 0 = idle, 1 = rebuilding
}

// TryAcquire reports whether the caller now holds the lock
func (l *RebuildLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release must only be called by the holder
func (l *RebuildLock) Release() {
	l.state.Store(0)
}

// Held reports whether a rebuild is running
func (l *RebuildLock) Held() bool {
	return l.state.Load() == 1
}
