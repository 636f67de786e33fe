/*
Package lock provides pair-scoped mutual exclusion for reaction toggles.

PURPOSE:
  Two concurrent toggles by the same actor on the same target must never
  interleave. The datastore transaction is the last line of defence; these
  lockers keep competing requests from even reaching it at the same time.

IMPLEMENTATIONS:
  Local: per-key mutex inside one process (default)
  Redis: SET NX PX with a token-checked release, for several instances
         sharing one datastore

USAGE:
  unlock, err := locker.Lock(ctx, "42|post/7")
  if err != nil {
      return err
  }
  defer unlock()
*/
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout is returned when the lock wasn't acquired before ctx expired.
var ErrLockTimeout = errors.New("lock: timed out waiting for pair lock")

// Locker acquires an exclusive lock on a key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PairKey builds the lock key for an (actor, target) pair.
func PairKey(actor, target string) string {
	return actor + "|" + target
}

// =============================================================================
// LOCAL LOCKER
// =============================================================================

// Local is an in-process Locker. Entries are reference counted and removed
// when the last holder or waiter leaves, so the map stays bounded by the
// number of pairs in flight.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
