package pipeline

import "sync"

// sessionLocks serializes turns per session. Two concurrent webhooks for the
// same session must not interleave their read-modify-write of the scam flag
// and persona lock; different sessions proceed in parallel.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session's lock is held. The returned func releases
// it; the entry is dropped once no goroutine holds or waits on it.
func (s *sessionLocks) acquire(session string) func() {
	s.mu.Lock()
	l, ok := s.locks[session]
	if !ok {
		l = &sessionLock{}
		s.locks[session] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, session)
		}
		s.mu.Unlock()
	}
}
