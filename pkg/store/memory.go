package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memorySession holds one session's state.
type memorySession struct {
	messages    []Message
	scam        bool
	persona     string
	turns       int
	identifiers map[string]struct{}
	lastSeen    time.Time
}

// MemoryStore is the in-process Store backend. It is the default when neither
// Redis nor Postgres is configured, and the workhorse of the test suite.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL sets how long idle sessions are kept before the cleanup pass
// removes them. Zero disables expiry.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.ttl = ttl
	}
}

// NewMemoryStore creates an in-memory store. With a nonzero TTL a background
// goroutine evicts idle sessions; call Close to stop it.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*memorySession),
		ttl:      24 * time.Hour,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl > 0 {
		go s.cleanupLoop()
	}
	return s
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.ttl)
	for key, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// session returns the named session, creating it if needed. Caller holds the
// write lock.
func (s *MemoryStore) session(key string) *memorySession {
	sess, ok := s.sessions[key]
	if !ok {
		sess = &memorySession{identifiers: make(map[string]struct{})}
		s.sessions[key] = sess
	}
	sess.lastSeen = time.Now()
	return sess
}

// AppendMessage appends one message to the session log.
func (s *MemoryStore) AppendMessage(ctx context.Context, session, role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(session)
	sess.messages = append(sess.messages, Message{Role: role, Text: text, At: time.Now()})
	if role == "user" {
		sess.turns++
	}
	return nil
}

// Context returns the last n messages, oldest to newest.
func (s *MemoryStore) Context(ctx context.Context, session string, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[session]
	if !ok || n <= 0 {
		return nil, nil
	}
	msgs := sess.messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// MarkScam sets the monotonic scam flag.
func (s *MemoryStore) MarkScam(ctx context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(session).scam = true
	return nil
}

// IsScam reports the scam flag.
func (s *MemoryStore) IsScam(ctx context.Context, session string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[session]
	if !ok {
		return false, nil
	}
	return sess.scam, nil
}

// LockPersona records the persona once; later calls are ignored.
func (s *MemoryStore) LockPersona(ctx context.Context, session, persona string) error {
	if persona == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(session)
	if sess.persona == "" {
		sess.persona = persona
	}
	return nil
}

// Persona returns the locked persona or "".
func (s *MemoryStore) Persona(ctx context.Context, session string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[session]
	if !ok {
		return "", nil
	}
	return sess.persona, nil
}

// TurnCount returns the number of inbound messages persisted so far.
func (s *MemoryStore) TurnCount(ctx context.Context, session string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[session]
	if !ok {
		return 0, nil
	}
	return sess.turns, nil
}

// RecordIdentifiers records identifier occurrences for the session.
func (s *MemoryStore) RecordIdentifiers(ctx context.Context, session string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(session)
	for _, v := range values {
		if v != "" {
			sess.identifiers[v] = struct{}{}
		}
	}
	return nil
}

// IdentifierOverlap returns identifiers seen in at least two distinct
// sessions, mapped to the sessions that produced them.
func (s *MemoryStore) IdentifierOverlap(ctx context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySessions := make(map[string][]string)
	for key, sess := range s.sessions {
		for v := range sess.identifiers {
			bySessions[v] = append(bySessions[v], key)
		}
	}

	overlap := make(map[string][]string)
	for v, keys := range bySessions {
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)
		overlap[v] = keys
	}
	return overlap, nil
}

// Summary returns totals plus the top identifiers by session count.
func (s *MemoryStore) Summary(ctx context.Context) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{TotalSessions: len(s.sessions)}
	counts := make(map[string]int)
	for _, sess := range s.sessions {
		if sess.scam {
			sum.ScamsDetected++
		}
		for v := range sess.identifiers {
			counts[v]++
		}
	}
	sum.TopIdentifiers = topIdentifiers(counts, 10)
	return sum, nil
}

// topIdentifiers returns the n most-shared identifiers, ties broken by value.
func topIdentifiers(counts map[string]int, n int) []IdentifierCount {
	out := make([]IdentifierCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, IdentifierCount{Value: v, Sessions: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sessions != out[j].Sessions {
			return out[i].Sessions > out[j].Sessions
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
