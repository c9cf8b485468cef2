package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout, all under the "decoy:" namespace:
//
//	decoy:sessions                   SET of session ids
//	decoy:scams                      SET of sessions flagged as scams
//	decoy:sess:{id}:messages         LIST of JSON-encoded messages
//	decoy:sess:{id}:persona          STRING, written once with SETNX
//	decoy:sess:{id}:turns            STRING counter of inbound messages
//	decoy:ident:{value}              SET of sessions that produced the value
//	decoy:idents                     SET of all identifier values seen

const redisPrefix = "decoy:"

// RedisStore is the Store backend over Redis. Session state survives process
// restarts, and identifier sets give cross-session overlap without scans.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the given Redis URL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Printf("[STORE] Redis store connected: %s", opts.Addr)
	return &RedisStore{client: client, ttl: ttl}, nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func sessKey(session, field string) string {
	return redisPrefix + "sess:" + session + ":" + field
}

func (s *RedisStore) touch(ctx context.Context, pipe redis.Pipeliner, session string) {
	pipe.SAdd(ctx, redisPrefix+"sessions", session)
	if s.ttl > 0 {
		for _, field := range []string{"messages", "persona", "turns"} {
			pipe.Expire(ctx, sessKey(session, field), s.ttl)
		}
	}
}

// AppendMessage pushes one JSON-encoded message onto the session's list.
func (s *RedisStore) AppendMessage(ctx context.Context, session, role, text string) error {
	payload, err := json.Marshal(Message{Role: role, Text: text, At: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, sessKey(session, "messages"), payload)
	if role == "user" {
		pipe.Incr(ctx, sessKey(session, "turns"))
	}
	s.touch(ctx, pipe, session)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Context returns the last n messages, oldest to newest.
func (s *RedisStore) Context(ctx context.Context, session string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, sessKey(session, "messages"), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read context: %w", err)
	}
	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// MarkScam adds the session to the scam set. SADD is naturally idempotent, so
// the flag is monotonic.
func (s *RedisStore) MarkScam(ctx context.Context, session string) error {
	if err := s.client.SAdd(ctx, redisPrefix+"scams", session).Err(); err != nil {
		return fmt.Errorf("failed to mark scam: %w", err)
	}
	return nil
}

// IsScam reports membership in the scam set.
func (s *RedisStore) IsScam(ctx context.Context, session string) (bool, error) {
	flagged, err := s.client.SIsMember(ctx, redisPrefix+"scams", session).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read scam flag: %w", err)
	}
	return flagged, nil
}

// LockPersona writes the persona with SETNX so the first writer wins.
func (s *RedisStore) LockPersona(ctx context.Context, session, persona string) error {
	if persona == "" {
		return nil
	}
	if err := s.client.SetNX(ctx, sessKey(session, "persona"), persona, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to lock persona: %w", err)
	}
	return nil
}

// Persona returns the locked persona, or "" when none is set.
func (s *RedisStore) Persona(ctx context.Context, session string) (string, error) {
	persona, err := s.client.Get(ctx, sessKey(session, "persona")).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read persona: %w", err)
	}
	return persona, nil
}

// TurnCount reads the inbound message counter.
func (s *RedisStore) TurnCount(ctx context.Context, session string) (int, error) {
	count, err := s.client.Get(ctx, sessKey(session, "turns")).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read turn count: %w", err)
	}
	return count, nil
}

// RecordIdentifiers adds the session to each identifier's set.
func (s *RedisStore) RecordIdentifiers(ctx context.Context, session string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, v := range values {
		if v == "" {
			continue
		}
		pipe.SAdd(ctx, redisPrefix+"ident:"+v, session)
		pipe.SAdd(ctx, redisPrefix+"idents", v)
	}
	s.touch(ctx, pipe, session)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record identifiers: %w", err)
	}
	return nil
}

// IdentifierOverlap walks the identifier sets and keeps values shared by at
// least two sessions.
func (s *RedisStore) IdentifierOverlap(ctx context.Context) (map[string][]string, error) {
	values, err := s.client.SMembers(ctx, redisPrefix+"idents").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list identifiers: %w", err)
	}

	overlap := make(map[string][]string)
	for _, v := range values {
		sessions, err := s.client.SMembers(ctx, redisPrefix+"ident:"+v).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read identifier sessions: %w", err)
		}
		if len(sessions) < 2 {
			continue
		}
		sort.Strings(sessions)
		overlap[v] = sessions
	}
	return overlap, nil
}

// Summary returns totals for the admin surface.
func (s *RedisStore) Summary(ctx context.Context) (Summary, error) {
	var sum Summary

	total, err := s.client.SCard(ctx, redisPrefix+"sessions").Result()
	if err != nil {
		return sum, fmt.Errorf("failed to count sessions: %w", err)
	}
	sum.TotalSessions = int(total)

	scams, err := s.client.SCard(ctx, redisPrefix+"scams").Result()
	if err != nil {
		return sum, fmt.Errorf("failed to count scams: %w", err)
	}
	sum.ScamsDetected = int(scams)

	values, err := s.client.SMembers(ctx, redisPrefix+"idents").Result()
	if err != nil {
		return sum, fmt.Errorf("failed to list identifiers: %w", err)
	}
	counts := make(map[string]int, len(values))
	for _, v := range values {
		n, err := s.client.SCard(ctx, redisPrefix+"ident:"+v).Result()
		if err != nil {
			return sum, fmt.Errorf("failed to count identifier sessions: %w", err)
		}
		counts[v] = int(n)
	}
	sum.TopIdentifiers = topIdentifiers(counts, 10)
	return sum, nil
}
