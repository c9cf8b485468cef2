// Package store defines the session store contract and its backends.
// The store is the source of truth for conversation history, the monotonic
// scam flag, the locked persona, and cross-session identifier overlap.
package store

import (
	"context"
	"time"
)

// Message is one persisted conversation turn.
type Message struct {
	Role string    `json:"role"` // "user" (scammer) or "assistant" (decoy)
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Summary is the admin rollup of stored activity.
type Summary struct {
	TotalSessions  int               `json:"total_sessions"`
	ScamsDetected  int               `json:"scams_detected"`
	TopIdentifiers []IdentifierCount `json:"top_identifiers"`
}

// IdentifierCount pairs an identifier value with the number of distinct
// sessions it appeared in.
type IdentifierCount struct {
	Value    string `json:"value"`
	Sessions int    `json:"sessions"`
}

// Store is the session store collaborator contract.
type Store interface {
	// AppendMessage appends one message to the session's ordered log.
	// Sessions are created implicitly on first append.
	AppendMessage(ctx context.Context, session, role, text string) error

	// Context returns the last n messages, oldest to newest, for prompt
	// construction.
	Context(ctx context.Context, session string, n int) ([]Message, error)

	// MarkScam sets the session's scam flag. Monotonic and idempotent:
	// setting an already-true flag is a no-op, and nothing ever clears it.
	MarkScam(ctx context.Context, session string) error

	// IsScam reports the persisted scam flag.
	IsScam(ctx context.Context, session string) (bool, error)

	// LockPersona records the session's persona. Set-once: later calls with a
	// different persona are ignored, mirroring the scam flag's monotonicity.
	LockPersona(ctx context.Context, session, persona string) error

	// Persona returns the locked persona, or "" when none is locked.
	Persona(ctx context.Context, session string) (string, error)

	// TurnCount returns the number of inbound (scammer) messages persisted
	// for the session. The store, not in-memory state, is the source of truth.
	TurnCount(ctx context.Context, session string) (int, error)

	// RecordIdentifiers records identifier occurrences for the session.
	RecordIdentifiers(ctx context.Context, session string, values []string) error

	// IdentifierOverlap returns identifier value -> distinct sessions, keeping
	// only identifiers shared by at least two sessions (syndicate links).
	IdentifierOverlap(ctx context.Context) (map[string][]string, error)

	// Summary returns totals for the admin surface.
	Summary(ctx context.Context) (Summary, error)
}
