package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Store backend over Postgres, for deployments that want
// durable history and SQL access to the collected identifiers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	scam       BOOLEAN NOT NULL DEFAULT FALSE,
	persona    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	role       TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS messages_session_idx ON messages (session_id, id);

CREATE TABLE IF NOT EXISTS identifiers (
	value      TEXT NOT NULL,
	session_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (value, session_id)
);
`

// NewPostgresStore connects to Postgres and bootstraps the schema.
func NewPostgresStore(ctx context.Context, postgresURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	log.Printf("[STORE] Postgres store connected")
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ensureSession(ctx context.Context, session string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id) VALUES ($1) ON CONFLICT (session_id) DO NOTHING`,
		session)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}

// AppendMessage inserts one message row.
func (s *PostgresStore) AppendMessage(ctx context.Context, session, role, text string) error {
	if err := s.ensureSession(ctx, session); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (session_id, role, text) VALUES ($1, $2, $3)`,
		session, role, text)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Context returns the last n messages, oldest to newest.
func (s *PostgresStore) Context(ctx context.Context, session string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT role, text, created_at FROM (
			SELECT id, role, text, created_at FROM messages
			WHERE session_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`,
		session, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read context: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Text, &m.At); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkScam sets the scam flag. The update never writes FALSE, so the flag is
// monotonic at the SQL level too.
func (s *PostgresStore) MarkScam(ctx context.Context, session string) error {
	if err := s.ensureSession(ctx, session); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET scam = TRUE WHERE session_id = $1`, session)
	if err != nil {
		return fmt.Errorf("failed to mark scam: %w", err)
	}
	return nil
}

// IsScam reads the scam flag.
func (s *PostgresStore) IsScam(ctx context.Context, session string) (bool, error) {
	var scam bool
	err := s.pool.QueryRow(ctx,
		`SELECT scam FROM sessions WHERE session_id = $1`, session).Scan(&scam)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read scam flag: %w", err)
	}
	return scam, nil
}

// LockPersona writes the persona only when none is set yet.
func (s *PostgresStore) LockPersona(ctx context.Context, session, persona string) error {
	if persona == "" {
		return nil
	}
	if err := s.ensureSession(ctx, session); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET persona = $2 WHERE session_id = $1 AND persona = ''`,
		session, persona)
	if err != nil {
		return fmt.Errorf("failed to lock persona: %w", err)
	}
	return nil
}

// Persona returns the locked persona or "".
func (s *PostgresStore) Persona(ctx context.Context, session string) (string, error) {
	var persona string
	err := s.pool.QueryRow(ctx,
		`SELECT persona FROM sessions WHERE session_id = $1`, session).Scan(&persona)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read persona: %w", err)
	}
	return persona, nil
}

// TurnCount counts persisted inbound messages.
func (s *PostgresStore) TurnCount(ctx context.Context, session string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE session_id = $1 AND role = 'user'`,
		session).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}

// RecordIdentifiers upserts identifier occurrences.
func (s *PostgresStore) RecordIdentifiers(ctx context.Context, session string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	if err := s.ensureSession(ctx, session); err != nil {
		return err
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO identifiers (value, session_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			v, session)
		if err != nil {
			return fmt.Errorf("failed to record identifier: %w", err)
		}
	}
	return nil
}

// IdentifierOverlap returns identifiers shared by at least two sessions.
func (s *PostgresStore) IdentifierOverlap(ctx context.Context) (map[string][]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT value, array_agg(session_id ORDER BY session_id)
		FROM identifiers
		GROUP BY value
		HAVING count(DISTINCT session_id) >= 2`)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlap: %w", err)
	}
	defer rows.Close()

	overlap := make(map[string][]string)
	for rows.Next() {
		var value string
		var sessions []string
		if err := rows.Scan(&value, &sessions); err != nil {
			return nil, fmt.Errorf("failed to scan overlap row: %w", err)
		}
		overlap[value] = sessions
	}
	return overlap, rows.Err()
}

// Summary returns totals for the admin surface.
func (s *PostgresStore) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE scam) FROM sessions`).
		Scan(&sum.TotalSessions, &sum.ScamsDetected)
	if err != nil {
		return sum, fmt.Errorf("failed to count sessions: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT value, count(DISTINCT session_id) AS sessions
		FROM identifiers
		GROUP BY value
		ORDER BY sessions DESC, value ASC
		LIMIT 10`)
	if err != nil {
		return sum, fmt.Errorf("failed to query top identifiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ic IdentifierCount
		if err := rows.Scan(&ic.Value, &ic.Sessions); err != nil {
			return sum, fmt.Errorf("failed to scan identifier row: %w", err)
		}
		sum.TopIdentifiers = append(sum.TopIdentifiers, ic)
	}
	return sum, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
