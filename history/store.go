// Package history persists completed turns to SQLite so past conversations
// survive restarts.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tracechat/transcript"
)

// schemaVersion is stored in the SQLite user_version pragma. Bump it with
// every schema change and add a migration step in migrate.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	position       INTEGER NOT NULL,
	sender         TEXT NOT NULL,
	text           TEXT NOT NULL,
	images         TEXT NOT NULL DEFAULT '[]',
	incomplete     INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, position);

CREATE TABLE IF NOT EXISTS trace_steps (
	turn_id         TEXT NOT NULL REFERENCES turns(id) ON DELETE CASCADE,
	step            INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	agent           TEXT NOT NULL,
	text            TEXT NOT NULL,
	tool_name       TEXT NOT NULL,
	invocation_type TEXT NOT NULL,
	target_agent    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trace_steps_turn ON trace_steps(turn_id, step);
`

// Store is a SQLite-backed turn archive. One store may serve several
// sessions; turns are keyed by session ID.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the store at path. The connection uses
// WAL mode with a busy timeout, and a single writer connection as SQLite
// requires.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// migrate brings the database to the current schema version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read history schema version: %w", err)
	}
	switch {
	case version == schemaVersion:
		return nil
	case version > schemaVersion:
		return fmt.Errorf("history database schema version %d is newer than supported version %d", version, schemaVersion)
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("initialize history schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("set history schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close history database: %w", err)
	}
	return nil
}

// SaveTurn inserts or replaces one turn with its trace. Placeholder steps
// are transient display state and are not persisted.
func (s *Store) SaveTurn(sessionID string, turn *transcript.Turn) error {
	images, err := json.Marshal(turn.Images)
	if err != nil {
		return fmt.Errorf("encode turn images: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save turn: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position int
	err = tx.QueryRow(
		`SELECT COALESCE(MAX(position)+1, 0) FROM turns WHERE session_id = ? AND id != ?`,
		sessionID, turn.ID,
	).Scan(&position)
	if err != nil {
		return fmt.Errorf("next turn position: %w", err)
	}
	if err := tx.QueryRow(
		`SELECT position FROM turns WHERE id = ?`, turn.ID,
	).Scan(&position); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("look up turn position: %w", err)
	}

	createdAt := turn.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = tx.Exec(
		`INSERT OR REPLACE INTO turns
			(id, session_id, position, sender, text, images, incomplete, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, sessionID, position, string(turn.Sender), turn.Text,
		string(images), boolToInt(turn.Incomplete), createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save turn %s: %w", turn.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM trace_steps WHERE turn_id = ?`, turn.ID); err != nil {
		return fmt.Errorf("clear trace for turn %s: %w", turn.ID, err)
	}
	for _, step := range turn.Steps() {
		_, err := tx.Exec(
			`INSERT INTO trace_steps
				(turn_id, step, kind, agent, text, tool_name, invocation_type, target_agent)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			turn.ID, step.Step, string(step.Kind), step.Agent, step.Text,
			step.ToolName, step.InvocationType, step.TargetAgent,
		)
		if err != nil {
			return fmt.Errorf("save trace step %d of turn %s: %w", step.Step, turn.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn %s: %w", turn.ID, err)
	}
	return nil
}

// Turns loads the turns of one session in conversation order, traces
// included.
func (s *Store) Turns(sessionID string) ([]*transcript.Turn, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, text, images, incomplete, created_at
		FROM turns WHERE session_id = ? ORDER BY position`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var turns []*transcript.Turn
	for rows.Next() {
		var (
			turn       transcript.Turn
			sender     string
			images     string
			incomplete int
			createdAt  string
		)
		if err := rows.Scan(&turn.ID, &sender, &turn.Text, &images, &incomplete, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Sender = transcript.Sender(sender)
		turn.Incomplete = incomplete != 0
		if err := json.Unmarshal([]byte(images), &turn.Images); err != nil {
			return nil, fmt.Errorf("decode images for turn %s: %w", turn.ID, err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			turn.Timestamp = ts
		}
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	for _, turn := range turns {
		if err := s.loadTrace(turn); err != nil {
			return nil, err
		}
	}
	return turns, nil
}

// Sessions lists the distinct session IDs in the store, most recent first.
func (s *Store) Sessions() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT session_id FROM turns GROUP BY session_id ORDER BY MAX(created_at) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return ids, nil
}

func (s *Store) loadTrace(turn *transcript.Turn) error {
	rows, err := s.db.Query(
		`SELECT step, kind, agent, text, tool_name, invocation_type, target_agent
		FROM trace_steps WHERE turn_id = ? ORDER BY step`,
		turn.ID,
	)
	if err != nil {
		return fmt.Errorf("load trace for turn %s: %w", turn.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step transcript.TraceStep
			kind string
		)
		err := rows.Scan(&step.Step, &kind, &step.Agent, &step.Text,
			&step.ToolName, &step.InvocationType, &step.TargetAgent)
		if err != nil {
			return fmt.Errorf("scan trace step: %w", err)
		}
		step.Kind = transcript.StepKind(kind)
		turn.Trace = append(turn.Trace, step)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate trace steps: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
