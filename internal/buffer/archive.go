package buffer

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema

const archiveSchema = `
CREATE TABLE IF NOT EXISTS experiences (
	experience_id   TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	turn_index      INTEGER NOT NULL,
	priority        REAL NOT NULL,
	payload_json    TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_experiences_priority
ON experiences(priority);
`

// #endregion schema

// #region archive

// Archive persists experience snapshots so the buffer can be warm-started
// after a restart and so training can be replayed offline.
type Archive struct {
	db *sql.DB
}

// NewArchive opens a SQLite database and runs migrations.
func NewArchive(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Archive{db: db}, nil
}

// NewArchiveFromDB wraps an existing database handle (shared with the model
// version store).
func NewArchiveFromDB(db *sql.DB) (*Archive, error) {
	if _, err := db.Exec(archiveSchema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// #endregion archive

// #region append

// Append writes one experience snapshot. Idempotent on experience ID.
func (a *Archive) Append(exp Experience, priority float64) error {
	payload, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal experience: %w", err)
	}
	_, err = a.db.Exec(
		`INSERT INTO experiences (experience_id, conversation_id, turn_index, priority, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(experience_id) DO UPDATE SET payload_json = excluded.payload_json, priority = excluded.priority`,
		exp.ID, exp.ConversationID, exp.TurnIndex, priority,
		string(payload), exp.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert experience: %w", err)
	}
	return nil
}

// #endregion append

// #region load

// Load reads up to limit archived experiences, newest first.
func (a *Archive) Load(limit int) ([]Experience, error) {
	rows, err := a.db.Query(
		`SELECT payload_json FROM experiences ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load experiences: %w", err)
	}
	defer rows.Close()

	var out []Experience
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var exp Experience
		if err := json.Unmarshal([]byte(payload), &exp); err != nil {
			return nil, fmt.Errorf("unmarshal experience: %w", err)
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

// #endregion load

// #region delete

// DeleteConversation removes all archived experiences for a conversation.
// Used by the privacy data-removal path.
func (a *Archive) DeleteConversation(conversationID string) error {
	_, err := a.db.Exec(`DELETE FROM experiences WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return nil
}

// #endregion delete
