package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS model_versions (
	version      INTEGER PRIMARY KEY,
	policy_blob  BLOB NOT NULL,
	value_blob   BLOB NOT NULL,
	metrics_json TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_model (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	version          INTEGER NOT NULL,
	previous_version INTEGER,
	FOREIGN KEY (version) REFERENCES model_versions(version)
);
`

// #endregion schema

// #region store

// Store persists model versions and the active pointer in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle for packages sharing the database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion store

// #region insert

// Insert writes a new model version. The version number must be unused.
func (s *Store) Insert(v ModelVersion) error {
	metricsJSON, err := json.Marshal(v.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO model_versions (version, policy_blob, value_blob, metrics_json, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.Version, v.PolicyBlob, v.ValueBlob, string(metricsJSON),
		string(v.Status), v.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert version %d: %w", v.Version, err)
	}
	return nil
}

// #endregion insert

// #region get

// Get retrieves one model version.
func (s *Store) Get(version int64) (ModelVersion, error) {
	row := s.db.QueryRow(
		`SELECT version, policy_blob, value_blob, metrics_json, status, created_at
		 FROM model_versions WHERE version = ?`, version,
	)
	return scanVersion(row)
}

// NextVersion returns the next unused version number.
func (s *Store) NextVersion() (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM model_versions`).Scan(&max); err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return max.Int64 + 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row rowScanner) (ModelVersion, error) {
	var v ModelVersion
	var metricsJSON, createdStr, status string
	if err := row.Scan(&v.Version, &v.PolicyBlob, &v.ValueBlob, &metricsJSON, &status, &createdStr); err != nil {
		return ModelVersion{}, fmt.Errorf("scan version: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &v.Metrics); err != nil {
		return ModelVersion{}, fmt.Errorf("unmarshal metrics: %w", err)
	}
	v.Status = Status(status)
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return v, nil
}

// #endregion get

// #region status

// SetStatus updates one version's lifecycle status.
func (s *Store) SetStatus(version int64, status Status) error {
	_, err := s.db.Exec(`UPDATE model_versions SET status = ? WHERE version = ?`, string(status), version)
	if err != nil {
		return fmt.Errorf("set status %d: %w", version, err)
	}
	return nil
}

// #endregion status

// #region active-pointer

// ActivePointer reads the active and previous version numbers.
// Returns (0, 0, nil) when no active pointer exists yet.
func (s *Store) ActivePointer() (active, previous int64, err error) {
	var prev sql.NullInt64
	err = s.db.QueryRow(`SELECT version, previous_version FROM active_model WHERE id = 1`).Scan(&active, &prev)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("active pointer: %w", err)
	}
	return active, prev.Int64, nil
}

// SetActivePointer updates the active pointer and rollback target in one
// transaction, together with the status transitions.
func (s *Store) SetActivePointer(active, previous int64, transitions map[int64]Status) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var prevPtr interface{}
	if previous > 0 {
		prevPtr = previous
	}
	_, err = tx.Exec(
		`INSERT INTO active_model (id, version, previous_version) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version, previous_version = excluded.previous_version`,
		active, prevPtr,
	)
	if err != nil {
		return fmt.Errorf("update active pointer: %w", err)
	}

	for version, status := range transitions {
		if _, err := tx.Exec(`UPDATE model_versions SET status = ? WHERE version = ?`, string(status), version); err != nil {
			return fmt.Errorf("transition %d: %w", version, err)
		}
	}

	return tx.Commit()
}

// #endregion active-pointer

// #region list

// List returns the most recent versions without their parameter blobs.
func (s *Store) List(limit int) ([]ModelVersion, error) {
	rows, err := s.db.Query(
		`SELECT version, metrics_json, status, created_at
		 FROM model_versions ORDER BY version DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []ModelVersion
	for rows.Next() {
		var v ModelVersion
		var metricsJSON, createdStr, status string
		if err := rows.Scan(&v.Version, &metricsJSON, &status, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &v.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
		v.Status = Status(status)
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, v)
	}
	return out, rows.Err()
}

// #endregion list
