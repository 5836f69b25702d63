package session

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store provides SQLite-backed persistence for session metadata and stage
// records.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database at dbPath and creates tables if they
// don't exist.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		state TEXT NOT NULL,
		current_stage TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		artifact_version INTEGER DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME,
		finished_at DATETIME,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateSession creates a new session for the given topic.
func (s *Store) CreateSession(topic string) (*Session, error) {
	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.Exec(
		`INSERT INTO sessions (id, topic, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, topic, string(StateCreated), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return &Session{
		ID:        id,
		Topic:     topic,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetSession retrieves a session by ID. Returns nil, nil when no session
// with that ID exists.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, topic, state, current_stage, last_error, created_at, updated_at
		 FROM sessions WHERE id = ?`,
		id,
	)

	var sess Session
	var state string
	err := row.Scan(&sess.ID, &sess.Topic, &state, &sess.CurrentStage, &sess.LastError, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.State = State(state)

	return &sess, nil
}

// UpdateSession updates an existing session's state, current stage and
// last error.
func (s *Store) UpdateSession(sess *Session) error {
	sess.UpdatedAt = time.Now()

	_, err := s.db.Exec(
		`UPDATE sessions SET state = ?, current_stage = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(sess.State), sess.CurrentStage, sess.LastError, sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return nil
}

// ListSessions returns summaries of the most recent sessions.
func (s *Store) ListSessions(limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(
		`SELECT s.id, s.topic, s.state, s.updated_at,
		        COALESCE(SUM(CASE WHEN r.status = 'completed' THEN 1 ELSE 0 END), 0) as stages_done,
		        COALESCE(COUNT(r.id), 0) as stages_total
		 FROM sessions s
		 LEFT JOIN stage_records r ON s.id = r.session_id
		 GROUP BY s.id
		 ORDER BY s.updated_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var state string
		if err := rows.Scan(&sum.ID, &sum.Topic, &state, &sum.UpdatedAt, &sum.StagesDone, &sum.StagesTotal); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.State = State(state)
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return summaries, nil
}

// UpsertStageRecord updates or inserts the record for (session, stage).
func (s *Store) UpsertStageRecord(rec *StageRecord) error {
	result, err := s.db.Exec(
		`UPDATE stage_records
		 SET status = ?, attempts = ?, artifact_version = ?, error = ?, started_at = ?, finished_at = ?
		 WHERE session_id = ? AND stage = ?`,
		rec.Status, rec.Attempts, rec.ArtifactVersion, rec.Error, nullableTime(rec.StartedAt), nullableTime(rec.FinishedAt),
		rec.SessionID, rec.Stage,
	)
	if err != nil {
		return fmt.Errorf("update stage record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		_, err = s.db.Exec(
			`INSERT INTO stage_records (session_id, stage, status, attempts, artifact_version, error, started_at, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, rec.Stage, rec.Status, rec.Attempts, rec.ArtifactVersion, rec.Error,
			nullableTime(rec.StartedAt), nullableTime(rec.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("insert stage record: %w", err)
		}
	}

	return nil
}

// GetStageRecords retrieves all stage records for a session.
func (s *Store) GetStageRecords(sessionID string) ([]StageRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, stage, status, attempts, artifact_version, error,
		        started_at, finished_at
		 FROM stage_records
		 WHERE session_id = ?
		 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []StageRecord
	for rows.Next() {
		var rec StageRecord
		var started, finished sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Stage, &rec.Status, &rec.Attempts,
			&rec.ArtifactVersion, &rec.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan stage record: %w", err)
		}
		if started.Valid {
			rec.StartedAt = started.Time
		}
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

// DeleteSession removes a session and its stage records. Used by garbage
// collection only.
func (s *Store) DeleteSession(id string) error {
	if _, err := s.db.Exec(`DELETE FROM stage_records WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete stage records: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// nullableTime converts a zero time to NULL for storage.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
