package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Session statuses. Reaper acts only on StatusRunning sessions past their
// idle threshold; StatusStarting/StatusStopping are transient and excluded
// from idle reaping so a slow boot or teardown is never mistaken for idle.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopping = "stopping"
	StatusStopped  = "stopped"
	StatusError    = "error"
)

// Mode distinguishes the agent invocation style recorded for a session
// (api-backed model vs a locally hosted ollama model).
const (
	ModeAPI    = "api"
	ModeOllama = "ollama"
)

// Session is a persisted record of one interactive code-agent session.
// Replaces the container/image-centric record the teacher persisted: a
// session here is a sandboxed PTY process plus a workspace, not a container.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	SandboxUsername string    `json:"sandbox_username"`
	WorkspacePath   string    `json:"workspace_path"`
	Model           string    `json:"model"`
	Mode            string    `json:"mode"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	sandbox_username TEXT NOT NULL DEFAULT '',
	workspace_path   TEXT NOT NULL DEFAULT '',
	model            TEXT NOT NULL DEFAULT '',
	mode             TEXT NOT NULL DEFAULT 'api',
	status           TEXT NOT NULL DEFAULT 'starting',
	created_at       DATETIME NOT NULL,
	last_activity    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
// WAL mode allows multiple readers + 1 writer; more conns improve read throughput.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection. Critical for parallel session creation:
// PRAGMAs in DSN are applied per-connection by the driver.
func dsnWithPragmas(dbPath string) string {
	// busy_timeout: 15s wait on lock (reaper + edge surface overlap)
	// journal_mode=WAL: concurrent reads during writes
	// synchronous=NORMAL: safe in WAL, ~50x faster writes than FULL
	// cache_size=-64000: 64MB page cache
	// temp_store=MEMORY: temp tables in RAM
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-64000)" +
		"&_pragma=temp_store(MEMORY)"
}

// New opens the store. maxOpenConns controls the connection pool size (0 = default 4).
// For high scale: 4–8 allows concurrent reads while writers serialize; SQLite remains
// single-writer. For very high write throughput, consider PostgreSQL.
func New(dbPath string, maxOpenConns int) (*Store, error) {
	dsn := dsnWithPragmas(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSession(sess *Session) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO sessions (id, user_id, sandbox_username, workspace_path, model, mode, status, created_at, last_activity)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.UserID, sess.SandboxUsername, sess.WorkspacePath, sess.Model, sess.Mode,
			sess.Status, sess.CreatedAt.UTC(), sess.LastActivity.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, sandbox_username, workspace_path, model, mode, status, created_at, last_activity
		 FROM sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

// GetSessionByUser returns the most recently created non-stopped session
// owned by userID, if one exists. A user may hold several such sessions (up
// to the per-user quota); only the newest is returned.
func (s *Store) GetSessionByUser(userID string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, sandbox_username, workspace_path, model, mode, status, created_at, last_activity
		 FROM sessions WHERE user_id = ? AND status != ? ORDER BY created_at DESC LIMIT 1`,
		userID, StatusStopped,
	)
	return scanSession(row)
}

func (s *Store) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, sandbox_username, workspace_path, model, mode, status, created_at, last_activity
		 FROM sessions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) UpdateSessionActivity(id string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE sessions SET last_activity = ? WHERE id = ?`,
			time.Now().UTC(), id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session activity: %w", err)
	}
	return checkRowAffected(result, id)
}

// CountRunningByUser returns the number of sessions owned by userID that are
// neither stopped nor errored, the basis for the per-user quota check in §4.8 step 1.
func (s *Store) CountRunningByUser(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND status NOT IN (?, ?)`,
		userID, StatusStopped, StatusError,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

func (s *Store) UpdateSessionStatus(id string, status string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE sessions SET status = ? WHERE id = ?`, status, id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return checkRowAffected(result, id)
}

// ListIdleSessions returns running sessions whose last_activity is at or
// before cutoff, the candidate set for the idle reaper.
func (s *Store) ListIdleSessions(cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, sandbox_username, workspace_path, model, mode, status, created_at, last_activity
		 FROM sessions WHERE status = ? AND last_activity <= ?`,
		StatusRunning, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing idle sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) ListRunningSessions() ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, sandbox_username, workspace_path, model, mode, status, created_at, last_activity
		 FROM sessions WHERE status = ?`, StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("listing running sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) DeleteSession(id string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
		return e
	})
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return checkRowAffected(result, id)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.SandboxUsername, &sess.WorkspacePath, &sess.Model,
		&sess.Mode, &sess.Status, &sess.CreatedAt, &sess.LastActivity,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func checkRowAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
