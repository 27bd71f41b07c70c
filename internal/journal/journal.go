package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/solsweep/solsweep/internal/model"
)

// Entry is one recorded batch run.
type Entry struct {
	RunID      string             `json:"run_id"`
	Kind       string             `json:"kind"`
	Wallet     string             `json:"wallet"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at"`
	Run        model.AggregateRun `json:"run"`
}

// Journal persists batch outcomes to a local sqlite file so past runs can be
// inspected after the fact. A file lock guards against concurrent invocations
// sharing the same database.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			wallet TEXT NOT NULL,
			attempted INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath)}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record writes one entry, replacing any previous entry with the same run id.
func (j *Journal) Record(entry Entry) error {
	if entry.RunID == "" {
		return fmt.Errorf("record run: missing run id")
	}
	locked, err := j.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	finishedUnix, _ := parseRFC3339Unix(entry.FinishedAt)
	if finishedUnix == 0 {
		finishedUnix = time.Now().UTC().Unix()
	}

	_, err = j.db.Exec(`
		INSERT INTO runs (run_id, kind, wallet, attempted, succeeded, failed, finished_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			kind=excluded.kind,
			wallet=excluded.wallet,
			attempted=excluded.attempted,
			succeeded=excluded.succeeded,
			failed=excluded.failed,
			finished_at=excluded.finished_at,
			payload=excluded.payload
	`, entry.RunID, entry.Kind, entry.Wallet, entry.Run.Attempted, entry.Run.Succeeded, entry.Run.Failed, finishedUnix, payload)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Get returns one run by id.
func (j *Journal) Get(runID string) (Entry, error) {
	var payload []byte
	err := j.db.QueryRow("SELECT payload FROM runs WHERE run_id = ?", runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("run not found: %s", runID)
		}
		return Entry{}, fmt.Errorf("read run: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode run payload: %w", err)
	}
	return entry, nil
}

// List returns the most recent runs, newest first.
func (j *Journal) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query("SELECT payload FROM runs ORDER BY finished_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("decode run row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return entries, nil
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
