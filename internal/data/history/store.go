// Package history persists verification run reports to a local SQLite
// database so regressions can be correlated across watch-triggered runs.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one verification pass over a single project, recorded whether it
// passed or failed.
type Run struct {
	RunID            string
	ProjectKey       string
	Timestamp        time.Time
	Label            string
	OK               bool
	FailureCode      string
	Duration         time.Duration
	ResolutionsLive  int
	DirectoryWatches int
	FileWatches      int
}

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// modernc.org/sqlite is happiest with a single writer connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const maxAttempts = 5

func withRetry(op func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op()
		if err == nil || !isLockError(err) {
			return err
		}
		time.Sleep(time.Duration(attempt) * 25 * time.Millisecond)
	}
	return err
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// SaveRun records one verification run. Re-saving the same run id upserts.
func (s *Store) SaveRun(r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(func() error {
		_, err := s.db.Exec(`
INSERT INTO verification_runs (
  run_id, project_key, schema_version, ts_utc, label, ok, failure_code,
  duration_ms, resolutions_live, directory_watches, file_watches
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  project_key = excluded.project_key,
  ts_utc = excluded.ts_utc,
  label = excluded.label,
  ok = excluded.ok,
  failure_code = excluded.failure_code,
  duration_ms = excluded.duration_ms,
  resolutions_live = excluded.resolutions_live,
  directory_watches = excluded.directory_watches,
  file_watches = excluded.file_watches
`,
			r.RunID, r.ProjectKey, SchemaVersion, r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.Label, boolToInt(r.OK), r.FailureCode, r.Duration.Milliseconds(),
			r.ResolutionsLive, r.DirectoryWatches, r.FileWatches)
		if err != nil {
			return fmt.Errorf("save run %s: %w", r.RunID, err)
		}
		return nil
	})
}

// RecentRuns returns up to limit runs for projectKey, newest first.
// An empty projectKey returns runs across all projects.
func (s *Store) RecentRuns(projectKey string, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT run_id, project_key, ts_utc, label, ok, failure_code,
       duration_ms, resolutions_live, directory_watches, file_watches
FROM verification_runs
`
	args := []any{}
	if projectKey != "" {
		query += ` WHERE project_key = ?`
		args = append(args, projectKey)
	}
	query += ` ORDER BY ts_utc DESC LIMIT ?`
	args = append(args, limit)

	var runs []Run
	err := withRetry(func() error {
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query runs: %w", err)
		}
		defer rows.Close()

		runs = runs[:0]
		for rows.Next() {
			var (
				r      Run
				ts     string
				ok     int
				durMs  int64
			)
			if err := rows.Scan(&r.RunID, &r.ProjectKey, &ts, &r.Label, &ok, &r.FailureCode,
				&durMs, &r.ResolutionsLive, &r.DirectoryWatches, &r.FileWatches); err != nil {
				return fmt.Errorf("scan run row: %w", err)
			}
			r.OK = ok != 0
			r.Duration = time.Duration(durMs) * time.Millisecond
			if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
				r.Timestamp = parsed
			}
			runs = append(runs, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// FailureCounts aggregates failed runs by failure code.
func (s *Store) FailureCounts() (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	err := withRetry(func() error {
		rows, err := s.db.Query(`
SELECT failure_code, COUNT(*) FROM verification_runs
WHERE ok = 0 GROUP BY failure_code
`)
		if err != nil {
			return fmt.Errorf("query failure counts: %w", err)
		}
		defer rows.Close()

		clear(counts)
		for rows.Next() {
			var code string
			var n int
			if err := rows.Scan(&code, &n); err != nil {
				return fmt.Errorf("scan failure count row: %w", err)
			}
			counts[code] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
