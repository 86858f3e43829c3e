package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"broadcastbot/internal/schedule"
	logx "broadcastbot/pkg/logx"
)

//go:embed migrations.sql
var sqliteMigrations string

// sqlStore speaks database/sql with "?" placeholders. openSQLite builds it
// on modernc.org/sqlite; tests build it on sqlmock.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqlStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; the scheduler never needs more.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	if err := addColumn(ctx, db, "broadcast_jobs", "wall_time TEXT NOT NULL DEFAULT ''"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	log.Info("sqlite storage opened", logx.String("path", path))
	return newSQLStore(db, log), nil
}

func newSQLStore(db *sql.DB, log logx.Logger) *sqlStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqlStore{db: db, log: log}
}

// addColumn adds a column to a table created by an older build. SQLite has
// no ADD COLUMN IF NOT EXISTS.
func addColumn(ctx context.Context, db *sql.DB, table, def string) error {
	_, err := db.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN "+def)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
		return nil
	}
	return err
}

func (s *sqlStore) PutJob(ctx context.Context, j schedule.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_jobs(id, fire_at, recurrence, wall_time, text, media, created_at, created_by, status, last_fired_at, fires)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   fire_at=excluded.fire_at, status=excluded.status,
		   last_fired_at=excluded.last_fired_at, fires=excluded.fires`,
		j.ID, formatTime(j.FireAt), string(j.Recurrence), j.WallTime, j.Text, j.Media,
		formatTime(j.CreatedAt), j.CreatedBy, string(j.Status), formatTime(j.LastFiredAt), j.Fires,
	)
	if err != nil {
		return fmt.Errorf("sqlite put job: %w", err)
	}
	return nil
}

func (s *sqlStore) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM broadcast_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite delete job: %w", err)
	}
	return nil
}

func (s *sqlStore) ClearJobs(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM broadcast_jobs`); err != nil {
		return fmt.Errorf("sqlite clear jobs: %w", err)
	}
	return nil
}

func (s *sqlStore) ListJobs(ctx context.Context) ([]schedule.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fire_at, recurrence, wall_time, text, media, created_at, created_by, status, last_fired_at, fires
		 FROM broadcast_jobs`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list jobs: %w", err)
	}
	defer rows.Close()

	var out []schedule.Job
	for rows.Next() {
		var (
			j                     schedule.Job
			fireAt, created, last string
			rec, status           string
		)
		if err := rows.Scan(&j.ID, &fireAt, &rec, &j.WallTime, &j.Text, &j.Media, &created, &j.CreatedBy, &status, &last, &j.Fires); err != nil {
			return nil, fmt.Errorf("sqlite scan job: %w", err)
		}
		j.Recurrence = schedule.Recurrence(rec)
		j.Status = schedule.Status(status)
		if j.FireAt, err = parseTime(fireAt); err != nil {
			s.log.Warn("skipping job with unreadable fire_at", logx.String("job", j.ID), logx.Err(err))
			continue
		}
		j.CreatedAt, _ = parseTime(created)
		j.LastFiredAt, _ = parseTime(last)
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite list jobs: %w", err)
	}
	sortJobs(out)
	return out, nil
}

func (s *sqlStore) AddGroup(ctx context.Context, chatID int64, title string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipient_groups(chat_id, title, added_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET title = COALESCE(NULLIF(excluded.title, ''), recipient_groups.title)`,
		chatID, strings.TrimSpace(title), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite add group: %w", err)
	}
	return nil
}

func (s *sqlStore) RemoveGroup(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recipient_groups WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("sqlite remove group: %w", err)
	}
	return nil
}

func (s *sqlStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, title, added_at FROM recipient_groups ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var (
			g     Group
			added string
		)
		if err := rows.Scan(&g.ChatID, &g.Title, &added); err != nil {
			return nil, fmt.Errorf("sqlite scan group: %w", err)
		}
		g.AddedAt, _ = parseTime(added)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqlStore) GroupIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM recipient_groups ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite group ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite scan group id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) AddUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_users(user_id, first_seen) VALUES(?,?) ON CONFLICT(user_id) DO NOTHING`,
		userID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("sqlite add user: %w", err)
	}
	return nil
}

func (s *sqlStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bot_users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count users: %w", err)
	}
	return n, nil
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, chat_id, action, target, job_id, ok, fail, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		formatTime(e.At), e.ActorID, e.ChatID, e.Action, nullStr(e.Target), nullStr(e.JobID),
		e.OK, e.Fail, nullStr(e.Error), e.TookMS,
	)
	if err != nil {
		return fmt.Errorf("sqlite append audit: %w", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// formatTime stores instants as UTC RFC3339; the zero time is "".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
