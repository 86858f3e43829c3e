package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"broadcastbot/internal/schedule"
	logx "broadcastbot/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*pgStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pcfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresMigrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info("postgres storage opened",
		logx.String("host", pcfg.ConnConfig.Host),
		logx.String("database", pcfg.ConnConfig.Database),
		logx.Int("max_conns", int(pcfg.MaxConns)))
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) PutJob(ctx context.Context, j schedule.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO broadcast_jobs(id, fire_at, recurrence, wall_time, text, media, created_at, created_by, status, last_fired_at, fires)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT(id) DO UPDATE SET
		   fire_at=excluded.fire_at, status=excluded.status,
		   last_fired_at=excluded.last_fired_at, fires=excluded.fires`,
		j.ID, j.FireAt, string(j.Recurrence), j.WallTime, j.Text, j.Media,
		j.CreatedAt, j.CreatedBy, string(j.Status), nullTime(j.LastFiredAt), j.Fires,
	)
	if err != nil {
		return fmt.Errorf("postgres put job: %w", err)
	}
	return nil
}

func (s *pgStore) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM broadcast_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres delete job: %w", err)
	}
	return nil
}

func (s *pgStore) ClearJobs(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM broadcast_jobs`); err != nil {
		return fmt.Errorf("postgres clear jobs: %w", err)
	}
	return nil
}

func (s *pgStore) ListJobs(ctx context.Context) ([]schedule.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fire_at, recurrence, wall_time, text, media, created_at, created_by, status, last_fired_at, fires
		 FROM broadcast_jobs ORDER BY fire_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres list jobs: %w", err)
	}
	defer rows.Close()

	var out []schedule.Job
	for rows.Next() {
		var (
			j           schedule.Job
			rec, status string
			last        *time.Time
		)
		if err := rows.Scan(&j.ID, &j.FireAt, &rec, &j.WallTime, &j.Text, &j.Media, &j.CreatedAt, &j.CreatedBy, &status, &last, &j.Fires); err != nil {
			return nil, fmt.Errorf("postgres scan job: %w", err)
		}
		j.Recurrence = schedule.Recurrence(rec)
		j.Status = schedule.Status(status)
		if last != nil {
			j.LastFiredAt = *last
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres list jobs: %w", err)
	}
	return out, nil
}

func (s *pgStore) AddGroup(ctx context.Context, chatID int64, title string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recipient_groups(chat_id, title) VALUES($1,$2)
		 ON CONFLICT(chat_id) DO UPDATE SET title = COALESCE(NULLIF(excluded.title, ''), recipient_groups.title)`,
		chatID, strings.TrimSpace(title))
	if err != nil {
		return fmt.Errorf("postgres add group: %w", err)
	}
	return nil
}

func (s *pgStore) RemoveGroup(ctx context.Context, chatID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM recipient_groups WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("postgres remove group: %w", err)
	}
	return nil
}

func (s *pgStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.pool.Query(ctx, `SELECT chat_id, title, added_at FROM recipient_groups ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres list groups: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Group, error) {
		var g Group
		err := row.Scan(&g.ChatID, &g.Title, &g.AddedAt)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres list groups: %w", err)
	}
	return out, nil
}

func (s *pgStore) GroupIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT chat_id FROM recipient_groups ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres group ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres group ids: %w", err)
	}
	return ids, nil
}

func (s *pgStore) AddUser(ctx context.Context, userID int64) error {
	if _, err := s.pool.Exec(ctx, `INSERT INTO bot_users(user_id) VALUES($1) ON CONFLICT(user_id) DO NOTHING`, userID); err != nil {
		return fmt.Errorf("postgres add user: %w", err)
	}
	return nil
}

func (s *pgStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bot_users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres count users: %w", err)
	}
	return n, nil
}

func (s *pgStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, actor_id, chat_id, action, target, job_id, ok, fail, err, took_ms)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.At, e.ActorID, e.ChatID, e.Action, nullStr(e.Target), nullStr(e.JobID),
		e.OK, e.Fail, nullStr(e.Error), e.TookMS)
	if err != nil {
		return fmt.Errorf("postgres append audit: %w", err)
	}
	return nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
