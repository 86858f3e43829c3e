package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"broadcastbot/internal/schedule"
	logx "broadcastbot/pkg/logx"
)

func TestSQLStorePutJobWrapsDriverError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newSQLStore(db, logx.Nop())
	job := sampleJob("j1", time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC))

	mock.ExpectExec("INSERT INTO broadcast_jobs").
		WithArgs("j1", "2025-02-01T08:00:00Z", "weekly", "08:00:00", job.Text, job.Media,
			"2025-02-01T07:00:00Z", int64(42), "pending", "", 0).
		WillReturnError(errors.New("database is locked"))

	err = s.PutJob(context.Background(), job)
	require.ErrorContains(t, err, "sqlite put job")
	require.ErrorContains(t, err, "database is locked")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreListJobsSkipsCorruptRows(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "fire_at", "recurrence", "wall_time", "text", "media", "created_at", "created_by", "status", "last_fired_at", "fires"}
	mock.ExpectQuery("SELECT (.+) FROM broadcast_jobs").WillReturnRows(
		sqlmock.NewRows(cols).
			AddRow("late", "2025-03-02T09:00:00Z", "daily", "14:30:00", "hi", "", "2025-03-01T00:00:00Z", int64(1), "pending", "2025-03-01T09:00:00Z", int64(3)).
			AddRow("bad", "not-a-time", "none", "", "x", "", "", int64(0), "pending", "", int64(0)).
			AddRow("early", "2025-03-01T09:00:00Z", "none", "", "", "video:BAAD", "2025-02-28T00:00:00Z", int64(1), "firing", "", int64(0)),
	)

	jobs, err := newSQLStore(db, logx.Nop()).ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "early", jobs[0].ID)
	require.Equal(t, schedule.StatusFiring, jobs[0].Status)
	require.Equal(t, "late", jobs[1].ID)
	require.Equal(t, schedule.RecurDaily, jobs[1].Recurrence)
	require.Equal(t, 3, jobs[1].Fires)
	require.Equal(t, "14:30:00", jobs[1].WallTime)
	require.True(t, jobs[1].LastFiredAt.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGroupIDsQueryError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT chat_id FROM recipient_groups").WillReturnError(errors.New("disk I/O error"))
	_, err = newSQLStore(db, logx.Nop()).GroupIDs(context.Background())
	require.ErrorContains(t, err, "disk I/O error")
	require.NoError(t, mock.ExpectationsWereMet())
}
