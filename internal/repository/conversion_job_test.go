package repository

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/common"
)

func newTestRepo(t *testing.T) (*conversionJobRepo, *DB) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := Open(context.Background(), common.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "jobs.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(logger) })
	return NewConversionJobRepository(db, logger).(*conversionJobRepo), db
}

func TestConversionJob_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)
	require.NoError(t, db.HealthCheck(ctx, time.Second))

	job, err := repo.Create(ctx, "deck.pptx", "abc_deck.pptx")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusQueued, job.Status)

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "deck.pptx", got.SourceName)
	assert.Equal(t, "abc_deck.pptx", got.SourceKey)
	assert.Equal(t, constants.JobStatusQueued, got.Status)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, repo.MarkRunning(ctx, job.ID))
	// Redelivery of a running job counts another attempt.
	require.NoError(t, repo.MarkRunning(ctx, job.ID))
	got, err = repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusRunning, got.Status)
	assert.Equal(t, 2, got.Attempts)

	require.NoError(t, repo.MarkSucceeded(ctx, job.ID, "out.pdf"))
	got, err = repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusSucceeded, got.Status)
	assert.Equal(t, "out.pdf", got.ResultKey)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.Finished())

	assert.ErrorIs(t, repo.MarkFailed(ctx, job.ID, "late"), ErrJobFinished)
	assert.ErrorIs(t, repo.MarkRunning(ctx, job.ID), ErrJobFinished)
}

func TestConversionJob_MarkFailed(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	job, err := repo.Create(ctx, "deck.pptx", "k")
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, job.ID, "unoserver returned 500"))

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.Equal(t, "unoserver returned 500", got.ErrorMessage)
	assert.Equal(t, constants.RemoteStatusError, got.Status.RemoteStatus())
}

func TestConversionJob_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	missing := uuid.New()
	_, err := repo.Get(ctx, missing)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, repo.MarkRunning(ctx, missing), common.ErrNotFound)
	assert.ErrorIs(t, repo.MarkSucceeded(ctx, missing, "x"), common.ErrNotFound)
}

func TestConversionJob_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	var names []string
	for _, n := range []string{"a.pptx", "b.pptx", "c.pptx"} {
		_, err := repo.Create(ctx, n, n)
		require.NoError(t, err)
		names = append([]string{n}, names...)
	}

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, j := range all {
		assert.Equal(t, names[i], j.SourceName)
	}

	top, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "c.pptx", top[0].SourceName)
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), common.DatabaseConfig{Driver: "mysql", DSN: "x"}, slog.Default())
	assert.ErrorIs(t, err, common.ErrConfig)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for i := 0; i < 2; i++ {
		db, err := Open(context.Background(), common.DatabaseConfig{Driver: "sqlite", DSN: path}, logger)
		require.NoError(t, err)
		db.Close(logger)
	}
}

func TestOpen_CreatesJobTable(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := Open(ctx, common.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "fresh", "jobs.db")}, logger)
	require.NoError(t, err)
	defer db.Close(logger)

	var names []string
	rows, err := db.SQL.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE tbl_name = ? AND name NOT LIKE 'sqlite_%' ORDER BY name", jobTable)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{jobTable, "conversion_job_created_at", "conversion_job_status"}, names)

	// Column defaults apply to rows inserted without them.
	_, err = db.SQL.ExecContext(ctx,
		"INSERT INTO "+jobTable+" (id, source_name, source_key, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		uuid.NewString(), "deck.pptx", "k", string(constants.JobStatusQueued), 1, 1)
	require.NoError(t, err)
	jobs, err := NewConversionJobRepository(db, logger).List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 0, jobs[0].Attempts)
	assert.Empty(t, jobs[0].ResultKey)
	assert.Nil(t, jobs[0].FinishedAt)
}

func TestConversionJob_ListUnfinished(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	queued, err := repo.Create(ctx, "queued.pptx", "q")
	require.NoError(t, err)
	running, err := repo.Create(ctx, "running.pptx", "r")
	require.NoError(t, err)
	require.NoError(t, repo.MarkRunning(ctx, running.ID))
	done, err := repo.Create(ctx, "done.pptx", "d")
	require.NoError(t, err)
	require.NoError(t, repo.MarkSucceeded(ctx, done.ID, "d.pdf"))
	failed, err := repo.Create(ctx, "failed.pptx", "f")
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, failed.ID, "boom"))

	jobs, err := repo.ListUnfinished(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, queued.ID, jobs[0].ID)
	assert.Equal(t, running.ID, jobs[1].ID)
}
