package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/common"
	"github.com/joseph-ayodele/deckconvert/internal/entity"
)

const jobTable = "conversion_job"

var jobColumns = []string{
	"id", "source_name", "source_key", "result_key", "status",
	"error_message", "attempts", "created_at", "updated_at", "finished_at",
}

// ErrJobFinished is returned when a transition targets a job that already
// reached SUCCEEDED or FAILED.
var ErrJobFinished = errors.New("job already finished")

type ConversionJobRepository interface {
	Create(ctx context.Context, sourceName, sourceKey string) (*entity.ConversionJob, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.ConversionJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID, resultKey string) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	List(ctx context.Context, limit int) ([]*entity.ConversionJob, error)
	ListUnfinished(ctx context.Context) ([]*entity.ConversionJob, error)
}

type conversionJobRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewConversionJobRepository(db *DB, log *slog.Logger) ConversionJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &conversionJobRepo{db: db, log: log, now: time.Now}
}

// jobTableDDL is valid on both sqlite and postgres.
const jobTableDDL = `CREATE TABLE IF NOT EXISTS ` + jobTable + ` (
	id            VARCHAR(36) NOT NULL PRIMARY KEY,
	source_name   TEXT        NOT NULL,
	source_key    TEXT        NOT NULL,
	result_key    TEXT        NOT NULL DEFAULT '',
	status        VARCHAR(16) NOT NULL,
	error_message TEXT        NOT NULL DEFAULT '',
	attempts      INTEGER     NOT NULL DEFAULT 0,
	created_at    BIGINT      NOT NULL,
	updated_at    BIGINT      NOT NULL,
	finished_at   BIGINT
)`

var jobIndexes = []string{
	"CREATE INDEX IF NOT EXISTS conversion_job_created_at ON " + jobTable + " (created_at)",
	"CREATE INDEX IF NOT EXISTS conversion_job_status ON " + jobTable + " (status)",
}

// migrate creates the job table and its indexes when they do not exist yet.
func migrate(ctx context.Context, db *DB) error {
	if _, err := db.SQL.ExecContext(ctx, jobTableDDL); err != nil {
		return common.NewAppError("DATABASE_ERROR", "create conversion_job table", errors.Join(common.ErrDatabase, err))
	}
	for _, stmt := range jobIndexes {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			return common.NewAppError("DATABASE_ERROR", "create conversion_job index", errors.Join(common.ErrDatabase, err))
		}
	}
	return nil
}

func (r *conversionJobRepo) Create(ctx context.Context, sourceName, sourceKey string) (*entity.ConversionJob, error) {
	now := r.now().UTC().Truncate(time.Millisecond)
	job := &entity.ConversionJob{
		ID:         uuid.New(),
		SourceName: sourceName,
		SourceKey:  sourceKey,
		Status:     constants.JobStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	query, args := entsql.Dialect(r.db.Dialect).
		Insert(jobTable).
		Columns("id", "source_name", "source_key", "status", "created_at", "updated_at").
		Values(job.ID.String(), sourceName, sourceKey, string(job.Status), now.UnixMilli(), now.UnixMilli()).
		Query()
	if _, err := r.db.SQL.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("conversion_job create failed", "source_key", sourceKey, "err", err)
		return nil, fmt.Errorf("%w: insert conversion_job: %v", common.ErrDatabase, err)
	}
	r.log.Info("conversion_job created", "job_id", job.ID, "source_key", sourceKey)
	return job, nil
}

func (r *conversionJobRepo) Get(ctx context.Context, id uuid.UUID) (*entity.ConversionJob, error) {
	query, args := entsql.Dialect(r.db.Dialect).
		Select(jobColumns...).
		From(entsql.Table(jobTable)).
		Where(entsql.EQ("id", id.String())).
		Query()
	job, err := scanJob(r.db.SQL.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversion_job %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get conversion_job: %v", common.ErrDatabase, err)
	}
	return job, nil
}

func (r *conversionJobRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	now := r.now().UnixMilli()
	query, args := entsql.Dialect(r.db.Dialect).
		Update(jobTable).
		Set("status", string(constants.JobStatusRunning)).
		Set("updated_at", now).
		Add("attempts", 1).
		Where(r.unfinished(id)).
		Query()
	if err := r.transition(ctx, id, query, args); err != nil {
		return err
	}
	r.log.Info("conversion_job running", "job_id", id)
	return nil
}

func (r *conversionJobRepo) MarkSucceeded(ctx context.Context, id uuid.UUID, resultKey string) error {
	now := r.now().UnixMilli()
	query, args := entsql.Dialect(r.db.Dialect).
		Update(jobTable).
		Set("status", string(constants.JobStatusSucceeded)).
		Set("result_key", resultKey).
		Set("updated_at", now).
		Set("finished_at", now).
		Where(r.unfinished(id)).
		Query()
	if err := r.transition(ctx, id, query, args); err != nil {
		r.log.Error("conversion_job finish(SUCCEEDED) failed", "job_id", id, "err", err)
		return err
	}
	r.log.Info("conversion_job finished (SUCCEEDED)", "job_id", id, "result_key", resultKey)
	return nil
}

func (r *conversionJobRepo) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	now := r.now().UnixMilli()
	query, args := entsql.Dialect(r.db.Dialect).
		Update(jobTable).
		Set("status", string(constants.JobStatusFailed)).
		Set("error_message", message).
		Set("updated_at", now).
		Set("finished_at", now).
		Where(r.unfinished(id)).
		Query()
	if err := r.transition(ctx, id, query, args); err != nil {
		r.log.Error("conversion_job finish(FAILED) failed", "job_id", id, "err", err)
		return err
	}
	r.log.Warn("conversion_job finished (FAILED)", "job_id", id, "error", message)
	return nil
}

// List returns the most recent jobs first. A non-positive limit returns all of them.
func (r *conversionJobRepo) List(ctx context.Context, limit int) ([]*entity.ConversionJob, error) {
	sel := entsql.Dialect(r.db.Dialect).
		Select(jobColumns...).
		From(entsql.Table(jobTable)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	return r.query(ctx, sel)
}

// ListUnfinished returns QUEUED and RUNNING jobs, oldest first.
func (r *conversionJobRepo) ListUnfinished(ctx context.Context) ([]*entity.ConversionJob, error) {
	sel := entsql.Dialect(r.db.Dialect).
		Select(jobColumns...).
		From(entsql.Table(jobTable)).
		Where(entsql.In("status", string(constants.JobStatusQueued), string(constants.JobStatusRunning))).
		OrderBy("created_at", "id")
	return r.query(ctx, sel)
}

func (r *conversionJobRepo) query(ctx context.Context, sel *entsql.Selector) ([]*entity.ConversionJob, error) {
	query, args := sel.Query()
	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list conversion_job: %v", common.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.ConversionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan conversion_job: %v", common.ErrDatabase, err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list conversion_job: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *conversionJobRepo) unfinished(id uuid.UUID) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("id", id.String()),
		entsql.In("status", string(constants.JobStatusQueued), string(constants.JobStatusRunning)),
	)
}

// transition runs a guarded UPDATE and tells a missing job apart from a finished one.
func (r *conversionJobRepo) transition(ctx context.Context, id uuid.UUID, query string, args []any) error {
	res, err := r.db.SQL.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update conversion_job: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update conversion_job: %v", common.ErrDatabase, err)
	}
	if n > 0 {
		return nil
	}
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("conversion_job %s is %s: %w", id, job.Status, ErrJobFinished)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.ConversionJob, error) {
	var (
		job              entity.ConversionJob
		id, status       string
		created, updated int64
		finished         sql.NullInt64
	)
	if err := row.Scan(&id, &job.SourceName, &job.SourceKey, &job.ResultKey, &status,
		&job.ErrorMessage, &job.Attempts, &created, &updated, &finished); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad job id %q: %w", id, err)
	}
	job.ID = parsed
	job.Status = constants.JobStatus(status)
	job.CreatedAt = time.UnixMilli(created).UTC()
	job.UpdatedAt = time.UnixMilli(updated).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		job.FinishedAt = &t
	}
	return &job, nil
}
