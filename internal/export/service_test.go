package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/entity"
	"github.com/joseph-ayodele/deckconvert/internal/repository"
)

type listRepo struct {
	repository.ConversionJobRepository
	jobs []*entity.ConversionJob
}

func (r listRepo) List(context.Context, int) ([]*entity.ConversionJob, error) { return r.jobs, nil }

func day(d int) time.Time { return time.Date(2025, 5, d, 9, 30, 0, 0, time.UTC) }

func sampleJobs() []*entity.ConversionJob {
	done := day(3).Add(42 * time.Second)
	return []*entity.ConversionJob{
		{ID: uuid.New(), SourceName: "c.pptx", Status: constants.JobStatusQueued, CreatedAt: day(5)},
		{ID: uuid.New(), SourceName: "b.pptx", Status: constants.JobStatusSucceeded, ResultKey: "r.pdf", Attempts: 1, CreatedAt: day(3), FinishedAt: &done},
		{ID: uuid.New(), SourceName: "a.pptx", Status: constants.JobStatusFailed, ErrorMessage: "unoserver returned 500", Attempts: 2, CreatedAt: day(1), FinishedAt: &done},
	}
}

func TestExportJobsXLSX(t *testing.T) {
	svc := NewService(listRepo{jobs: sampleJobs()}, nil)
	data, err := svc.ExportJobsXLSX(context.Background(), nil, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(jobsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Job ID", rows[0][0])
	assert.Equal(t, "c.pptx", rows[1][4])
	assert.Equal(t, "SUCCEEDED", rows[2][3])
	assert.Equal(t, "r.pdf", rows[2][5])
	assert.Equal(t, "42", rows[2][6])
	assert.Equal(t, "unoserver returned 500", rows[3][8])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(summary), 5)
	assert.Equal(t, []string{"QUEUED", "1"}, summary[1])
	assert.Equal(t, []string{"FAILED", "1"}, summary[4])
}

func TestExportJobsXLSX_Window(t *testing.T) {
	svc := NewService(listRepo{jobs: sampleJobs()}, nil)
	from := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)
	data, err := svc.ExportJobsXLSX(context.Background(), &from, &to)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(jobsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b.pptx", rows[1][4])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
