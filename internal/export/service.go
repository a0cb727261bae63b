package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/entity"
	"github.com/joseph-ayodele/deckconvert/internal/repository"
)

const (
	jobsSheet    = "Jobs"
	summarySheet = "Summary"
)

// Service is a tiny façade over the job repository that produces XLSX bytes for exports.
type Service struct {
	jobsRepo repository.ConversionJobRepository
	logger   *slog.Logger
}

func NewService(repo repository.ConversionJobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobsRepo: repo, logger: logger}
}

// ExportJobsXLSX returns an XLSX workbook (as bytes) of conversion jobs created
// in the given window, newest first.
// If only from is provided -> from..now.
// If only to is provided   -> beginning..to (inclusive of the whole day).
// If neither is provided   -> all jobs.
func (s *Service) ExportJobsXLSX(ctx context.Context, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	jobs, err := s.jobsRepo.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	jobs = inWindow(jobs, from, to)

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", jobsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Job ID",
		"Created (UTC)",
		"Finished (UTC)",
		"Status",
		"Source File",
		"Result Key",
		"Duration (s)",
		"Attempts",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(jobsSheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(jobsSheet, "A1", "I1", style)
	}

	counts := map[constants.JobStatus]int{}
	for i, j := range jobs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(jobsSheet, cell, v)
		}
		counts[j.Status]++

		write(1, j.ID.String())
		write(2, j.CreatedAt.UTC().Format(time.DateTime))
		if j.FinishedAt != nil {
			write(3, j.FinishedAt.UTC().Format(time.DateTime))
			write(7, j.Duration().Seconds())
		}
		write(4, string(j.Status))
		write(5, j.SourceName)
		write(6, j.ResultKey)
		write(8, j.Attempts)
		write(9, truncate(j.ErrorMessage, 140))
	}

	_ = f.SetColWidth(jobsSheet, "A", "A", 38) // id
	_ = f.SetColWidth(jobsSheet, "B", "C", 20) // timestamps
	_ = f.SetColWidth(jobsSheet, "D", "D", 12) // status
	_ = f.SetColWidth(jobsSheet, "E", "F", 40) // names
	_ = f.SetColWidth(jobsSheet, "G", "H", 12)
	_ = f.SetColWidth(jobsSheet, "I", "I", 60) // error

	_ = f.SetCellValue(summarySheet, "A1", "Status")
	_ = f.SetCellValue(summarySheet, "B1", "Jobs")
	for i, st := range []constants.JobStatus{
		constants.JobStatusQueued,
		constants.JobStatusRunning,
		constants.JobStatusSucceeded,
		constants.JobStatusFailed,
	} {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+2), string(st))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+2), counts[st])
	}
	_ = f.SetCellValue(summarySheet, "A6", "Total")
	_ = f.SetCellFormula(summarySheet, "B6", "SUM(B2:B5)")

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func inWindow(jobs []*entity.ConversionJob, from, to *time.Time) []*entity.ConversionJob {
	if from == nil && to == nil {
		return jobs
	}
	var end time.Time
	if to != nil {
		d := to.UTC()
		end = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
	out := jobs[:0:0]
	for _, j := range jobs {
		if from != nil && j.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && !j.CreatedAt.Before(end) {
			continue
		}
		out = append(out, j)
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
