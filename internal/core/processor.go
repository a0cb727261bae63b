package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/common"
	"github.com/joseph-ayodele/deckconvert/internal/converter"
	"github.com/joseph-ayodele/deckconvert/internal/repository"
	"github.com/joseph-ayodele/deckconvert/internal/storage"
)

// MsgTimeLimit is recorded when a conversion outlives its task time limit.
const MsgTimeLimit = "Conversion exceeded its time limit"

// Processor runs one conversion job: fetch the source, convert it, store the PDF.
type Processor struct {
	logger    *slog.Logger
	jobsRepo  repository.ConversionJobRepository
	store     storage.Store
	converter converter.Converter
}

func NewProcessor(
	logger *slog.Logger,
	jobsRepo repository.ConversionJobRepository,
	store storage.Store,
	conv converter.Converter,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		logger:    logger,
		jobsRepo:  jobsRepo,
		store:     store,
		converter: conv,
	}
}

// Process converts the job's presentation and records the outcome on the job.
// A job that already finished is left alone, so redelivery is harmless.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) error {
	start := time.Now()
	job, err := p.jobsRepo.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Finished() {
		p.logger.Info("processor.skip_finished", "job_id", jobID, "status", job.Status)
		return nil
	}
	if err := p.jobsRepo.MarkRunning(ctx, jobID); err != nil {
		return err
	}
	p.logger.Info("processor.start",
		"job_id", jobID,
		"request_id", common.RequestIDFromContext(ctx),
		"source_key", job.SourceKey,
	)

	resultKey, err := p.convert(ctx, job.SourceName, job.SourceKey)
	if err != nil {
		p.logger.Error("processor.convert.failed", "job_id", jobID, "err", err)
		p.fail(ctx, jobID, err)
		return err
	}

	// Success is recorded even if the task deadline has just fired.
	if err := p.jobsRepo.MarkSucceeded(context.WithoutCancel(ctx), jobID, resultKey); err != nil {
		return err
	}
	p.logger.Info("processor.done",
		"job_id", jobID,
		"converter", p.converter.Name(),
		"result_key", resultKey,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Processor) convert(ctx context.Context, sourceName, sourceKey string) (string, error) {
	src, err := p.store.Get(ctx, sourceKey)
	if err != nil {
		return "", fmt.Errorf("fetch source: %w", err)
	}
	defer func() { _ = src.Close() }()

	pdf, err := p.converter.Convert(ctx, sourceName, src)
	if err != nil {
		return "", fmt.Errorf("%s convert: %w", p.converter.Name(), err)
	}
	p.logger.Debug("processor.converted", "source_key", sourceKey, "pdf_bytes", len(pdf))

	key := storage.ResultKey()
	if err := p.store.Put(ctx, key, bytes.NewReader(pdf), constants.PDFMIME); err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return key, nil
}

func (p *Processor) fail(ctx context.Context, jobID uuid.UUID, cause error) {
	msg := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = MsgTimeLimit
	}
	if err := p.jobsRepo.MarkFailed(context.WithoutCancel(ctx), jobID, msg); err != nil {
		p.logger.Error("processor.mark_failed.failed", "job_id", jobID, "err", err)
	}
}
