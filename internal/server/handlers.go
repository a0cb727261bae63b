package server

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/async"
	"github.com/joseph-ayodele/deckconvert/internal/common"
	"github.com/joseph-ayodele/deckconvert/internal/storage"
)

type convertResponse struct {
	JobID string `json:"jobId"`
}

type statusResponse struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleConvert accepts a multipart upload in field "file", stores it and
// queues a conversion job.
func (s *ConversionService) handleConvert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := common.RequestIDFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d bytes", s.opts.MaxUploadBytes))
		case errors.Is(err, http.ErrMissingFile) && r.MultipartForm != nil && len(r.MultipartForm.Value["file"]) > 0:
			// A "file" part without a filename parses as a plain value.
			writeError(w, http.StatusBadRequest, constants.MsgNoFilename)
		case errors.Is(err, http.ErrMissingFile):
			writeError(w, http.StatusBadRequest, "No file provided")
		default:
			writeError(w, http.StatusBadRequest, "Invalid multipart upload")
		}
		return
	}
	defer func() { _ = file.Close() }()

	name := filepath.Base(strings.ReplaceAll(hdr.Filename, `\`, "/"))
	if strings.TrimSpace(hdr.Filename) == "" || name == "." || name == "/" {
		writeError(w, http.StatusBadRequest, constants.MsgNoFilename)
		return
	}
	if !constants.AllowedFile(name) {
		writeError(w, http.StatusBadRequest, constants.MsgUnsupportedFormat)
		return
	}

	key := storage.SourceKey(name)
	if err := s.store.Put(ctx, key, file, constants.PresentationMIME); err != nil {
		s.logger.Error("store upload failed", zap.String("request_id", reqID), zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not store upload")
		return
	}

	job, err := s.jobs.Create(ctx, name, key)
	if err != nil {
		s.logger.Error("create job failed", zap.String("request_id", reqID), zap.Error(err))
		s.discardUpload(ctx, key)
		writeError(w, http.StatusInternalServerError, "Could not create job")
		return
	}

	if err := s.queue.Enqueue(ctx, async.Job{JobID: job.ID, SubmittedAt: time.Now(), TraceID: reqID}); err != nil {
		s.logger.Error("enqueue failed", zap.String("request_id", reqID), zap.Stringer("job_id", job.ID), zap.Error(err))
		if ferr := s.jobs.MarkFailed(ctx, job.ID, "Could not queue conversion"); ferr != nil {
			s.logger.Error("mark failed after enqueue error", zap.Stringer("job_id", job.ID), zap.Error(ferr))
		}
		s.discardUpload(ctx, key)
		writeError(w, http.StatusServiceUnavailable, "Conversion service busy, try again later")
		return
	}

	s.logger.Info("conversion queued",
		zap.String("request_id", reqID),
		zap.Stringer("job_id", job.ID),
		zap.String("file", name),
		zap.Int64("bytes", hdr.Size),
	)
	writeJSON(w, http.StatusOK, convertResponse{JobID: job.ID.String()})
}

// discardUpload removes a stored upload that no job will ever read. It runs
// even if the client has already gone away.
func (s *ConversionService) discardUpload(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("discard upload failed", zap.String("key", key), zap.Error(err))
	}
}

// handleStatus maps the stored job onto processing, done or error.
func (s *ConversionService) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Error("load job failed", zap.Stringer("job_id", id), zap.Error(err))
		writeError(w, common.HTTPStatus(err), common.PublicMessage(err))
		return
	}

	resp := statusResponse{Status: job.Status.RemoteStatus()}
	switch resp.Status {
	case constants.RemoteStatusDone:
		u, err := s.store.URL(ctx, job.ResultKey)
		if err != nil {
			s.logger.Error("result url failed", zap.Stringer("job_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Could not build download URL")
			return
		}
		resp.URL = u
	case constants.RemoteStatusError:
		resp.Error = job.ErrorMessage
		if resp.Error == "" {
			resp.Error = constants.MsgConversionFailed
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFile serves artifacts when the store keeps them on local disk.
func (s *ConversionService) handleFile(w http.ResponseWriter, r *http.Request) {
	opener, ok := s.store.(fileOpener)
	key := r.PathValue("key")
	if !ok || !storage.ValidKey(key) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	f, err := opener.Open(key)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		s.logger.Error("open artifact failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not read file")
		return
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not read file")
		return
	}

	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if strings.EqualFold(filepath.Ext(key), ".pdf") {
		w.Header().Set("Content-Type", constants.PDFMIME)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": key}))
	}
	http.ServeContent(w, r, key, info.ModTime(), f)
}

// handleExport returns job history as an xlsx workbook. Optional from/to
// query parameters take YYYY-MM-DD dates.
func (s *ConversionService) handleExport(w http.ResponseWriter, r *http.Request) {
	parse := func(name string) (*time.Time, bool) {
		v := strings.TrimSpace(r.URL.Query().Get(name))
		if v == "" {
			return nil, true
		}
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be YYYY-MM-DD")
			return nil, false
		}
		return &t, true
	}
	from, ok := parse("from")
	if !ok {
		return
	}
	to, ok := parse("to")
	if !ok {
		return
	}
	if from != nil && to != nil && to.Before(*from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	data, err := s.exports.ExportJobsXLSX(r.Context(), from, to)
	if err != nil {
		s.logger.Error("export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not build export")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="conversion-jobs.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *ConversionService) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context(), 2*time.Second); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
