package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/deckconvert/constants"
)

// ConversionJob represents a conversion job for data transfer between layers.
type ConversionJob struct {
	ID           uuid.UUID           `json:"id"`
	SourceName   string              `json:"source_name"`
	SourceKey    string              `json:"source_key"`
	ResultKey    string              `json:"result_key,omitempty"`
	Status       constants.JobStatus `json:"status"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Attempts     int                 `json:"attempts"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// Finished reports whether the job reached SUCCEEDED or FAILED.
func (j *ConversionJob) Finished() bool {
	return j.Status == constants.JobStatusSucceeded || j.Status == constants.JobStatusFailed
}

// Duration is the wall time from creation to finish, zero while the job runs.
func (j *ConversionJob) Duration() time.Duration {
	if j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(j.CreatedAt)
}
