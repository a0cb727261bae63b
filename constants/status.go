package constants

// Status is a step of the client-side conversion wizard.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusReady      Status = "ready"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no further automatic transition happens from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// InFlight reports whether an upload or conversion is under way in s.
func (s Status) InFlight() bool {
	return s == StatusUploading || s == StatusProcessing
}

// Remote status values reported by GET /status/{jobId}.
const (
	RemoteStatusProcessing = "processing"
	RemoteStatusDone       = "done"
	RemoteStatusError      = "error"
)

// JobStatus is the canonical status for rows in conversion_job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
)

// RemoteStatus maps a stored job status onto the wire value clients poll for.
func (s JobStatus) RemoteStatus() string {
	switch s {
	case JobStatusSucceeded:
		return RemoteStatusDone
	case JobStatusFailed:
		return RemoteStatusError
	default:
		return RemoteStatusProcessing
	}
}

// User-facing failure messages.
const (
	MsgUploadFailed      = "Upload failed"
	MsgConversionFailed  = "Conversion failed"
	MsgTimedOut          = "Conversion timed out"
	MsgPollNetworkError  = "Network error while polling"
	MsgNoFilename        = "No filename provided"
	MsgUnsupportedFormat = "Only .pptx files supported"
)
