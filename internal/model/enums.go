package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRendering JobStatus = "rendering"
	JobStatusDone      JobStatus = "done"
	JobStatusError     JobStatus = "error"
)

// IsTerminal reports whether no further status transition may occur.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Provider task status (queue protocol of the generation provider)
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "IN_QUEUE"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// IsTerminal reports whether the provider will make no further progress.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Output formats supported by the remote render function
type OutputFormat string

const (
	OutputFormatMP4  OutputFormat = "mp4"
	OutputFormatWebM OutputFormat = "webm"
	OutputFormatGIF  OutputFormat = "gif"
)

var ValidOutputFormats = []OutputFormat{
	OutputFormatMP4, OutputFormatWebM, OutputFormatGIF,
}

// Payment status
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
)
