package core

import (
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

type JobType string

const (
	JobTypeReceipt JobType = "receipt"
	JobTypeComanda JobType = "comanda"
	JobTypeTest    JobType = "test"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeReceipt, JobTypeComanda, JobTypeTest:
		return true
	}
	return false
}

// Job is one "send these bytes to this printer" unit of work.
type Job struct {
	ID            string
	PrinterID     string
	Type          JobType
	Content       []byte
	Status        JobStatus
	RetryCount    int
	ErrorMessage  string
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	CompletedAt   *time.Time
}

// RetryEligible reports whether a failed job may be attempted again at now.
func (j *Job) RetryEligible(now time.Time, maxRetries int, cooldown time.Duration) bool {
	if j.Status != JobStatusFailed || j.RetryCount >= maxRetries {
		return false
	}
	if j.LastAttemptAt == nil {
		return true
	}
	return now.Sub(*j.LastAttemptAt) >= cooldown
}

// Exhausted reports a failed job that will not be retried without operator action.
func (j *Job) Exhausted(maxRetries int) bool {
	return j.Status == JobStatusFailed && j.RetryCount >= maxRetries
}

type PrinterType string

const (
	PrinterTypeNetwork PrinterType = "network"
	PrinterTypeAgent   PrinterType = "agent"
)

type PrintMode string

const (
	PrintModeImmediate PrintMode = "immediate"
	PrintModeOnDemand  PrintMode = "on_demand"
)

// Printer is configuration-time data. Address is host:port for network printers and the
// agent GUID for printers attached to a remote agent.
type Printer struct {
	ID        string
	Name      string
	Type      PrinterType
	Address   string
	Enabled   bool
	Mode      PrintMode
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DueQuery selects pending jobs plus failed jobs with retries left whose last attempt is at or
// before AttemptedBefore, oldest first.
type DueQuery struct {
	Limit           int
	MaxRetries      int
	AttemptedBefore time.Time
}

type JobFilter struct {
	PrinterID string
	Status    JobStatus
	Limit     int
	Offset    int
}

type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Exhausted  int `json:"exhausted"`
	Total      int `json:"total"`
}

type JobEvent string

const (
	EventJobSucceeded JobEvent = "job_succeeded"
	EventJobFailed    JobEvent = "job_failed"
	EventJobExhausted JobEvent = "job_exhausted"
)
