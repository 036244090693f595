package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobKind distinguishes the first run of a campaign from a resumed run.
type JobKind string

const (
	JobKindSend   JobKind = "send"
	JobKindResume JobKind = "resume"
)

func (k JobKind) String() string { return string(k) }

// JobStatus is the state of one background send run.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	// JobStopped means the loop observed a non-sending campaign status and exited early.
	JobStopped JobStatus = "stopped"
	JobFailed  JobStatus = "failed"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobRunning, JobCompleted, JobStopped, JobFailed:
		return true
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobStopped || s == JobFailed
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// SendJob is the record of one background send loop run.
type SendJob struct {
	ID             string
	CampaignID     string
	OrganizationID string
	Kind           JobKind
	Status         JobStatus
	Total          int
	Sent           int
	Failed         int
	Error          *string
	StartedAt      time.Time
	FinishedAt     *time.Time
}
