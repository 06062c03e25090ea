// Package job defines the job record that flows through the store, queue
// manager, and worker pool: identity fields fixed at creation plus the
// mutable lifecycle fields written by a single worker at a time.
package job

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job. Terminal = Completed, Failed, Cancelled.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition out of s is legal.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority governs dequeue order: High before Normal before Low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the three known priority classes.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// rank returns a small integer used to order priority classes, lower first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// Rank exposes the ordering value (0 high, 1 normal, 2 low, 3 unknown),
// the same order store.ClaimNext's hand-written SQL CASE expression uses.
func (p Priority) Rank() int { return p.rank() }

// Source identifies what triggered the job. Informational only; it never
// affects scheduling.
type Source string

const (
	SourceSonarr Source = "sonarr"
	SourceRadarr Source = "radarr"
	SourceManual Source = "manual"
	SourceRetry  Source = "retry"
)

// Container is the file-format wrapper a job's file is classified into.
type Container string

const (
	ContainerMKV         Container = "mkv"
	ContainerMP4         Container = "mp4"
	ContainerUnsupported Container = "unsupported"
)

// Job is the fundamental durable unit. Identity fields (ID, FilePath,
// Container, CreatedAt, Source, WebhookID, BatchID, and the optional hints)
// are set at construction and never change. Every other field is written by
// at most one worker at a time, and the fields documented as "terminal-only"
// are written exactly once, atomically with the transition into a terminal
// status.
type Job struct {
	ID       string
	FilePath string

	Container Container
	Status    Status
	Priority  Priority
	Source    Source

	WebhookID string
	BatchID   string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	SelectedTrackIndex    *int
	SelectedTrackLanguage string

	Success      *bool
	ErrorMessage string
	RetryCount   int

	// Optional hints, supplied by the caller at enqueue time. The sole
	// mechanism by which external metadata resolution enters the core.
	TMDBID           *int64
	OriginalLanguage string
	SeriesTitle      string
	MovieTitle       string
}

// NewID returns a fresh, URL-safe job identifier: 12 lowercase hex
// characters, long enough to avoid collisions for any realistic queue depth
// without needing the full 32-character form.
func NewID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return raw[:12]
}

// IsWorkable reports whether the job may still be claimed by a worker.
func (j *Job) IsWorkable() bool {
	return j.Status == StatusQueued
}
