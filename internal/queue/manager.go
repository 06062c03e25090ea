// Package queue implements the queue manager: a thin, concurrency-safe
// facade over the store that handles admission, dequeue, and
// status-transition requests (SPEC_FULL.md §4.6). It enforces the legal
// state machine (queued -> running -> {completed, failed}; queued ->
// cancelled) and per-container admission limits; all mutation still goes
// through the store, which remains the only shared mutable state.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
	"github.com/arrtheaudio/arrtheaudio/internal/store"
)

// Errors surfaced to the caller of submit/cancel/transition (SPEC_FULL.md §7,
// "Admission rejections" and "Invariant violations").
var (
	ErrContainerUnsupported = errors.New("queue: unsupported container")
	ErrContainerDisabled    = errors.New("queue: container disabled by configuration")
	ErrInvalidPriority      = errors.New("queue: invalid priority")
	ErrIllegalTransition    = errors.New("queue: illegal state transition")
)

// ContainerProber is the subset of the Prober contract the queue manager
// needs at submission time: container classification only, no track
// analysis (SPEC_FULL.md §4.6: "probe for container only").
type ContainerProber interface {
	Probe(ctx context.Context, path string) (job.Container, []job.AudioTrack, error)
}

// Config is the subset of daemon configuration the queue manager enforces.
type Config struct {
	MKVEnabled       bool
	MP4Enabled       bool
	MaxMP4Concurrent int
}

// Manager is the queue manager.
type Manager struct {
	store  *store.Store
	prober ContainerProber
	cfg    Config
	log    zerolog.Logger
}

// New builds a Manager over an already-open store.
func New(s *store.Store, p ContainerProber, cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{store: s, prober: p, cfg: cfg, log: logger}
}

// SubmitOptions carries the optional grouping keys and hints a caller may
// attach at enqueue time.
type SubmitOptions struct {
	WebhookID        string
	BatchID          string
	TMDBID           *int64
	OriginalLanguage string
	SeriesTitle      string
	MovieTitle       string
	RetryCount       int
}

// Submit probes path for its container class, rejects disabled/unsupported
// containers, and inserts a new queued job.
func (m *Manager) Submit(ctx context.Context, path string, priority job.Priority, source job.Source, opts SubmitOptions) (*job.Job, error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}

	container, _, err := m.prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("queue: submit: probe: %w", err)
	}
	if container == job.ContainerUnsupported {
		return nil, fmt.Errorf("%w: %s", ErrContainerUnsupported, path)
	}
	if container == job.ContainerMKV && !m.cfg.MKVEnabled {
		return nil, fmt.Errorf("%w: mkv", ErrContainerDisabled)
	}
	if container == job.ContainerMP4 && !m.cfg.MP4Enabled {
		return nil, fmt.Errorf("%w: mp4", ErrContainerDisabled)
	}

	j := &job.Job{
		ID:               job.NewID(),
		FilePath:         path,
		Container:        container,
		Status:           job.StatusQueued,
		Priority:         priority,
		Source:           source,
		WebhookID:        opts.WebhookID,
		BatchID:          opts.BatchID,
		CreatedAt:        time.Now().UTC(),
		TMDBID:           opts.TMDBID,
		OriginalLanguage: opts.OriginalLanguage,
		SeriesTitle:      opts.SeriesTitle,
		MovieTitle:       opts.MovieTitle,
		RetryCount:       opts.RetryCount,
	}

	if err := m.store.Insert(ctx, j); err != nil {
		return nil, fmt.Errorf("queue: submit: insert: %w", err)
	}

	m.log.Info().Str("job_id", j.ID).Str("path", path).Str("container", string(container)).
		Str("priority", string(priority)).Msg("job submitted")

	return j, nil
}

// Next delegates to store.ClaimNext, enforcing the MP4 concurrency cap as a
// claim-time filter (see store.ClaimNext's doc comment for the rationale).
func (m *Manager) Next(ctx context.Context) (*job.Job, error) {
	mp4Cap := m.cfg.MaxMP4Concurrent
	j, err := m.store.ClaimNext(ctx, mp4Cap)
	if err != nil {
		return nil, fmt.Errorf("queue: next: %w", err)
	}
	return j, nil
}

// Complete transitions a running job to completed, recording the selected
// track. Fails if the job is not currently running.
func (m *Manager) Complete(ctx context.Context, jobID string, trackIndex int, trackLanguage string) error {
	j, err := m.requireRunning(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	success := true
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	j.Success = &success
	j.SelectedTrackIndex = &trackIndex
	j.SelectedTrackLanguage = trackLanguage

	if err := m.store.Update(ctx, j); err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	m.log.Info().Str("job_id", jobID).Int("track_index", trackIndex).Msg("job completed")
	return nil
}

// Fail transitions a running job to failed, recording errMsg.
func (m *Manager) Fail(ctx context.Context, jobID string, errMsg string) error {
	j, err := m.requireRunning(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	success := false
	j.Status = job.StatusFailed
	j.CompletedAt = &now
	j.Success = &success
	j.ErrorMessage = errMsg

	if err := m.store.Update(ctx, j); err != nil {
		return fmt.Errorf("queue: fail: %w", err)
	}
	m.log.Warn().Str("job_id", jobID).Str("error", errMsg).Msg("job failed")
	return nil
}

// Skip transitions a running job to completed without a selected track.
// Skipped jobs are not failures: Success is true, matching the pipeline's
// "skipped" and "dry_run" outcomes which are not errors (SPEC_FULL.md §7).
// error_message is reserved for the status==failed case (spec.md §3); the
// skip reason is visible only in the log line, never persisted on the job.
func (m *Manager) Skip(ctx context.Context, jobID string, reason string) error {
	j, err := m.requireRunning(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	success := true
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	j.Success = &success

	if err := m.store.Update(ctx, j); err != nil {
		return fmt.Errorf("queue: skip: %w", err)
	}
	m.log.Info().Str("job_id", jobID).Str("reason", reason).Msg("job skipped")
	return nil
}

func (m *Manager) requireRunning(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	if j.Status != job.StatusRunning {
		return nil, fmt.Errorf("%w: job %s is %s, not running", ErrIllegalTransition, jobID, j.Status)
	}
	return j, nil
}

// Cancel transitions a queued job to cancelled. Legal only from queued;
// running or terminal jobs reject cancellation.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	j, err := m.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("queue: cancel: %w", err)
	}
	if j.Status != job.StatusQueued {
		return fmt.Errorf("%w: job %s is %s, not queued", ErrIllegalTransition, jobID, j.Status)
	}

	now := time.Now().UTC()
	success := false
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	j.Success = &success

	if err := m.store.Update(ctx, j); err != nil {
		return fmt.Errorf("queue: cancel: %w", err)
	}
	m.log.Info().Str("job_id", jobID).Msg("job cancelled")
	return nil
}

// ListRunning returns every job currently in the running status, used by
// the worker pool's startup orphan-recovery sweep.
func (m *Manager) ListRunning(ctx context.Context) ([]*job.Job, error) {
	return m.store.ListByStatus(ctx, job.StatusRunning)
}

// RunningMP4Count reports how many MP4 jobs are currently running.
func (m *Manager) RunningMP4Count(ctx context.Context) (int, error) {
	return m.store.CountRunningForContainer(ctx, job.ContainerMP4)
}

// Get returns a single job record.
func (m *Manager) Get(ctx context.Context, jobID string) (*job.Job, error) {
	return m.store.Get(ctx, jobID)
}

// QueueStats returns aggregate counts across all jobs.
func (m *Manager) QueueStats(ctx context.Context) (store.Counts, error) {
	return m.store.AggregateCounts(ctx)
}

// GroupStatus summarizes a set of jobs sharing a webhook_id or batch_id.
type GroupStatus struct {
	GroupID      string
	Jobs         []*job.Job
	AllCompleted bool
	AnyFailed    bool
}

// WebhookStatus aggregates all jobs sharing webhookID.
func (m *Manager) WebhookStatus(ctx context.Context, webhookID string) (GroupStatus, error) {
	jobs, err := m.store.ListByWebhook(ctx, webhookID)
	if err != nil {
		return GroupStatus{}, fmt.Errorf("queue: webhook_status: %w", err)
	}
	return summarize(webhookID, jobs), nil
}

// BatchStatus aggregates all jobs sharing batchID.
func (m *Manager) BatchStatus(ctx context.Context, batchID string) (GroupStatus, error) {
	jobs, err := m.store.ListByBatch(ctx, batchID)
	if err != nil {
		return GroupStatus{}, fmt.Errorf("queue: batch_status: %w", err)
	}
	return summarize(batchID, jobs), nil
}

func summarize(groupID string, jobs []*job.Job) GroupStatus {
	status := GroupStatus{GroupID: groupID, Jobs: jobs, AllCompleted: true}
	for _, j := range jobs {
		if !j.Status.IsTerminal() {
			status.AllCompleted = false
		}
		if j.Status == job.StatusFailed {
			status.AnyFailed = true
		}
	}
	return status
}
