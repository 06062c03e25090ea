// Package worker implements the fixed-cardinality worker pool
// (SPEC_FULL.md §4.7): each worker polls the queue manager, runs the
// pipeline synchronously, and writes the terminal result back. The pool's
// startup contract recovers orphaned jobs left running by a prior crash.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
	"github.com/arrtheaudio/arrtheaudio/internal/pipeline"
	"github.com/arrtheaudio/arrtheaudio/internal/queue"
)

// emptyQueueBackoff is how long a worker sleeps after finding nothing to claim.
const emptyQueueBackoff = 1 * time.Second

// OrphanMessage is the fixed error_message stamped on jobs recovered at
// startup, matching the invariant in SPEC_FULL.md §8.
const OrphanMessage = "orphaned by restart"

// Manager is the subset of the queue manager the worker pool depends on.
type Manager interface {
	Next(ctx context.Context) (*job.Job, error)
	Complete(ctx context.Context, jobID string, trackIndex int, trackLanguage string) error
	Fail(ctx context.Context, jobID string, errMsg string) error
	Skip(ctx context.Context, jobID string, reason string) error
	ListRunning(ctx context.Context) ([]*job.Job, error)
	BatchStatus(ctx context.Context, batchID string) (queue.GroupStatus, error)
}

// Notifier is a transport for a titled text notification. The worker pool
// owns all message construction; Notifier implementations (internal/notify)
// only post and retry.
type Notifier interface {
	Send(ctx context.Context, title, message string) error
}

// NotifyConfig gates which terminal transitions produce a notification.
type NotifyConfig struct {
	OnFailure   bool
	OnBatchDone bool
}

// Pool is the fixed-cardinality worker pool.
type Pool struct {
	manager     Manager
	pipeline    *pipeline.Pipeline
	workerCount int
	notifier    Notifier
	notifyCfg   NotifyConfig
	log         zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Pool. notifier may be nil to disable notifications entirely,
// regardless of notifyCfg.
func New(manager Manager, p *pipeline.Pipeline, workerCount int, notifier Notifier, notifyCfg NotifyConfig, logger zerolog.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{manager: manager, pipeline: p, workerCount: workerCount, notifier: notifier, notifyCfg: notifyCfg, log: logger}
}

// Start recovers orphaned jobs and spawns workerCount worker goroutines.
// It returns once orphan recovery completes; workers keep running in the
// background until Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	if err := p.recoverOrphans(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		id := i
		go func() {
			defer p.wg.Done()
			p.workerLoop(runCtx, id)
		}()
	}

	return nil
}

// Stop signals every worker to exit after its current job and waits for
// them to finish. Workers do not abandon a job mid-pipeline.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// recoverOrphans implements the startup contract: any job left running by
// a prior process (killed before it could reach a terminal state) is
// reclassified failed, since no live worker can possibly be holding it.
func (p *Pool) recoverOrphans(ctx context.Context) error {
	running, err := p.manager.ListRunning(ctx)
	if err != nil {
		return err
	}
	for _, j := range running {
		if err := p.manager.Fail(ctx, j.ID, OrphanMessage); err != nil {
			p.log.Error().Str("job_id", j.ID).Err(err).Msg("failed to recover orphaned job")
			continue
		}
		p.log.Warn().Str("job_id", j.ID).Msg("recovered orphaned job from prior restart")
	}
	return nil
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	log := p.log.With().Int("worker_id", id).Logger()

	for {
		if ctx.Err() != nil {
			return
		}

		j, err := p.manager.Next(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to claim next job")
			select {
			case <-ctx.Done():
				return
			case <-time.After(emptyQueueBackoff):
			}
			continue
		}
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(emptyQueueBackoff):
			}
			continue
		}

		log.Info().Str("job_id", j.ID).Str("path", j.FilePath).Msg("processing job")
		// A claimed job runs to its terminal write even if Stop cancels ctx.
		jobCtx := context.WithoutCancel(ctx)
		result := p.pipeline.Process(jobCtx, j)
		p.applyResult(jobCtx, log, j, result)
	}
}

func (p *Pool) applyResult(ctx context.Context, log zerolog.Logger, j *job.Job, result pipeline.Result) {
	switch result.Outcome {
	case pipeline.OutcomeSuccess:
		idx := 0
		if result.SelectedTrackIndex != nil {
			idx = *result.SelectedTrackIndex
		}
		if err := p.manager.Complete(ctx, j.ID, idx, result.SelectedTrackLanguage); err != nil {
			log.Error().Str("job_id", j.ID).Err(err).Msg("failed to record completion")
		}

	case pipeline.OutcomeSkipped, pipeline.OutcomeDryRun:
		reason := result.Reason
		if reason == "" {
			reason = string(result.Outcome)
		}
		if err := p.manager.Skip(ctx, j.ID, reason); err != nil {
			log.Error().Str("job_id", j.ID).Err(err).Msg("failed to record skip")
		}

	case pipeline.OutcomeFailed, pipeline.OutcomeError:
		msg := result.Message
		if msg == "" {
			msg = result.Reason
		}
		if err := p.manager.Fail(ctx, j.ID, msg); err != nil {
			log.Error().Str("job_id", j.ID).Err(err).Msg("failed to record failure")
		}
		p.notifyFailure(ctx, log, j, msg)
	}

	p.notifyBatchDoneIfComplete(ctx, log, j)
}

// notifyFailure pages the configured ntfy topic on a job failure, if
// enabled. Delivery failure is logged and never affects the job outcome.
func (p *Pool) notifyFailure(ctx context.Context, log zerolog.Logger, j *job.Job, reason string) {
	if p.notifier == nil || !p.notifyCfg.OnFailure {
		return
	}
	title := "arrtheaudio: job failed"
	message := fmt.Sprintf("%s (%s): %s", j.ID, j.FilePath, reason)
	if err := p.notifier.Send(ctx, title, message); err != nil {
		log.Debug().Str("job_id", j.ID).Err(err).Msg("failure notification not delivered")
	}
}

// notifyBatchDoneIfComplete checks whether j's batch (if any) has just
// become fully terminal, and if so pages a summary notification. Every
// worker that finishes the last job in a batch will observe AllCompleted,
// so this may fire more than once for a batch; ntfy delivery is idempotent
// enough for this daemon's purposes and spec.md places no ordering
// guarantee across a batch's member jobs.
func (p *Pool) notifyBatchDoneIfComplete(ctx context.Context, log zerolog.Logger, j *job.Job) {
	if p.notifier == nil || !p.notifyCfg.OnBatchDone || j.BatchID == "" {
		return
	}
	status, err := p.manager.BatchStatus(ctx, j.BatchID)
	if err != nil {
		log.Debug().Str("batch_id", j.BatchID).Err(err).Msg("failed to check batch status for notification")
		return
	}
	if !status.AllCompleted {
		return
	}

	failed := 0
	for _, bj := range status.Jobs {
		if bj.Status == job.StatusFailed {
			failed++
		}
	}
	title := "arrtheaudio: batch complete"
	message := fmt.Sprintf("%s: %d/%d succeeded", j.BatchID, len(status.Jobs)-failed, len(status.Jobs))
	if err := p.notifier.Send(ctx, title, message); err != nil {
		log.Debug().Str("batch_id", j.BatchID).Err(err).Msg("batch-complete notification not delivered")
	}
}
