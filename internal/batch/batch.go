// Package batch implements the batch enqueuer (SPEC_FULL.md §4.8): a
// directory walk matching a glob pattern, producing one queue submission per
// eligible file under a shared batch id. Ported from the daemon's prior
// submit_batch Python routine, but built on filepath.WalkDir and
// selector.MatchGlob rather than os.walk + fnmatch.
package batch

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
	"github.com/arrtheaudio/arrtheaudio/internal/queue"
	"github.com/arrtheaudio/arrtheaudio/internal/selector"
)

// defaultExtensions is the container union used when no pattern is supplied.
var defaultExtensions = []string{".mkv", ".mp4"}

// Manager is the subset of the queue manager the batch enqueuer needs.
type Manager interface {
	Submit(ctx context.Context, path string, priority job.Priority, source job.Source, opts queue.SubmitOptions) (*job.Job, error)
}

// Request describes one submit_batch call.
type Request struct {
	Root      string
	Pattern   string // glob against the path relative to Root; empty means default extensions
	Recursive bool
	DryRun    bool
	Priority  job.Priority
}

// Result is the outcome of one file under a batch walk.
type Result struct {
	Path    string
	Job     *job.Job
	Skipped bool
	Err     error
}

// Enqueuer walks directories and submits one job per matching file.
type Enqueuer struct {
	manager Manager
	log     zerolog.Logger
}

// New builds an Enqueuer over an already-constructed queue manager.
func New(manager Manager, logger zerolog.Logger) *Enqueuer {
	return &Enqueuer{manager: manager, log: logger}
}

// SubmitBatch walks req.Root, matching candidates against req.Pattern (or
// the default .mkv/.mp4 union when empty), and submits one job per
// candidate under a freshly generated batch id. In dry_run, candidates are
// logged but nothing is inserted and the returned jobs are nil. A failure
// submitting one candidate is logged and does not abort the walk; the
// corresponding Result carries the error.
func (e *Enqueuer) SubmitBatch(ctx context.Context, req Request) (string, []Result, error) {
	if !req.Priority.Valid() {
		req.Priority = job.PriorityNormal
	}

	pattern := req.Pattern
	if pattern != "" && req.Recursive && !strings.HasPrefix(pattern, "**/") {
		pattern = "**/" + pattern
	}

	batchID := job.NewID()
	var results []Result

	err := filepath.WalkDir(req.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			e.log.Warn().Str("path", path).Err(walkErr).Msg("batch walk error")
			return nil
		}
		if d.IsDir() {
			if !req.Recursive && path != req.Root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, relErr := filepath.Rel(req.Root, path)
		if relErr != nil {
			rel = path
		}
		if !matches(pattern, rel, path) {
			return nil
		}

		if req.DryRun {
			e.log.Info().Str("path", path).Str("batch_id", batchID).Msg("batch dry run: would enqueue")
			results = append(results, Result{Path: path, Skipped: true})
			return nil
		}

		j, submitErr := e.manager.Submit(ctx, path, req.Priority, job.SourceManual, queue.SubmitOptions{BatchID: batchID})
		if submitErr != nil {
			e.log.Warn().Str("path", path).Err(submitErr).Msg("batch candidate rejected")
			results = append(results, Result{Path: path, Err: submitErr})
			return nil
		}
		results = append(results, Result{Path: path, Job: j})
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("batch: walk %s: %w", req.Root, err)
	}

	return batchID, results, nil
}

// matches reports whether rel is an eligible candidate: against an explicit
// glob pattern if one was supplied, or against the default extension union
// otherwise.
func matches(pattern, rel, fullPath string) bool {
	if pattern != "" {
		return selector.MatchGlob(pattern, rel) || selector.MatchGlob(pattern, fullPath)
	}
	ext := strings.ToLower(filepath.Ext(fullPath))
	for _, want := range defaultExtensions {
		if ext == want {
			return true
		}
	}
	return false
}
