// Package pipeline orchestrates a single job through probe -> select ->
// skip-check -> mutate, producing a terminal Result. It is a pure function
// of its injected dependencies (Prober, Mutator lookup, Selector
// configuration) and has no awareness of the queue manager or worker pool,
// breaking the cycle the original implementation's late-import wiring had
// between those three components (SPEC_FULL.md §9 design notes).
package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
	"github.com/arrtheaudio/arrtheaudio/internal/mutator"
	"github.com/arrtheaudio/arrtheaudio/internal/selector"
)

// Outcome classifies how a pipeline run terminated.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeDryRun  Outcome = "dry_run"
	OutcomeFailed  Outcome = "failed"
	OutcomeError   Outcome = "error"
)

// Reason tags, matching the original pipeline's reason strings. Most tag a
// skip; ReasonExecutionFailed tags a failed outcome and ReasonFileMissing
// an error outcome.
const (
	ReasonUnsupportedContainer = "unsupported_container"
	ReasonMKVDisabled          = "mkv_disabled"
	ReasonMP4Disabled          = "mp4_disabled"
	ReasonNoAudioTracks        = "no_audio_tracks"
	ReasonNoMatchingTrack      = "no_matching_track"
	ReasonAlreadyCorrect       = "already_correct"
	ReasonExecutionFailed      = "execution_failed"
	ReasonFileMissing          = "file_missing"
)

// Result is the terminal outcome of processing one job.
type Result struct {
	Outcome               Outcome
	Reason                string
	Message               string
	SelectedTrackIndex    *int
	SelectedTrackLanguage string
}

// Prober is the contract the pipeline consumes to classify and analyze a file.
type Prober interface {
	Probe(ctx context.Context, path string) (job.Container, []job.AudioTrack, error)
}

// Config carries the subset of daemon configuration the pipeline needs.
type Config struct {
	Containers struct {
		MKV bool
		MP4 bool
	}
	Execution struct {
		DryRun        bool
		SkipIfCorrect bool
	}
	Selector selector.Config
}

// Pipeline wires a Prober and the two Mutator variants, selected by container.
type Pipeline struct {
	Prober     Prober
	MKVMutator mutator.Mutator
	MP4Mutator mutator.Mutator
	Config     Config
}

// New builds a Pipeline from its dependencies.
func New(p Prober, mkv, mp4 mutator.Mutator, cfg Config) *Pipeline {
	return &Pipeline{Prober: p, MKVMutator: mkv, MP4Mutator: mp4, Config: cfg}
}

// Process runs the full seven-step algorithm for a single job and returns
// its terminal result. It never panics out to the caller: any unexpected
// error from the prober, selector, or mutator is captured as OutcomeError.
func (p *Pipeline) Process(ctx context.Context, j *job.Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Outcome: OutcomeError, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()
	result, err := p.process(ctx, j)
	if err != nil {
		return Result{Outcome: OutcomeError, Message: err.Error()}
	}
	return result
}

func (p *Pipeline) process(ctx context.Context, j *job.Job) (Result, error) {
	// Step 1: re-verify the file exists and is a regular file.
	info, err := os.Stat(j.FilePath)
	if err != nil {
		return Result{Outcome: OutcomeError, Reason: ReasonFileMissing, Message: err.Error()}, nil
	}
	if !info.Mode().IsRegular() {
		return Result{Outcome: OutcomeError, Reason: ReasonFileMissing, Message: "not a regular file"}, nil
	}

	// Step 2: probe; unsupported or disabled container is a skip.
	container, tracks, err := p.Prober.Probe(ctx, j.FilePath)
	if err != nil {
		return Result{}, fmt.Errorf("probe: %w", err)
	}
	if container == job.ContainerUnsupported {
		return Result{Outcome: OutcomeSkipped, Reason: ReasonUnsupportedContainer}, nil
	}
	if container == job.ContainerMKV && !p.Config.Containers.MKV {
		return Result{Outcome: OutcomeSkipped, Reason: ReasonMKVDisabled}, nil
	}
	if container == job.ContainerMP4 && !p.Config.Containers.MP4 {
		return Result{Outcome: OutcomeSkipped, Reason: ReasonMP4Disabled}, nil
	}

	// Step 3: empty track list is a skip.
	if len(tracks) == 0 {
		return Result{Outcome: OutcomeSkipped, Reason: ReasonNoAudioTracks}, nil
	}

	// Step 4: selector; no match is a skip.
	track, _ := selector.Select(tracks, j.FilePath, j.OriginalLanguage, p.Config.Selector)
	if track == nil {
		return Result{Outcome: OutcomeSkipped, Reason: ReasonNoMatchingTrack}, nil
	}

	// Step 5: already-correct skip.
	if track.IsDefault && p.Config.Execution.SkipIfCorrect {
		return Result{Outcome: OutcomeSkipped, Reason: ReasonAlreadyCorrect}, nil
	}

	// Step 6: dry run, no mutation.
	if p.Config.Execution.DryRun {
		return Result{
			Outcome:               OutcomeDryRun,
			SelectedTrackIndex:    intPtr(track.Index),
			SelectedTrackLanguage: track.Language,
		}, nil
	}

	// Step 7: invoke the container-appropriate mutator.
	m := p.MKVMutator
	if container == job.ContainerMP4 {
		m = p.MP4Mutator
	}
	if err := m.SetDefaultAudio(ctx, j.FilePath, track.Index); err != nil {
		return Result{Outcome: OutcomeFailed, Reason: ReasonExecutionFailed, Message: err.Error()}, nil
	}

	return Result{
		Outcome:               OutcomeSuccess,
		SelectedTrackIndex:    intPtr(track.Index),
		SelectedTrackLanguage: track.Language,
	}, nil
}

func intPtr(i int) *int { return &i }
