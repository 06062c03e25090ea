package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
	"github.com/arrtheaudio/arrtheaudio/internal/selector"
	"github.com/arrtheaudio/arrtheaudio/internal/testutil/faketools"
)

func writeFixtureFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("fixture"), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func baseConfig() Config {
	cfg := Config{}
	cfg.Containers.MKV = true
	cfg.Containers.MP4 = true
	cfg.Execution.SkipIfCorrect = true
	cfg.Selector = selector.Config{LanguagePriority: []string{"eng", "jpn", "ita"}}
	return cfg
}

// TestOriginalLanguageHitSucceeds covers scenario 3.
func TestOriginalLanguageHitSucceeds(t *testing.T) {
	path := writeFixtureFile(t, "movie.mkv")
	prober := &faketools.Prober{
		Container: job.ContainerMKV,
		Tracks: []job.AudioTrack{
			{Index: 0, Language: "eng", IsDefault: true},
			{Index: 1, Language: "jpn"},
			{Index: 2, Language: "ita"},
		},
	}
	mkvMutator := &faketools.Mutator{}
	p := New(prober, mkvMutator, &faketools.Mutator{}, baseConfig())

	j := &job.Job{FilePath: path, OriginalLanguage: "jpn"}
	result := p.Process(context.Background(), j)

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Outcome, result.Message)
	}
	if result.SelectedTrackIndex == nil || *result.SelectedTrackIndex != 1 {
		t.Errorf("expected track index 1, got %v", result.SelectedTrackIndex)
	}
	if result.SelectedTrackLanguage != "jpn" {
		t.Errorf("expected jpn, got %s", result.SelectedTrackLanguage)
	}
	if len(mkvMutator.Calls) != 1 || mkvMutator.Calls[0].Index != 1 {
		t.Errorf("expected mutator called with index 1, got %+v", mkvMutator.Calls)
	}
}

// TestAlreadyCorrectSkipsWithoutMutating covers scenario 5.
func TestAlreadyCorrectSkipsWithoutMutating(t *testing.T) {
	path := writeFixtureFile(t, "movie.mkv")
	prober := &faketools.Prober{
		Container: job.ContainerMKV,
		Tracks: []job.AudioTrack{
			{Index: 0, Language: "eng"},
			{Index: 1, Language: "jpn", IsDefault: true},
		},
	}
	mkvMutator := &faketools.Mutator{}
	p := New(prober, mkvMutator, &faketools.Mutator{}, baseConfig())

	j := &job.Job{FilePath: path, OriginalLanguage: "jpn"}
	result := p.Process(context.Background(), j)

	if result.Outcome != OutcomeSkipped || result.Reason != ReasonAlreadyCorrect {
		t.Fatalf("expected skipped/already_correct, got %s/%s", result.Outcome, result.Reason)
	}
	if len(mkvMutator.Calls) != 0 {
		t.Errorf("expected no mutator calls, got %+v", mkvMutator.Calls)
	}
}

func TestNoAudioTracksSkips(t *testing.T) {
	path := writeFixtureFile(t, "movie.mkv")
	prober := &faketools.Prober{Container: job.ContainerMKV, Tracks: nil}
	p := New(prober, &faketools.Mutator{}, &faketools.Mutator{}, baseConfig())

	result := p.Process(context.Background(), &job.Job{FilePath: path})
	if result.Outcome != OutcomeSkipped || result.Reason != ReasonNoAudioTracks {
		t.Fatalf("expected skipped/no_audio_tracks, got %s/%s", result.Outcome, result.Reason)
	}
}

func TestUnsupportedContainerSkips(t *testing.T) {
	path := writeFixtureFile(t, "movie.avi")
	prober := &faketools.Prober{Container: job.ContainerUnsupported}
	p := New(prober, &faketools.Mutator{}, &faketools.Mutator{}, baseConfig())

	result := p.Process(context.Background(), &job.Job{FilePath: path})
	if result.Outcome != OutcomeSkipped || result.Reason != ReasonUnsupportedContainer {
		t.Fatalf("expected skipped/unsupported_container, got %s/%s", result.Outcome, result.Reason)
	}
}

func TestMissingFileIsError(t *testing.T) {
	p := New(&faketools.Prober{}, &faketools.Mutator{}, &faketools.Mutator{}, baseConfig())
	result := p.Process(context.Background(), &job.Job{FilePath: "/nonexistent/file.mkv"})
	if result.Outcome != OutcomeError {
		t.Fatalf("expected error outcome, got %s", result.Outcome)
	}
}

func TestDryRunDoesNotMutate(t *testing.T) {
	path := writeFixtureFile(t, "movie.mkv")
	prober := &faketools.Prober{
		Container: job.ContainerMKV,
		Tracks:    []job.AudioTrack{{Index: 0, Language: "eng"}, {Index: 1, Language: "jpn"}},
	}
	mkvMutator := &faketools.Mutator{}
	cfg := baseConfig()
	cfg.Execution.DryRun = true
	p := New(prober, mkvMutator, &faketools.Mutator{}, cfg)

	result := p.Process(context.Background(), &job.Job{FilePath: path, OriginalLanguage: "jpn"})
	if result.Outcome != OutcomeDryRun {
		t.Fatalf("expected dry_run, got %s", result.Outcome)
	}
	if len(mkvMutator.Calls) != 0 {
		t.Errorf("expected no mutator calls during dry run")
	}
}

// TestRemuxFailureYieldsFailed covers scenario 7's pipeline-level effect:
// a mutator failure becomes a terminal `failed` result, not a crash.
func TestRemuxFailureYieldsFailed(t *testing.T) {
	path := writeFixtureFile(t, "movie.mp4")
	prober := &faketools.Prober{
		Container: job.ContainerMP4,
		Tracks:    []job.AudioTrack{{Index: 0, Language: "eng"}, {Index: 1, Language: "jpn"}},
	}
	mp4Mutator := &faketools.Mutator{Corrupt: true}
	p := New(prober, &faketools.Mutator{}, mp4Mutator, baseConfig())

	result := p.Process(context.Background(), &job.Job{FilePath: path, OriginalLanguage: "jpn"})
	if result.Outcome != OutcomeFailed || result.Reason != ReasonExecutionFailed {
		t.Fatalf("expected failed/execution_failed, got %s/%s", result.Outcome, result.Reason)
	}
}
