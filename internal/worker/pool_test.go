package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
	"github.com/arrtheaudio/arrtheaudio/internal/pipeline"
	"github.com/arrtheaudio/arrtheaudio/internal/queue"
	"github.com/arrtheaudio/arrtheaudio/internal/selector"
	"github.com/arrtheaudio/arrtheaudio/internal/store"
	"github.com/arrtheaudio/arrtheaudio/internal/testutil/faketools"
)

func newTestStack(t *testing.T) (*store.Store, *queue.Manager) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	prober := &faketools.Prober{Container: job.ContainerMKV}
	m := queue.New(s, prober, queue.Config{MKVEnabled: true, MP4Enabled: true, MaxMP4Concurrent: 1}, zerolog.Nop())
	return s, m
}

func waitForTerminal(t *testing.T, m *queue.Manager, jobID string, timeout time.Duration) *job.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, err := m.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if j.Status.IsTerminal() {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state in time", jobID)
	return nil
}

func TestPoolRecoversOrphansAtStartup(t *testing.T) {
	s, m := newTestStack(t)
	ctx := context.Background()

	j, err := m.Submit(ctx, "/media/orphan.mkv", job.PriorityNormal, job.SourceManual, queue.SubmitOptions{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	claimed, err := m.Next(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("next failed: %v", err)
	}
	_ = s

	prober := &faketools.Prober{Container: job.ContainerMKV}
	pl := pipeline.New(prober, &faketools.Mutator{}, &faketools.Mutator{}, pipeline.Config{})
	pool := New(m, pl, 1, nil, NotifyConfig{}, zerolog.Nop())

	if err := pool.recoverOrphans(ctx); err != nil {
		t.Fatalf("recoverOrphans failed: %v", err)
	}

	got, err := m.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != job.StatusFailed || got.ErrorMessage != OrphanMessage {
		t.Fatalf("expected orphaned job to be failed with %q, got status=%s msg=%q", OrphanMessage, got.Status, got.ErrorMessage)
	}
}

func TestPoolProcessesSubmittedJobEndToEnd(t *testing.T) {
	_, m := newTestStack(t)
	ctx := context.Background()

	j, err := m.Submit(ctx, "/media/feature.mkv", job.PriorityHigh, job.SourceSonarr, queue.SubmitOptions{OriginalLanguage: "jpn"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	prober := &faketools.Prober{
		Container: job.ContainerMKV,
		Tracks: []job.AudioTrack{
			{Index: 0, Language: "eng", IsDefault: true},
			{Index: 1, Language: "jpn"},
		},
	}
	cfg := pipeline.Config{}
	cfg.Containers.MKV = true
	cfg.Containers.MP4 = true
	cfg.Selector = selector.Config{LanguagePriority: []string{"eng", "jpn"}}
	pl := pipeline.New(prober, &faketools.Mutator{}, &faketools.Mutator{}, cfg)

	pool := New(m, pl, 2, nil, NotifyConfig{}, zerolog.Nop())
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer pool.Stop()

	final := waitForTerminal(t, m, j.ID, 2*time.Second)
	if final.Status != job.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Status, final.ErrorMessage)
	}
	if final.SelectedTrackLanguage != "jpn" {
		t.Errorf("expected jpn selected, got %s", final.SelectedTrackLanguage)
	}
}

func TestPoolStartThenStopReturnsWithEmptyQueue(t *testing.T) {
	_, m := newTestStack(t)
	ctx := context.Background()

	prober := &faketools.Prober{Container: job.ContainerMKV, Tracks: nil}
	pl := pipeline.New(prober, &faketools.Mutator{}, &faketools.Mutator{}, pipeline.Config{})
	pool := New(m, pl, 1, nil, NotifyConfig{}, zerolog.Nop())

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	pool.Stop()
}

// fakeNotifier records every notification it's asked to send, so tests can
// assert on what the worker pool decided to say without a real ntfy server.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

type sentNotification struct {
	Title   string
	Message string
}

func (f *fakeNotifier) Send(ctx context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{Title: title, Message: message})
	return f.err
}

func (f *fakeNotifier) snapshot() []sentNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentNotification, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestPoolNotifiesOnFailureWhenEnabled(t *testing.T) {
	_, m := newTestStack(t)
	ctx := context.Background()

	j, err := m.Submit(ctx, "/media/broken.mkv", job.PriorityNormal, job.SourceManual, queue.SubmitOptions{OriginalLanguage: "jpn"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	prober := &faketools.Prober{
		Container: job.ContainerMKV,
		Tracks:    []job.AudioTrack{{Index: 0, Language: "eng"}, {Index: 1, Language: "jpn"}},
	}
	cfg := pipeline.Config{}
	cfg.Containers.MKV = true
	cfg.Selector = selector.Config{LanguagePriority: []string{"eng", "jpn"}}
	pl := pipeline.New(prober, &faketools.Mutator{Corrupt: true}, &faketools.Mutator{}, cfg)

	notifier := &fakeNotifier{}
	pool := New(m, pl, 1, notifier, NotifyConfig{OnFailure: true}, zerolog.Nop())
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer pool.Stop()

	final := waitForTerminal(t, m, j.ID, 2*time.Second)
	if final.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}

	deadline := time.Now().Add(time.Second)
	for len(notifier.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sent := notifier.snapshot()
	if len(sent) != 1 {
		t.Fatalf("expected one failure notification, got %+v", sent)
	}
	if sent[0].Title != "arrtheaudio: job failed" {
		t.Errorf("unexpected title: %s", sent[0].Title)
	}
}

func TestPoolNotifiesOnBatchDoneWhenAllJobsTerminal(t *testing.T) {
	_, m := newTestStack(t)
	ctx := context.Background()

	j1, err := m.Submit(ctx, "/media/s01e01.mkv", job.PriorityNormal, job.SourceSonarr, queue.SubmitOptions{BatchID: "B1"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	j2, err := m.Submit(ctx, "/media/s01e02.mkv", job.PriorityNormal, job.SourceSonarr, queue.SubmitOptions{BatchID: "B1"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	prober := &faketools.Prober{Container: job.ContainerMKV, Tracks: nil}
	pl := pipeline.New(prober, &faketools.Mutator{}, &faketools.Mutator{}, pipeline.Config{})

	notifier := &fakeNotifier{}
	pool := New(m, pl, 2, notifier, NotifyConfig{OnBatchDone: true}, zerolog.Nop())
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer pool.Stop()

	waitForTerminal(t, m, j1.ID, 2*time.Second)
	waitForTerminal(t, m, j2.ID, 2*time.Second)

	deadline := time.Now().Add(time.Second)
	var sent []sentNotification
	for time.Now().Before(deadline) {
		sent = notifier.snapshot()
		if len(sent) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(sent) == 0 {
		t.Fatalf("expected at least one batch-complete notification")
	}
	if sent[0].Title != "arrtheaudio: batch complete" {
		t.Errorf("unexpected title: %s", sent[0].Title)
	}
}
