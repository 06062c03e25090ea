// Package faketools provides in-memory stand-ins for the Prober and
// Mutator contracts so the pipeline, queue manager, and worker pool can be
// tested without ffprobe/mkvpropedit/ffmpeg installed, mirroring how the
// teacher's queue_test.go hand-builds probe-result fixtures rather than
// invoking real tools.
package faketools

import (
	"context"
	"fmt"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
)

// Prober returns a fixed, pre-configured answer for every file path, or an
// error if Err is set.
type Prober struct {
	Container job.Container
	Tracks    []job.AudioTrack
	Err       error
}

func (p *Prober) Probe(ctx context.Context, path string) (job.Container, []job.AudioTrack, error) {
	if p.Err != nil {
		return "", nil, p.Err
	}
	return p.Container, p.Tracks, nil
}

// Mutator records every SetDefaultAudio call and can be configured to fail,
// or to simulate a truncated/corrupt write via Corrupt.
type Mutator struct {
	Calls   []Call
	Err     error
	Corrupt bool
}

// Call records one SetDefaultAudio invocation.
type Call struct {
	Path  string
	Index int
}

func (m *Mutator) SetDefaultAudio(ctx context.Context, path string, index int) error {
	m.Calls = append(m.Calls, Call{Path: path, Index: index})
	if m.Err != nil {
		return m.Err
	}
	if m.Corrupt {
		return fmt.Errorf("faketools: simulated corrupt write for %s", path)
	}
	return nil
}
