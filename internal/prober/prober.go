// Package prober implements the Prober contract (SPEC_FULL.md §4.2/§11.2):
// given a file path, classify its container and list its audio tracks in
// container order. Built on gopkg.in/vansante/go-ffprobe.v2 wrapped in an
// exponential-backoff retry, following the same pairing used by
// livepeer-catalyst-api's video.Probe for transient ffprobe failures.
package prober

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	ffprobe "gopkg.in/vansante/go-ffprobe.v2"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
)

// ErrProbeFailed wraps any failure to open, analyze, or parse a file.
var ErrProbeFailed = errors.New("prober: probe failed")

// DefaultTimeout is the wall-clock bound on a single probe invocation.
const DefaultTimeout = 30 * time.Second

// Prober probes files via an external ffprobe binary.
type Prober struct {
	FFprobePath string
	Timeout     time.Duration
	MaxRetries  uint64
}

// New builds a Prober. An empty ffprobePath defaults to "ffprobe" and a
// zero timeout defaults to DefaultTimeout.
func New(ffprobePath string, timeout time.Duration) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{FFprobePath: ffprobePath, Timeout: timeout, MaxRetries: 2}
}

// Probe classifies path's container and lists its audio tracks. unsupported
// is a normal return value, not an error.
func (p *Prober) Probe(ctx context.Context, path string) (job.Container, []job.AudioTrack, error) {
	data, err := p.runProbe(ctx, path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrProbeFailed, path, err)
	}

	container := classifyContainer(data)
	if container == job.ContainerUnsupported {
		return job.ContainerUnsupported, nil, nil
	}

	tracks, err := extractAudioTracks(data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrProbeFailed, path, err)
	}

	return container, tracks, nil
}

func (p *Prober) runProbe(ctx context.Context, path string) (*ffprobe.ProbeData, error) {
	var data *ffprobe.ProbeData

	operation := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 1 * time.Second
	bo.MaxElapsedTime = 0

	if err := backoff.Retry(operation, backoff.WithMaxRetries(bo, p.MaxRetries)); err != nil {
		return nil, err
	}
	return data, nil
}

func classifyContainer(data *ffprobe.ProbeData) job.Container {
	if data.Format == nil {
		return job.ContainerUnsupported
	}
	name := strings.ToLower(data.Format.FormatName)
	switch {
	case strings.Contains(name, "matroska"):
		return job.ContainerMKV
	case strings.Contains(name, "mp4"), strings.Contains(name, "mov"), strings.Contains(name, "m4a"), strings.Contains(name, "3gp"):
		return job.ContainerMP4
	default:
		return job.ContainerUnsupported
	}
}

func extractAudioTracks(data *ffprobe.ProbeData) ([]job.AudioTrack, error) {
	var tracks []job.AudioTrack
	idx := 0
	for _, stream := range data.Streams {
		if stream.CodecType != "audio" {
			continue
		}

		lang := "und"
		title := ""
		if stream.Tags != nil {
			if stream.Tags.Language != "" {
				lang = strings.ToLower(stream.Tags.Language)
			}
			title = stream.Tags.Title
		}

		isDefault := false
		if stream.Disposition != nil {
			isDefault = stream.Disposition.Default == 1
		}

		var bitrate int64
		if stream.BitRate != "" {
			if v, err := strconv.ParseInt(stream.BitRate, 10, 64); err == nil {
				bitrate = v
			}
		}

		tracks = append(tracks, job.AudioTrack{
			Index:       idx,
			StreamIndex: stream.Index,
			Codec:       stream.CodecName,
			Language:    lang,
			Title:       title,
			IsDefault:   isDefault,
			Channels:    stream.Channels,
			Bitrate:     bitrate,
		})
		idx++
	}
	return tracks, nil
}
