package prober

import (
	"testing"

	ffprobe "gopkg.in/vansante/go-ffprobe.v2"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
)

func TestClassifyContainer(t *testing.T) {
	cases := []struct {
		formatName string
		want       job.Container
	}{
		{"matroska,webm", job.ContainerMKV},
		{"mov,mp4,m4a,3gp,3g2,mj2", job.ContainerMP4},
		{"avi", job.ContainerUnsupported},
	}

	for _, c := range cases {
		data := &ffprobe.ProbeData{Format: &ffprobe.Format{FormatName: c.formatName}}
		if got := classifyContainer(data); got != c.want {
			t.Errorf("classifyContainer(%q) = %s, want %s", c.formatName, got, c.want)
		}
	}
}

func TestClassifyContainerMissingFormat(t *testing.T) {
	data := &ffprobe.ProbeData{}
	if got := classifyContainer(data); got != job.ContainerUnsupported {
		t.Errorf("expected unsupported for missing format, got %s", got)
	}
}

func TestExtractAudioTracks(t *testing.T) {
	data := &ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{Index: 0, CodecType: "video", CodecName: "h264"},
			{
				Index: 1, CodecType: "audio", CodecName: "aac",
				Channels: 2, BitRate: "128000",
				Tags:        &ffprobe.StreamTags{Language: "ENG", Title: "Stereo"},
				Disposition: &ffprobe.StreamDisposition{Default: 1},
			},
			{
				Index: 2, CodecType: "audio", CodecName: "ac3",
				Channels: 6,
				Tags:     &ffprobe.StreamTags{Language: "jpn"},
			},
			{Index: 3, CodecType: "subtitle"},
		},
	}

	tracks, err := extractAudioTracks(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 audio tracks, got %d", len(tracks))
	}

	if tracks[0].Index != 0 || tracks[0].StreamIndex != 1 || tracks[0].Language != "eng" || !tracks[0].IsDefault {
		t.Errorf("unexpected first track: %+v", tracks[0])
	}
	if tracks[0].Bitrate != 128000 {
		t.Errorf("expected bitrate 128000, got %d", tracks[0].Bitrate)
	}
	if tracks[1].Index != 1 || tracks[1].StreamIndex != 2 || tracks[1].Language != "jpn" || tracks[1].IsDefault {
		t.Errorf("unexpected second track: %+v", tracks[1])
	}
}

func TestExtractAudioTracksMissingLanguageFallsBackToUnd(t *testing.T) {
	data := &ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{Index: 0, CodecType: "audio", CodecName: "aac"},
		},
	}
	tracks, err := extractAudioTracks(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Language != "und" {
		t.Errorf("expected und fallback, got %+v", tracks)
	}
}
