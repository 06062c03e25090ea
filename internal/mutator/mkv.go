package mutator

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultMKVTimeout bounds a single mkvpropedit invocation.
const DefaultMKVTimeout = 60 * time.Second

// MKVMutator rewrites default-track flags in place via mkvpropedit. Ported
// from the original MKVExecutor: clear every existing audio track's default
// flag, then set it on the chosen track, addressed 1-based in mkvpropedit's
// "track:aN" selector syntax.
type MKVMutator struct {
	MKVPropEditPath string
	FFprobePath     string
	Timeout         time.Duration
}

// NewMKV builds an MKVMutator. Empty paths default to the bare binary names.
func NewMKV(mkvpropeditPath, ffprobePath string) *MKVMutator {
	if mkvpropeditPath == "" {
		mkvpropeditPath = "mkvpropedit"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &MKVMutator{MKVPropEditPath: mkvpropeditPath, FFprobePath: ffprobePath, Timeout: DefaultMKVTimeout}
}

// SetDefaultAudio clears every audio track's default flag and sets it on
// track index (0-based). The underlying tool guarantees metadata-edit
// atomicity; any failure leaves the file untouched.
func (m *MKVMutator) SetDefaultAudio(ctx context.Context, path string, index int) error {
	count, err := ffprobeAudioTrackCount(ctx, m.FFprobePath, path)
	if err != nil {
		return fmt.Errorf("%w: count audio tracks: %v", ErrToolFailed, err)
	}
	if index < 0 || index >= count {
		return fmt.Errorf("%w: index %d, track count %d", ErrInvalidTrack, index, count)
	}

	args := []string{}
	for i := 0; i < count; i++ {
		args = append(args, "--edit", fmt.Sprintf("track:a%d", i+1), "--set", "flag-default=0")
	}
	args = append(args, "--edit", fmt.Sprintf("track:a%d", index+1), "--set", "flag-default=1")

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultMKVTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, m.MKVPropEditPath, append([]string{path}, args...)...)
	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: mkvpropedit exceeded %s", ErrTimeout, timeout)
	}
	if err != nil {
		return fmt.Errorf("%w: mkvpropedit: %v: %s", ErrToolFailed, err, strings.TrimSpace(string(out)))
	}

	return nil
}

