package mutator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultMP4Timeout bounds a single remux invocation.
const DefaultMP4Timeout = 300 * time.Second

// minSizeRatio is the post-write size sanity floor: the remuxed file must
// be at least this fraction of the original's size, guarding against a
// silently truncated remux.
const minSizeRatio = 0.9

// spaceMultiplier is the free-space preflight requirement: the filesystem
// must have at least this many times the original file's size free before
// a remux is attempted.
const spaceMultiplier = 2

// MP4Mutator performs a full remux with an atomic swap and rollback,
// required because MP4 disposition flags cannot be edited in place. There
// is no precedent for this in the original Python implementation (its
// MP4Executor was an unimplemented Phase 4 stub); the atomic-swap/backup/
// rollback technique is instead grounded on the teacher's
// ffmpeg.FinalizeTranscode, whose backup-then-rename sequence around a
// transcode's output swap it reuses. No restore from the backup is
// performed: a failed backup copy or rename leaves the original in place.
type MP4Mutator struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
}

// NewMP4 builds an MP4Mutator. Empty paths default to the bare binary names.
func NewMP4(ffmpegPath, ffprobePath string) *MP4Mutator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &MP4Mutator{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Timeout: DefaultMP4Timeout}
}

// SetDefaultAudio remuxes path so that audio track index (0-based) carries
// the MP4 "default" disposition and every other audio track does not.
func (m *MP4Mutator) SetDefaultAudio(ctx context.Context, path string, index int) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat original: %v", ErrToolFailed, err)
	}
	originalSize := info.Size()

	if err := checkFreeSpace(filepath.Dir(path), originalSize*spaceMultiplier); err != nil {
		return err
	}

	count, err := ffprobeAudioTrackCount(ctx, m.FFprobePath, path)
	if err != nil {
		return fmt.Errorf("%w: count audio tracks: %v", ErrToolFailed, err)
	}
	if index < 0 || index >= count {
		return fmt.Errorf("%w: index %d, track count %d", ErrInvalidTrack, index, count)
	}

	dir := filepath.Dir(path)
	tempPath := filepath.Join(dir, "."+filepath.Base(path)+".arrtheaudio.tmp")
	backupPath := path + ".bak"

	if err := m.remux(ctx, path, tempPath, index, count); err != nil {
		os.Remove(tempPath)
		return err
	}

	if err := checkOutputSanity(tempPath, originalSize); err != nil {
		os.Remove(tempPath)
		return err
	}

	if err := copyFile(path, backupPath); err != nil {
		os.Remove(backupPath)
		os.Remove(tempPath)
		return fmt.Errorf("%w: backup original: %v", ErrToolFailed, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		// Rename is atomic: a failure here leaves the original untouched,
		// so no restore is needed. Clean up the backup and temp file.
		os.Remove(backupPath)
		os.Remove(tempPath)
		return fmt.Errorf("%w: atomic rename: %v", ErrToolFailed, err)
	}

	// The swap already succeeded and the original path now holds the
	// remuxed content; a lingering backup is a manual-recovery aid, not a
	// correctness problem, so its removal is best-effort only.
	os.Remove(backupPath)

	return nil
}

// remux invokes ffmpeg to copy all streams into tempPath, setting the
// disposition directives for every audio track.
func (m *MP4Mutator) remux(ctx context.Context, inputPath, tempPath string, selected, audioCount int) error {
	args := []string{"-y", "-i", inputPath, "-map", "0", "-c", "copy"}
	for i := 0; i < audioCount; i++ {
		disposition := "none"
		if i == selected {
			disposition = "default"
		}
		args = append(args, fmt.Sprintf("-disposition:a:%d", i), disposition)
	}
	args = append(args, "-movflags", "+faststart", tempPath)

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultMP4Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, m.FFmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: ffmpeg exceeded %s", ErrTimeout, timeout)
	}
	if err != nil {
		return fmt.Errorf("%w: ffmpeg: %v: %s", ErrToolFailed, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func checkFreeSpace(dir string, required int64) error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("%w: statfs %s: %v", ErrToolFailed, dir, err)
	}
	available := int64(stat.Bavail) * int64(stat.Bsize)
	if available < required {
		return fmt.Errorf("%w: need %d bytes free in %s, have %d", ErrInsufficientSpace, required, dir, available)
	}
	return nil
}

func checkOutputSanity(tempPath string, originalSize int64) error {
	info, err := os.Stat(tempPath)
	if err != nil {
		return fmt.Errorf("%w: remuxed file missing: %v", ErrSizeSanityFailed, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: remuxed file is empty", ErrSizeSanityFailed)
	}
	if float64(info.Size()) < float64(originalSize)*minSizeRatio {
		return fmt.Errorf("%w: remuxed size %d is less than %.0f%% of original %d",
			ErrSizeSanityFailed, info.Size(), minSizeRatio*100, originalSize)
	}
	return nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Close()
}

func ffprobeAudioTrackCount(ctx context.Context, ffprobePath, path string) (int, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
			count++
		}
	}
	return count, nil
}
