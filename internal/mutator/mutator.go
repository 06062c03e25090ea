// Package mutator implements the two Mutator variants described in
// SPEC_FULL.md §4.4: an in-place metadata edit for MKV files (via
// mkvpropedit) and a full remux with atomic swap and rollback for MP4
// files (via ffmpeg). Both share the SetDefaultAudio(path, index) contract.
package mutator

import (
	"context"
	"errors"
)

// Error taxonomy for mutation failures (SPEC_FULL.md §7, "Mutation failures").
var (
	ErrInsufficientSpace = errors.New("mutator: insufficient free space for remux")
	ErrInvalidTrack      = errors.New("mutator: track index out of range")
	ErrToolFailed        = errors.New("mutator: external tool failed")
	ErrTimeout           = errors.New("mutator: external tool timed out")
	ErrSizeSanityFailed  = errors.New("mutator: remuxed output failed size sanity check")
)

// Mutator sets the default audio track on a container file in place.
type Mutator interface {
	SetDefaultAudio(ctx context.Context, path string, index int) error
}
