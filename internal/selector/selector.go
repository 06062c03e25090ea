// Package selector implements the pure, deterministic track-selection
// algorithm: given a file's audio tracks, its absolute path, and an optional
// original-language hint, choose at most one track. Ported faithfully from
// the daemon's prior Python selector (core/selector.py): exact-language hit
// first, then path-glob-resolved priority list, then nothing.
package selector

import (
	"path/filepath"
	"strings"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
)

// Reason tags why a selection (or non-selection) happened.
type Reason string

const (
	ReasonOriginalLanguage Reason = "original_language"
	ReasonPriorityList     Reason = "priority_list"
	ReasonNoMatch          Reason = "no_match"
)

// PathOverride pairs a glob against the absolute file path with the
// language priority list to use when it matches.
type PathOverride struct {
	Glob             string
	LanguagePriority []string
}

// Config is the subset of daemon configuration the selector consults.
type Config struct {
	LanguagePriority []string
	PathOverrides    []PathOverride
}

// Select returns the chosen track and the reason, or (nil, ReasonNoMatch)
// when nothing matches. tracks must be non-empty; callers are expected to
// have already handled the no-audio-tracks case upstream (see pipeline).
func Select(tracks []job.AudioTrack, filePath string, originalLanguage string, cfg Config) (*job.AudioTrack, Reason) {
	if originalLanguage != "" {
		if t := firstByLanguage(tracks, originalLanguage); t != nil {
			return t, ReasonOriginalLanguage
		}
	}

	priority := resolvePriority(filePath, cfg)
	for _, lang := range priority {
		if t := firstByLanguage(tracks, lang); t != nil {
			return t, ReasonPriorityList
		}
	}

	return nil, ReasonNoMatch
}

func firstByLanguage(tracks []job.AudioTrack, lang string) *job.AudioTrack {
	lang = strings.ToLower(lang)
	for i := range tracks {
		if strings.ToLower(tracks[i].Language) == lang {
			t := tracks[i]
			return &t
		}
	}
	return nil
}

// resolvePriority walks path_overrides in order, matching each glob against
// the absolute file path with MatchGlob (case-sensitive path segments, '*'
// confined to one segment, "**" matching across segment boundaries). The first match
// wins; absent any match, the global language_priority applies.
func resolvePriority(filePath string, cfg Config) []string {
	for _, override := range cfg.PathOverrides {
		if MatchGlob(override.Glob, filePath) {
			return override.LanguagePriority
		}
	}
	return cfg.LanguagePriority
}

// MatchGlob reports whether path matches pattern, with "**" treated as
// matching zero or more path segments (including the separator) and every
// other segment matched with filepath.Match's standard glob semantics
// ('*', '?', character classes). There is no third-party glob library in
// the example corpus (bmatcuk/doublestar and gobwas/glob both returned zero
// hits), so this is deliberately built on the standard library.
func MatchGlob(pattern, path string) bool {
	patternSegs := strings.Split(pattern, "/")
	pathSegs := strings.Split(path, "/")
	return matchSegments(patternSegs, pathSegs)
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	if pattern[0] == "**" {
		if matchSegments(pattern[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchSegments(pattern, path[1:])
	}

	if len(path) == 0 {
		return false
	}

	ok, err := filepath.Match(pattern[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}
