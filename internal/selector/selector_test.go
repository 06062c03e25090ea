package selector

import (
	"testing"

	"github.com/arrtheaudio/arrtheaudio/internal/job"
)

func tracks() []job.AudioTrack {
	return []job.AudioTrack{
		{Index: 0, Language: "eng", IsDefault: true},
		{Index: 1, Language: "jpn"},
		{Index: 2, Language: "ita"},
	}
}

// TestOriginalLanguageHit covers scenario 3: hint=jpn selects track 1.
func TestOriginalLanguageHit(t *testing.T) {
	cfg := Config{LanguagePriority: []string{"eng", "jpn", "ita"}}
	track, reason := Select(tracks(), "/media/movie.mkv", "jpn", cfg)

	if track == nil || track.Index != 1 {
		t.Fatalf("expected track index 1, got %+v", track)
	}
	if reason != ReasonOriginalLanguage {
		t.Errorf("expected reason original_language, got %s", reason)
	}
}

// TestPathOverride covers scenario 4: override applies when no hint given.
func TestPathOverride(t *testing.T) {
	cfg := Config{
		LanguagePriority: []string{"eng"},
		PathOverrides: []PathOverride{
			{Glob: "/media/anime/**", LanguagePriority: []string{"jpn", "eng"}},
		},
	}

	track, reason := Select(tracks(), "/media/anime/Show/S01E01.mkv", "", cfg)
	if track == nil || track.Language != "jpn" {
		t.Fatalf("expected jpn track via override, got %+v", track)
	}
	if reason != ReasonPriorityList {
		t.Errorf("expected reason priority_list, got %s", reason)
	}

	// Without the override (different path), global priority wins.
	track2, _ := Select(tracks(), "/media/movies/film.mkv", "", cfg)
	if track2 == nil || track2.Language != "eng" {
		t.Fatalf("expected eng track without override, got %+v", track2)
	}
}

func TestNoMatch(t *testing.T) {
	cfg := Config{LanguagePriority: []string{"fre"}}
	track, reason := Select(tracks(), "/media/movie.mkv", "", cfg)
	if track != nil {
		t.Errorf("expected no track, got %+v", track)
	}
	if reason != ReasonNoMatch {
		t.Errorf("expected reason no_match, got %s", reason)
	}
}

func TestDeterminism(t *testing.T) {
	cfg := Config{LanguagePriority: []string{"eng", "jpn"}}
	t1, r1 := Select(tracks(), "/media/movie.mkv", "jpn", cfg)
	t2, r2 := Select(tracks(), "/media/movie.mkv", "jpn", cfg)
	if t1.Index != t2.Index || r1 != r2 {
		t.Errorf("selector is not deterministic: (%v,%v) vs (%v,%v)", t1, r1, t2, r2)
	}
}

func TestMatchGlobDoubleStar(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"/media/anime/**", "/media/anime/Show/S01/E01.mkv", true},
		{"/media/anime/**", "/media/anime/movie.mkv", true},
		{"/media/anime/**", "/media/other/movie.mkv", false},
		{"/media/*/movie.mkv", "/media/anime/movie.mkv", true},
		{"/media/*/movie.mkv", "/media/anime/extra/movie.mkv", false},
	}
	for _, c := range cases {
		got := MatchGlob(c.pattern, c.path)
		if got != c.want {
			t.Errorf("MatchGlob(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}
