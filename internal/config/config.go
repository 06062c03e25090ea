// Package config loads the daemon's YAML configuration file, applies
// defaults for any field left empty, and layers environment variable
// overrides on top. The pattern (YAML unmarshal, then fill zero-values,
// then ARRTHEAUDIO_*-prefixed env overrides) follows the teacher repo's
// config loader.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PathOverride maps a glob pattern against the absolute file path to an
// ordered language priority list used in place of the global list.
type PathOverride struct {
	Path             string   `yaml:"path"`
	LanguagePriority []string `yaml:"language_priority"`
}

// ContainersConfig gates admission by container class.
type ContainersConfig struct {
	MKV bool `yaml:"mkv"`
	MP4 bool `yaml:"mp4"`
}

// ProcessingConfig bounds worker and concurrency behavior.
type ProcessingConfig struct {
	WorkerCount       int `yaml:"worker_count"`
	MaxMP4Concurrent  int `yaml:"max_mp4_concurrent"`
	TimeoutSeconds    int `yaml:"timeout_seconds"`
	RetryAttempts     int `yaml:"retry_attempts"`
}

// ExecutionConfig toggles dry-run and already-correct skipping.
type ExecutionConfig struct {
	DryRun         bool `yaml:"dry_run"`
	SkipIfCorrect  bool `yaml:"skip_if_correct"`
}

// NotifyConfig configures the optional ntfy-backed notification client. An
// empty Topic leaves notifications disabled.
type NotifyConfig struct {
	ServerURL   string `yaml:"server_url"`
	Topic       string `yaml:"topic"`
	Token       string `yaml:"token"`
	OnFailure   bool   `yaml:"on_failure"`
	OnBatchDone bool   `yaml:"on_batch_done"`
}

// Config is the full configuration surface enumerated in SPEC_FULL.md §6/§10.2.
type Config struct {
	// DatabasePath is where the SQLite job store lives on disk.
	DatabasePath string `yaml:"database_path"`

	// LanguagePriority is the global fallback ordered language list.
	LanguagePriority []string `yaml:"language_priority"`

	// PathOverrides are matched against the absolute file path, first match wins.
	PathOverrides []PathOverride `yaml:"path_overrides"`

	Containers ContainersConfig `yaml:"containers"`
	Processing ProcessingConfig `yaml:"processing"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Notify     NotifyConfig     `yaml:"notify"`

	// FFprobePath and tool paths for external binaries consumed through the
	// Prober/Mutator contracts.
	FFprobePath     string `yaml:"ffprobe_path"`
	MKVPropEditPath string `yaml:"mkvpropedit_path"`
	FFmpegPath      string `yaml:"ffmpeg_path"`

	// LogLevel controls the zerolog level: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a config with sensible defaults, matching the
// teacher's DefaultConfig shape (a constructor function, not a zero Config).
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:     "/var/lib/arrtheaudio/jobs.db",
		LanguagePriority: []string{"eng"},
		PathOverrides:    nil,
		Containers: ContainersConfig{
			MKV: true,
			MP4: true,
		},
		Processing: ProcessingConfig{
			WorkerCount:      4,
			MaxMP4Concurrent: 1,
			TimeoutSeconds:   300,
			RetryAttempts:    0,
		},
		Execution: ExecutionConfig{
			DryRun:        false,
			SkipIfCorrect: true,
		},
		Notify: NotifyConfig{
			ServerURL: "https://ntfy.sh",
		},
		FFprobePath:     "ffprobe",
		MKVPropEditPath: "mkvpropedit",
		FFmpegPath:      "ffmpeg",
		LogLevel:        "info",
	}
}

// Load reads config from a YAML file, applying defaults for missing values
// and then environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.MKVPropEditPath == "" {
		cfg.MKVPropEditPath = "mkvpropedit"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Processing.WorkerCount < 1 {
		cfg.Processing.WorkerCount = 1
	}
	if cfg.Processing.TimeoutSeconds <= 0 {
		cfg.Processing.TimeoutSeconds = 300
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks environment variables for config overrides.
// Environment variables take precedence over the YAML file. Use:
// ARRTHEAUDIO_DRY_RUN=1 to enable dry-run without touching the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARRTHEAUDIO_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("ARRTHEAUDIO_LANGUAGE_PRIORITY"); v != "" {
		cfg.LanguagePriority = splitCommaList(v)
	}
	if v := os.Getenv("ARRTHEAUDIO_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Processing.WorkerCount = n
		}
	}
	if v := os.Getenv("ARRTHEAUDIO_MAX_MP4_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Processing.MaxMP4Concurrent = n
		}
	}
	if v := os.Getenv("ARRTHEAUDIO_DRY_RUN"); v != "" {
		cfg.Execution.DryRun = envBool(v)
	}
	if v := os.Getenv("ARRTHEAUDIO_SKIP_IF_CORRECT"); v != "" {
		cfg.Execution.SkipIfCorrect = envBool(v)
	}
	if v := os.Getenv("ARRTHEAUDIO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ARRTHEAUDIO_NOTIFY_TOPIC"); v != "" {
		cfg.Notify.Topic = v
	}
	if v := os.Getenv("ARRTHEAUDIO_NOTIFY_TOKEN"); v != "" {
		cfg.Notify.Token = v
	}
}

func splitCommaList(value string) []string {
	parts := []string{}
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts = append(parts, item)
	}
	return parts
}

// envBool parses a boolean from an environment variable value. Accepts
// "1", "true", "yes", "on" for true; anything else is false.
func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Save writes the config to a YAML file, creating its parent directory if needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
