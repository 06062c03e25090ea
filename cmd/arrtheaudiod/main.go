// Command arrtheaudiod runs the audio-track daemon: it loads configuration,
// opens the job store, and starts the worker pool against it. It does not
// expose an HTTP surface; callers integrate through the queue package
// directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arrtheaudio/arrtheaudio/internal/config"
	"github.com/arrtheaudio/arrtheaudio/internal/log"
	"github.com/arrtheaudio/arrtheaudio/internal/mutator"
	"github.com/arrtheaudio/arrtheaudio/internal/notify"
	"github.com/arrtheaudio/arrtheaudio/internal/pipeline"
	"github.com/arrtheaudio/arrtheaudio/internal/prober"
	"github.com/arrtheaudio/arrtheaudio/internal/queue"
	"github.com/arrtheaudio/arrtheaudio/internal/selector"
	"github.com/arrtheaudio/arrtheaudio/internal/store"
	"github.com/arrtheaudio/arrtheaudio/internal/worker"
)

func main() {
	configPath := flag.String("config", "/etc/arrtheaudio/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.New(cfg.LogLevel)

	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	timeout := time.Duration(cfg.Processing.TimeoutSeconds) * time.Second
	p := prober.New(cfg.FFprobePath, timeout)

	qMgr := queue.New(s, p, queue.Config{
		MKVEnabled:       cfg.Containers.MKV,
		MP4Enabled:       cfg.Containers.MP4,
		MaxMP4Concurrent: cfg.Processing.MaxMP4Concurrent,
	}, logger)

	pipelineCfg := pipeline.Config{}
	pipelineCfg.Containers.MKV = cfg.Containers.MKV
	pipelineCfg.Containers.MP4 = cfg.Containers.MP4
	pipelineCfg.Execution.DryRun = cfg.Execution.DryRun
	pipelineCfg.Execution.SkipIfCorrect = cfg.Execution.SkipIfCorrect
	pipelineCfg.Selector = selector.Config{
		LanguagePriority: cfg.LanguagePriority,
		PathOverrides:    toSelectorOverrides(cfg.PathOverrides),
	}

	mkvMutator := mutator.NewMKV(cfg.MKVPropEditPath, cfg.FFprobePath)
	mp4Mutator := mutator.NewMP4(cfg.FFmpegPath, cfg.FFprobePath)
	pl := pipeline.New(p, mkvMutator, mp4Mutator, pipelineCfg)

	var notifier worker.Notifier
	if cfg.Notify.Topic != "" && (cfg.Notify.OnFailure || cfg.Notify.OnBatchDone) {
		notifier = notify.NewClient(cfg.Notify.ServerURL, cfg.Notify.Topic, cfg.Notify.Token)
	}
	notifyCfg := worker.NotifyConfig{OnFailure: cfg.Notify.OnFailure, OnBatchDone: cfg.Notify.OnBatchDone}

	pool := worker.New(qMgr, pl, cfg.Processing.WorkerCount, notifier, notifyCfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	logger.Info().Int("workers", cfg.Processing.WorkerCount).Str("db", cfg.DatabasePath).Msg("arrtheaudiod started")

	<-ctx.Done()
	logger.Info().Msg("shutting down, waiting for in-flight jobs")
	pool.Stop()
	logger.Info().Msg("arrtheaudiod stopped")

	return nil
}

func toSelectorOverrides(overrides []config.PathOverride) []selector.PathOverride {
	out := make([]selector.PathOverride, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, selector.PathOverride{Glob: o.Path, LanguagePriority: o.LanguagePriority})
	}
	return out
}
