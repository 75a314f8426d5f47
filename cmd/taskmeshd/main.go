// Command taskmeshd runs the orchestration daemon: it restores persisted
// queues and schedules, starts the background loops and serves until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh"
	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/cron"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/queue"
	"github.com/taskmesh/taskmesh/session"
	"github.com/taskmesh/taskmesh/snapshot"
	anthropicworker "github.com/taskmesh/taskmesh/worker/anthropic"
	openaiworker "github.com/taskmesh/taskmesh/worker/openai"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "taskmeshd",
		Short:         "Run the task orchestration daemon",
		Long:          "taskmeshd keeps worker sessions alive and feeds them work from prioritized task queues and recurring cron schedules. State is restored from snapshots on start and persisted on every change.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (optional)")
	return rootCmd
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format := "text"
	if cfg.Log.JSON {
		format = "json"
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Log.Level),
		Format:    format,
		Component: "taskmeshd",
	})

	launcher, err := buildLauncher(cfg)
	if err != nil {
		return err
	}

	var store core.SnapshotStore
	if cfg.Snapshot.Dir != "" {
		fileStore, err := snapshot.NewFileStore(cfg.Snapshot.Dir)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		store = fileStore
	}

	mesh := taskmesh.New(launcher, func(o *taskmesh.Options) {
		o.Store = store
		o.Logger = logger
		o.SessionOptions = []func(so *session.Options){func(so *session.Options) {
			so.RatePerSecond = cfg.Session.RatePerSecond
			so.RateBurst = cfg.Session.RateBurst
			so.SessionCacheSize = cfg.Session.CacheSize
			so.SessionTTL = cfg.Session.TTL
			so.ResponseCacheSize = cfg.Session.ResponseCacheSize
			so.ResponseTTL = cfg.Session.ResponseTTL
			so.WarmPoolSize = cfg.Session.WarmPoolSize
		}}
		o.QueueOptions = []func(qo *queue.Options){func(qo *queue.Options) {
			qo.MaxQueueLength = cfg.Queue.MaxLength
			qo.MaxConcurrent = cfg.Queue.MaxConcurrent
			qo.PollInterval = cfg.Queue.PollInterval
			qo.DefaultMaxRetries = cfg.Queue.DefaultRetries
		}}
		o.ScheduleOptions = []func(co *cron.Options){func(co *cron.Options) {
			co.TickInterval = cfg.Schedule.TickInterval
		}}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mesh.Start(ctx)
	logger.Info("taskmeshd running", "provider", cfg.Worker.Provider, "snapshot_dir", cfg.Snapshot.Dir)

	<-ctx.Done()
	logger.Info("shutting down")
	mesh.Stop()
	return nil
}

func buildLauncher(cfg *config.Config) (core.WorkerLauncher, error) {
	switch cfg.Worker.Provider {
	case "anthropic":
		return anthropicworker.NewLauncher(func(o *anthropicworker.Options) {
			if cfg.Worker.Model != "" {
				o.Model = anthropic.Model(cfg.Worker.Model)
			}
			o.Temperature = cfg.Worker.Temperature
			o.MaxTokens = cfg.Worker.MaxTokens
			o.APIKey = cfg.Worker.APIKey
			o.SystemPrompt = cfg.Worker.SystemPrompt
		}), nil
	case "openai":
		return openaiworker.NewLauncher(func(o *openaiworker.Options) {
			if cfg.Worker.Model != "" {
				o.Model = cfg.Worker.Model
			}
			o.Temperature = cfg.Worker.Temperature
			o.MaxCompletionTokens = cfg.Worker.MaxTokens
			o.APIKey = cfg.Worker.APIKey
			o.SystemPrompt = cfg.Worker.SystemPrompt
		}), nil
	default:
		return nil, fmt.Errorf("unknown worker provider %q", cfg.Worker.Provider)
	}
}
