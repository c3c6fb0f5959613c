// File: cmd/watch.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/internal/contract"
	"github.com/xkilldash9x/scalpel-contract/internal/observability"
	"github.com/xkilldash9x/scalpel-contract/internal/service"
)

const defaultWatchDebounce = 300 * time.Millisecond

func newWatchCmd(factory service.ComponentFactory) *cobra.Command {
	flags := &outputFlags{}
	var debounce time.Duration

	watchCmd := &cobra.Command{
		Use:   "watch <contract>",
		Short: "Re-analyze a contract every time it changes",
		Long: `Runs 'analyze' once, then again after each change to the contract file.
Unchanged findings are served from the attack chain cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := observability.GetLogger().Named("watch")

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)

			path, err := homedir.Expand(args[0])
			if err != nil {
				return fmt.Errorf("failed to expand contract path: %w", err)
			}

			// One set of components for the whole session, so the cache survives
			// between runs.
			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			run := func(ctx context.Context) error {
				c, err := contract.Load(path)
				if err != nil {
					return err
				}
				report := components.Engine.Analyze(ctx, c)
				report.Source = args[0]
				if report.CacheHit {
					logger.Info("Findings unchanged, attack chains served from cache", zap.String("signature", report.Signature))
				}
				return writeReport(report, flags, logger)
			}

			if err := run(ctx); err != nil {
				logger.Error("Initial analysis failed", zap.Error(err))
			}
			logger.Info("Watching contract for changes", zap.String("path", path))
			return watchContract(ctx, path, debounce, run, logger)
		},
	}

	flags.register(watchCmd)
	watchCmd.Flags().DurationVar(&debounce, "debounce", defaultWatchDebounce, "Quiet period after a change before re-analyzing")
	return watchCmd
}

// watchContract calls run after each burst of changes to path, once the file has
// been quiet for the debounce period. It returns nil when ctx is done. A failing
// run is logged and watching continues.
//
// The parent directory is watched rather than the file, since editors often
// replace a file by renaming a new one over it.
func watchContract(ctx context.Context, path string, debounce time.Duration, run func(context.Context) error, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve contract path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			logger.Debug("Contract changed", zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := run(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				logger.Error("Re-analysis failed", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", zap.Error(err))
		}
	}
}
