package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/packmule/packmule/internal/cache"
	"github.com/packmule/packmule/internal/engine"
	"github.com/packmule/packmule/internal/workerpool"
	"github.com/packmule/packmule/pkg/config"
	"github.com/packmule/packmule/pkg/interfaces"
	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/reporter"
	"github.com/packmule/packmule/pkg/types"
)

type buildFlags struct {
	outDir         string
	workers        int
	keepWorkers    bool
	isolateWorkers bool
	notify         bool
}

func addBuildFlags(cmd *cobra.Command, flags *buildFlags) {
	cmd.Flags().StringVarP(&flags.outDir, "out-dir", "o", "dist", "output directory")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "packaging workers (default: number of CPUs)")
	cmd.Flags().BoolVar(&flags.keepWorkers, "keep-workers", false, "keep the worker pool alive after a one-shot build")
	cmd.Flags().BoolVar(&flags.isolateWorkers, "isolate-workers", false, "run packaging workers as child processes")
	cmd.Flags().BoolVar(&flags.notify, "notify", false, "send desktop notifications for build results")
}

func buildCmd() *cobra.Command {
	flags := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "build [entries...]",
		Short: "Build once and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := newOrchestrator(args, flags, false)
			if err != nil {
				return err
			}

			if _, err := orch.Run(cmd.Context()); err != nil {
				// Failure details already went through the reporter
				cmd.SilenceUsage = true
				return err
			}
			return nil
		},
	}

	addBuildFlags(cmd, flags)
	return cmd
}

func watchCmd() *cobra.Command {
	flags := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "watch [entries...]",
		Short: "Build, then rebuild incrementally as files change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := newOrchestrator(args, flags, true)
			if err != nil {
				return err
			}

			if _, err := orch.Run(cmd.Context()); err != nil {
				cmd.SilenceUsage = true
				return err
			}

			// Run returns immediately in watch mode; wait for a signal
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				fmt.Printf("\n📦 Received %s, shutting down\n", sig)
			case <-cmd.Context().Done():
			}

			return orch.Close()
		},
	}

	addBuildFlags(cmd, flags)
	return cmd
}

func newOrchestrator(entries []string, flags *buildFlags, watch bool) (*engine.Orchestrator, error) {
	log := logger.CreateLogger("", logLevel)

	kill := !flags.keepWorkers
	opts := types.Options{
		Entries:        entries,
		Targets:        []types.Target{{Name: "default", OutputDir: flags.outDir}},
		Watch:          watch,
		CacheDir:       cacheDir,
		KillWorkers:    &kill,
		ConfigPath:     cfgFile,
		Workers:        flags.workers,
		IsolateWorkers: flags.isolateWorkers,
		LogLevel:       logLevel,
		// Discovery still runs first; the default keeps zero-config
		// projects working
		DefaultConfig: config.Default(),
	}

	deps := interfaces.Dependencies{}
	if flags.notify {
		deps.Reporter = reporter.NewMulti(
			reporter.NewConsole(log),
			reporter.NewDesktop(log),
		)
	}

	return engine.New(opts, projectRoot, log, deps), nil
}

// workerCmd is the hidden child-process entry point for out-of-process
// packaging workers. It speaks the pool's line-framed JSON protocol on
// stdin/stdout.
func workerCmd() *cobra.Command {
	var workerCacheDir string

	cmd := &cobra.Command{
		Use:    "worker",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var store *cache.Cache
			if workerCacheDir != "" {
				store = cache.New(workerCacheDir)
				if err := store.Ensure(); err != nil {
					return err
				}
			}
			return workerpool.RunWorker(os.Stdin, os.Stdout, workerpool.NewPackager(store))
		},
	}

	cmd.Flags().StringVar(&workerCacheDir, "cache-dir", "", "content cache directory")
	return cmd
}
