package engine

import (
	"path/filepath"

	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/types"
)

// vcsDirs are version-control metadata directories excluded from the
// watch subscription
var vcsDirs = []string{".git", ".hg", ".svn"}

// startWatching computes the ignore set, creates the single watch
// subscription for this orchestrator, and starts the rebuild loop.
// A subscription failure propagates to the caller of Init.
func (o *Orchestrator) startWatching() error {
	sub, err := o.watcherOrDefault().Subscribe(o.projectRoot, o.ignorePaths(), o.onBatch)
	if err != nil {
		return err
	}
	o.sub = sub

	o.wg.Add(1)
	go o.watchLoop()

	o.logger.Info("Watching for changes...")
	return nil
}

// ignorePaths is the watch exclusion set: the cache directory, every
// target's output directory, version-control metadata, and any extra
// directories from the pipeline config, all rooted under the project
// root.
func (o *Orchestrator) ignorePaths() []string {
	paths := []string{o.cache.Dir()}

	for _, t := range o.opts.Targets {
		out := t.OutputDir
		if !filepath.IsAbs(out) {
			out = filepath.Join(o.projectRoot, out)
		}
		paths = append(paths, out)
	}
	for _, dir := range vcsDirs {
		paths = append(paths, filepath.Join(o.projectRoot, dir))
	}
	if o.config != nil {
		for _, dir := range o.config.IgnoreDirs {
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(o.projectRoot, dir)
			}
			paths = append(paths, dir)
		}
	}
	return paths
}

// onBatch runs on the watcher's delivery goroutine. The batch is
// forwarded to the graph builder synchronously; that is what supersedes
// an in-flight attempt. The rebuild itself happens on the watch loop.
func (o *Orchestrator) onBatch(batch types.InvalidationBatch) {
	o.deps.GraphBuilder.RespondToFSEvents(batch)

	if !o.deps.GraphBuilder.IsInvalid() {
		return
	}

	// Coalesce: one pending rebuild signal is enough
	select {
	case o.rebuildCh <- struct{}{}:
	default:
	}
}

// watchLoop issues rebuilds sequentially. Errors from Build are
// discarded: failures are already visible through the reporter, and
// aborts are expected when batches keep arriving.
func (o *Orchestrator) watchLoop() {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.rebuildCh:
			if !o.deps.GraphBuilder.IsInvalid() {
				continue
			}
			if _, err := o.Build(o.ctx); err != nil {
				o.logger.Debug("Rebuild settled with error",
					logger.WithField("error", err),
					logger.WithField("aborted", types.IsAbort(err)))
			}
		}
	}
}
