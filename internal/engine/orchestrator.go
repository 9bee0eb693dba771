// Package engine provides the core build orchestration state machine
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/packmule/packmule/internal/bundler"
	"github.com/packmule/packmule/internal/cache"
	"github.com/packmule/packmule/internal/graph"
	"github.com/packmule/packmule/internal/watcher"
	"github.com/packmule/packmule/internal/workerpool"
	"github.com/packmule/packmule/pkg/config"
	"github.com/packmule/packmule/pkg/interfaces"
	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/reporter"
	"github.com/packmule/packmule/pkg/types"
)

// Orchestrator owns the build pipeline: it sequences one attempt at a
// time, drives the watch loop, and exposes the Init/Run/Build entry
// points. At most one attempt runs per instance; watch-triggered
// rebuilds start only after the previous attempt has settled.
type Orchestrator struct {
	opts        types.Options
	projectRoot string
	logger      logger.Logger
	deps        interfaces.Dependencies

	config     *types.Config
	configPath string
	cache      *cache.Cache

	initMu      sync.Mutex
	initialized bool

	// buildMu serializes attempts
	buildMu      sync.Mutex
	poolReleased bool

	attemptMu   sync.Mutex
	lastAttempt types.BuildAttempt

	sub       interfaces.Subscription
	rebuildCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator. Options are snapshotted so later caller
// mutations have no effect. Nil dependency fields get default
// implementations during Init.
func New(opts types.Options, projectRoot string, log logger.Logger, deps interfaces.Dependencies) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		absRoot = projectRoot
	}

	if log == nil {
		log = logger.CreateLogger("", opts.LogLevel)
	}

	return &Orchestrator{
		opts:        opts.Snapshot(),
		projectRoot: absRoot,
		logger:      log,
		deps:        deps,
		rebuildCh:   make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Init wires the pipeline: it validates options, creates the cache
// directory, resolves the configuration, constructs the collaborators,
// joins the shared worker pool, and in watch mode starts the watch
// loop. Init is idempotent; a second call is a no-op.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	if o.initialized {
		return nil
	}

	if err := config.ValidateOptions(&o.opts); err != nil {
		return err
	}

	cacheDir := o.opts.ResolvedCacheDir()
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(o.projectRoot, cacheDir)
	}
	o.cache = cache.New(cacheDir)
	if err := o.cache.Ensure(); err != nil {
		return err
	}

	resolver := o.deps.ConfigResolver
	if resolver == nil {
		resolver = config.NewResolver()
	}
	cfg, cfgPath, err := resolver.Resolve(o.opts.ConfigPath, o.projectRoot, o.opts.DefaultConfig)
	if err != nil {
		return err
	}
	o.config = cfg
	o.configPath = cfgPath
	if cfgPath != "" {
		o.logger.Debug(fmt.Sprintf("Using config %s", cfgPath))
	}

	if o.deps.GraphBuilder == nil {
		builder, err := graph.NewBuilder(o.opts.Entries, o.projectRoot, cfg, o.logger)
		if err != nil {
			return err
		}
		o.deps.GraphBuilder = builder
	}
	if o.deps.Bundler == nil {
		o.deps.Bundler = bundler.New(o.opts.Targets, o.logger)
	}
	if o.deps.Reporter == nil {
		o.deps.Reporter = reporter.NewConsole(o.logger)
	}

	if o.deps.Pool == nil {
		fingerprint := workerpool.Fingerprint(cfg, &o.opts)
		pool, err := workerpool.Acquire(fingerprint, workerpool.Options{
			Workers:      o.opts.Workers,
			CacheDir:     o.cache.Dir(),
			Env:          o.opts.Env,
			Packaging:    cfg.Packaging,
			OutOfProcess: o.opts.IsolateWorkers,
			Logger:       o.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to acquire worker pool: %w", err)
		}
		o.deps.Pool = pool
	}

	if o.opts.Watch {
		if err := o.startWatching(); err != nil {
			return err
		}
	}

	o.initialized = true
	return nil
}

// Run performs one build after ensuring Init. In one-shot mode it
// returns the bundle graph or the BuildError. In watch mode it returns
// nothing regardless of the initial build's outcome; failures are
// already visible through the reporter and the orchestrator keeps
// watching until Close.
func (o *Orchestrator) Run(ctx context.Context) (*types.BundleGraph, error) {
	if err := o.Init(ctx); err != nil {
		return nil, err
	}

	bg, err := o.Build(ctx)
	if o.opts.Watch {
		if err != nil && !types.IsAbort(err) {
			o.logger.Debug("Initial build failed; waiting for changes")
		}
		return nil, nil
	}
	return bg, err
}

// Build performs one attempt: asset graph build, bundling, parallel
// packaging, and the terminal report. It returns the bundle graph or a
// BuildError wrapping the cause. Aborted attempts are wrapped but not
// reported as failures.
func (o *Orchestrator) Build(ctx context.Context) (*types.BundleGraph, error) {
	if err := o.Init(ctx); err != nil {
		return nil, err
	}

	o.buildMu.Lock()
	defer o.buildMu.Unlock()

	o.deps.Reporter.BuildStart()
	start := time.Now()
	o.setAttempt(types.BuildAttempt{StartedAt: start, Status: types.BuildStatusRunning})

	assetGraph, changed, err := o.deps.GraphBuilder.Build(ctx)
	if err != nil {
		return nil, o.fail(err)
	}

	bundleGraph, err := o.deps.Bundler.Bundle(ctx, assetGraph)
	if err != nil {
		return nil, o.fail(err)
	}

	if err := o.packageBundles(ctx, bundleGraph); err != nil {
		return nil, o.fail(err)
	}

	o.setAttemptStatus(types.BuildStatusSucceeded)
	o.deps.Reporter.BuildSuccess(types.BuildSuccessEvent{
		ChangedAssets: changed,
		AssetGraph:    assetGraph,
		BundleGraph:   bundleGraph,
		BuildTime:     time.Since(start),
	})

	if !o.opts.Watch && o.opts.ShouldKillWorkers() {
		o.releasePool()
	}

	return bundleGraph, nil
}

// fail applies the failure protocol: aborted attempts skip the failure
// report, everything else reports the underlying cause; both are
// wrapped into a BuildError for the caller.
func (o *Orchestrator) fail(cause error) error {
	buildErr := types.NewBuildError(cause)
	if buildErr.Aborted() {
		o.setAttemptStatus(types.BuildStatusAborted)
	} else {
		o.setAttemptStatus(types.BuildStatusFailed)
		o.deps.Reporter.BuildFailure(cause)
	}
	return buildErr
}

func (o *Orchestrator) setAttempt(attempt types.BuildAttempt) {
	o.attemptMu.Lock()
	o.lastAttempt = attempt
	o.attemptMu.Unlock()
}

func (o *Orchestrator) setAttemptStatus(status types.BuildStatus) {
	o.attemptMu.Lock()
	o.lastAttempt.Status = status
	o.attemptMu.Unlock()
}

// LastAttempt returns a copy of the most recent attempt's record
func (o *Orchestrator) LastAttempt() types.BuildAttempt {
	o.attemptMu.Lock()
	defer o.attemptMu.Unlock()
	return o.lastAttempt
}

// packageBundles fans packaging out to the worker pool and waits for
// every call to settle. The first failure aborts the join; in-flight
// calls still run but their results are discarded.
func (o *Orchestrator) packageBundles(ctx context.Context, bg *types.BundleGraph) error {
	g, gctx := NewSafeGroup(ctx, o.logger)

	for _, b := range bg.Bundles {
		b := b
		g.Go(func() error {
			stats, err := o.deps.Pool.PackageBundle(gctx, b)
			if err != nil {
				return fmt.Errorf("failed to package bundle %s: %w", b.ID, err)
			}
			b.Stats = stats
			return nil
		})
	}

	return g.Wait()
}

func (o *Orchestrator) releasePool() {
	if o.poolReleased || o.deps.Pool == nil {
		return
	}
	o.poolReleased = true
	if err := o.deps.Pool.Release(); err != nil {
		o.logger.Warn("Failed to tear down worker pool", logger.WithField("error", err))
	}
}

// Config returns the resolved pipeline configuration after Init
func (o *Orchestrator) Config() *types.Config {
	return o.config
}

// ConfigPath returns the path the configuration was loaded from; empty
// when a default config was used
func (o *Orchestrator) ConfigPath() string {
	return o.configPath
}

// Close stops the watch loop and releases the subscription. It does not
// tear down the worker pool; that is governed solely by the watch and
// killWorkers options.
func (o *Orchestrator) Close() error {
	o.cancel()
	var err error
	if o.sub != nil {
		err = o.sub.Unsubscribe()
	}
	o.wg.Wait()
	return err
}

// defaultWatcher is split out so tests can inject their own
func (o *Orchestrator) watcherOrDefault() interfaces.Watcher {
	if o.deps.Watcher != nil {
		return o.deps.Watcher
	}
	return watcher.New(o.logger)
}
