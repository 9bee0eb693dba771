// Package workerpool provides the shared packaging worker pool
package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"

	"github.com/packmule/packmule/internal/cache"
	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/types"
)

// Options configures a pool at creation time. Orchestrators with an
// equal fingerprint join the existing pool instead.
type Options struct {
	Workers      int
	CacheDir     string
	Env          map[string]string
	Packaging    types.PackagingConfig
	OutOfProcess bool
	Logger       logger.Logger
}

// Process-wide pool registry keyed by configuration fingerprint.
// Reference counts are guarded by registryMu.
var (
	registryMu sync.Mutex
	registry   = make(map[string]*Pool)
)

// Fingerprint derives the pool key from everything that affects
// packaging output: the pipeline config, the execution environment, and
// the worker count. Map keys are sorted by encoding/json, so equal
// inputs produce equal fingerprints.
func Fingerprint(cfg *types.Config, opts *types.Options) string {
	payload := struct {
		Config  *types.Config     `json:"config"`
		Env     map[string]string `json:"env,omitempty"`
		Workers int               `json:"workers,omitempty"`
		Isolate bool              `json:"isolate,omitempty"`
	}{cfg, opts.Env, opts.Workers, opts.IsolateWorkers}

	data, err := json.Marshal(payload)
	if err != nil {
		// Config and options are plain data; marshal cannot fail on them
		return cache.HashStrings(fmt.Sprintf("%+v", payload))
	}
	return cache.HashBytes(data)
}

// Acquire returns the pool for fingerprint, creating it on first use
// and joining (reference-counting) it otherwise
func Acquire(fingerprint string, opts Options) (*Pool, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if p, ok := registry[fingerprint]; ok {
		p.refs++
		return p, nil
	}

	p, err := newPool(fingerprint, opts)
	if err != nil {
		return nil, err
	}
	p.refs = 1
	registry[fingerprint] = p
	return p, nil
}

type dispatch struct {
	ctx    context.Context
	req    *PackageRequest
	result chan callResult
}

type callResult struct {
	stats *types.Stats
	err   error
}

// Pool is a reference-counted set of packaging workers. All mutation
// goes through PackageBundle and Release; holders never touch workers
// directly.
type Pool struct {
	fingerprint string
	logger      logger.Logger
	header      bool

	refs int // guarded by registryMu

	workers  []*worker
	requests chan *dispatch
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newPool(fingerprint string, opts Options) (*Pool, error) {
	count := opts.Workers
	if count <= 0 {
		count = runtime.NumCPU()
	}

	log := opts.Logger
	if log == nil {
		log = logger.CreateLoggerWithOutput("info", nil)
	}

	var store *cache.Cache
	if opts.CacheDir != "" {
		store = cache.New(opts.CacheDir)
	}

	p := &Pool{
		fingerprint: fingerprint,
		logger:      log,
		header:      opts.Packaging.HeaderComment,
		requests:    make(chan *dispatch),
	}

	for i := 0; i < count; i++ {
		var t transport
		if opts.OutOfProcess {
			pt, err := newProcessTransport(opts.CacheDir, opts.Env)
			if err != nil {
				p.stopWorkers()
				return nil, fmt.Errorf("failed to spawn worker %d: %w", i, err)
			}
			t = pt
		} else {
			t = &inProcessTransport{packager: NewPackager(store)}
		}

		w := &worker{
			id:        fmt.Sprintf("%s-%d", fingerprint[:8], i),
			transport: t,
		}
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go p.serve(w)
	}

	log.Debug("Worker pool created",
		logger.WithField("fingerprint", fingerprint[:8]),
		logger.WithField("workers", count))

	return p, nil
}

// Fingerprint returns the configuration fingerprint this pool serves
func (p *Pool) Fingerprint() string {
	return p.fingerprint
}

// Workers returns the number of workers in the pool
func (p *Pool) Workers() int {
	return len(p.workers)
}

// PackageBundle dispatches one bundle to the next available worker and
// waits for its stats. Concurrent calls load-balance across workers
// with no ordering guarantee.
func (p *Pool) PackageBundle(ctx context.Context, bundle *types.Bundle) (*types.Stats, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("worker pool has been torn down")
	}
	p.mu.Unlock()

	d := &dispatch{
		ctx: ctx,
		req: &PackageRequest{
			BundleID:      bundle.ID,
			Name:          bundle.Name,
			OutputPath:    bundle.OutputPath(),
			AssetPaths:    bundle.AssetPaths,
			HeaderComment: p.header,
		},
		result: make(chan callResult, 1),
	}

	select {
	case p.requests <- d:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-d.result:
		return res.stats, res.err
	case <-ctx.Done():
		// The worker finishes the call anyway; its result is discarded
		return nil, ctx.Err()
	}
}

// Release drops this holder's reference. The last release terminates
// every worker and removes the pool from the registry.
func (p *Pool) Release() error {
	registryMu.Lock()
	if p.refs <= 0 {
		registryMu.Unlock()
		return fmt.Errorf("worker pool released more times than acquired")
	}
	p.refs--
	last := p.refs == 0
	if last {
		delete(registry, p.fingerprint)
	}
	registryMu.Unlock()

	if !last {
		return nil
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	close(p.requests)
	p.wg.Wait()
	return p.stopWorkers()
}

func (p *Pool) serve(w *worker) {
	defer p.wg.Done()
	for d := range p.requests {
		stats, err := w.transport.call(d.ctx, d.req)
		d.result <- callResult{stats: stats, err: err}
	}
}

func (p *Pool) stopWorkers() error {
	var firstErr error
	for _, w := range p.workers {
		if err := w.transport.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
