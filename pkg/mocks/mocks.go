// Package mocks provides hand-written mock implementations for testing
package mocks

import (
	"context"
	"sync"

	"github.com/packmule/packmule/pkg/interfaces"
	"github.com/packmule/packmule/pkg/types"
)

// MockConfigResolver returns a scripted configuration
type MockConfigResolver struct {
	Config *types.Config
	Path   string
	Err    error
}

// Resolve implements interfaces.ConfigResolver
func (m *MockConfigResolver) Resolve(explicitPath, projectRoot string, def *types.Config) (*types.Config, string, error) {
	if m.Err != nil {
		return nil, "", m.Err
	}
	return m.Config, m.Path, nil
}

// MockGraphBuilder scripts asset graph builds and tracks invalidations
type MockGraphBuilder struct {
	mu         sync.Mutex
	graph      *types.AssetGraph
	changed    map[string]*types.Asset
	buildErr   error
	invalid    bool
	buildCalls int
	batches    []types.InvalidationBatch
	onBuild    func()
}

// NewMockGraphBuilder creates a builder that returns graph and changed
func NewMockGraphBuilder(graph *types.AssetGraph, changed map[string]*types.Asset) *MockGraphBuilder {
	return &MockGraphBuilder{graph: graph, changed: changed}
}

// SetBuildError makes subsequent builds fail with err
func (m *MockGraphBuilder) SetBuildError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildErr = err
}

// SetInvalid scripts the invalidity predicate
func (m *MockGraphBuilder) SetInvalid(invalid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalid = invalid
}

// SetOnBuild installs a hook invoked at the top of every Build call
func (m *MockGraphBuilder) SetOnBuild(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBuild = fn
}

// BuildCalls returns how many times Build ran
func (m *MockGraphBuilder) BuildCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buildCalls
}

// Batches returns every batch forwarded so far
func (m *MockGraphBuilder) Batches() []types.InvalidationBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.InvalidationBatch(nil), m.batches...)
}

// Build implements interfaces.AssetGraphBuilder
func (m *MockGraphBuilder) Build(ctx context.Context) (*types.AssetGraph, map[string]*types.Asset, error) {
	m.mu.Lock()
	m.buildCalls++
	hook := m.onBuild
	err := m.buildErr
	graph := m.graph
	changed := m.changed
	m.invalid = false
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, nil, err
	}
	return graph, changed, nil
}

// RespondToFSEvents implements interfaces.AssetGraphBuilder
func (m *MockGraphBuilder) RespondToFSEvents(batch types.InvalidationBatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	m.invalid = true
}

// IsInvalid implements interfaces.AssetGraphBuilder
func (m *MockGraphBuilder) IsInvalid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalid
}

// MockBundler returns a scripted bundle graph
type MockBundler struct {
	mu     sync.Mutex
	graph  *types.BundleGraph
	err    error
	called int
}

// NewMockBundler creates a bundler returning graph
func NewMockBundler(graph *types.BundleGraph) *MockBundler {
	return &MockBundler{graph: graph}
}

// SetError makes subsequent Bundle calls fail
func (m *MockBundler) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Bundle implements interfaces.Bundler
func (m *MockBundler) Bundle(ctx context.Context, graph *types.AssetGraph) (*types.BundleGraph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called++
	if m.err != nil {
		return nil, m.err
	}
	return m.graph, nil
}

// ReporterEvent records one lifecycle event delivered to MockReporter
type ReporterEvent struct {
	Kind    string // "start", "success", "failure"
	Success types.BuildSuccessEvent
	Err     error
}

// MockReporter records every lifecycle event in order
type MockReporter struct {
	mu     sync.Mutex
	events []ReporterEvent
}

// BuildStart implements interfaces.Reporter
func (m *MockReporter) BuildStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ReporterEvent{Kind: "start"})
}

// BuildSuccess implements interfaces.Reporter
func (m *MockReporter) BuildSuccess(event types.BuildSuccessEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ReporterEvent{Kind: "success", Success: event})
}

// BuildFailure implements interfaces.Reporter
func (m *MockReporter) BuildFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ReporterEvent{Kind: "failure", Err: err})
}

// Events returns the recorded events in delivery order
func (m *MockReporter) Events() []ReporterEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReporterEvent(nil), m.events...)
}

// Count returns how many events of kind were recorded
func (m *MockReporter) Count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// MockWatcher hands out subscriptions whose batches are delivered
// manually via Deliver
type MockWatcher struct {
	mu          sync.Mutex
	callback    interfaces.BatchCallback
	root        string
	ignorePaths []string
	err         error
	subscribed  int
}

// SetSubscribeError makes Subscribe fail
func (m *MockWatcher) SetSubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Subscribe implements interfaces.Watcher
func (m *MockWatcher) Subscribe(root string, ignorePaths []string, callback interfaces.BatchCallback) (interfaces.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.subscribed++
	m.root = root
	m.ignorePaths = append([]string(nil), ignorePaths...)
	m.callback = callback
	return &MockSubscription{}, nil
}

// Deliver pushes a batch through the registered callback
func (m *MockWatcher) Deliver(batch types.InvalidationBatch) {
	m.mu.Lock()
	cb := m.callback
	m.mu.Unlock()
	if cb != nil {
		cb(batch)
	}
}

// Subscriptions returns how many subscriptions were created
func (m *MockWatcher) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed
}

// IgnorePaths returns the exclusion set passed to Subscribe
func (m *MockWatcher) IgnorePaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ignorePaths...)
}

// MockSubscription counts Unsubscribe calls
type MockSubscription struct {
	mu           sync.Mutex
	unsubscribed int
}

// Unsubscribe implements interfaces.Subscription
func (s *MockSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed++
	return nil
}

// MockPool packages bundles with canned stats and tracks teardown
type MockPool struct {
	mu       sync.Mutex
	err      error
	packaged []string
	released int
}

// SetPackageError makes subsequent PackageBundle calls fail
func (m *MockPool) SetPackageError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// PackageBundle implements interfaces.WorkerPool
func (m *MockPool) PackageBundle(ctx context.Context, bundle *types.Bundle) (*types.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.packaged = append(m.packaged, bundle.ID)
	return &types.Stats{
		Size:       int64(len(bundle.AssetIDs)) * 10,
		AssetCount: len(bundle.AssetIDs),
		OutputPath: bundle.OutputPath(),
	}, nil
}

// Release implements interfaces.WorkerPool
func (m *MockPool) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	return nil
}

// Released returns how many times Release was called
func (m *MockPool) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Packaged returns the IDs of every bundle packaged
func (m *MockPool) Packaged() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.packaged...)
}
