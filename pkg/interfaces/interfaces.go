// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"

	"github.com/packmule/packmule/pkg/types"
)

// ConfigResolver resolves the pipeline configuration from an explicit
// path, a discovered file at the project root, or a supplied default
type ConfigResolver interface {
	Resolve(explicitPath, projectRoot string, def *types.Config) (*types.Config, string, error)
}

// AssetGraphBuilder incrementally builds and updates the asset graph.
// Build returns the current graph plus the set of assets changed since
// the previous attempt; on the first attempt every reachable asset
// counts as changed. When a newer invalidation supersedes an in-flight
// build, Build returns an error wrapping types.ErrBuildAborted.
type AssetGraphBuilder interface {
	Build(ctx context.Context) (*types.AssetGraph, map[string]*types.Asset, error)
	RespondToFSEvents(batch types.InvalidationBatch)
	IsInvalid() bool
}

// Bundler converts an asset graph into a bundle graph
type Bundler interface {
	Bundle(ctx context.Context, graph *types.AssetGraph) (*types.BundleGraph, error)
}

// Reporter receives build lifecycle events. Every attempt reports
// BuildStart; a terminal event follows unless the attempt was aborted.
type Reporter interface {
	BuildStart()
	BuildSuccess(event types.BuildSuccessEvent)
	BuildFailure(err error)
}

// BatchCallback is invoked with each settled batch of filesystem events
type BatchCallback func(batch types.InvalidationBatch)

// Watcher delivers batched filesystem events for a directory tree
type Watcher interface {
	Subscribe(root string, ignorePaths []string, callback BatchCallback) (Subscription, error)
}

// Subscription is one active watch on a directory tree
type Subscription interface {
	Unsubscribe() error
}

// WorkerPool is a shared, reference-counted set of workers exposing the
// bound remote packaging operation. Release drops this holder's
// reference; the pool tears its workers down once the last reference is
// gone.
type WorkerPool interface {
	PackageBundle(ctx context.Context, bundle *types.Bundle) (*types.Stats, error)
	Release() error
}

// Dependencies contains the orchestrator's injectable collaborators.
// Nil fields are replaced with default implementations during Init.
type Dependencies struct {
	ConfigResolver ConfigResolver
	GraphBuilder   AssetGraphBuilder
	Bundler        Bundler
	Reporter       Reporter
	Watcher        Watcher
	Pool           WorkerPool
}
