// Package bundler derives bundle graphs from asset graphs
package bundler

import (
	"context"
	"fmt"
	"path"

	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/types"
)

// DefaultBundler produces one bundle per entry point and target. Assets
// are ordered dependencies-first so the packaged output evaluates each
// module before its dependents.
type DefaultBundler struct {
	targets []types.Target
	logger  logger.Logger
}

// New creates a bundler for the given targets
func New(targets []types.Target, log logger.Logger) *DefaultBundler {
	return &DefaultBundler{
		targets: append([]types.Target(nil), targets...),
		logger:  log,
	}
}

// Bundle converts the asset graph into a fresh bundle graph
func (d *DefaultBundler) Bundle(ctx context.Context, graph *types.AssetGraph) (*types.BundleGraph, error) {
	bg := &types.BundleGraph{}

	for _, entry := range graph.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		order, err := assetOrder(graph, entry)
		if err != nil {
			return nil, err
		}

		paths := make([]string, len(order))
		for i, id := range order {
			paths[i] = graph.Asset(id).FilePath
		}

		name := path.Base(entry)
		for _, target := range d.targets {
			bg.Bundles = append(bg.Bundles, &types.Bundle{
				ID:         target.Name + ":" + entry,
				Name:       name,
				Entry:      entry,
				Target:     target,
				AssetIDs:   order,
				AssetPaths: paths,
			})
		}
	}

	d.logger.Debug(fmt.Sprintf("Derived %d bundle(s) from %d asset(s)",
		len(bg.Bundles), len(graph.Assets)))

	return bg, nil
}

// assetOrder walks the dependency edges from entry and returns asset
// IDs in post-order, dependencies before dependents. Cycles are broken
// at the back edge.
func assetOrder(graph *types.AssetGraph, entry string) ([]string, error) {
	var order []string
	done := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if done[id] || onStack[id] {
			return nil
		}
		asset := graph.Asset(id)
		if asset == nil {
			return fmt.Errorf("asset graph is missing %q", id)
		}

		onStack[id] = true
		for _, dep := range asset.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		onStack[id] = false

		done[id] = true
		order = append(order, id)
		return nil
	}

	if err := visit(entry); err != nil {
		return nil, err
	}
	return order, nil
}
