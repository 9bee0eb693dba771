// Package graph builds and incrementally updates the asset graph
package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/packmule/packmule/internal/cache"
	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/types"
)

// Builder discovers assets reachable from the entry points and keeps
// the graph current across attempts. It is the invalidation sink for
// the watch loop: batches arriving while a build is in flight supersede
// it, and Build completes with an error wrapping types.ErrBuildAborted.
type Builder struct {
	entries     []string
	projectRoot string
	config      *types.Config
	logger      logger.Logger

	mu         sync.Mutex
	assets     map[string]*types.Asset
	dirty      map[string]types.EventKind
	generation uint64
	built      bool
}

// NewBuilder creates a builder for the given entry files
func NewBuilder(entries []string, projectRoot string, cfg *types.Config, log logger.Logger) (*Builder, error) {
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	absEntries := make([]string, 0, len(entries))
	for _, e := range entries {
		if !filepath.IsAbs(e) {
			e = filepath.Join(absRoot, e)
		}
		absEntries = append(absEntries, filepath.Clean(e))
	}

	return &Builder{
		entries:     absEntries,
		projectRoot: absRoot,
		config:      cfg,
		logger:      log,
		assets:      make(map[string]*types.Asset),
		dirty:       make(map[string]types.EventKind),
	}, nil
}

// RespondToFSEvents consumes an invalidation batch. Each batch bumps the
// generation counter, which is what supersedes an in-flight Build.
func (b *Builder) RespondToFSEvents(batch types.InvalidationBatch) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ev := range batch.Events {
		b.dirty[filepath.Clean(ev.Path)] = ev.Kind
	}
	b.generation++
}

// IsInvalid reports whether the graph is stale and a new attempt is due
func (b *Builder) IsInvalid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.built || len(b.dirty) > 0
}

// Build (re)builds the graph incrementally. It returns the current
// graph and the set of assets changed since the previous attempt; on
// the first attempt every reachable asset counts as changed.
func (b *Builder) Build(ctx context.Context) (*types.AssetGraph, map[string]*types.Asset, error) {
	b.mu.Lock()
	startGen := b.generation
	first := !b.built
	consumed := b.dirty
	b.dirty = make(map[string]types.EventKind)
	previous := b.assets
	b.mu.Unlock()

	assets := make(map[string]*types.Asset)
	changed := make(map[string]*types.Asset)
	entryIDs := make([]string, 0, len(b.entries))

	queue := append([]string(nil), b.entries...)
	seen := make(map[string]bool)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			b.restoreDirty(consumed)
			return nil, nil, err
		}
		if b.superseded(startGen) {
			b.restoreDirty(consumed)
			return nil, nil, fmt.Errorf("asset graph build: %w", types.ErrBuildAborted)
		}

		path := queue[0]
		queue = queue[1:]

		id := b.assetID(path)
		if seen[id] {
			continue
		}
		seen[id] = true

		asset, wasChanged, err := b.loadAsset(path, id, previous, consumed)
		if err != nil {
			b.restoreDirty(consumed)
			return nil, nil, err
		}

		assets[id] = asset
		if first || wasChanged {
			changed[id] = asset
		}

		for _, depID := range asset.Dependencies {
			if !seen[depID] {
				queue = append(queue, filepath.Join(b.projectRoot, filepath.FromSlash(depID)))
			}
		}
	}

	for _, e := range b.entries {
		entryIDs = append(entryIDs, b.assetID(e))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.generation != startGen {
		// A batch landed after the last supersession check; put the
		// consumed invalidations back so the next attempt sees them
		for p, k := range consumed {
			if _, ok := b.dirty[p]; !ok {
				b.dirty[p] = k
			}
		}
		return nil, nil, fmt.Errorf("asset graph build: %w", types.ErrBuildAborted)
	}

	b.assets = assets
	b.built = true

	graph := &types.AssetGraph{
		Entries: entryIDs,
		Assets:  assets,
	}
	return graph, changed, nil
}

func (b *Builder) superseded(startGen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation != startGen
}

func (b *Builder) restoreDirty(consumed map[string]types.EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p, k := range consumed {
		if _, ok := b.dirty[p]; !ok {
			b.dirty[p] = k
		}
	}
}

// loadAsset returns the asset for path, reusing the previous attempt's
// asset when the file was not invalidated
func (b *Builder) loadAsset(path, id string, previous map[string]*types.Asset, dirty map[string]types.EventKind) (*types.Asset, bool, error) {
	_, wasDirty := dirty[path]
	if prev, ok := previous[id]; ok && !wasDirty {
		return prev, false, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read asset %s: %w", id, err)
	}

	deps, err := b.resolveDependencies(path, content)
	if err != nil {
		return nil, false, err
	}

	asset := &types.Asset{
		ID:           id,
		FilePath:     path,
		Hash:         cache.HashBytes(content),
		Dependencies: deps,
	}

	// An untouched file rewritten with identical content is not a change
	if prev, ok := previous[id]; ok && prev.Hash == asset.Hash && equalDeps(prev.Dependencies, deps) {
		return prev, false, nil
	}

	return asset, true, nil
}

var (
	importRe    = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w*{},\s]+\s+from\s+)?["']([^"']+)["']`)
	requireRe   = regexp.MustCompile(`require\(\s*["']([^"']+)["']\s*\)`)
	cssImportRe = regexp.MustCompile(`@import\s+["']([^"']+)["']`)
)

func (b *Builder) resolveDependencies(fromPath string, content []byte) ([]string, error) {
	var specifiers []string
	for _, re := range []*regexp.Regexp{importRe, requireRe, cssImportRe} {
		for _, m := range re.FindAllSubmatch(content, -1) {
			specifiers = append(specifiers, string(m[1]))
		}
	}

	fromDir := filepath.Dir(fromPath)
	deps := make([]string, 0, len(specifiers))
	for _, spec := range specifiers {
		// Bare specifiers are external modules; resolution semantics
		// for those are out of scope
		if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") && !filepath.IsAbs(spec) {
			continue
		}

		resolved, ok := b.resolveFile(fromDir, spec)
		if !ok {
			return nil, fmt.Errorf("cannot resolve %q from %s", spec, b.assetID(fromPath))
		}
		deps = append(deps, b.assetID(resolved))
	}
	return deps, nil
}

func (b *Builder) resolveFile(fromDir, spec string) (string, bool) {
	base := spec
	if !filepath.IsAbs(base) {
		base = filepath.Join(fromDir, spec)
	}
	base = filepath.Clean(base)

	if info, err := os.Stat(base); err == nil && !info.IsDir() {
		return base, true
	}
	for _, ext := range b.config.ResolvedExtensions() {
		if candidate := base + ext; fileExists(candidate) {
			return candidate, true
		}
	}
	for _, ext := range b.config.ResolvedExtensions() {
		if candidate := filepath.Join(base, "index"+ext); fileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// assetID is the project-root-relative slash path of an asset file
func (b *Builder) assetID(path string) string {
	rel, err := filepath.Rel(b.projectRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func equalDeps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
