// Package types provides core types and configurations for Packmule
package types

import (
	"path/filepath"
	"time"
)

// BuildStatus represents the state of one build attempt
type BuildStatus string

const (
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusAborted   BuildStatus = "aborted"
)

// BuildAttempt is one execution of the pipeline. It lives only for the
// duration of the attempt plus its report; attempts are never persisted.
type BuildAttempt struct {
	StartedAt time.Time
	Status    BuildStatus
}

// EventKind classifies a filesystem event
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
	EventDeleted  EventKind = "deleted"
)

// FileEvent is a single filesystem change delivered by the watcher
type FileEvent struct {
	Path string
	Kind EventKind
}

// InvalidationBatch is an ordered collection of filesystem events.
// It is consumed by the asset graph builder and not retained afterwards.
type InvalidationBatch struct {
	Events []FileEvent
	Time   time.Time
}

// Target describes one deliverable destination
type Target struct {
	Name      string `json:"name" yaml:"name"`
	OutputDir string `json:"outputDir" yaml:"outputDir"`
	Minify    *bool  `json:"minify,omitempty" yaml:"minify,omitempty"`
}

// ShouldMinify resolves the minify flag with its default (false)
func (t Target) ShouldMinify() bool {
	return t.Minify != nil && *t.Minify
}

// Asset is a single source file's compiled representation plus its
// outgoing dependency edges. Dependencies reference other asset IDs.
type Asset struct {
	ID           string
	FilePath     string
	Hash         string
	Dependencies []string
}

// AssetGraph is the dependency graph of assets reachable from the
// configured entry points. It is owned and incrementally mutated by the
// asset graph builder; the orchestrator holds a read reference for the
// duration of one attempt.
type AssetGraph struct {
	Entries []string
	Assets  map[string]*Asset
}

// Asset returns the asset with the given ID, or nil
func (g *AssetGraph) Asset(id string) *Asset {
	if g == nil {
		return nil
	}
	return g.Assets[id]
}

// Bundle is a deliverable grouping of assets destined for one output file.
// AssetIDs are in packaging order. Stats is absent until the packaging
// step writes it, exactly once per attempt.
type Bundle struct {
	ID         string
	Name       string
	Entry      string
	Target     Target
	AssetIDs   []string
	AssetPaths []string
	Stats      *Stats
}

// OutputPath returns the file this bundle is packaged into
func (b *Bundle) OutputPath() string {
	return filepath.Join(b.Target.OutputDir, b.Name)
}

// BundleGraph is the graph of bundles derived from an AssetGraph.
// It is produced fresh each attempt.
type BundleGraph struct {
	Bundles []*Bundle
}

// Stats holds packaging-time measurements for one bundle
type Stats struct {
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	AssetCount int           `json:"assetCount"`
	OutputPath string        `json:"outputPath"`
	FromCache  bool          `json:"fromCache"`
}

// BuildSuccessEvent is the payload delivered to the reporter when an
// attempt succeeds
type BuildSuccessEvent struct {
	ChangedAssets map[string]*Asset
	AssetGraph    *AssetGraph
	BundleGraph   *BundleGraph
	BuildTime     time.Duration
}

// Config is the resolved pipeline configuration
type Config struct {
	Version    string          `json:"version" yaml:"version"`
	Extensions []string        `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	IgnoreDirs []string        `json:"ignoreDirs,omitempty" yaml:"ignoreDirs,omitempty"`
	Packaging  PackagingConfig `json:"packaging,omitempty" yaml:"packaging,omitempty"`
}

// PackagingConfig tunes the packaging step
type PackagingConfig struct {
	HeaderComment bool `json:"headerComment,omitempty" yaml:"headerComment,omitempty"`
}

// DefaultExtensions are the import specifier extensions tried during
// resolution when the config does not override them
var DefaultExtensions = []string{".js", ".mjs", ".jsx", ".ts", ".tsx", ".css"}

// ResolvedExtensions returns the configured extensions or the defaults
func (c *Config) ResolvedExtensions() []string {
	if c == nil || len(c.Extensions) == 0 {
		return DefaultExtensions
	}
	return c.Extensions
}

// Options configures an orchestrator instance. Callers hand it to New;
// the orchestrator keeps an immutable snapshot.
type Options struct {
	Entries        []string          `json:"entries" yaml:"entries"`
	Targets        []Target          `json:"targets" yaml:"targets"`
	Watch          bool              `json:"watch,omitempty" yaml:"watch,omitempty"`
	CacheDir       string            `json:"cacheDir,omitempty" yaml:"cacheDir,omitempty"`
	KillWorkers    *bool             `json:"killWorkers,omitempty" yaml:"killWorkers,omitempty"`
	ConfigPath     string            `json:"configPath,omitempty" yaml:"configPath,omitempty"`
	DefaultConfig  *Config           `json:"defaultConfig,omitempty" yaml:"defaultConfig,omitempty"`
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Workers        int               `json:"workers,omitempty" yaml:"workers,omitempty"`
	IsolateWorkers bool              `json:"isolateWorkers,omitempty" yaml:"isolateWorkers,omitempty"`
	LogLevel       string            `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
}

// DefaultCacheDir is used when Options.CacheDir is empty
const DefaultCacheDir = ".packmule-cache"

// ShouldKillWorkers resolves the killWorkers flag with its default (true)
func (o *Options) ShouldKillWorkers() bool {
	return o.KillWorkers == nil || *o.KillWorkers
}

// ResolvedCacheDir returns the cache directory with its default applied
func (o *Options) ResolvedCacheDir() string {
	if o.CacheDir != "" {
		return o.CacheDir
	}
	return DefaultCacheDir
}

// Snapshot returns a deep copy so later caller mutations cannot leak
// into a constructed orchestrator
func (o Options) Snapshot() Options {
	out := o
	out.Entries = append([]string(nil), o.Entries...)
	out.Targets = append([]Target(nil), o.Targets...)
	if o.KillWorkers != nil {
		kw := *o.KillWorkers
		out.KillWorkers = &kw
	}
	if o.Env != nil {
		out.Env = make(map[string]string, len(o.Env))
		for k, v := range o.Env {
			out.Env[k] = v
		}
	}
	if o.DefaultConfig != nil {
		cfg := *o.DefaultConfig
		cfg.Extensions = append([]string(nil), o.DefaultConfig.Extensions...)
		cfg.IgnoreDirs = append([]string(nil), o.DefaultConfig.IgnoreDirs...)
		out.DefaultConfig = &cfg
	}
	return out
}
