// Package config handles pipeline configuration resolution
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/packmule/packmule/pkg/types"
	"gopkg.in/yaml.v3"
)

// ErrNotFound indicates that no configuration could be resolved from an
// explicit path, discovery, or a caller-supplied default. Check with
// errors.Is.
var ErrNotFound = errors.New("no packmule configuration found")

// DiscoveryNames are the file names probed at the project root, in order
var DiscoveryNames = []string{
	"packmule.config.json",
	"packmule.config.yaml",
	"packmule.config.yml",
}

// Resolver resolves the effective pipeline configuration
type Resolver struct{}

// NewResolver creates a new configuration resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the pipeline configuration, trying the explicit path
// first, then discovery at the project root, then the supplied default.
// The returned string is the path the config was loaded from; empty for
// a default config.
func (r *Resolver) Resolve(explicitPath, projectRoot string, def *types.Config) (*types.Config, string, error) {
	if explicitPath != "" {
		cfg, err := r.Load(explicitPath)
		if err != nil {
			return nil, "", fmt.Errorf("config %s: %w", explicitPath, err)
		}
		return cfg, explicitPath, nil
	}

	for _, name := range DiscoveryNames {
		path := filepath.Join(projectRoot, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := r.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("config %s: %w", path, err)
		}
		return cfg, path, nil
	}

	if def != nil {
		if err := r.Validate(def); err != nil {
			return nil, "", fmt.Errorf("default config: %w", err)
		}
		return def, "", nil
	}

	return nil, "", ErrNotFound
}

// Load reads and parses a configuration file
func (r *Resolver) Load(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.Config

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err == nil {
		if err := r.Validate(&cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	// Fall back to YAML
	cfg = types.Config{}
	if err := yaml.Unmarshal(data, &cfg); err == nil && cfg.Version != "" {
		if err := r.Validate(&cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// Validate checks a configuration for consistency
func (r *Resolver) Validate(cfg *types.Config) error {
	if cfg.Version != "1" && cfg.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %q", cfg.Version)
	}
	for _, ext := range cfg.Extensions {
		if len(ext) < 2 || ext[0] != '.' {
			return fmt.Errorf("invalid extension %q: must start with a dot", ext)
		}
	}
	return nil
}

// Default returns a usable default pipeline configuration
func Default() *types.Config {
	return &types.Config{
		Version:    "1",
		Extensions: append([]string(nil), types.DefaultExtensions...),
	}
}

// ValidateOptions checks the orchestrator options before any attempt
func ValidateOptions(opts *types.Options) error {
	if len(opts.Entries) == 0 {
		return fmt.Errorf("no entry points configured")
	}
	if len(opts.Targets) == 0 {
		return fmt.Errorf("no targets configured")
	}
	seen := make(map[string]bool, len(opts.Targets))
	for i, t := range opts.Targets {
		if t.Name == "" {
			return fmt.Errorf("target %d: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name: %s", t.Name)
		}
		seen[t.Name] = true
		if t.OutputDir == "" {
			return fmt.Errorf("target %q: outputDir is required", t.Name)
		}
	}
	return nil
}
