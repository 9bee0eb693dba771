package workerpool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/packmule/packmule/internal/cache"
	"github.com/packmule/packmule/pkg/types"
)

// PackageRequest describes one bundle to package. It is self-contained
// so it can cross a process boundary: asset paths are absolute and in
// packaging order.
type PackageRequest struct {
	BundleID      string   `json:"bundleId"`
	Name          string   `json:"name"`
	OutputPath    string   `json:"outputPath"`
	AssetPaths    []string `json:"assetPaths"`
	HeaderComment bool     `json:"headerComment,omitempty"`
}

// Packager performs the CPU-bound packaging of one bundle: it reads the
// bundle's assets in order, concatenates them into the output file, and
// memoizes the result through the content-addressed cache.
type Packager struct {
	cache *cache.Cache
}

// NewPackager creates a packager. The cache may be nil to disable
// memoization.
func NewPackager(c *cache.Cache) *Packager {
	return &Packager{cache: c}
}

// Package packages one bundle and returns its stats
func (p *Packager) Package(ctx context.Context, req *PackageRequest) (*types.Stats, error) {
	start := time.Now()

	if len(req.AssetPaths) == 0 {
		return nil, fmt.Errorf("bundle %s has no assets", req.BundleID)
	}

	contents := make([][]byte, len(req.AssetPaths))
	hashes := make([]string, 0, len(req.AssetPaths)+2)
	hashes = append(hashes, req.Name, fmt.Sprintf("header=%t", req.HeaderComment))

	for i, path := range req.AssetPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read asset for bundle %s: %w", req.BundleID, err)
		}
		contents[i] = data
		hashes = append(hashes, cache.HashBytes(data))
	}

	key := cache.HashStrings(hashes...)

	var output []byte
	fromCache := false
	if p.cache != nil && p.cache.Has(key) {
		if data, err := p.cache.Get(key); err == nil {
			output = data
			fromCache = true
		}
	}

	if output == nil {
		output = p.assemble(req, contents)
		if p.cache != nil {
			if err := p.cache.Put(key, output); err != nil {
				return nil, fmt.Errorf("failed to cache bundle %s: %w", req.BundleID, err)
			}
		}
	}

	if err := writeOutput(req.OutputPath, output); err != nil {
		return nil, fmt.Errorf("failed to write bundle %s: %w", req.BundleID, err)
	}

	return &types.Stats{
		Size:       int64(len(output)),
		Duration:   time.Since(start),
		AssetCount: len(req.AssetPaths),
		OutputPath: req.OutputPath,
		FromCache:  fromCache,
	}, nil
}

func (p *Packager) assemble(req *PackageRequest, contents [][]byte) []byte {
	var buf bytes.Buffer
	if req.HeaderComment {
		fmt.Fprintf(&buf, "/* packmule bundle: %s */\n", req.Name)
	}
	for i, data := range contents {
		fmt.Fprintf(&buf, "// %s\n", filepath.Base(req.AssetPaths[i]))
		buf.Write(data)
		if len(data) == 0 || data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// writeOutput writes data atomically via a temp file rename
func writeOutput(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
