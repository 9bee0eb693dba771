package workerpool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/packmule/packmule/internal/cache"
)

func writeAssets(t *testing.T, dir string, files map[string]string) []string {
	t.Helper()
	paths := make([]string, 0, len(files))
	for _, name := range []string{"util.js", "index.js"} {
		content, ok := files[name]
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestPackageConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	paths := writeAssets(t, dir, map[string]string{
		"util.js":  "const x = 1;\n",
		"index.js": "console.log(x);",
	})

	req := &PackageRequest{
		BundleID:   "default:index.js",
		Name:       "index.js",
		OutputPath: filepath.Join(dir, "dist", "index.js"),
		AssetPaths: paths,
	}

	stats, err := NewPackager(nil).Package(context.Background(), req)
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}

	out, err := os.ReadFile(req.OutputPath)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	text := string(out)

	utilAt := strings.Index(text, "const x = 1;")
	indexAt := strings.Index(text, "console.log(x);")
	if utilAt < 0 || indexAt < 0 || utilAt > indexAt {
		t.Fatalf("assets out of order:\n%s", text)
	}
	if !strings.Contains(text, "// util.js") {
		t.Fatalf("missing separator comment:\n%s", text)
	}
	if !strings.HasSuffix(text, "\n") {
		t.Fatal("output not newline-terminated")
	}

	if stats.Size != int64(len(out)) {
		t.Errorf("stats.Size = %d, want %d", stats.Size, len(out))
	}
	if stats.AssetCount != 2 {
		t.Errorf("stats.AssetCount = %d, want 2", stats.AssetCount)
	}
	if stats.OutputPath != req.OutputPath {
		t.Errorf("stats.OutputPath = %s, want %s", stats.OutputPath, req.OutputPath)
	}
	if stats.FromCache {
		t.Error("first packaging claimed a cache hit")
	}
}

func TestPackageHeaderComment(t *testing.T) {
	dir := t.TempDir()
	paths := writeAssets(t, dir, map[string]string{"index.js": "1;\n"})

	req := &PackageRequest{
		BundleID:      "default:index.js",
		Name:          "index.js",
		OutputPath:    filepath.Join(dir, "out.js"),
		AssetPaths:    paths,
		HeaderComment: true,
	}
	if _, err := NewPackager(nil).Package(context.Background(), req); err != nil {
		t.Fatalf("Package failed: %v", err)
	}

	out, _ := os.ReadFile(req.OutputPath)
	if !strings.HasPrefix(string(out), "/* packmule bundle: index.js */") {
		t.Fatalf("missing header comment:\n%s", out)
	}
}

func TestPackageMemoizesThroughCache(t *testing.T) {
	dir := t.TempDir()
	store := cache.New(filepath.Join(dir, "cache"))
	if err := store.Ensure(); err != nil {
		t.Fatal(err)
	}
	paths := writeAssets(t, dir, map[string]string{"index.js": "1;\n"})

	req := &PackageRequest{
		BundleID:   "default:index.js",
		Name:       "index.js",
		OutputPath: filepath.Join(dir, "out.js"),
		AssetPaths: paths,
	}

	p := NewPackager(store)
	first, err := p.Package(context.Background(), req)
	if err != nil {
		t.Fatalf("first Package failed: %v", err)
	}
	if first.FromCache {
		t.Fatal("cold cache reported a hit")
	}

	second, err := p.Package(context.Background(), req)
	if err != nil {
		t.Fatalf("second Package failed: %v", err)
	}
	if !second.FromCache {
		t.Fatal("warm cache reported a miss")
	}
	if first.Size != second.Size {
		t.Fatalf("cached output differs: %d vs %d", first.Size, second.Size)
	}
}

func TestPackageRejectsEmptyBundle(t *testing.T) {
	req := &PackageRequest{BundleID: "default:empty.js", Name: "empty.js", OutputPath: "out.js"}
	if _, err := NewPackager(nil).Package(context.Background(), req); err == nil {
		t.Fatal("expected an error for a bundle with no assets")
	}
}

func TestPackageFailsOnMissingAsset(t *testing.T) {
	dir := t.TempDir()
	req := &PackageRequest{
		BundleID:   "default:index.js",
		Name:       "index.js",
		OutputPath: filepath.Join(dir, "out.js"),
		AssetPaths: []string{filepath.Join(dir, "gone.js")},
	}
	if _, err := NewPackager(nil).Package(context.Background(), req); err == nil {
		t.Fatal("expected an error for a missing asset file")
	}
}
