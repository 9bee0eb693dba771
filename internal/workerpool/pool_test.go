package workerpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/types"
)

var fingerprintSeq uint64

// uniqueFingerprint keeps tests from colliding in the process-wide registry
func uniqueFingerprint(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("test%04d-%s", atomic.AddUint64(&fingerprintSeq, 1), t.Name())
}

func poolOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Workers: 2,
		Logger:  logger.CreateLoggerWithOutput("error", nil),
	}
}

func TestFingerprintStability(t *testing.T) {
	cfg := &types.Config{Version: "1", Extensions: []string{".js"}}
	opts := &types.Options{Env: map[string]string{"NODE_ENV": "production"}, Workers: 4}

	a := Fingerprint(cfg, opts)
	b := Fingerprint(
		&types.Config{Version: "1", Extensions: []string{".js"}},
		&types.Options{Env: map[string]string{"NODE_ENV": "production"}, Workers: 4},
	)
	if a != b {
		t.Fatalf("equal inputs produced different fingerprints: %s vs %s", a, b)
	}

	c := Fingerprint(cfg, &types.Options{Env: map[string]string{"NODE_ENV": "development"}, Workers: 4})
	if a == c {
		t.Fatal("different env produced the same fingerprint")
	}

	d := Fingerprint(cfg, &types.Options{Env: opts.Env, Workers: 8})
	if a == d {
		t.Fatal("different worker count produced the same fingerprint")
	}
}

func TestAcquireJoinsExistingPool(t *testing.T) {
	fp := uniqueFingerprint(t)

	p1, err := Acquire(fp, poolOptions(t))
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	p2, err := Acquire(fp, poolOptions(t))
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if p1 != p2 {
		t.Fatal("equal fingerprints produced distinct pools")
	}

	// First release keeps the pool alive for the second holder
	if err := p1.Release(); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if _, err := p2.PackageBundle(context.Background(), &types.Bundle{}); err == nil {
		t.Fatal("expected packaging of an empty bundle to fail")
	}

	if err := p2.Release(); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
	if _, err := p2.PackageBundle(context.Background(), &types.Bundle{ID: "x"}); err == nil {
		t.Fatal("expected packaging on a torn-down pool to fail")
	}
}

func TestDistinctFingerprintsGetDistinctPools(t *testing.T) {
	fpA, fpB := uniqueFingerprint(t)+"-a", uniqueFingerprint(t)+"-b"

	p1, err := Acquire(fpA, poolOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	defer p1.Release()
	p2, err := Acquire(fpB, poolOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Release()

	if p1 == p2 {
		t.Fatal("distinct fingerprints shared a pool")
	}
}

func TestReleaseWithoutAcquireFails(t *testing.T) {
	fp := uniqueFingerprint(t)
	p, err := Acquire(fp, poolOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := p.Release(); err == nil {
		t.Fatal("expected over-release to fail")
	}
}

func TestPoolPackagesBundles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "index.js")
	if err := os.WriteFile(src, []byte("console.log(1);\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fp := uniqueFingerprint(t)
	opts := poolOptions(t)
	opts.CacheDir = filepath.Join(dir, "cache")
	p, err := Acquire(fp, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()

	bundle := &types.Bundle{
		ID:         "default:index.js",
		Name:       "index.js",
		Target:     types.Target{Name: "default", OutputDir: filepath.Join(dir, "dist")},
		AssetIDs:   []string{"index.js"},
		AssetPaths: []string{src},
	}

	stats, err := p.PackageBundle(context.Background(), bundle)
	if err != nil {
		t.Fatalf("PackageBundle failed: %v", err)
	}
	if stats.AssetCount != 1 {
		t.Errorf("stats.AssetCount = %d, want 1", stats.AssetCount)
	}
	if _, err := os.Stat(bundle.OutputPath()); err != nil {
		t.Fatalf("bundle output missing: %v", err)
	}
}

func TestPoolBalancesConcurrentCalls(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.js")
	if err := os.WriteFile(src, []byte("1;\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fp := uniqueFingerprint(t)
	p, err := Acquire(fp, poolOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		i := i
		go func() {
			bundle := &types.Bundle{
				ID:         fmt.Sprintf("default:a%d.js", i),
				Name:       fmt.Sprintf("a%d.js", i),
				Target:     types.Target{Name: "default", OutputDir: filepath.Join(dir, "dist")},
				AssetPaths: []string{src},
			}
			_, err := p.PackageBundle(context.Background(), bundle)
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent PackageBundle failed: %v", err)
		}
	}
}

func TestPackageBundleHonorsContext(t *testing.T) {
	fp := uniqueFingerprint(t)
	p, err := Acquire(fp, poolOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.PackageBundle(ctx, &types.Bundle{ID: "x"}); err == nil {
		t.Fatal("expected a context error")
	}
}
