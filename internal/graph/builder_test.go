package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/packmule/packmule/pkg/config"
	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/types"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestBuilder(t *testing.T, root string, entries ...string) *Builder {
	t.Helper()
	b, err := NewBuilder(entries, root, config.Default(), logger.CreateLoggerWithOutput("error", nil))
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	return b
}

func TestBuildWalksImports(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/index.js": `import { greet } from "./util";` + "\n" + `import "./style.css";` + "\n",
		"src/util.js":  `export function greet() {}` + "\n",
		"src/style.css": `@import "./reset.css";
body {}`,
		"src/reset.css": `* { margin: 0 }`,
	})

	b := newTestBuilder(t, root, "src/index.js")
	graph, changed, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{"src/index.js", "src/util.js", "src/style.css", "src/reset.css"}
	if len(graph.Assets) != len(want) {
		t.Fatalf("expected %d assets, got %d: %v", len(want), len(graph.Assets), graph.Assets)
	}
	for _, id := range want {
		if graph.Asset(id) == nil {
			t.Errorf("asset %s missing from graph", id)
		}
	}

	// First attempt: everything counts as changed
	if len(changed) != len(want) {
		t.Fatalf("expected every asset changed on first build, got %d", len(changed))
	}

	idx := graph.Asset("src/index.js")
	if len(idx.Dependencies) != 2 {
		t.Fatalf("index.js dependencies = %v", idx.Dependencies)
	}
}

func TestBuildResolvesRequireAndIndexFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/index.js":     `const lib = require("./lib");`,
		"src/lib/index.ts": `export const x = 1;`,
	})

	b := newTestBuilder(t, root, "src/index.js")
	graph, _, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if graph.Asset("src/lib/index.ts") == nil {
		t.Fatalf("index file resolution failed: %v", graph.Assets)
	}
}

func TestBuildSkipsBareSpecifiers(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/index.js": `import React from "react";` + "\n" + `import "./local";` + "\n",
		"src/local.js": `export default 1;`,
	})

	b := newTestBuilder(t, root, "src/index.js")
	graph, _, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(graph.Assets) != 2 {
		t.Fatalf("bare specifier was resolved as a local asset: %v", graph.Assets)
	}
}

func TestBuildFailsOnUnresolvableImport(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/index.js": `import "./missing";`,
	})

	b := newTestBuilder(t, root, "src/index.js")
	if _, _, err := b.Build(context.Background()); err == nil {
		t.Fatal("expected resolution error")
	}
}

func TestIncrementalBuildReportsOnlyChangedAssets(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/index.js": `import "./util";`,
		"src/util.js":  `export const x = 1;`,
	})

	b := newTestBuilder(t, root, "src/index.js")
	if _, _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	if b.IsInvalid() {
		t.Fatal("graph invalid right after a clean build")
	}

	writeTree(t, root, map[string]string{
		"src/util.js": `export const x = 2;`,
	})
	b.RespondToFSEvents(types.InvalidationBatch{
		Events: []types.FileEvent{{Path: filepath.Join(root, "src/util.js"), Kind: types.EventModified}},
		Time:   time.Now(),
	})
	if !b.IsInvalid() {
		t.Fatal("graph not invalid after an invalidation batch")
	}

	graph, changed, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if len(changed) != 1 || changed["src/util.js"] == nil {
		t.Fatalf("expected only util.js changed, got %v", changed)
	}
	if graph.Asset("src/index.js") == nil {
		t.Fatal("unchanged asset dropped from graph")
	}
}

func TestRewriteWithIdenticalContentIsNotAChange(t *testing.T) {
	root := t.TempDir()
	content := `export const x = 1;`
	writeTree(t, root, map[string]string{"src/index.js": content})

	b := newTestBuilder(t, root, "src/index.js")
	if _, _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("first build failed: %v", err)
	}

	writeTree(t, root, map[string]string{"src/index.js": content})
	b.RespondToFSEvents(types.InvalidationBatch{
		Events: []types.FileEvent{{Path: filepath.Join(root, "src/index.js"), Kind: types.EventModified}},
		Time:   time.Now(),
	})

	_, changed, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("hash-identical rewrite reported as changed: %v", changed)
	}
}

func TestBatchDuringBuildSupersedesIt(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/index.js": `import "./util";`,
		"src/util.js":  `export const x = 1;`,
	})

	b := newTestBuilder(t, root, "src/index.js")
	if _, _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("first build failed: %v", err)
	}

	b.RespondToFSEvents(types.InvalidationBatch{
		Events: []types.FileEvent{{Path: filepath.Join(root, "src/util.js"), Kind: types.EventModified}},
		Time:   time.Now(),
	})

	done := make(chan error, 1)
	b.mu.Lock()
	gen := b.generation
	b.mu.Unlock()
	go func() {
		_, _, err := b.Build(context.Background())
		done <- err
	}()

	// Deliver another batch; whether it lands during the walk or before
	// the commit check, the attempt must abort.
	b.RespondToFSEvents(types.InvalidationBatch{
		Events: []types.FileEvent{{Path: filepath.Join(root, "src/index.js"), Kind: types.EventModified}},
		Time:   time.Now(),
	})

	err := <-done
	if err == nil {
		// The attempt won the race: the batch was either consumed before
		// the snapshot or landed after the commit. Nothing to assert.
		return
	}
	if !errors.Is(err, types.ErrBuildAborted) {
		t.Fatalf("expected ErrBuildAborted, got %v", err)
	}

	// The consumed invalidations must be restored for the next attempt
	if !b.IsInvalid() {
		t.Fatal("aborted build dropped its invalidations")
	}
	b.mu.Lock()
	if b.generation == gen {
		t.Error("generation did not advance")
	}
	b.mu.Unlock()

	if _, _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("follow-up build failed: %v", err)
	}
	if b.IsInvalid() {
		t.Fatal("builder still invalid after a clean follow-up build")
	}
}

func TestBuildHonorsContextCancellation(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"src/index.js": `export const x = 1;`})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newTestBuilder(t, root, "src/index.js")
	if _, _, err := b.Build(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
