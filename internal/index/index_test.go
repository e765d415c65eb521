// Package index_test contains integration tests for the index package.
// These tests exercise the graph/vectorstore wiring and the directory
// walker without a real ONNX model (full AddFile/Search integration
// requires the BGE model and is exercised manually, not in CI).
package index_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/driftsearch/drift/internal/nsw"
	"github.com/driftsearch/drift/internal/vectorstore"
)

// TestGraphOverVectorstoreSmokeTest exercises the same wiring Index uses
// internally: an nsw graph over chunk ids, scored by cosine distance
// resolved through a vectorstore.Store.
func TestGraphOverVectorstoreSmokeTest(t *testing.T) {
	store := vectorstore.New(8)
	graph := nsw.New[uint32](func(a, b uint32) float64 {
		return vectorstore.CosineDistance(store.Get(a), store.Get(b))
	})

	dim := 8
	ids := make([]uint32, 20)
	for i := range ids {
		v := make([]float32, dim)
		v[i%dim] += 1.0
		l2Normalize(v)
		id := store.Add(v)
		if _, err := graph.Add(id); err != nil {
			t.Fatalf("Add: %v", err)
		}
		ids[i] = id
	}

	// Self-search: querying the vector for ids[0] should return ids[0]
	// first at distance ~0.
	res, err := graph.FindNeighbors(ids[0], 1)
	if err != nil {
		t.Fatalf("FindNeighbors: %v", err)
	}
	closest, err := res.Closest()
	if err != nil {
		t.Fatalf("Closest: %v", err)
	}
	if closest != ids[0] {
		t.Errorf("expected id=%d, got id=%d (distance=%.4f)", ids[0], closest, res.Distance())
	}
	if res.Distance() > 0.01 {
		t.Errorf("self-distance too high: %.4f", res.Distance())
	}
}

// TestIndexDirSkipsHidden ensures the recursive walker ignores dot-directories.
func TestIndexDirSkipsHidden(t *testing.T) {
	dir := t.TempDir()

	// Create a visible file and a hidden dir with a file.
	if err := os.WriteFile(filepath.Join(dir, "visible.md"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	hiddenDir := filepath.Join(dir, ".hidden")
	if err := os.MkdirAll(hiddenDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(hiddenDir, "secret.md"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}

	var seen []string
	walkDir(dir, func(path string) error {
		seen = append(seen, path)
		return nil
	})

	for _, p := range seen {
		if filepath.Dir(p) == hiddenDir {
			t.Errorf("walkDir should skip hidden dirs, but visited %s", p)
		}
	}

	found := false
	for _, p := range seen {
		if filepath.Base(p) == "visible.md" {
			found = true
		}
	}
	if !found {
		t.Error("walkDir should visit visible.md")
	}
}

// TestIndexDirContextCancel checks the per-file ctx check pattern that
// IndexDirWithProgress uses, via the local walkDirWithCtx helper: a walk with
// an already-cancelled context returns context.Canceled without processing
// files. It does not call IndexDirWithProgress itself (that needs a model).
func TestIndexDirContextCancel(t *testing.T) {
	dir := t.TempDir()
	// Create several files so the loop has iterations to check.
	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, fmt.Sprintf("file%d.md", i))
		if err := os.WriteFile(name, []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately — should return on first ctx.Err() check

	var called int
	err := walkDirWithCtx(ctx, dir, func(path string) error {
		called++
		return ctx.Err()
	})

	if err == nil {
		t.Error("expected context.Canceled, got nil")
		return
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	// At most 1 file should have been processed before cancellation.
	if called > 1 {
		t.Errorf("expected at most 1 call before cancel, got %d", called)
	}
}

// walkDirWithCtx is a helper wrapping walkDir with ctx cancellation for tests.
func walkDirWithCtx(ctx context.Context, rootDir string, fn func(string) error) error {
	return walkDir(rootDir, func(path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(path)
	})
}

// walkDir is a local copy for testing the walk logic without creating a full Index.
func walkDir(rootDir string, fn func(string) error) error {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}
		full := filepath.Join(rootDir, name)
		if entry.IsDir() {
			if err := walkDir(full, fn); err != nil {
				return err
			}
		} else {
			if err := fn(full); err != nil {
				return err
			}
		}
	}
	return nil
}

// l2Normalize normalizes v in-place to unit length.
func l2Normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum < 1e-10 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}
