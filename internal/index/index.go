// Package index manages the drift vector index: chunk provenance (in
// SQLite), raw vectors, and the NSW proximity graph over chunk ids.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/driftsearch/drift/internal/chunker"
	"github.com/driftsearch/drift/internal/embed"
	"github.com/driftsearch/drift/internal/metastore"
	"github.com/driftsearch/drift/internal/nsw"
	"github.com/driftsearch/drift/internal/vectorstore"
)

const (
	graphFile   = "graph.bin"
	vectorsFile = "vectors.bin"
	metaFile    = "drift.db"
)

// ChunkMeta stores provenance for each indexed chunk. It mirrors
// metastore.Chunk but drops the id and build stamp, which callers don't
// need once a chunk has been located.
type ChunkMeta struct {
	Path       string
	LineNum    int
	StartByte  int64
	EndByte    int64
	ChunkIndex int
	Text       string
	Mtime      time.Time
}

// Stats holds summary information about the current index.
type Stats struct {
	NumChunks   int
	NumFiles    int
	IndexSizeKB int64
	LastUpdated time.Time
	LastBuildID string
}

// SearchResult is a single result returned from Search.
type SearchResult struct {
	Meta  ChunkMeta
	Score float32
}

// Index is the main index state.
type Index struct {
	mu               sync.RWMutex
	dir              string
	graph            *nsw.Index[uint32]
	vectors          *vectorstore.Store
	meta             *metastore.Store
	fileCache        map[string]time.Time // path → mtime of last indexed version
	embedder         *embed.Embedder
	maxFileSizeBytes int64
	dirty            bool
	lastUpdated      time.Time
	currentBuild     string
}

func chunkMetaOf(c metastore.Chunk) ChunkMeta {
	return ChunkMeta{
		Path:       c.Path,
		LineNum:    c.LineNum,
		StartByte:  c.StartByte,
		EndByte:    c.EndByte,
		ChunkIndex: c.ChunkIndex,
		Text:       c.Text,
		Mtime:      c.Mtime,
	}
}

// Open loads (or creates) an index stored in dir.
// modelDir is the path to the BGE-small model directory.
// ortLibPath is the path to onnxruntime.so; pass "" to use the system default.
// numThreads controls ONNX intra-op parallelism; 0 = auto (min(NumCPU, 4)).
// maxFileKB skips files larger than this limit.
// m and ef override the graph's neighbourhoodSize/searchSetSize for a
// freshly created index; 0 keeps the nsw package defaults. Both are ignored
// when an existing graph.bin is found — its own persisted parameters win.
func Open(dir, modelDir, ortLibPath string, numThreads, maxFileKB, m, ef int) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	e, err := embed.New(modelDir, ortLibPath, numThreads)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	meta, err := metastore.Open(filepath.Join(dir, metaFile))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("metastore: %w", err)
	}

	vectors := vectorstore.New(embed.EmbeddingDim)
	idx := &Index{
		dir:              dir,
		embedder:         e,
		meta:             meta,
		vectors:          vectors,
		maxFileSizeBytes: int64(maxFileKB) * 1024,
	}
	idx.graph = newGraph(vectors)
	if m > 0 {
		if err := idx.graph.SetNeighbourhoodSize(m); err != nil {
			meta.Close()
			e.Close()
			return nil, fmt.Errorf("set m: %w", err)
		}
	}
	if ef > 0 {
		if err := idx.graph.SetSearchSetSize(ef); err != nil {
			meta.Close()
			e.Close()
			return nil, fmt.Errorf("set ef: %w", err)
		}
	}

	vectorsPath := filepath.Join(dir, vectorsFile)
	if f, err := os.Open(vectorsPath); err == nil {
		loadErr := vectors.Load(f)
		f.Close()
		if loadErr != nil {
			meta.Close()
			e.Close()
			return nil, fmt.Errorf("corrupt vectors.bin — run `drift index` to rebuild: %w", loadErr)
		}
	}

	graphPath := filepath.Join(dir, graphFile)
	if f, err := os.Open(graphPath); err == nil {
		g, loadErr := nsw.Load(f, decodeChunkID, idx.graph.DistFunc())
		f.Close()
		if loadErr != nil {
			meta.Close()
			e.Close()
			return nil, fmt.Errorf("corrupt graph.bin — run `drift index` to rebuild: %w", loadErr)
		}
		idx.graph = g
	}

	fileCache, err := meta.AllFileMtimes()
	if err != nil {
		meta.Close()
		e.Close()
		return nil, fmt.Errorf("load file mtime cache: %w", err)
	}
	idx.fileCache = fileCache

	if build, ok, err := meta.LatestBuild(); err == nil && ok {
		idx.currentBuild = build.ID
		idx.lastUpdated = build.CreatedAt
	}

	return idx, nil
}

// newGraph constructs an NSW graph over chunk ids, scoring pairs by cosine
// distance over the vectors they resolve to in store.
func newGraph(store *vectorstore.Store) *nsw.Index[uint32] {
	return nsw.New[uint32](func(a, b uint32) float64 {
		return vectorstore.CosineDistance(store.Get(a), store.Get(b))
	})
}

// Close flushes dirty state and releases the embedder and metastore.
func (idx *Index) Close() error {
	if err := idx.Flush(); err != nil {
		return err
	}
	idx.embedder.Close()
	return idx.meta.Close()
}

func encodeChunkID(id uint32) ([]byte, error) {
	b := make([]byte, 4)
	b[0] = byte(id)
	b[1] = byte(id >> 8)
	b[2] = byte(id >> 16)
	b[3] = byte(id >> 24)
	return b, nil
}

func decodeChunkID(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("index: bad chunk id encoding (%d bytes, want 4)", len(b))
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// AddFile chunks, embeds, and indexes all chunks from a single file.
// If the file's mtime matches the cached value it is skipped (already up to date).
// It runs with context.Background(), so it cannot be cancelled; use
// AddFileCtx for that.
func (idx *Index) AddFile(path string) (skipped bool, err error) {
	return idx.AddFileCtx(context.Background(), path)
}

// AddFileCtx is like AddFile but respects ctx cancellation between embed batches.
func (idx *Index) AddFileCtx(ctx context.Context, path string) (skipped bool, err error) {
	if !chunker.IsSupportedFile(path) {
		return false, nil
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		fmt.Fprintf(os.Stderr, "skip %s: %v\n", path, statErr)
		return false, nil
	}

	// Skip very large files — they're almost certainly generated data, not
	// source code or documentation worth indexing chunk by chunk.
	if info.Size() > idx.maxFileSizeBytes {
		fmt.Fprintf(os.Stderr, "skip %s: file too large (%d KB > %d KB limit)\n",
			path, info.Size()/1024, idx.maxFileSizeBytes/1024)
		return false, nil
	}

	mtime := info.ModTime()

	// Skip-cache: file at this mtime is already indexed.
	idx.mu.RLock()
	cachedMtime, inCache := idx.fileCache[path]
	idx.mu.RUnlock()
	if inCache && cachedMtime.Equal(mtime) {
		return true, nil
	}

	chunks, err := chunker.ChunkFile(path, chunker.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "skip %s: chunk error: %v\n", path, err)
		return false, nil
	}
	if len(chunks) == 0 {
		return false, nil
	}

	base := filepath.Base(path)
	nChunks := len(chunks)
	verbose := nChunks > 4 // show chunk progress for files with many chunks

	// Embed batch-by-batch so we can: (a) show live progress and (b) check ctx.
	const batchSize = 4
	vecs := make([][]float32, 0, nChunks)
	for start := 0; start < nChunks; start += batchSize {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		end := start + batchSize
		if end > nChunks {
			end = nChunks
		}
		batch := make([]string, end-start)
		for i, c := range chunks[start:end] {
			batch[i] = c.Text
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "\r    embedding chunk %d–%d / %d  %s ",
				start+1, end, nChunks, base)
		}
		batchVecs, embedErr := idx.embedder.Embed(batch)
		if embedErr != nil {
			if verbose {
				fmt.Fprintln(os.Stderr, "")
			}
			fmt.Fprintf(os.Stderr, "skip %s: embed error: %v\n", path, embedErr)
			return false, nil
		}
		vecs = append(vecs, batchVecs...)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "\r    %-60s\r", "") // clear the chunk line
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	// A re-indexed file replaces its old chunks entirely: drop the stale
	// ones from the graph and vector store before inserting the new set.
	if staleIDs, err := idx.meta.DeleteChunksForPath(path); err != nil {
		return false, fmt.Errorf("drop stale chunks for %s: %w", path, err)
	} else {
		for _, id := range staleIDs {
			idx.graph.Remove(id)
			idx.vectors.Remove(id)
		}
	}

	for i, vec := range vecs {
		preview := chunks[i].Text
		if len(preview) > 200 {
			preview = preview[:197] + "..."
		}
		id := idx.vectors.Add(vec)
		if err := idx.meta.InsertChunk(metastore.Chunk{
			ID:         id,
			Path:       path,
			LineNum:    chunks[i].LineNum,
			StartByte:  chunks[i].StartByte,
			EndByte:    chunks[i].EndByte,
			ChunkIndex: chunks[i].Index,
			Text:       preview,
			Mtime:      mtime,
			BuildID:    idx.currentBuild,
		}); err != nil {
			return false, fmt.Errorf("record chunk metadata: %w", err)
		}
		if _, err := idx.graph.Add(id); err != nil {
			return false, fmt.Errorf("insert chunk into graph: %w", err)
		}
	}

	if err := idx.meta.SetFileMtime(path, mtime); err != nil {
		return false, fmt.Errorf("set file mtime cache: %w", err)
	}
	idx.fileCache[path] = mtime
	idx.dirty = true
	idx.lastUpdated = time.Now()
	return false, nil
}

// Search embeds query with the BGE instruction prefix and returns the top-k most similar chunks.
// It performs cross-chunk deduplication: it will not return two chunks from the same file.
func (idx *Index) Search(query string, k int) ([]SearchResult, error) {
	queryVec, err := idx.embedder.EmbedQuery(query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Size() == 0 {
		return nil, nil
	}

	// Fetch more hits to allow filtering out duplicates from the same file.
	fetchK := k * 5
	if fetchK > idx.graph.Size() {
		fetchK = idx.graph.Size()
	}
	if fetchK == 0 {
		return nil, nil
	}

	qid := idx.vectors.Stage(queryVec)
	defer idx.vectors.Unstage(qid)

	hits, err := idx.graph.FindNeighbors(qid, fetchK)
	if err != nil {
		return nil, fmt.Errorf("search graph: %w", err)
	}

	queryWords := strings.Fields(strings.ToLower(query))

	type scoredHit struct {
		meta  ChunkMeta
		score float32
	}
	var reranked []scoredHit

	for _, h := range hits.Nearest() {
		c, ok, err := idx.meta.GetChunk(h.Value)
		if err != nil || !ok {
			continue
		}
		meta := chunkMetaOf(c)
		// Distance is in [0, 2]; fold into a similarity-flavored score so a
		// larger number still means "closer", matching the teacher's scale.
		score := float32(1 - h.Distance)

		// Read chunk text for keyword boosting.
		f, err := os.Open(meta.Path)
		if err == nil {
			buf := make([]byte, meta.EndByte-meta.StartByte)
			if _, err := f.ReadAt(buf, meta.StartByte); err == nil {
				lowerText := strings.ToLower(string(buf))
				var matches int
				for _, w := range queryWords {
					if len(w) > 2 && strings.Contains(lowerText, w) {
						matches++
					}
				}
				score += float32(matches) * 0.05
			}
			f.Close()
		}

		reranked = append(reranked, scoredHit{meta: meta, score: score})
	}

	// Sort by hybrid bi-encoder + keyword score
	sort.Slice(reranked, func(i, j int) bool {
		return reranked[i].score > reranked[j].score
	})

	results := make([]SearchResult, 0, k)
	seen := make(map[string]bool)

	for _, h := range reranked {
		if len(results) >= k {
			break
		}
		if seen[h.meta.Path] {
			continue
		}
		seen[h.meta.Path] = true

		results = append(results, SearchResult{
			Meta:  h.meta,
			Score: h.score,
		})
	}

	if err := idx.meta.LogQuery(query, k); err != nil {
		fmt.Fprintf(os.Stderr, "warn: log query: %v\n", err)
	}
	return results, nil
}

// Flush writes the graph and vectors to disk if dirty.
func (idx *Index) Flush() error {
	idx.mu.RLock()
	dirty := idx.dirty
	idx.mu.RUnlock()

	if !dirty {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	graphPath := filepath.Join(idx.dir, graphFile)
	gf, err := os.Create(graphPath)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	saveErr := idx.graph.Save(gf, encodeChunkID)
	closeErr := gf.Close()
	if saveErr != nil {
		return fmt.Errorf("save graph: %w", saveErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close graph file: %w", closeErr)
	}

	vectorsPath := filepath.Join(idx.dir, vectorsFile)
	vf, err := os.Create(vectorsPath)
	if err != nil {
		return fmt.Errorf("create vectors file: %w", err)
	}
	saveErr = idx.vectors.Save(vf)
	closeErr = vf.Close()
	if saveErr != nil {
		return fmt.Errorf("save vectors: %w", saveErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close vectors file: %w", closeErr)
	}

	idx.dirty = false
	return nil
}

// Stats returns summary statistics about the index.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	chunks, err := idx.meta.AllChunks()
	fileSet := make(map[string]struct{})
	numChunks := idx.vectors.Len()
	if err == nil {
		for _, c := range chunks {
			fileSet[c.Path] = struct{}{}
		}
	}

	// Measure disk usage.
	var sizeBytes int64
	for _, fname := range []string{graphFile, vectorsFile, metaFile} {
		if fi, err := os.Stat(filepath.Join(idx.dir, fname)); err == nil {
			sizeBytes += fi.Size()
		}
	}

	return Stats{
		NumChunks:   numChunks,
		NumFiles:    len(fileSet),
		IndexSizeKB: sizeBytes / 1024,
		LastUpdated: idx.lastUpdated,
		LastBuildID: idx.currentBuild,
	}
}

// BuildReport returns every chunk stamped with the given build id, for
// `drift stats --build`.
func (idx *Index) BuildReport(buildID string) ([]ChunkMeta, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	chunks, err := idx.meta.BuildsTouching(buildID)
	if err != nil {
		return nil, err
	}
	out := make([]ChunkMeta, len(chunks))
	for i, c := range chunks {
		out[i] = chunkMetaOf(c)
	}
	return out, nil
}

// RecentQueries returns the last n logged search queries, most recent first.
func (idx *Index) RecentQueries(n int) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.meta.RecentQueries(n)
}

// beginBuild mints a fresh build id and stamps it on the index so every
// chunk inserted from here on is attributable to this run via
// `drift stats --build <id>`.
func (idx *Index) beginBuild() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	buildID, err := idx.meta.NewBuildID(0)
	if err != nil {
		return fmt.Errorf("stamp build: %w", err)
	}
	idx.currentBuild = buildID
	return nil
}

// RebuildFromDir reindexes everything in rootDir from scratch.
func (idx *Index) RebuildFromDir(ctx context.Context, rootDir string) error {
	idx.mu.Lock()
	idx.vectors = vectorstore.New(embed.EmbeddingDim)
	idx.graph = newGraph(idx.vectors)
	idx.fileCache = make(map[string]time.Time) // clear skip-cache
	if err := idx.meta.ClearAll(); err != nil {
		idx.mu.Unlock()
		return fmt.Errorf("clear metastore: %w", err)
	}
	idx.currentBuild = ""
	idx.mu.Unlock()

	return idx.IndexDirWithProgress(ctx, rootDir, nil)
}

// ProgressFunc is called after each file is processed during indexing.
// done and total are file counts; skipped=true means mtime cache hit (no re-embed).
type ProgressFunc func(done, total int, path string, skipped bool)

// IndexDir walks rootDir and indexes all supported files.
// ctx is checked between files; cancel it to interrupt indexing gracefully.
func (idx *Index) IndexDir(ctx context.Context, rootDir string) error {
	return idx.IndexDirWithProgress(ctx, rootDir, nil)
}

// IndexDirWithProgress walks rootDir, indexes all supported files, and calls
// progress after each file (may be nil). ctx is checked before each file
// and, inside AddFileCtx, between embedding batches, so cancelling it stops
// indexing at the next batch boundary.
func (idx *Index) IndexDirWithProgress(ctx context.Context, rootDir string, progress ProgressFunc) error {
	if err := idx.beginBuild(); err != nil {
		return err
	}

	// First pass: collect all eligible file paths so we know the total.
	var paths []string
	err := walkDir(rootDir, func(path string) error {
		if chunker.IsSupportedFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	total := len(paths)
	for i, path := range paths {
		// Check for cancellation before each file (embedding can be slow).
		if err := ctx.Err(); err != nil {
			return err
		}
		skipped, err := idx.AddFileCtx(ctx, path)
		if err != nil {
			return err
		}
		if progress != nil {
			progress(i+1, total, path, skipped)
		}
	}
	return nil
}

// walkDir walks rootDir recursively, calling fn for each file.
// Skips hidden directories.
func walkDir(rootDir string, fn func(string) error) error {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return fmt.Errorf("readdir %s: %w", rootDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		// Skip hidden.
		if strings.HasPrefix(name, ".") {
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
