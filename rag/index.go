// Package rag holds the in-memory retrieval pipeline: document rendering,
// the vector index, retrieval and prompt assembly.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"quizzy-backend/logger"
	"quizzy-backend/provider"
)

var (
	ErrNotInitialized    = errors.New("vector index not initialized")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Result is one ranked search hit
type Result struct {
	Document Document
	Score    float64
}

// Generation is an immutable snapshot produced by one build.
// documents[i] always corresponds to vectors[i].
type Generation struct {
	documents []Document
	vectors   [][]float32
	dimension int
	builtAt   time.Time
}

// Len returns the number of indexed documents
func (g *Generation) Len() int {
	if g == nil {
		return 0
	}
	return len(g.documents)
}

// Dimension returns the embedding length shared by all vectors, 0 when empty
func (g *Generation) Dimension() int { return g.dimension }

// BuiltAt returns when the generation was published
func (g *Generation) BuiltAt() time.Time { return g.builtAt }

// Documents returns a copy of the indexed documents in insertion order
func (g *Generation) Documents() []Document {
	out := make([]Document, len(g.documents))
	copy(out, g.documents)
	return out
}

// Search ranks every document by cosine similarity to query and returns the top k.
// Equal scores keep insertion order. k is clamped to the generation size.
func (g *Generation) Search(query []float32, k int) []Result {
	if g == nil || k <= 0 || len(g.documents) == 0 {
		return []Result{}
	}
	if k > len(g.documents) {
		k = len(g.documents)
	}

	results := make([]Result, len(g.documents))
	for i, vec := range g.vectors {
		results[i] = Result{Document: g.documents[i], Score: Cosine(query, vec)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results[:k]
}

// Index owns the live generation. Builds are serialized; readers never lock.
type Index struct {
	embedder provider.Embedder
	log      *logger.Logger

	buildMu sync.Mutex
	current atomic.Pointer[Generation]
	now     func() time.Time
}

// IndexOption configures an Index
type IndexOption func(*Index)

// WithIndexLogger sets the logger used for build progress
func WithIndexLogger(log *logger.Logger) IndexOption {
	return func(ix *Index) {
		ix.log = log
	}
}

// WithClock overrides the time source used for BuiltAt
func WithClock(now func() time.Time) IndexOption {
	return func(ix *Index) {
		ix.now = now
	}
}

// NewIndex creates an empty, uninitialized index
func NewIndex(embedder provider.Embedder, opts ...IndexOption) *Index {
	ix := &Index{
		embedder: embedder,
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Build embeds every document and publishes the result as the new generation.
// On failure the previous generation stays live.
func (ix *Index) Build(ctx context.Context, documents []Document) (*Generation, error) {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	start := ix.now()
	docs := make([]Document, len(documents))
	copy(docs, documents)
	vectors := make([][]float32, 0, len(docs))
	dimension := 0

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("index build cancelled: %w", err)
		}

		res, err := ix.embedder.Embed(ctx, doc.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed document %s: %w", doc.ID, err)
		}
		if len(res.Vector) == 0 {
			return nil, fmt.Errorf("%w: document %s has an empty embedding", ErrDimensionMismatch, doc.ID)
		}
		if i == 0 {
			dimension = len(res.Vector)
		} else if len(res.Vector) != dimension {
			return nil, fmt.Errorf("%w: document %s has %d values, expected %d", ErrDimensionMismatch, doc.ID, len(res.Vector), dimension)
		}
		vectors = append(vectors, res.Vector)

		if (i+1)%10 == 0 {
			ix.log.Debug("embedding progress", "done", i+1, "total", len(docs))
		}
	}

	gen := &Generation{
		documents: docs,
		vectors:   vectors,
		dimension: dimension,
		builtAt:   ix.now(),
	}
	ix.current.Store(gen)

	ix.log.Info("vector index published",
		"documents", gen.Len(),
		"dimension", dimension,
		"duration", ix.now().Sub(start).String(),
	)
	return gen, nil
}

// IsInitialized reports whether a generation, possibly empty, has been published
func (ix *Index) IsInitialized() bool {
	return ix.current.Load() != nil
}

// Snapshot returns the live generation, or nil before the first build
func (ix *Index) Snapshot() *Generation {
	return ix.current.Load()
}

// Search runs a query against the live generation
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	gen := ix.current.Load()
	if gen == nil {
		return nil, ErrNotInitialized
	}
	ix.checkQuery(gen, query)
	return gen.Search(query, k), nil
}

// checkQuery logs a query whose length differs from the indexed vectors;
// every document then scores 0, which usually means the embedding model changed.
func (ix *Index) checkQuery(gen *Generation, query []float32) {
	if gen.Len() > 0 && len(query) != gen.Dimension() {
		ix.log.Debug("query embedding dimension differs from index",
			"query", len(query),
			"index", gen.Dimension(),
		)
	}
}
