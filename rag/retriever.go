package rag

import (
	"context"
	"errors"
	"fmt"

	"quizzy-backend/provider"
)

// DefaultTopK is the number of documents retrieved per query
const DefaultTopK = 3

// Retriever embeds a query and searches one index generation
type Retriever struct {
	index    *Index
	embedder provider.Embedder
}

// NewRetriever creates a retriever over index using embedder for queries
func NewRetriever(index *Index, embedder provider.Embedder) *Retriever {
	return &Retriever{index: index, embedder: embedder}
}

// Retrieve returns up to k ranked documents for query; k <= 0 means DefaultTopK.
// The generation is captured before the query is embedded, so a concurrent
// rebuild does not affect this call.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Result, error) {
	gen := r.index.Snapshot()
	if gen == nil {
		return nil, ErrNotInitialized
	}
	if k <= 0 {
		k = DefaultTopK
	}

	res, err := r.embedder.Embed(ctx, query)
	if err != nil {
		if !errors.Is(err, provider.ErrProvider) {
			err = fmt.Errorf("%w: %w", provider.ErrProvider, err)
		}
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	r.index.checkQuery(gen, res.Vector)
	return gen.Search(res.Vector, k), nil
}
