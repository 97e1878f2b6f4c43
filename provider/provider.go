// Package provider defines the embedding and completion contracts used by the
// retrieval pipeline, plus adapters for Ollama and Gemini.
package provider

import (
	"context"
	"errors"

	"quizzy-backend/models"
)

// ErrProvider wraps every failure reported by an embedding or completion backend
var ErrProvider = errors.New("provider error")

// EmbeddingResult is the normalized output of one embedding call
type EmbeddingResult struct {
	Vector []float32
}

// CompletionDelta is one normalized piece of a streamed completion.
// IsFinal is set on the delta that carries the backend's done marker.
type CompletionDelta struct {
	Text    string
	IsFinal bool
}

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// Completer opens a streamed chat completion
type Completer interface {
	CompleteStream(ctx context.Context, messages []models.ChatTurn) (Stream, error)
}

// Stream is a cancellable sequence of completion deltas.
// Next returns io.EOF only after the final delta has been returned; a backend
// that ends without a done marker yields an ErrProvider-wrapped error instead.
// Close releases the upstream connection and is safe to call more than once.
type Stream interface {
	Next() (CompletionDelta, error)
	Close() error
}

// Info describes the configured backend for status reporting
type Info struct {
	Provider       string
	EmbeddingModel string
	ChatModel      string
}
