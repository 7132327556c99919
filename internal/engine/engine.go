package engine

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the inference backend could not be reached or
// failed transiently. The workflow maps it to the *Unavailable failure kinds
// instead of surfacing a raw error to callers.
var ErrUnavailable = errors.New("inference engine unavailable")

// Engine abstracts a local inference backend (Ollama or any compatible
// server). Consumers such as intent classification, embedding, and answer
// generation use this interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool
}
