package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/deskmate/internal/engine"
)

// Embedder turns text into vectors using the configured embedding model.
type Embedder struct {
	engine engine.Engine
	model  string
}

func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.engine.Embed(ctx, e.model, text)
}

// EmbedBatch embeds all texts concurrently, bounded to keep the backend
// responsive. Any failure cancels the batch; results keep input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, text := range texts {
		g.Go(func() error {
			v, err := e.engine.Embed(ctx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
