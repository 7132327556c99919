package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/deskmate/internal/index"
)

// ScoredChunk is one retrieved chunk with its similarity score.
type ScoredChunk struct {
	ID       string
	DocID    string
	Position string
	Text     string
	Score    float64
}

// Result is the outcome of one retrieval pass. Confident is false when the
// best match scores below the configured floor (or nothing matched at all);
// callers must then refuse to answer from the knowledge base rather than
// compose from weak context.
type Result struct {
	Chunks    []ScoredChunk
	TopScore  float64
	Confident bool
}

// SnapshotSource yields the index snapshot queries run against.
type SnapshotSource interface {
	Current() *index.Snapshot
}

// Retriever answers similarity queries against the active index snapshot.
type Retriever struct {
	snapshots     SnapshotSource
	embedder      *Embedder
	topK          int
	minConfidence float64
}

func NewRetriever(snapshots SnapshotSource, embedder *Embedder, topK int, minConfidence float64) *Retriever {
	return &Retriever{
		snapshots:     snapshots,
		embedder:      embedder,
		topK:          topK,
		minConfidence: minConfidence,
	}
}

// Retrieve embeds the query and returns the top matches from the snapshot
// that is active at call time.
func (r *Retriever) Retrieve(ctx context.Context, query string) (Result, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("embedding query: %w", err)
	}

	hits := r.snapshots.Current().Search(vector, r.topK)
	if len(hits) == 0 {
		return Result{}, nil
	}

	chunks := make([]ScoredChunk, len(hits))
	for i, h := range hits {
		chunks[i] = ScoredChunk{
			ID:       h.Entry.ID,
			DocID:    h.Entry.DocID,
			Position: h.Entry.Position,
			Text:     h.Entry.Text,
			Score:    h.Score,
		}
	}
	top := chunks[0].Score
	return Result{
		Chunks:    chunks,
		TopScore:  top,
		Confident: top >= r.minConfidence,
	}, nil
}
