package index

import (
	"container/heap"
	"math"
	"sort"
	"time"
)

// Entry is one indexed chunk with its embedding vector.
type Entry struct {
	ID       string
	DocID    string
	Position string
	Text     string
	Vector   []float32
}

// Hit is one search result.
type Hit struct {
	Entry Entry
	Score float64

	ord int
}

// Snapshot is an immutable view of the knowledge base index. Queries always
// run against a single snapshot, so a rebuild in flight never affects them.
type Snapshot struct {
	version   string
	createdAt time.Time
	entries   []Entry // insertion order; vectors unit-normalized
}

// NewSnapshot builds a snapshot from entries, normalizing every vector so
// search reduces to a dot product. Entry order is preserved and determines
// tie-breaking between equal scores.
func NewSnapshot(version string, createdAt time.Time, entries []Entry) *Snapshot {
	normalized := make([]Entry, len(entries))
	for i, e := range entries {
		e.Vector = normalize(e.Vector)
		normalized[i] = e
	}
	return &Snapshot{version: version, createdAt: createdAt, entries: normalized}
}

func (s *Snapshot) Version() string      { return s.version }
func (s *Snapshot) CreatedAt() time.Time { return s.createdAt }
func (s *Snapshot) Len() int             { return len(s.entries) }

// Entries returns the indexed entries in insertion order. The returned slice
// must not be modified.
func (s *Snapshot) Entries() []Entry { return s.entries }

// Search returns the k entries most similar to the query vector by cosine
// similarity, highest score first. Equal scores rank in insertion order, so
// results are deterministic for a fixed snapshot. An empty snapshot or query
// returns no hits.
func (s *Snapshot) Search(query []float32, k int) []Hit {
	if len(s.entries) == 0 || len(query) == 0 || k <= 0 {
		return nil
	}
	q := normalize(query)

	// Keep the k best seen so far in a min-heap. A later entry with a score
	// equal to the current minimum does not displace it: earlier entries win
	// ties.
	h := &hitHeap{}
	heap.Init(h)
	for i, e := range s.entries {
		score := dot(q, e.Vector)
		if h.Len() < k {
			heap.Push(h, Hit{Entry: e, Score: score, ord: i})
			continue
		}
		if score > (*h)[0].Score {
			(*h)[0] = Hit{Entry: e, Score: score, ord: i}
			heap.Fix(h, 0)
		}
	}

	hits := make([]Hit, h.Len())
	copy(hits, *h)
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ord < hits[j].ord
	})
	return hits
}

// hitHeap is a min-heap by score; among equal scores the later entry is
// closer to the top so it is evicted first.
type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].ord > h[j].ord
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)   { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
