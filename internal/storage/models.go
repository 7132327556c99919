package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SnapshotMeta describes a persisted index snapshot.
type SnapshotMeta struct {
	Version    string
	CreatedAt  time.Time
	ChunkCount int
}

// ChunkRecord is one indexed knowledge chunk as stored on disk. Ord is the
// chunk's insertion order within its snapshot; search tie-breaking depends
// on it, so it is persisted rather than recomputed.
type ChunkRecord struct {
	ID        string
	Ord       int
	DocID     string
	Position  string
	Text      string
	Embedding []float32
}

// HistoryMessage is one stored conversation turn.
type HistoryMessage struct {
	Role      string
	Message   string
	CreatedAt time.Time
}
