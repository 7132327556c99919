package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/deskmate/internal/ingest"
	"github.com/kalambet/deskmate/internal/storage"
)

// Embedder produces embedding vectors for chunk text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SnapshotStore persists index snapshots across restarts.
type SnapshotStore interface {
	SaveSnapshot(meta storage.SnapshotMeta, chunks []storage.ChunkRecord) error
	LoadActiveSnapshot() (storage.SnapshotMeta, []storage.ChunkRecord, error)
}

// Manager owns the active snapshot. Reads go through Current and are
// lock-free; Rebuild constructs a complete replacement off to the side and
// swaps it in atomically. A failed rebuild leaves the active snapshot
// untouched.
type Manager struct {
	current  atomic.Pointer[Snapshot]
	store    SnapshotStore
	embedder Embedder
	logger   *slog.Logger

	// Serializes rebuilds; concurrent triggers queue up rather than racing.
	rebuildMu sync.Mutex
}

func NewManager(store SnapshotStore, embedder Embedder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{store: store, embedder: embedder, logger: logger}
	m.current.Store(NewSnapshot("", time.Time{}, nil))
	return m
}

// Current returns the active snapshot. Never nil; before the first build it
// is empty.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// LoadPersisted restores the last persisted snapshot from storage, if one
// exists. Called at startup so the service can answer from the previous
// corpus before any rebuild.
func (m *Manager) LoadPersisted() error {
	meta, records, err := m.store.LoadActiveSnapshot()
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading persisted snapshot: %w", err)
	}

	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{
			ID:       r.ID,
			DocID:    r.DocID,
			Position: r.Position,
			Text:     r.Text,
			Vector:   r.Embedding,
		}
	}
	m.current.Store(NewSnapshot(meta.Version, meta.CreatedAt, entries))
	m.logger.Info("restored index snapshot",
		"version", meta.Version, "chunks", len(entries))
	return nil
}

// Rebuild embeds the given chunks and replaces the active snapshot with the
// result. All-or-nothing: if any embedding fails, nothing is persisted and
// the previous snapshot keeps serving queries.
func (m *Manager) Rebuild(ctx context.Context, chunks []ingest.Chunk) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding corpus: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding corpus: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	version := uuid.NewString()
	createdAt := time.Now().UTC()

	entries := make([]Entry, len(chunks))
	records := make([]storage.ChunkRecord, len(chunks))
	for i, c := range chunks {
		entries[i] = Entry{
			ID:       c.ID,
			DocID:    c.DocID,
			Position: c.Position,
			Text:     c.Text,
			Vector:   vectors[i],
		}
		records[i] = storage.ChunkRecord{
			ID:        c.ID,
			Ord:       i,
			DocID:     c.DocID,
			Position:  c.Position,
			Text:      c.Text,
			Embedding: vectors[i],
		}
	}

	meta := storage.SnapshotMeta{Version: version, CreatedAt: createdAt, ChunkCount: len(records)}
	if err := m.store.SaveSnapshot(meta, records); err != nil {
		return fmt.Errorf("persisting snapshot: %w", err)
	}

	m.current.Store(NewSnapshot(version, createdAt, entries))
	m.logger.Info("index rebuilt", "version", version, "chunks", len(entries))
	return nil
}
