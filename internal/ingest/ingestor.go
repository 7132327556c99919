package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Ingestor turns source files into retrieval chunks.
type Ingestor struct {
	chunkSize    int
	chunkOverlap int
	logger       *slog.Logger
}

func New(chunkSize, chunkOverlap int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger,
	}
}

// Ingest loads and chunks the given files. Files that cannot be read or
// parsed are recorded in the report and skipped; the pass continues with the
// rest so one corrupt upload never blocks a corpus sync.
func (ing *Ingestor) Ingest(ctx context.Context, paths []string) ([]Chunk, Report, error) {
	var chunks []Chunk
	report := Report{}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, Report{}, err
		}

		parts, err := loadFile(path)
		if err != nil {
			ing.logger.Warn("skipping file", "path", path, "error", err)
			report.Skipped = append(report.Skipped, SkippedFile{Path: path, Reason: err.Error()})
			continue
		}

		docID := filepath.Base(path)
		before := len(chunks)
		for _, part := range parts {
			chunks = append(chunks, ing.chunkPart(docID, part)...)
		}
		report.Files++
		report.Chunks += len(chunks) - before
	}

	return chunks, report, nil
}

// chunkPart splits one document part into chunks. Tabular parts pass through
// whole; text parts go through the overlapping character splitter.
func (ing *Ingestor) chunkPart(docID string, part docPart) []Chunk {
	if part.tabular {
		return []Chunk{{
			ID:       uuid.NewString(),
			DocID:    docID,
			Position: part.position,
			Text:     part.text,
		}}
	}

	pieces := splitText(part.text, ing.chunkSize, ing.chunkOverlap)
	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		position := fmt.Sprintf("chars %d-%d", p.start, p.end)
		if part.position != "" {
			position = fmt.Sprintf("%s, %s", part.position, position)
		}
		chunks = append(chunks, Chunk{
			ID:       uuid.NewString(),
			DocID:    docID,
			Position: position,
			Text:     p.text,
		})
	}
	return chunks
}

// ScanRoots walks the given directories and returns every ingestible file,
// in deterministic walk order. Hidden files, databases and directories that
// do not exist are skipped silently.
func ScanRoots(roots ...string) ([]string, error) {
	var paths []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return fs.SkipAll
				}
				return err
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") {
				if d.IsDir() && path != root {
					return fs.SkipDir
				}
				if !d.IsDir() {
					return nil
				}
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(name)) {
			case ".txt", ".md", ".markdown", ".csv", ".pdf":
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", root, err)
		}
	}
	return paths, nil
}
