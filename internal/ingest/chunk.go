package ingest

// Chunk is the atomic retrieval unit: a bounded span of source text, or one
// tabular record. Immutable once produced; re-ingestion supersedes chunks
// rather than mutating them.
type Chunk struct {
	ID       string
	DocID    string // stable source document identifier
	Position string // human-readable provenance: "page 3", "row 12", "chars 0-800"
	Text     string
}

// Report summarizes an ingestion pass. Skipped files are warnings, not
// failures — one bad file never aborts the corpus sync.
type Report struct {
	Files   int
	Chunks  int
	Skipped []SkippedFile
}

// SkippedFile records a source file that could not be ingested.
type SkippedFile struct {
	Path   string
	Reason string
}
