package storage

import (
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding index snapshots and chat history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "deskmate.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Snapshots ---

// SaveSnapshot persists a fully built snapshot and marks it active in a
// single transaction. Older snapshots are removed in the same transaction,
// so a reader of the database only ever sees one complete active snapshot.
func (s *Store) SaveSnapshot(meta SnapshotMeta, chunks []ChunkRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := tx.Exec(`INSERT INTO snapshots (version, created_at, chunk_count, active) VALUES (?, ?, ?, 1)`,
		meta.Version, createdAt.UTC().Format(time.RFC3339), len(chunks)); err != nil {
		return fmt.Errorf("inserting snapshot %s: %w", meta.Version, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO snapshot_chunks (snapshot_version, ord, chunk_id, doc_id, position, text_chunk, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		blob := encodeFloat32s(c.Embedding)
		if _, err := stmt.Exec(meta.Version, c.Ord, c.ID, c.DocID, c.Position, c.Text, blob); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM snapshot_chunks WHERE snapshot_version != ?`, meta.Version); err != nil {
		return fmt.Errorf("removing superseded chunks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM snapshots WHERE version != ?`, meta.Version); err != nil {
		return fmt.Errorf("removing superseded snapshots: %w", err)
	}

	return tx.Commit()
}

// LoadActiveSnapshot returns the active snapshot's metadata and chunks in
// insertion order. Returns ErrNotFound when no snapshot has been persisted.
func (s *Store) LoadActiveSnapshot() (SnapshotMeta, []ChunkRecord, error) {
	var meta SnapshotMeta
	var createdAt string
	err := s.db.QueryRow(`SELECT version, created_at, chunk_count FROM snapshots WHERE active = 1`).
		Scan(&meta.Version, &createdAt, &meta.ChunkCount)
	if err == sql.ErrNoRows {
		return SnapshotMeta{}, nil, ErrNotFound
	}
	if err != nil {
		return SnapshotMeta{}, nil, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return SnapshotMeta{}, nil, fmt.Errorf("parsing created_at: %w", err)
	}
	meta.CreatedAt = t

	rows, err := s.db.Query(`
		SELECT ord, chunk_id, doc_id, position, text_chunk, embedding
		FROM snapshot_chunks WHERE snapshot_version = ? ORDER BY ord ASC`, meta.Version)
	if err != nil {
		return SnapshotMeta{}, nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		var blob []byte
		if err := rows.Scan(&c.Ord, &c.ID, &c.DocID, &c.Position, &c.Text, &blob); err != nil {
			return SnapshotMeta{}, nil, fmt.Errorf("scanning chunk: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return SnapshotMeta{}, nil, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}
		c.Embedding = embedding
		chunks = append(chunks, c)
	}
	return meta, chunks, rows.Err()
}

// --- Chat history ---

// SaveMessage appends one conversation turn to the history sink.
func (s *Store) SaveMessage(sessionID, role, message string) error {
	_, err := s.db.Exec(`INSERT INTO chat_history (session_id, role, message, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, message, time.Now().UTC().Format(time.RFC3339))
	return err
}

// RecentMessages returns up to limit turns for the session, newest first.
func (s *Store) RecentMessages(sessionID string, limit int) ([]HistoryMessage, error) {
	rows, err := s.db.Query(`
		SELECT role, message, created_at FROM chat_history
		WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []HistoryMessage
	for rows.Next() {
		var m HistoryMessage
		var createdAt string
		if err := rows.Scan(&m.Role, &m.Message, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
