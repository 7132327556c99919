package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/deskmate/internal/engine"
	"github.com/kalambet/deskmate/internal/index"
	"github.com/kalambet/deskmate/internal/ingest"
	"github.com/kalambet/deskmate/internal/storage"
	"github.com/kalambet/deskmate/internal/workflow"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadBodySize  = 20 << 20 // 20MB
)

// Workflow routes a chat utterance to a reply.
type Workflow interface {
	Handle(ctx context.Context, u workflow.Utterance) workflow.RoutingResult
}

// Syncer rescans the corpus and rebuilds the index.
type Syncer interface {
	Sync(ctx context.Context) (ingest.Report, error)
}

// HistoryStore persists and recalls chat turns.
type HistoryStore interface {
	SaveMessage(sessionID, role, message string) error
	RecentMessages(sessionID string, limit int) ([]storage.HistoryMessage, error)
}

// Snapshots exposes the active index snapshot for status reporting.
type Snapshots interface {
	Current() *index.Snapshot
}

type AppDeps struct {
	Workflow      Workflow
	History       HistoryStore
	Engine        engine.Engine
	Index         Snapshots
	Sync          Syncer
	UploadDir     string
	Token         string
	HistoryWindow int
	Logger        *slog.Logger
}

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type Source struct {
	Index    int     `json:"index"`
	DocID    string  `json:"doc_id"`
	Position string  `json:"position,omitempty"`
	Score    float64 `json:"score"`
}

type ChatResponse struct {
	Reply     string   `json:"reply"`
	Intent    string   `json:"intent"`
	SessionID string   `json:"session_id"`
	Sources   []Source `json:"sources"`
	Failure   string   `json:"failure,omitempty"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth())
	r.Get("/status", handleStatus(deps))
	r.Post("/chat", handleChat(deps))
	r.Get("/history", handleHistory(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/sync", handleSync(deps))
		r.Post("/upload", handleUpload(deps))
	})

	return r
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Index.Current()
		writeJSON(w, map[string]any{
			"engine_running":   deps.Engine.IsRunning(r.Context()),
			"snapshot_version": snap.Version(),
			"chunks":           snap.Len(),
			"indexed_at":       formatTime(snap.CreatedAt()),
		})
	}
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.New().String()
		}

		turns := priorTurns(deps, req.SessionID)
		result := deps.Workflow.Handle(r.Context(), workflow.Utterance{
			Text:       req.Message,
			SessionID:  req.SessionID,
			PriorTurns: turns,
		})

		// History is a sink: a write failure is logged and the reply still
		// goes out.
		if err := deps.History.SaveMessage(req.SessionID, "user", req.Message); err != nil {
			deps.Logger.Warn("failed to persist user turn", "session", req.SessionID, "error", err)
		}
		if err := deps.History.SaveMessage(req.SessionID, "assistant", result.Reply); err != nil {
			deps.Logger.Warn("failed to persist assistant turn", "session", req.SessionID, "error", err)
		}

		sources := make([]Source, len(result.Citations))
		for i, c := range result.Citations {
			sources[i] = Source{Index: c.Index, DocID: c.DocID, Position: c.Position, Score: c.Score}
		}
		writeJSON(w, ChatResponse{
			Reply:     result.Reply,
			Intent:    string(result.Intent),
			SessionID: req.SessionID,
			Sources:   sources,
			Failure:   string(result.Failure),
			ElapsedMS: result.Elapsed.Milliseconds(),
		})
	}
}

// priorTurns loads the bounded recent history for a session in
// chronological order. Failures degrade to an empty context.
func priorTurns(deps AppDeps, sessionID string) []workflow.Turn {
	window := deps.HistoryWindow
	if window <= 0 {
		return nil
	}
	msgs, err := deps.History.RecentMessages(sessionID, window)
	if err != nil {
		deps.Logger.Warn("failed to load history", "session", sessionID, "error", err)
		return nil
	}
	// RecentMessages is newest first; the model wants oldest first.
	turns := make([]workflow.Turn, len(msgs))
	for i, m := range msgs {
		turns[len(msgs)-1-i] = workflow.Turn{Role: m.Role, Content: m.Message}
	}
	return turns
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 200)

		msgs, err := deps.History.RecentMessages(sessionID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}

		type turn struct {
			Role      string `json:"role"`
			Message   string `json:"message"`
			CreatedAt string `json:"created_at"`
		}
		out := make([]turn, len(msgs))
		for i, m := range msgs {
			out[i] = turn{Role: m.Role, Message: m.Message, CreatedAt: formatTime(m.CreatedAt)}
		}
		writeJSON(w, out)
	}
}

func handleSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Sync.Sync(r.Context())
		if err != nil {
			// The previous snapshot keeps serving; tell the caller the
			// rebuild did not take.
			httpError(w, http.StatusInternalServerError, "index_rebuild_failure", "rebuild failed, previous index still active: %v", err)
			return
		}
		writeJSON(w, syncReport(report))
	}
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}

		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no files in \"file\" field")
			return
		}

		var saved []string
		for _, fh := range files {
			name, err := saveUpload(deps.UploadDir, fh.Filename, fh)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "rejected %q: %v", fh.Filename, err)
				return
			}
			saved = append(saved, name)
		}

		report, err := deps.Sync.Sync(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "index_rebuild_failure", "files saved but rebuild failed, previous index still active: %v", err)
			return
		}
		resp := syncReport(report)
		resp["uploaded"] = saved
		writeJSON(w, resp)
	}
}

var allowedUploadExt = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".pdf": true,
}

func saveUpload(dir, filename string, fh *multipart.FileHeader) (string, error) {
	base := filepath.Base(filename)
	if base == "" || base == "." || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("invalid file name")
	}
	if !allowedUploadExt[strings.ToLower(filepath.Ext(base))] {
		return "", fmt.Errorf("unsupported file type")
	}

	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst, err := os.Create(filepath.Join(dir, base))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return base, nil
}

func syncReport(report ingest.Report) map[string]any {
	skipped := make([]map[string]string, len(report.Skipped))
	for i, s := range report.Skipped {
		skipped[i] = map[string]string{"path": s.Path, "reason": s.Reason}
	}
	return map[string]any{
		"files":   report.Files,
		"chunks":  report.Chunks,
		"skipped": skipped,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
