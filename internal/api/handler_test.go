package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/deskmate/internal/engine"
	"github.com/kalambet/deskmate/internal/index"
	"github.com/kalambet/deskmate/internal/ingest"
	"github.com/kalambet/deskmate/internal/intent"
	"github.com/kalambet/deskmate/internal/storage"
	"github.com/kalambet/deskmate/internal/workflow"
)

type fakeWorkflow struct {
	result workflow.RoutingResult
	last   workflow.Utterance
}

func (f *fakeWorkflow) Handle(_ context.Context, u workflow.Utterance) workflow.RoutingResult {
	f.last = u
	return f.result
}

type fakeHistory struct {
	saved []storage.HistoryMessage
	turns []storage.HistoryMessage
	err   error
}

func (f *fakeHistory) SaveMessage(sessionID, role, message string) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, storage.HistoryMessage{Role: role, Message: message})
	return nil
}

func (f *fakeHistory) RecentMessages(string, int) ([]storage.HistoryMessage, error) {
	return f.turns, f.err
}

type fakeSync struct {
	report ingest.Report
	err    error
	calls  int
}

func (f *fakeSync) Sync(context.Context) (ingest.Report, error) {
	f.calls++
	return f.report, f.err
}

type fakeSnapshots struct{ snap *index.Snapshot }

func (f *fakeSnapshots) Current() *index.Snapshot { return f.snap }

type downEngine struct{ running bool }

func (d *downEngine) Chat(context.Context, string, []engine.Message, *engine.Schema) (string, error) {
	return "", engine.ErrUnavailable
}
func (d *downEngine) Embed(context.Context, string, string) ([]float32, error) {
	return nil, engine.ErrUnavailable
}
func (d *downEngine) IsRunning(context.Context) bool              { return d.running }
func (d *downEngine) ListModels(context.Context) ([]string, error) { return nil, nil }
func (d *downEngine) HasModel(context.Context, string) bool       { return true }

func testDeps(t *testing.T) (AppDeps, *fakeWorkflow, *fakeHistory, *fakeSync) {
	t.Helper()
	wf := &fakeWorkflow{result: workflow.RoutingResult{
		Intent: intent.FAQ,
		Reply:  "Lunch is at noon [1].",
		Citations: []workflow.Citation{
			{Index: 1, DocID: "faq.csv", Position: "row 2", Score: 0.82},
		},
		Confidence: 0.82,
		Elapsed:    5 * time.Millisecond,
	}}
	hist := &fakeHistory{}
	sync := &fakeSync{report: ingest.Report{Files: 2, Chunks: 7}}
	snap := index.NewSnapshot("v1", time.Now(), []index.Entry{{ID: "c1", Vector: []float32{1}}})
	deps := AppDeps{
		Workflow:      wf,
		History:       hist,
		Engine:        &downEngine{running: true},
		Index:         &fakeSnapshots{snap},
		Sync:          sync,
		UploadDir:     t.TempDir(),
		Token:         "secret-token",
		HistoryWindow: 6,
	}
	return deps, wf, hist, sync
}

func TestHealth(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	rec := httptest.NewRecorder()
	NewAppHandler(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	rec := httptest.NewRecorder()
	NewAppHandler(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["engine_running"] != true {
		t.Errorf("engine_running = %v, want true", got["engine_running"])
	}
	if got["snapshot_version"] != "v1" {
		t.Errorf("snapshot_version = %v, want v1", got["snapshot_version"])
	}
	if got["chunks"] != float64(1) {
		t.Errorf("chunks = %v, want 1", got["chunks"])
	}
}

func postChat(t *testing.T, deps AppDeps, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	NewAppHandler(deps).ServeHTTP(rec, req)
	return rec
}

func TestChat_HappyPath(t *testing.T) {
	deps, wf, hist, _ := testDeps(t)
	rec := postChat(t, deps, `{"message": "when is lunch?", "session_id": "s1"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var got ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Reply != "Lunch is at noon [1]." || got.Intent != "faq" {
		t.Errorf("got = %+v", got)
	}
	if got.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", got.SessionID)
	}
	if len(got.Sources) != 1 || got.Sources[0].DocID != "faq.csv" {
		t.Errorf("Sources = %+v", got.Sources)
	}
	if wf.last.Text != "when is lunch?" {
		t.Errorf("workflow saw %q", wf.last.Text)
	}
	if len(hist.saved) != 2 {
		t.Fatalf("saved %d turns, want 2", len(hist.saved))
	}
	if hist.saved[0].Role != "user" || hist.saved[1].Role != "assistant" {
		t.Errorf("saved roles = %s, %s", hist.saved[0].Role, hist.saved[1].Role)
	}
}

func TestChat_GeneratesSessionID(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	rec := postChat(t, deps, `{"message": "hi"}`)

	var got ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.SessionID == "" {
		t.Error("SessionID is empty, want a generated one")
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	if rec := postChat(t, deps, `{"message": "  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChat_PriorTurnsChronological(t *testing.T) {
	deps, wf, hist, _ := testDeps(t)
	// Newest first, as the store returns them.
	hist.turns = []storage.HistoryMessage{
		{Role: "assistant", Message: "hello"},
		{Role: "user", Message: "hi"},
	}

	postChat(t, deps, `{"message": "thanks", "session_id": "s1"}`)
	if len(wf.last.PriorTurns) != 2 {
		t.Fatalf("PriorTurns = %d, want 2", len(wf.last.PriorTurns))
	}
	if wf.last.PriorTurns[0].Content != "hi" || wf.last.PriorTurns[1].Content != "hello" {
		t.Errorf("PriorTurns not chronological: %+v", wf.last.PriorTurns)
	}
}

func TestChat_HistoryFailureDoesNotFailRequest(t *testing.T) {
	deps, _, hist, _ := testDeps(t)
	hist.err = errors.New("disk full")

	if rec := postChat(t, deps, `{"message": "hi"}`); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 despite history failure", rec.Code)
	}
}

func TestHistory_RequiresSessionID(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	rec := httptest.NewRecorder()
	NewAppHandler(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSync_RequiresAuth(t *testing.T) {
	deps, _, _, sync := testDeps(t)
	rec := httptest.NewRecorder()
	NewAppHandler(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if sync.calls != 0 {
		t.Error("sync ran without auth")
	}
}

func TestSync_WithToken(t *testing.T) {
	deps, _, _, sync := testDeps(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	NewAppHandler(deps).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if sync.calls != 1 {
		t.Errorf("sync.calls = %d, want 1", sync.calls)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["files"] != float64(2) || got["chunks"] != float64(7) {
		t.Errorf("report = %v", got)
	}
}

func TestSync_RebuildFailure(t *testing.T) {
	deps, _, _, sync := testDeps(t)
	sync.err = errors.New("embed backend down")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	NewAppHandler(deps).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "previous index still active") {
		t.Errorf("body = %s, want note that the old index keeps serving", rec.Body)
	}
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer secret-token")
	return req
}

func TestUpload_SavesAndRebuilds(t *testing.T) {
	deps, _, _, sync := testDeps(t)
	rec := httptest.NewRecorder()
	NewAppHandler(deps).ServeHTTP(rec, uploadRequest(t, "notes.md", "printer is on floor 2"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	data, err := os.ReadFile(filepath.Join(deps.UploadDir, "notes.md"))
	if err != nil {
		t.Fatalf("uploaded file not on disk: %v", err)
	}
	if string(data) != "printer is on floor 2" {
		t.Errorf("file content = %q", data)
	}
	if sync.calls != 1 {
		t.Errorf("sync.calls = %d, want 1", sync.calls)
	}
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	deps, _, _, sync := testDeps(t)
	rec := httptest.NewRecorder()
	NewAppHandler(deps).ServeHTTP(rec, uploadRequest(t, "malware.exe", "nope"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if sync.calls != 0 {
		t.Error("sync ran for a rejected upload")
	}
}
