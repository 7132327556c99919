package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/deskmate/internal/composer"
	"github.com/kalambet/deskmate/internal/engine"
	"github.com/kalambet/deskmate/internal/intent"
	"github.com/kalambet/deskmate/internal/retrieval"
	"github.com/kalambet/deskmate/internal/tools"
)

type mockClassifier struct {
	result intent.Classification
	err    error
	turns  []engine.Message
}

func (m *mockClassifier) Classify(_ context.Context, _ string, turns []engine.Message) (intent.Classification, error) {
	m.turns = turns
	return m.result, m.err
}

type mockRetriever struct {
	result retrieval.Result
	err    error
	calls  int
}

func (m *mockRetriever) Retrieve(context.Context, string) (retrieval.Result, error) {
	m.calls++
	return m.result, m.err
}

type mockTools struct {
	output string
	err    error
	tool   string
}

func (m *mockTools) Execute(tool, _, _ string) (string, error) {
	m.tool = tool
	return m.output, m.err
}

type mockLLM struct {
	reply string
	err   error
	calls int
}

func (m *mockLLM) Chat(context.Context, string, []engine.Message, *engine.Schema) (string, error) {
	m.calls++
	return m.reply, m.err
}
func (m *mockLLM) Embed(context.Context, string, string) ([]float32, error) {
	return nil, errors.New("not implemented")
}
func (m *mockLLM) IsRunning(context.Context) bool              { return true }
func (m *mockLLM) ListModels(context.Context) ([]string, error) { return nil, nil }
func (m *mockLLM) HasModel(context.Context, string) bool       { return true }

func confidentResult() retrieval.Result {
	return retrieval.Result{
		Chunks: []retrieval.ScoredChunk{
			{ID: "c1", DocID: "faq.csv", Position: "row 2", Text: "Lunch is at noon.", Score: 0.82},
			{ID: "c2", DocID: "guide.md", Position: "chars 0-800", Text: "Cafeteria on floor 1.", Score: 0.55},
		},
		TopScore:  0.82,
		Confident: true,
	}
}

func newTestEngine(c *mockClassifier, r *mockRetriever, tr *mockTools, llm *mockLLM) *Engine {
	return NewEngine(c, r, tr, llm, "chat-model", nil)
}

func TestHandle_Greeting(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.Greeting}}
	r := &mockRetriever{}
	llm := &mockLLM{}
	e := newTestEngine(c, r, &mockTools{}, llm)

	got := e.Handle(context.Background(), Utterance{Text: "hello"})
	if got.Intent != intent.Greeting {
		t.Errorf("Intent = %v, want Greeting", got.Intent)
	}
	if got.Reply == "" || got.Failure != FailureNone {
		t.Errorf("got = %+v, want canned reply without failure", got)
	}
	if len(got.Citations) != 0 {
		t.Errorf("Citations = %v, want none for a greeting", got.Citations)
	}
	if r.calls != 0 || llm.calls != 0 {
		t.Error("greeting must not touch retrieval or generation")
	}
}

func TestHandle_DirectTool(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.DirectTool, Tool: tools.ResetPassword}}
	tr := &mockTools{output: "Password reset steps: ..."}
	llm := &mockLLM{}
	e := newTestEngine(c, &mockRetriever{}, tr, llm)

	got := e.Handle(context.Background(), Utterance{Text: "reset my password"})
	if got.Intent != intent.DirectTool {
		t.Errorf("Intent = %v, want DirectTool", got.Intent)
	}
	if got.Reply != "Password reset steps: ..." {
		t.Errorf("Reply = %q, want tool output verbatim", got.Reply)
	}
	if tr.tool != tools.ResetPassword {
		t.Errorf("executed tool = %q, want %q", tr.tool, tools.ResetPassword)
	}
	if llm.calls != 0 {
		t.Error("direct tool path must not call the model")
	}
}

func TestHandle_UnknownToolFallsBackToKnowledge(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.DirectTool, Tool: "made_up_tool"}}
	tr := &mockTools{err: tools.ErrUnknownTool{Name: "made_up_tool"}}
	r := &mockRetriever{result: confidentResult()}
	llm := &mockLLM{reply: "grounded answer [1]"}
	e := newTestEngine(c, r, tr, llm)

	got := e.Handle(context.Background(), Utterance{Text: "do the thing"})
	if got.Failure != FailureNone {
		t.Errorf("Failure = %q, want none; unknown tool degrades to knowledge answer", got.Failure)
	}
	if got.Reply != "grounded answer [1]" {
		t.Errorf("Reply = %q, want grounded answer", got.Reply)
	}
	if r.calls != 1 {
		t.Errorf("retriever calls = %d, want 1", r.calls)
	}
}

func TestHandle_FAQRoutesToKnowledge(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.FAQ}}
	r := &mockRetriever{result: confidentResult()}
	llm := &mockLLM{reply: "Lunch is at noon [1]."}
	e := newTestEngine(c, r, &mockTools{}, llm)

	got := e.Handle(context.Background(), Utterance{Text: "when is lunch?"})
	if got.Intent != intent.FAQ {
		t.Errorf("Intent = %v, want FAQ", got.Intent)
	}
	if r.calls != 1 || llm.calls != 1 {
		t.Errorf("retriever calls = %d, llm calls = %d, want 1 and 1", r.calls, llm.calls)
	}
	if len(got.Citations) != 2 {
		t.Fatalf("len(Citations) = %d, want 2", len(got.Citations))
	}
	if got.Citations[0].Index != 1 || got.Citations[0].DocID != "faq.csv" {
		t.Errorf("Citations[0] = %+v, want index 1 into faq.csv", got.Citations[0])
	}
	if got.Confidence != 0.82 {
		t.Errorf("Confidence = %v, want 0.82", got.Confidence)
	}
}

func TestHandle_UnknownDegradesToGeneralQA(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.Unknown}}
	r := &mockRetriever{result: confidentResult()}
	llm := &mockLLM{reply: "answer"}
	e := newTestEngine(c, r, &mockTools{}, llm)

	got := e.Handle(context.Background(), Utterance{Text: "gibberish but a question"})
	if got.Intent != intent.GeneralQA {
		t.Errorf("Intent = %v, want GeneralQA after double unknown", got.Intent)
	}
	if got.Failure != FailureNone {
		t.Errorf("Failure = %q, want none; unknown never errors", got.Failure)
	}
}

func TestHandle_LowConfidenceRefusesToAnswer(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.GeneralQA}}
	r := &mockRetriever{result: retrieval.Result{
		Chunks:    []retrieval.ScoredChunk{{ID: "c1", DocID: "a.md", Text: "weakly related", Score: 0.11}},
		TopScore:  0.11,
		Confident: false,
	}}
	llm := &mockLLM{reply: "should never be produced"}
	e := newTestEngine(c, r, &mockTools{}, llm)

	got := e.Handle(context.Background(), Utterance{Text: "something obscure"})
	if got.Reply != composer.InsufficientInfo() {
		t.Errorf("Reply = %q, want the fixed insufficient-info text", got.Reply)
	}
	if len(got.Citations) != 0 {
		t.Errorf("Citations = %v, want none below the confidence floor", got.Citations)
	}
	if got.Failure != FailureNone {
		t.Errorf("Failure = %q; low confidence is a normal outcome, not a failure", got.Failure)
	}
	if llm.calls != 0 {
		t.Error("low confidence must not reach generation")
	}
}

func TestHandle_ClassifierUnavailable(t *testing.T) {
	c := &mockClassifier{err: engine.ErrUnavailable}
	r := &mockRetriever{}
	e := newTestEngine(c, r, &mockTools{}, &mockLLM{})

	got := e.Handle(context.Background(), Utterance{Text: "hi"})
	if got.Failure != FailureClassificationUnavailable {
		t.Errorf("Failure = %q, want classification_unavailable", got.Failure)
	}
	if got.Reply == "" {
		t.Error("Reply is empty; failures must still carry readable text")
	}
	if r.calls != 0 {
		t.Error("must not retrieve when classification is down")
	}
}

func TestHandle_GenerationFailureKeepsCitations(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.FAQ}}
	r := &mockRetriever{result: confidentResult()}
	llm := &mockLLM{err: engine.ErrUnavailable}
	e := newTestEngine(c, r, &mockTools{}, llm)

	got := e.Handle(context.Background(), Utterance{Text: "when is lunch?"})
	if got.Failure != FailureGenerationUnavailable {
		t.Errorf("Failure = %q, want generation_unavailable", got.Failure)
	}
	if len(got.Citations) != 2 {
		t.Errorf("len(Citations) = %d, want the gathered evidence preserved", len(got.Citations))
	}
	if got.Reply == "" {
		t.Error("Reply is empty")
	}
}

func TestHandle_RetrievalFailure(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.GeneralQA}}
	r := &mockRetriever{err: errors.New("embed backend down")}
	e := newTestEngine(c, r, &mockTools{}, &mockLLM{})

	got := e.Handle(context.Background(), Utterance{Text: "q"})
	if got.Failure != FailureGenerationUnavailable {
		t.Errorf("Failure = %q, want generation_unavailable", got.Failure)
	}
	if len(got.Citations) != 0 {
		t.Errorf("Citations = %v, want none", got.Citations)
	}
	if !strings.Contains(got.Reply, "search") {
		t.Errorf("Reply = %q, want it to say the search failed", got.Reply)
	}
	if strings.Contains(got.Reply, "found relevant material") {
		t.Errorf("Reply = %q; nothing was retrieved, must not claim material was found", got.Reply)
	}
}

func TestHandle_EmptyRetrievalAnswersFromGeneralKnowledge(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.GeneralQA}}
	r := &mockRetriever{result: retrieval.Result{}}
	llm := &mockLLM{reply: "Generally, yes."}
	e := newTestEngine(c, r, &mockTools{}, llm)

	got := e.Handle(context.Background(), Utterance{Text: "is water wet?"})
	if got.Reply != "Generally, yes." {
		t.Errorf("Reply = %q, want the general-knowledge answer", got.Reply)
	}
	if got.Failure != FailureNone {
		t.Errorf("Failure = %q, want none", got.Failure)
	}
	if len(got.Citations) != 0 {
		t.Errorf("Citations = %v, want none without evidence", got.Citations)
	}
	if llm.calls != 1 {
		t.Errorf("llm calls = %d, want 1", llm.calls)
	}
}

func TestHandle_GeneralKnowledgeFailure(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.GeneralQA}}
	r := &mockRetriever{result: retrieval.Result{}}
	llm := &mockLLM{err: engine.ErrUnavailable}
	e := newTestEngine(c, r, &mockTools{}, llm)

	got := e.Handle(context.Background(), Utterance{Text: "q"})
	if got.Failure != FailureGenerationUnavailable {
		t.Errorf("Failure = %q, want generation_unavailable", got.Failure)
	}
	if got.Reply == "" || strings.Contains(got.Reply, "found relevant material") {
		t.Errorf("Reply = %q; must be readable and not claim evidence was found", got.Reply)
	}
}

func TestHandle_PriorTurnsReachClassifier(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.Greeting}}
	e := newTestEngine(c, &mockRetriever{}, &mockTools{}, &mockLLM{})

	turns := []Turn{{Role: "user", Content: "hello"}, {Role: "assistant", Content: "hi"}}
	e.Handle(context.Background(), Utterance{Text: "thanks", PriorTurns: turns})
	if len(c.turns) != 2 {
		t.Fatalf("classifier saw %d turns, want 2", len(c.turns))
	}
	if c.turns[0].Content != "hello" || c.turns[1].Role != "assistant" {
		t.Errorf("turns = %+v", c.turns)
	}
}

func TestHandle_ReportsElapsed(t *testing.T) {
	c := &mockClassifier{result: intent.Classification{Label: intent.Greeting}}
	e := newTestEngine(c, &mockRetriever{}, &mockTools{}, &mockLLM{})

	got := e.Handle(context.Background(), Utterance{Text: "hi"})
	if got.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", got.Elapsed)
	}
	if !strings.Contains(string(got.Intent), "greeting") {
		t.Errorf("Intent = %v", got.Intent)
	}
}
