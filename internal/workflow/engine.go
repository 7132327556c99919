package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/deskmate/internal/composer"
	"github.com/kalambet/deskmate/internal/engine"
	"github.com/kalambet/deskmate/internal/intent"
	"github.com/kalambet/deskmate/internal/retrieval"
	"github.com/kalambet/deskmate/internal/tools"
)

const generateTimeout = 60 * time.Second

// Turn is one prior conversation turn supplied as context.
type Turn struct {
	Role    string
	Content string
}

// Utterance is one user request. Immutable for the duration of Handle.
type Utterance struct {
	Text       string
	SessionID  string
	PriorTurns []Turn
}

// Citation points at a knowledge base passage that grounded the reply.
type Citation struct {
	Index    int     `json:"index"`
	DocID    string  `json:"doc_id"`
	Position string  `json:"position,omitempty"`
	Score    float64 `json:"score"`
}

// FailureKind classifies a degraded outcome. The zero value means the
// request completed normally. Failures still carry a human-readable reply;
// callers never need to translate them for the user.
type FailureKind string

const (
	FailureNone                      FailureKind = ""
	FailureClassificationUnavailable FailureKind = "classification_unavailable"
	FailureGenerationUnavailable     FailureKind = "generation_unavailable"
)

// RoutingResult is the structured outcome of one request. Every path
// through the router produces one; there is no error return.
type RoutingResult struct {
	Intent     intent.Label
	Reply      string
	Citations  []Citation
	Confidence float64
	Failure    FailureKind
	Elapsed    time.Duration
}

// Classifier labels an utterance.
type Classifier interface {
	Classify(ctx context.Context, utterance string, turns []engine.Message) (intent.Classification, error)
}

// Retriever fetches knowledge base evidence for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (retrieval.Result, error)
}

// ToolRunner executes direct helpdesk tools.
type ToolRunner interface {
	Execute(tool, utterance, argument string) (string, error)
}

// Engine routes utterances: classify, then dispatch to the greeting,
// direct-tool, or retrieval-grounded answer path. A single request makes at
// most one classification pass (with its internal retry), one retrieval,
// and one generation call, and holds no locks across any of them.
type Engine struct {
	classifier Classifier
	retriever  Retriever
	tools      ToolRunner
	llm        engine.Engine
	chatModel  string
	logger     *slog.Logger
}

func NewEngine(classifier Classifier, retriever Retriever, toolRunner ToolRunner, llm engine.Engine, chatModel string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		classifier: classifier,
		retriever:  retriever,
		tools:      toolRunner,
		llm:        llm,
		chatModel:  chatModel,
		logger:     logger,
	}
}

const greetingReply = "Hello! Tell me what you need help with and I'll do my best."

const classifierDownReply = "I'm having trouble reaching the language model right now, so I can't process your request. Please try again in a moment."

const retrievalDownReply = "I couldn't search the knowledge base right now, so your question didn't go through. Please try again in a moment."

const generationDownReply = "I found relevant material in the knowledge base but couldn't generate an answer right now. Please try again in a moment."

const generalDownReply = "I couldn't reach the language model to answer that right now. Please try again in a moment."

// Handle routes one utterance to a reply. It never returns an error: every
// failure mode is folded into the result's Failure kind with a reply the
// user can read as-is.
func (e *Engine) Handle(ctx context.Context, u Utterance) RoutingResult {
	start := time.Now()
	turns := toMessages(u.PriorTurns)

	cls, err := e.classifier.Classify(ctx, u.Text, turns)
	if err != nil {
		e.logger.Warn("classification unavailable", "session", u.SessionID, "error", err)
		return RoutingResult{
			Intent:  intent.Unknown,
			Reply:   classifierDownReply,
			Failure: FailureClassificationUnavailable,
			Elapsed: time.Since(start),
		}
	}

	label := cls.Label
	if label == intent.Unknown {
		// The classifier already re-prompted once. Degrade to a general
		// question instead of surfacing an error.
		label = intent.GeneralQA
	}
	e.logger.Debug("intent classified", "session", u.SessionID, "intent", label)

	var result RoutingResult
	switch label {
	case intent.Greeting:
		result = RoutingResult{Intent: intent.Greeting, Reply: greetingReply}
	case intent.DirectTool:
		result = e.runTool(ctx, u, turns, cls)
	default:
		result = e.answerFromKnowledge(ctx, label, u, turns)
	}
	result.Elapsed = time.Since(start)
	return result
}

func (e *Engine) runTool(ctx context.Context, u Utterance, turns []engine.Message, cls intent.Classification) RoutingResult {
	output, err := e.tools.Execute(cls.Tool, u.Text, cls.Argument)
	if err == nil {
		return RoutingResult{Intent: intent.DirectTool, Reply: output}
	}

	var unknown tools.ErrUnknownTool
	if errors.As(err, &unknown) {
		// The model named a tool we don't have. Answer from the knowledge
		// base instead of bouncing the request.
		e.logger.Warn("classifier proposed unknown tool", "tool", unknown.Name)
		return e.answerFromKnowledge(ctx, intent.DirectTool, u, turns)
	}

	e.logger.Error("tool execution failed", "tool", cls.Tool, "error", err)
	return e.answerFromKnowledge(ctx, intent.DirectTool, u, turns)
}

func (e *Engine) answerFromKnowledge(ctx context.Context, label intent.Label, u Utterance, turns []engine.Message) RoutingResult {
	retrieved, err := e.retriever.Retrieve(ctx, u.Text)
	if err != nil {
		e.logger.Warn("retrieval failed", "session", u.SessionID, "error", err)
		return RoutingResult{
			Intent:  label,
			Reply:   retrievalDownReply,
			Failure: FailureGenerationUnavailable,
		}
	}

	if len(retrieved.Chunks) == 0 {
		// Nothing indexed matches at all. Answer from the model's general
		// knowledge rather than refusing outright.
		return e.answerGeneral(ctx, label, u, turns)
	}

	if !retrieved.Confident {
		return RoutingResult{
			Intent:     label,
			Reply:      composer.InsufficientInfo(),
			Confidence: retrieved.TopScore,
		}
	}

	messages, used := composer.Grounded(u.Text, retrieved.Chunks, turns)
	citations := make([]Citation, len(used))
	for i, c := range used {
		citations[i] = Citation{Index: i + 1, DocID: c.DocID, Position: c.Position, Score: c.Score}
	}

	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()
	reply, err := e.llm.Chat(genCtx, e.chatModel, messages, nil)
	if err != nil {
		e.logger.Warn("generation failed", "session", u.SessionID, "error", err)
		return RoutingResult{
			Intent:     label,
			Reply:      generationDownReply,
			Citations:  citations,
			Confidence: retrieved.TopScore,
			Failure:    FailureGenerationUnavailable,
		}
	}

	return RoutingResult{
		Intent:     label,
		Reply:      reply,
		Citations:  citations,
		Confidence: retrieved.TopScore,
	}
}

// answerGeneral handles questions the knowledge base has nothing on: the
// model answers from general knowledge, with no citations to carry.
func (e *Engine) answerGeneral(ctx context.Context, label intent.Label, u Utterance, turns []engine.Message) RoutingResult {
	messages := composer.General(u.Text, turns)

	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()
	reply, err := e.llm.Chat(genCtx, e.chatModel, messages, nil)
	if err != nil {
		e.logger.Warn("generation failed", "session", u.SessionID, "error", err)
		return RoutingResult{
			Intent:  label,
			Reply:   generalDownReply,
			Failure: FailureGenerationUnavailable,
		}
	}

	return RoutingResult{Intent: label, Reply: reply}
}

func toMessages(turns []Turn) []engine.Message {
	if len(turns) == 0 {
		return nil
	}
	messages := make([]engine.Message, len(turns))
	for i, t := range turns {
		messages[i] = engine.Message{Role: t.Role, Content: t.Content}
	}
	return messages
}
