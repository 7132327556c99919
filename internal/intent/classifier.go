package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kalambet/deskmate/internal/engine"
)

const classifyTimeout = 10 * time.Second

// Classification is the parsed outcome of one classification call. Tool and
// Argument are only set for DirectTool.
type Classification struct {
	Label    Label
	Tool     string
	Argument string
}

// Classifier assigns an intent label to an utterance using a small
// schema-constrained model call.
type Classifier struct {
	engine engine.Engine
	model  string
	logger *slog.Logger
}

func NewClassifier(e engine.Engine, model string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{engine: e, model: model, logger: logger}
}

var classifySchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"intent": {
			Type: "string",
			Enum: []string{string(Greeting), string(DirectTool), string(FAQ), string(GeneralQA)},
		},
		"tool":     {Type: "string"},
		"argument": {Type: "string"},
	},
	Required: []string{"intent"},
}

// Classify labels the utterance, with prior turns as context. An
// unrecognized or malformed first answer triggers exactly one stricter
// re-prompt; if that too fails to produce a known label, the result is
// Unknown with a nil error. A transport failure surfaces as
// engine.ErrUnavailable so the caller can degrade instead of guessing.
func (c *Classifier) Classify(ctx context.Context, utterance string, turns []engine.Message) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	messages := make([]engine.Message, 0, len(turns)+2)
	messages = append(messages, engine.Message{Role: "system", Content: classifySystemPrompt})
	messages = append(messages, turns...)
	messages = append(messages, engine.Message{Role: "user", Content: utterance})

	result, err := c.classifyOnce(ctx, messages)
	if err != nil {
		return Classification{}, err
	}
	if result.Label.Routable() {
		return result, nil
	}

	c.logger.Debug("intent unrecognized, re-prompting", "utterance", utterance)
	messages = append(messages, engine.Message{Role: "system", Content: classifyRetryPrompt})
	result, err = c.classifyOnce(ctx, messages)
	if err != nil {
		return Classification{}, err
	}
	return result, nil
}

func (c *Classifier) classifyOnce(ctx context.Context, messages []engine.Message) (Classification, error) {
	raw, err := c.engine.Chat(ctx, c.model, messages, classifySchema)
	if err != nil {
		return Classification{}, err
	}

	var parsed struct {
		Intent   string `json:"intent"`
		Tool     string `json:"tool"`
		Argument string `json:"argument"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		c.logger.Warn("classifier returned malformed JSON", "output", raw)
		return Classification{Label: Unknown}, nil
	}

	label := ParseLabel(parsed.Intent)
	if label != DirectTool {
		return Classification{Label: label}, nil
	}
	return Classification{Label: label, Tool: parsed.Tool, Argument: parsed.Argument}, nil
}
