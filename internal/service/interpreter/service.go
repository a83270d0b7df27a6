package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// Decision is the interpreter's verdict on an incoming message. Exactly one
// of the two concrete types is returned.
type Decision interface {
	isDecision()
}

// EarlyExit carries a ready response for messages that need no retrieval,
// such as greetings or thanks.
type EarlyExit struct {
	Response string
}

// NeedsRetrieval carries the search query to run against the index. Query is
// the refined standalone form of the user's message.
type NeedsRetrieval struct {
	Query string
}

func (EarlyExit) isDecision()      {}
func (NeedsRetrieval) isDecision() {}

const systemPrompt = `You triage messages sent to a portfolio-site assistant that answers questions about its owner's career and projects.

Classify the latest user message and reply with JSON only:
- If it is small talk, a greeting, thanks, or otherwise needs no knowledge lookup, reply {"action": "answer", "response": "<a brief friendly reply>"}.
- Otherwise reply {"action": "retrieve", "query": "<the message rewritten as a standalone search query, resolving pronouns from the conversation>"}.

Reply with the JSON object and nothing else.`

type verdict struct {
	Action   string `json:"action"`
	Response string `json:"response"`
	Query    string `json:"query"`
}

// Service classifies user messages ahead of retrieval and refines those that
// need a knowledge lookup.
type Service struct {
	chatModel model.ChatModel
	log       *zap.Logger
}

func NewService(chatModel model.ChatModel, log *zap.Logger) *Service {
	return &Service{chatModel: chatModel, log: log}
}

// Interpret decides whether message can be answered directly or needs a
// retrieval pass. Any failure, from the model call to JSON parsing, falls
// back to NeedsRetrieval with the raw message so the pipeline keeps moving.
func (s *Service) Interpret(ctx context.Context, message, history string) Decision {
	fallback := NeedsRetrieval{Query: message}
	if s.chatModel == nil {
		return fallback
	}

	// The prompt goes in as a parameter: literal braces in the instructions
	// and history must not be treated as template placeholders.
	template := prompt.FromMessages(schema.FString,
		schema.SystemMessage("{instructions}"),
		schema.UserMessage("{input}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(s.chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		s.log.Warn("interpreter chain compile failed", zap.Error(err))
		return fallback
	}

	result, err := runnable.Invoke(ctx, map[string]any{
		"instructions": systemPrompt,
		"input":        fmt.Sprintf("Conversation so far:\n%s\n\nLatest message: %s", history, message),
	})
	if err != nil {
		s.log.Warn("interpreter call failed", zap.Error(err))
		return fallback
	}

	v, ok := parseVerdict(result.Content)
	if !ok {
		s.log.Warn("interpreter returned malformed verdict", zap.String("content", result.Content))
		return fallback
	}

	switch v.Action {
	case "answer":
		if v.Response == "" {
			return fallback
		}
		return EarlyExit{Response: v.Response}
	case "retrieve":
		if v.Query == "" {
			return fallback
		}
		return NeedsRetrieval{Query: v.Query}
	default:
		return fallback
	}
}

// parseVerdict extracts the JSON object from model output, tolerating prose
// or code fences around it.
func parseVerdict(content string) (verdict, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return verdict{}, false
	}

	var v verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return verdict{}, false
	}
	return v, true
}
