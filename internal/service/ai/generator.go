package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// Mode selects the prompt and model variant for a generation.
type Mode string

const (
	// ModeChat produces full markdown-capable answers for the text UI.
	ModeChat Mode = "chat"
	// ModeVoice produces short plain-prose answers meant to be spoken aloud.
	ModeVoice Mode = "voice"
)

// Input carries everything a single generation needs. Context is the
// formatted retrieval block, empty when the turn skipped retrieval.
type Input struct {
	Mode    Mode
	Message string
	History []*schema.Message
	Context string
}

// Generator streams grounded answers about the portfolio owner.
type Generator struct {
	chatModel  model.ChatModel
	voiceModel model.ChatModel
	log        *zap.Logger
}

func NewGenerator(chatModel, voiceModel model.ChatModel, log *zap.Logger) *Generator {
	return &Generator{chatModel: chatModel, voiceModel: voiceModel, log: log}
}

// Stream runs the generation chain and returns the model's token stream. The
// caller owns the reader and must Close it.
func (g *Generator) Stream(ctx context.Context, in Input) (*schema.StreamReader[*schema.Message], error) {
	m := g.chatModel
	if in.Mode == ModeVoice && g.voiceModel != nil {
		m = g.voiceModel
	}
	if m == nil {
		return nil, fmt.Errorf("no model configured for mode %q", in.Mode)
	}

	// System prompt and message are parameters, not template text: retrieved
	// chunks and user input may contain braces.
	template := prompt.FromMessages(schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{message}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(m)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile generation chain: %w", err)
	}

	stream, err := runnable.Stream(ctx, map[string]any{
		"system":  systemPrompt(in.Mode, in.Context),
		"history": in.History,
		"message": in.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("start generation stream: %w", err)
	}

	g.log.Debug("generation stream started",
		zap.String("mode", string(in.Mode)),
		zap.Bool("grounded", in.Context != ""))
	return stream, nil
}

const basePersona = `You are the AI assistant on Ansh Setia's portfolio website. You answer visitors' questions about Ansh's background, career, skills, and projects, speaking about him in the third person.`

const groundingRules = `Answer using only the reference material below. If the material does not cover the question, say you don't know rather than guessing, and suggest the visitor reach out to Ansh directly.`

func systemPrompt(mode Mode, retrievedContext string) string {
	p := basePersona

	switch mode {
	case ModeVoice:
		p += "\n\nYou are speaking out loud. Keep answers to two or three short sentences of plain prose. No markdown, no lists, no code."
	default:
		p += "\n\nKeep answers concise and friendly. Markdown is fine where it helps."
	}

	if retrievedContext != "" {
		p += "\n\n" + groundingRules + "\n\nReference material:\n" + retrievedContext
	} else {
		p += "\n\nNo reference material was found for this question. Only answer from the conversation itself; for anything about Ansh's background you are unsure of, say you don't know."
	}
	return p
}
