package chat

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	chatmodel "github.com/asetia/portfolio-assistant/internal/model/chat"
	"github.com/asetia/portfolio-assistant/internal/model/rag"
	"github.com/asetia/portfolio-assistant/internal/service/ai"
	"github.com/asetia/portfolio-assistant/internal/service/interpreter"
	"github.com/asetia/portfolio-assistant/internal/service/retrieval"
	"github.com/asetia/portfolio-assistant/internal/service/session"
)

// ErrEmptyMessage is returned when the incoming message is blank after
// trimming.
var ErrEmptyMessage = errors.New("message is empty")

const defaultTopK = 5

// Interpreter decides whether a message can be answered without retrieval.
type Interpreter interface {
	Interpret(ctx context.Context, message, history string) interpreter.Decision
}

// Retriever searches the portfolio index.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) (rag.Result, error)
}

// Generator streams the final answer.
type Generator interface {
	Stream(ctx context.Context, in ai.Input) (*schema.StreamReader[*schema.Message], error)
}

// Sessions is the slice of the session store the orchestrator needs.
type Sessions interface {
	History(ctx context.Context, sessionID string) []chatmodel.Turn
	Append(ctx context.Context, sessionID string, turns ...chatmodel.Turn) error
}

// Service orchestrates a chat turn: interpret, retrieve, generate, persist.
type Service struct {
	interpreter Interpreter
	retriever   Retriever
	generator   Generator
	sessions    Sessions
	log         *zap.Logger
}

func NewService(i Interpreter, r Retriever, g Generator, s Sessions, log *zap.Logger) *Service {
	return &Service{interpreter: i, retriever: r, generator: g, sessions: s, log: log}
}

// ProcessMessage runs one full chat turn, calling emit for each response
// delta in arrival order. The completed turn is persisted before returning;
// persistence failures are logged, not surfaced, so the visitor still gets
// their answer.
func (s *Service) ProcessMessage(ctx context.Context, sessionID, message string, emit func(delta string) error) error {
	return s.process(ctx, sessionID, message, ai.ModeChat, emit)
}

// ProcessVoiceMessage is the same turn with the voice prompt and model, for
// clients that synthesize the stream themselves.
func (s *Service) ProcessVoiceMessage(ctx context.Context, sessionID, message string, emit func(delta string) error) error {
	return s.process(ctx, sessionID, message, ai.ModeVoice, emit)
}

func (s *Service) process(ctx context.Context, sessionID, message string, mode ai.Mode, emit func(delta string) error) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrEmptyMessage
	}

	history := s.sessions.History(ctx, sessionID)

	decision := s.interpreter.Interpret(ctx, message, session.FormatHistory(history))

	var reply string
	switch d := decision.(type) {
	case interpreter.EarlyExit:
		if err := emit(d.Response); err != nil {
			return err
		}
		reply = d.Response

	case interpreter.NeedsRetrieval:
		retrievedContext := s.retrieve(ctx, d.Query)

		stream, err := s.generator.Stream(ctx, ai.Input{
			Mode:    mode,
			Message: message,
			History: toMessages(history),
			Context: retrievedContext,
		})
		if err != nil {
			return err
		}

		reply, err = drain(stream, emit)
		if err != nil {
			return err
		}
	}

	if err := s.sessions.Append(ctx, sessionID,
		chatmodel.Turn{Role: chatmodel.RoleUser, Content: message},
		chatmodel.Turn{Role: chatmodel.RoleAssistant, Content: reply},
	); err != nil {
		s.log.Warn("failed to persist chat turn",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	return nil
}

// retrieve runs the index search, degrading to no context when it fails.
func (s *Service) retrieve(ctx context.Context, query string) string {
	result, err := s.retriever.Search(ctx, query, defaultTopK)
	if err != nil {
		s.log.Warn("retrieval failed, answering without context", zap.Error(err))
		return ""
	}
	return retrieval.FormatContext(result)
}

// drain forwards stream chunks to emit and returns the concatenated reply.
func drain(stream *schema.StreamReader[*schema.Message], emit func(delta string) error) (string, error) {
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		if chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		if err := emit(chunk.Content); err != nil {
			return b.String(), err
		}
	}
}

func toMessages(turns []chatmodel.Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case chatmodel.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(t.Content))
		}
	}
	return msgs
}
