package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	chatmodel "github.com/asetia/portfolio-assistant/internal/model/chat"
	"github.com/asetia/portfolio-assistant/internal/model/rag"
	"github.com/asetia/portfolio-assistant/internal/service/ai"
	"github.com/asetia/portfolio-assistant/internal/service/interpreter"
)

type fakeInterpreter struct {
	decision interpreter.Decision
}

func (f *fakeInterpreter) Interpret(_ context.Context, message, _ string) interpreter.Decision {
	if f.decision != nil {
		return f.decision
	}
	return interpreter.NeedsRetrieval{Query: message}
}

type fakeRetriever struct {
	calls  int
	result rag.Result
	err    error
}

func (f *fakeRetriever) Search(_ context.Context, _ string, _ int) (rag.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeGenerator struct {
	calls     int
	chunks    []string
	err       error
	lastInput ai.Input
}

func (f *fakeGenerator) Stream(_ context.Context, in ai.Input) (*schema.StreamReader[*schema.Message], error) {
	f.calls++
	f.lastInput = in
	if f.err != nil {
		return nil, f.err
	}
	sr, sw := schema.Pipe[*schema.Message](len(f.chunks))
	go func() {
		defer sw.Close()
		for _, c := range f.chunks {
			sw.Send(schema.AssistantMessage(c, nil), nil)
		}
	}()
	return sr, nil
}

type fakeSessions struct {
	history  []chatmodel.Turn
	appended []chatmodel.Turn
	err      error
}

func (f *fakeSessions) History(_ context.Context, _ string) []chatmodel.Turn {
	return f.history
}

func (f *fakeSessions) Append(_ context.Context, _ string, turns ...chatmodel.Turn) error {
	f.appended = append(f.appended, turns...)
	return f.err
}

func newService(i Interpreter, r *fakeRetriever, g *fakeGenerator, s *fakeSessions) *Service {
	return NewService(i, r, g, s, zap.NewNop())
}

func TestProcessMessageStreamsGroundedAnswer(t *testing.T) {
	retriever := &fakeRetriever{result: rag.Result{
		{Chunk: rag.Chunk{ID: "1", Content: "Led backend team.", Source: "resume.md"}, Score: 0.9},
	}}
	generator := &fakeGenerator{chunks: []string{"He led ", "the backend ", "team."}}
	sessions := &fakeSessions{}

	var deltas []string
	err := newService(&fakeInterpreter{}, retriever, generator, sessions).
		ProcessMessage(context.Background(), "s1", "what did you do at your last job?", func(d string) error {
			deltas = append(deltas, d)
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"He led ", "the backend ", "team."}, deltas)
	assert.Equal(t, 1, retriever.calls)
	assert.Contains(t, generator.lastInput.Context, "Led backend team.")

	require.Len(t, sessions.appended, 2)
	assert.Equal(t, chatmodel.RoleUser, sessions.appended[0].Role)
	assert.Equal(t, "what did you do at your last job?", sessions.appended[0].Content)
	assert.Equal(t, chatmodel.RoleAssistant, sessions.appended[1].Role)
	assert.Equal(t, "He led the backend team.", sessions.appended[1].Content)
}

func TestProcessMessageEarlyExitSkipsRetrievalAndGeneration(t *testing.T) {
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{}
	sessions := &fakeSessions{}
	interp := &fakeInterpreter{decision: interpreter.EarlyExit{Response: "You're welcome!"}}

	var deltas []string
	err := newService(interp, retriever, generator, sessions).
		ProcessMessage(context.Background(), "s1", "thanks!", func(d string) error {
			deltas = append(deltas, d)
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"You're welcome!"}, deltas)
	assert.Zero(t, retriever.calls)
	assert.Zero(t, generator.calls)

	require.Len(t, sessions.appended, 2)
	assert.Equal(t, "You're welcome!", sessions.appended[1].Content)
}

func TestProcessMessageRetrievalFailureDegradesToUngrounded(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("index unavailable")}
	generator := &fakeGenerator{chunks: []string{"I don't know."}}

	err := newService(&fakeInterpreter{}, retriever, generator, &fakeSessions{}).
		ProcessMessage(context.Background(), "s1", "what stack do you use?", func(string) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, generator.calls)
	assert.Empty(t, generator.lastInput.Context)
}

func TestProcessMessageRejectsEmptyMessage(t *testing.T) {
	err := newService(&fakeInterpreter{}, &fakeRetriever{}, &fakeGenerator{}, &fakeSessions{}).
		ProcessMessage(context.Background(), "s1", "   ", func(string) error { return nil })

	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestProcessMessagePersistFailureDoesNotFailTurn(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("redis down")}
	generator := &fakeGenerator{chunks: []string{"answer"}}

	err := newService(&fakeInterpreter{}, &fakeRetriever{}, generator, sessions).
		ProcessMessage(context.Background(), "s1", "hello?", func(string) error { return nil })

	assert.NoError(t, err)
}

func TestProcessMessagePassesHistoryToGenerator(t *testing.T) {
	sessions := &fakeSessions{history: []chatmodel.Turn{
		{Role: chatmodel.RoleUser, Content: "tell me about your jobs"},
		{Role: chatmodel.RoleAssistant, Content: "I have worked at two companies."},
	}}
	generator := &fakeGenerator{chunks: []string{"ok"}}

	err := newService(&fakeInterpreter{}, &fakeRetriever{}, generator, sessions).
		ProcessMessage(context.Background(), "s1", "what about the first?", func(string) error { return nil })

	require.NoError(t, err)
	require.Len(t, generator.lastInput.History, 2)
	assert.Equal(t, schema.User, generator.lastInput.History[0].Role)
	assert.Equal(t, schema.Assistant, generator.lastInput.History[1].Role)
}

func TestProcessVoiceMessageUsesVoiceMode(t *testing.T) {
	generator := &fakeGenerator{chunks: []string{"short answer."}}

	err := newService(&fakeInterpreter{}, &fakeRetriever{}, generator, &fakeSessions{}).
		ProcessVoiceMessage(context.Background(), "s1", "what do you do?", func(string) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, ai.ModeVoice, generator.lastInput.Mode)
}

func TestProcessMessageStopsWhenEmitFails(t *testing.T) {
	generator := &fakeGenerator{chunks: []string{"a", "b", "c"}}

	emitted := 0
	err := newService(&fakeInterpreter{}, &fakeRetriever{}, generator, &fakeSessions{}).
		ProcessMessage(context.Background(), "s1", "hello?", func(string) error {
			emitted++
			if emitted == 2 {
				return errors.New("client went away")
			}
			return nil
		})

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "client went away"))
	assert.Equal(t, 2, emitted)
}
