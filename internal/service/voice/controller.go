package voice

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	chatmodel "github.com/asetia/portfolio-assistant/internal/model/chat"
	"github.com/asetia/portfolio-assistant/internal/model/voice"
	"github.com/asetia/portfolio-assistant/internal/service/ai"
	"github.com/asetia/portfolio-assistant/internal/service/chat"
	"github.com/asetia/portfolio-assistant/internal/service/interpreter"
	"github.com/asetia/portfolio-assistant/internal/service/retrieval"
	"github.com/asetia/portfolio-assistant/internal/service/session"
)

// Clock abstracts time for the safety timeout so tests can drive it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock.
var SystemClock Clock = systemClock{}

// Sink receives the controller's outbound effects. Implementations bridge to
// the client connection; Speak hands over one speakable unit for synthesis.
type Sink interface {
	Speak(unit string) error
	ClearAudio() error
	StateChanged(phase voice.Phase)
}

// Controller runs the voice conversation state machine for one connection.
// Events arrive from the transport goroutine and from the turn goroutine; all
// state transitions happen under the mutex.
type Controller struct {
	interpreter chat.Interpreter
	retriever   chat.Retriever
	generator   chat.Generator
	sessions    chat.Sessions
	sink        Sink
	clock       Clock
	log         *zap.Logger

	safetyTimeout time.Duration
	topK          int

	mu             sync.Mutex
	phase          voice.Phase
	interrupted    bool
	turnID         int
	lastTransition time.Time
	turnCancel     context.CancelFunc
	userMessage    string
	spoken         []string
}

// Config carries the controller's tunables.
type Config struct {
	SafetyTimeout time.Duration
	TopK          int
}

func NewController(i chat.Interpreter, r chat.Retriever, g chat.Generator, s chat.Sessions, sink Sink, clock Clock, cfg Config, log *zap.Logger) *Controller {
	if cfg.SafetyTimeout <= 0 {
		cfg.SafetyTimeout = 15 * time.Second
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Controller{
		interpreter:   i,
		retriever:     r,
		generator:     g,
		sessions:      s,
		sink:          sink,
		clock:         clock,
		log:           log,
		safetyTimeout: cfg.SafetyTimeout,
		topK:          cfg.TopK,
		phase:         voice.PhaseListening,
	}
}

// Status reports the current phase for the transport layer.
func (c *Controller) Status() voice.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return voice.Status{Phase: c.phase, Interrupted: c.interrupted}
}

// HandleTranscript starts a new turn from a final transcript. A transcript
// arriving while a previous turn is still processing or speaking supersedes
// it: the old turn is interrupted and the new one takes over.
func (c *Controller) HandleTranscript(ctx context.Context, sessionID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	if c.phase != voice.PhaseListening {
		c.interruptLocked(ctx, sessionID)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	c.phase = voice.PhaseProcessing
	c.interrupted = false
	c.turnID++
	c.lastTransition = c.clock.Now()
	c.turnCancel = cancel
	c.userMessage = text
	c.spoken = nil
	turnID := c.turnID
	c.mu.Unlock()

	c.sink.StateChanged(voice.PhaseProcessing)
	go c.runTurn(turnCtx, turnID, sessionID, text)
}

// HandleSpeechDetected fires when the visitor starts talking. While the
// assistant is responding this is an interruption: audio is flushed, the
// stream abandoned, and only what was already spoken is persisted.
func (c *Controller) HandleSpeechDetected(ctx context.Context, sessionID string) {
	c.mu.Lock()
	if c.phase != voice.PhaseSpeaking && c.phase != voice.PhaseProcessing {
		c.mu.Unlock()
		return
	}
	c.interruptLocked(ctx, sessionID)
	c.mu.Unlock()

	c.sink.StateChanged(voice.PhaseListening)
}

// Tick enforces the safety timeout: a turn that makes no state transition
// for longer than the deadline is abandoned so the conversation can never
// wedge. Each transition refreshes the deadline, so a turn that just moved
// from processing to speaking keeps its response.
func (c *Controller) Tick(ctx context.Context, sessionID string) {
	c.mu.Lock()
	if c.phase == voice.PhaseListening || c.clock.Now().Sub(c.lastTransition) < c.safetyTimeout {
		c.mu.Unlock()
		return
	}
	c.log.Warn("voice turn exceeded safety timeout, resetting",
		zap.String("session_id", sessionID),
		zap.String("phase", string(c.phase)))
	c.interruptLocked(ctx, sessionID)
	c.mu.Unlock()

	c.sink.StateChanged(voice.PhaseListening)
}

// interruptLocked abandons the in-flight turn. Callers hold c.mu.
func (c *Controller) interruptLocked(ctx context.Context, sessionID string) {
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	if c.phase == voice.PhaseSpeaking {
		if err := c.sink.ClearAudio(); err != nil {
			c.log.Warn("clear audio failed", zap.Error(err))
		}
	}

	// Persist what the visitor actually heard so the next turn's context
	// matches their experience.
	if len(c.spoken) > 0 {
		heard := strings.Join(c.spoken, " ")
		if err := c.sessions.Append(ctx, sessionID,
			chatmodel.Turn{Role: chatmodel.RoleUser, Content: c.userMessage},
			chatmodel.Turn{Role: chatmodel.RoleAssistant, Content: heard},
		); err != nil {
			c.log.Warn("failed to persist interrupted turn", zap.Error(err))
		}
	}

	c.phase = voice.PhaseListening
	c.interrupted = true
	c.spoken = nil
}

// runTurn executes one voice turn end to end on its own goroutine.
func (c *Controller) runTurn(ctx context.Context, turnID int, sessionID, text string) {
	history := c.sessions.History(ctx, sessionID)

	var reply string
	switch d := c.interpreter.Interpret(ctx, text, session.FormatHistory(history)).(type) {
	case interpreter.EarlyExit:
		if !c.speak(ctx, turnID, d.Response) {
			return
		}
		reply = d.Response

	case interpreter.NeedsRetrieval:
		var retrievedContext string
		if result, err := c.retriever.Search(ctx, d.Query, c.topK); err != nil {
			c.log.Warn("voice retrieval failed, answering without context", zap.Error(err))
		} else {
			retrievedContext = retrieval.FormatContext(result)
		}

		stream, err := c.generator.Stream(ctx, ai.Input{
			Mode:    ai.ModeVoice,
			Message: text,
			History: toMessages(history),
			Context: retrievedContext,
		})
		if err != nil {
			c.log.Error("voice generation failed", zap.Error(err))
			c.finishTurn(turnID)
			return
		}

		reply, err = c.speakStream(ctx, turnID, stream)
		if err != nil {
			return
		}
	}

	c.mu.Lock()
	stale := turnID != c.turnID || c.interrupted
	if !stale {
		c.phase = voice.PhaseListening
		c.turnCancel = nil
		c.spoken = nil
	}
	c.mu.Unlock()
	if stale {
		return
	}

	if err := c.sessions.Append(ctx, sessionID,
		chatmodel.Turn{Role: chatmodel.RoleUser, Content: text},
		chatmodel.Turn{Role: chatmodel.RoleAssistant, Content: reply},
	); err != nil {
		c.log.Warn("failed to persist voice turn", zap.Error(err))
	}
	c.sink.StateChanged(voice.PhaseListening)
}

// speakStream chunks the token stream at sentence boundaries and forwards
// each unit to the sink as soon as it is complete.
func (c *Controller) speakStream(ctx context.Context, turnID int, stream *schema.StreamReader[*schema.Message]) (string, error) {
	defer stream.Close()

	var full strings.Builder
	var pending string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return full.String(), ctx.Err()
			}
			c.log.Error("voice stream failed", zap.Error(err))
			c.finishTurn(turnID)
			return full.String(), err
		}

		pending += chunk.Content
		units, rest := splitUnits(pending)
		pending = rest
		for _, unit := range units {
			if !c.speak(ctx, turnID, unit) {
				return full.String(), context.Canceled
			}
			full.WriteString(unit)
			full.WriteString(" ")
		}
	}

	if rest := strings.TrimSpace(pending); rest != "" {
		if !c.speak(ctx, turnID, rest) {
			return full.String(), context.Canceled
		}
		full.WriteString(rest)
	}
	return strings.TrimSpace(full.String()), nil
}

// speak forwards one unit to the sink, recording it as heard. Returns false
// when the turn was interrupted or superseded.
func (c *Controller) speak(ctx context.Context, turnID int, unit string) bool {
	c.mu.Lock()
	if ctx.Err() != nil || turnID != c.turnID || c.interrupted {
		c.mu.Unlock()
		return false
	}
	entering := c.phase != voice.PhaseSpeaking
	if entering {
		c.lastTransition = c.clock.Now()
	}
	c.phase = voice.PhaseSpeaking
	c.spoken = append(c.spoken, unit)
	c.mu.Unlock()

	if entering {
		c.sink.StateChanged(voice.PhaseSpeaking)
	}
	if err := c.sink.Speak(unit); err != nil {
		c.log.Warn("speak failed", zap.Error(err))
		return false
	}
	return true
}

// finishTurn returns the controller to listening after a failed turn.
func (c *Controller) finishTurn(turnID int) {
	c.mu.Lock()
	if turnID == c.turnID && !c.interrupted {
		c.phase = voice.PhaseListening
		c.turnCancel = nil
		c.spoken = nil
	}
	c.mu.Unlock()
	c.sink.StateChanged(voice.PhaseListening)
}

var sentenceEnders = []byte{'.', '!', '?'}

// splitUnits cuts text at sentence boundaries, returning complete speakable
// units and the unfinished remainder.
func splitUnits(text string) ([]string, string) {
	var units []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		if !isEnder(text[i]) {
			continue
		}
		next := text[i+1]
		if next != ' ' && next != '\n' {
			continue
		}
		unit := strings.TrimSpace(text[start : i+1])
		if unit != "" {
			units = append(units, unit)
		}
		start = i + 1
	}
	return units, text[start:]
}

func isEnder(b byte) bool {
	for _, e := range sentenceEnders {
		if b == e {
			return true
		}
	}
	return false
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
