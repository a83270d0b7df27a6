package voice

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	modelvoice "github.com/asetia/portfolio-assistant/internal/model/voice"
	voiceservice "github.com/asetia/portfolio-assistant/internal/service/voice"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	tickInterval = time.Second
)

// ControllerFactory builds a turn controller bound to one connection's sink.
// Injected so tests can substitute controller wiring.
type ControllerFactory func(sink voiceservice.Sink) *voiceservice.Controller

// WebSocketHandler bridges a browser voice session to the turn controller.
// Inbound events are transcripts and speech-start notifications; outbound are
// state changes, speakable units and audio flushes.
type WebSocketHandler struct {
	newController ControllerFactory
	upgrader      websocket.Upgrader
	log           *zap.Logger
}

func NewWebSocketHandler(factory ControllerFactory, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		newController: factory,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// RegisterRoutes mounts the voice websocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/voice/ws/{sessionID}", h.handleWebSocket)
}

type inboundEvent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type outboundEvent struct {
	Type  string `json:"type"`
	State string `json:"state,omitempty"`
	Unit  string `json:"unit,omitempty"`
	Error string `json:"error,omitempty"`
}

// wsSink serializes controller effects onto the websocket. gorilla allows
// one concurrent writer, so every write goes through the mutex.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *zap.Logger
}

func (s *wsSink) send(ev outboundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(ev)
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *wsSink) Speak(unit string) error {
	return s.send(outboundEvent{Type: "unit", Unit: unit})
}

func (s *wsSink) ClearAudio() error {
	return s.send(outboundEvent{Type: "clear_audio"})
}

func (s *wsSink) StateChanged(phase modelvoice.Phase) {
	if err := s.send(outboundEvent{Type: "state", State: string(phase)}); err != nil {
		s.log.Debug("state event dropped", zap.Error(err))
	}
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn, log: h.log}
	controller := h.newController(sink)

	ctx := r.Context()
	done := make(chan struct{})
	defer close(done)

	// Safety-timeout ticks and keepalive pings share a goroutine.
	go func() {
		tick := time.NewTicker(tickInterval)
		ping := time.NewTicker(pingInterval)
		defer tick.Stop()
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				controller.Tick(ctx, sessionID)
			case <-ping.C:
				if err := sink.ping(); err != nil {
					return
				}
			}
		}
	}()

	h.log.Info("voice session connected", zap.String("session_id", sessionID))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("voice session closed unexpectedly", zap.Error(err))
			}
			return
		}

		var ev inboundEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			_ = sink.send(outboundEvent{Type: "error", Error: "malformed event"})
			continue
		}

		switch ev.Type {
		case "transcript":
			controller.HandleTranscript(ctx, sessionID, ev.Text)
		case "speech_start":
			controller.HandleSpeechDetected(ctx, sessionID)
		default:
			_ = sink.send(outboundEvent{Type: "error", Error: "unknown event type"})
		}
	}
}
