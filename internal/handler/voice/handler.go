package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatservice "github.com/asetia/portfolio-assistant/internal/service/chat"
	"github.com/asetia/portfolio-assistant/internal/service/speech"
	"github.com/asetia/portfolio-assistant/pkg/utils"
)

// Orchestrator runs one voice turn, emitting response deltas.
type Orchestrator interface {
	ProcessVoiceMessage(ctx context.Context, sessionID, message string, emit func(delta string) error) error
}

// CredentialMinter provisions short-lived transcription keys.
type CredentialMinter interface {
	MintToken(ctx context.Context) (speech.Token, error)
}

// Handler serves the voice chat and credential endpoints.
type Handler struct {
	chatSvc Orchestrator
	creds   CredentialMinter
	log     *zap.Logger
}

func New(chatSvc Orchestrator, creds CredentialMinter, log *zap.Logger) *Handler {
	return &Handler{chatSvc: chatSvc, creds: creds, log: log}
}

// RegisterRoutes mounts the voice endpoints on the router. The main router
// mounts HandleVoiceChat and HandleToken separately so each can carry its own
// rate limit.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/voice/chat", h.HandleVoiceChat)
	r.Get("/voice/token", h.HandleToken)
}

type voiceChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// HandleVoiceChat streams the spoken answer as plain text chunks. The client
// feeds them straight into synthesis, so no event framing.
func (h *Handler) HandleVoiceChat(w http.ResponseWriter, r *http.Request) {
	var req voiceChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.Header.Get("X-Session-ID")
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	err := h.chatSvc.ProcessVoiceMessage(r.Context(), sessionID, req.Message, func(delta string) error {
		if _, err := w.Write([]byte(delta)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if errors.Is(err, chatservice.ErrEmptyMessage) {
			utils.WriteError(w, http.StatusBadRequest, "message is required")
			return
		}
		// Headers are already sent; all we can do is log and cut the stream.
		h.log.Error("voice chat turn failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.creds.MintToken(r.Context())
	if err != nil {
		if errors.Is(err, speech.ErrNotConfigured) {
			utils.WriteError(w, http.StatusServiceUnavailable, "voice is not available")
			return
		}
		h.log.Error("token mint failed", zap.Error(err))
		utils.WriteError(w, http.StatusBadGateway, "could not provision voice credentials")
		return
	}
	utils.WriteJSON(w, http.StatusOK, token)
}
