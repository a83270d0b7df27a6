package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatmodel "github.com/asetia/portfolio-assistant/internal/model/chat"
	"github.com/asetia/portfolio-assistant/pkg/utils"
)

// Orchestrator runs one chat turn, emitting response deltas.
type Orchestrator interface {
	ProcessMessage(ctx context.Context, sessionID, message string, emit func(delta string) error) error
}

// SessionStore provisions and clears sessions.
type SessionStore interface {
	Create(ctx context.Context) (chatmodel.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// Handler serves the session and chat endpoints.
type Handler struct {
	chatSvc  Orchestrator
	sessions SessionStore
	log      *zap.Logger
}

func New(chatSvc Orchestrator, sessions SessionStore, log *zap.Logger) *Handler {
	return &Handler{chatSvc: chatSvc, sessions: sessions, log: log}
}

// RegisterRoutes mounts the chat endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.createSession)
	r.Delete("/session/{sessionID}", h.deleteSession)
	r.Post("/chat", h.handleChat)
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Create(r.Context())
	if err != nil {
		h.log.Error("session creation failed", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	utils.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.WriteError(w, http.StatusBadRequest, "session id is required")
		return
	}
	if err := h.sessions.Delete(r.Context(), sessionID); err != nil {
		h.log.Warn("session delete failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type streamEvent struct {
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		utils.WriteError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.Header.Get("X-Session-ID")
	}
	if sessionID == "" {
		session, err := h.sessions.Create(r.Context())
		if err != nil {
			h.log.Error("implicit session creation failed", zap.Error(err))
			utils.WriteError(w, http.StatusInternalServerError, "could not create session")
			return
		}
		sessionID = session.ID
	}
	w.Header().Set("X-Session-ID", sessionID)

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if err := sse.Send("start", streamEvent{SessionID: sessionID}); err != nil {
		return
	}

	err = h.chatSvc.ProcessMessage(r.Context(), sessionID, req.Message, func(delta string) error {
		return sse.Send("delta", streamEvent{Content: delta})
	})
	if err != nil {
		h.log.Error("chat turn failed",
			zap.String("session_id", sessionID), zap.Error(err))
		_ = sse.Send("error", streamEvent{Error: "something went wrong generating a response"})
		return
	}

	_ = sse.Send("end", streamEvent{SessionID: sessionID})
}
