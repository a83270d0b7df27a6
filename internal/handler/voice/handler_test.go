package voice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	chatservice "github.com/asetia/portfolio-assistant/internal/service/chat"
	"github.com/asetia/portfolio-assistant/internal/service/speech"
)

type fakeOrchestrator struct {
	deltas []string
	err    error
	gotID  string
}

func (f *fakeOrchestrator) ProcessVoiceMessage(_ context.Context, sessionID, _ string, emit func(string) error) error {
	f.gotID = sessionID
	if f.err != nil {
		return f.err
	}
	for _, d := range f.deltas {
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

type fakeMinter struct {
	token speech.Token
	err   error
}

func (f *fakeMinter) MintToken(_ context.Context) (speech.Token, error) {
	return f.token, f.err
}

func newTestRouter(orch Orchestrator, minter CredentialMinter) http.Handler {
	r := chi.NewRouter()
	New(orch, minter, zap.NewNop()).RegisterRoutes(r)
	return r
}

func TestVoiceChatStreamsPlainText(t *testing.T) {
	orch := &fakeOrchestrator{deltas: []string{"I built ", "a chat app."}}
	router := newTestRouter(orch, &fakeMinter{})

	req := httptest.NewRequest(http.MethodPost, "/voice/chat",
		strings.NewReader(`{"message": "what did you build?", "sessionId": "s1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "I built a chat app.", rec.Body.String())
	assert.Equal(t, "s1", orch.gotID)
}

func TestVoiceChatEmptyMessage(t *testing.T) {
	orch := &fakeOrchestrator{err: chatservice.ErrEmptyMessage}
	router := newTestRouter(orch, &fakeMinter{})

	req := httptest.NewRequest(http.MethodPost, "/voice/chat", strings.NewReader(`{"message": ""}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVoiceChatFallsBackToHeaderSession(t *testing.T) {
	orch := &fakeOrchestrator{deltas: []string{"ok"}}
	router := newTestRouter(orch, &fakeMinter{})

	req := httptest.NewRequest(http.MethodPost, "/voice/chat", strings.NewReader(`{"message": "hi"}`))
	req.Header.Set("X-Session-ID", "header-session")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "header-session", orch.gotID)
}

func TestTokenEndpointReturnsMintedKey(t *testing.T) {
	expires := time.Now().UTC().Add(30 * time.Second)
	minter := &fakeMinter{token: speech.Token{Key: "scoped-key", ExpiresAt: expires}}
	router := newTestRouter(&fakeOrchestrator{}, minter)

	req := httptest.NewRequest(http.MethodGet, "/voice/token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scoped-key")
}

func TestTokenEndpointWhenVoiceDisabled(t *testing.T) {
	minter := &fakeMinter{err: speech.ErrNotConfigured}
	router := newTestRouter(&fakeOrchestrator{}, minter)

	req := httptest.NewRequest(http.MethodGet, "/voice/token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTokenEndpointProviderFailure(t *testing.T) {
	minter := &fakeMinter{err: errors.New("upstream 500")}
	router := newTestRouter(&fakeOrchestrator{}, minter)

	req := httptest.NewRequest(http.MethodGet, "/voice/token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
