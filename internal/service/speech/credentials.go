package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/asetia/portfolio-assistant/internal/config"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	maxAttempts    = 3
)

// ErrNotConfigured is returned when Deepgram credentials are missing from the
// environment.
var ErrNotConfigured = errors.New("voice transcription is not configured")

// Token is a short-lived browser credential for the transcription provider.
type Token struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CredentialService mints scoped short-lived Deepgram keys so the browser can
// open its own transcription socket without ever seeing the server key.
type CredentialService struct {
	apiKey    string
	projectID string
	tokenTTL  time.Duration
	baseURL   string
	client    *http.Client
	log       *zap.Logger
}

func NewCredentialService(cfg config.VoiceConfig, log *zap.Logger) *CredentialService {
	return &CredentialService{
		apiKey:    cfg.DeepgramAPIKey,
		projectID: cfg.DeepgramProjectID,
		tokenTTL:  cfg.TokenTTL,
		baseURL:   defaultBaseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

type keyRequest struct {
	Comment    string   `json:"comment"`
	Scopes     []string `json:"scopes"`
	TimeToLive int      `json:"time_to_live_in_seconds"`
}

type keyResponse struct {
	Key string `json:"key"`
}

// MintToken provisions a fresh scoped key. Network failures are retried with
// exponential backoff; HTTP error statuses are not, since the provider has
// already rejected the request.
func (s *CredentialService) MintToken(ctx context.Context) (Token, error) {
	if s.apiKey == "" || s.projectID == "" {
		return Token{}, ErrNotConfigured
	}

	body, err := json.Marshal(keyRequest{
		Comment:    "portfolio-voice-session",
		Scopes:     []string{"usage:write"},
		TimeToLive: int(s.tokenTTL.Seconds()),
	})
	if err != nil {
		return Token{}, fmt.Errorf("encode key request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/keys", s.baseURL, s.projectID)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return Token{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		token, retryable, err := s.requestKey(ctx, url, body)
		if err == nil {
			return token, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		s.log.Warn("token mint attempt failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return Token{}, fmt.Errorf("mint transcription token: %w", lastErr)
}

func (s *CredentialService) requestKey(ctx context.Context, url string, body []byte) (Token, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Token{}, false, err
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Token{}, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Token{}, false, fmt.Errorf("provider returned %d: %s", resp.StatusCode, payload)
	}

	var parsed keyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Token{}, false, fmt.Errorf("decode key response: %w", err)
	}
	if parsed.Key == "" {
		return Token{}, false, errors.New("provider returned an empty key")
	}

	return Token{Key: parsed.Key, ExpiresAt: time.Now().UTC().Add(s.tokenTTL)}, false, nil
}
