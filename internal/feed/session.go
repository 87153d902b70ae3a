package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"
)

const (
	defaultBrokerRoot = "https://apiconnect.angelone.in"
	loginRoute        = "/rest/auth/angelbroking/user/v1/loginByPassword"
	logoutRoute       = "/rest/secure/angelbroking/user/v1/logout"
)

// SessionConfig holds broker credentials for the live feed. The TOTP code is
// generated from the shared secret at login time, never stored.
type SessionConfig struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string

	RootURL string // defaults to the broker API root
	Timeout time.Duration
}

// Session is an authenticated broker session. AuthToken authorizes REST
// calls; FeedToken authorizes the websocket stream.
type Session struct {
	AuthToken    string
	RefreshToken string
	FeedToken    string
	ClientCode   string

	cfg    SessionConfig
	client *http.Client
}

// Login generates a fresh TOTP code and exchanges credentials for session
// tokens.
func Login(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.APIKey == "" || cfg.ClientCode == "" || cfg.Password == "" || cfg.TOTPSecret == "" {
		return nil, errors.New("feed: incomplete session credentials")
	}
	if cfg.RootURL == "" {
		cfg.RootURL = defaultBrokerRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}

	code, err := totp.GenerateCode(cfg.TOTPSecret, time.Now())
	if err != nil {
		return nil, fmt.Errorf("feed: totp generation: %w", err)
	}

	s := &Session{
		ClientCode: cfg.ClientCode,
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
	}

	body, _ := json.Marshal(map[string]string{
		"clientcode": cfg.ClientCode,
		"password":   cfg.Password,
		"totp":       code,
	})
	resp, err := s.post(ctx, cfg.RootURL+loginRoute, body)
	if err != nil {
		return nil, fmt.Errorf("feed: login: %w", err)
	}

	var parsed struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			JWTToken     string `json:"jwtToken"`
			RefreshToken string `json:"refreshToken"`
			FeedToken    string `json:"feedToken"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("feed: login response: %w", err)
	}
	if !parsed.Status {
		return nil, fmt.Errorf("feed: login rejected: %s", parsed.Message)
	}

	s.AuthToken = parsed.Data.JWTToken
	s.RefreshToken = parsed.Data.RefreshToken
	s.FeedToken = parsed.Data.FeedToken

	log.Printf("[feed] session established for %s", cfg.ClientCode)
	return s, nil
}

// Logout terminates the broker session. Best effort.
func (s *Session) Logout(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"clientcode": s.ClientCode})
	_, err := s.post(ctx, s.cfg.RootURL+logoutRoute, body)
	return err
}

func (s *Session) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-PrivateKey", s.cfg.APIKey)
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	if s.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return raw, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return raw, nil
}
