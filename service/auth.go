package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/geogenius/rda/rda"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

// AuthHeader carries the session token on every request.
const AuthHeader = "X-Auth-Token"

// DefaultTokenLifetime is assumed for tokens whose expiry cannot be read.
var DefaultTokenLifetime = 12 * time.Hour

// Credentials are the access and secret keys exchanged for a session token.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// credentialSource logs in with access/secret keys each time a token is needed.
type credentialSource struct {
	client   *http.Client
	endpoint string
	creds    Credentials
}

// Token implements oauth2.TokenSource.
func (s *credentialSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{"ak": s.creds.AccessKey, "sk": s.creds.SecretKey})
	if err != nil {
		return nil, err
	}
	url := s.endpoint + "/users/credentials/login"
	resp, err := s.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("login request to %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &rda.ServiceError{
			Class:   rda.ErrBadRequest,
			Op:      "login",
			Status:  resp.StatusCode,
			Message: errorMessage(data),
		}
	}
	var m struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &m); err != nil || m.Token == "" {
		return nil, fmt.Errorf("login response from %s holds no token", url)
	}
	rda.Infof("Obtained new session token from %s\n", s.endpoint)
	return &oauth2.Token{AccessToken: m.Token, Expiry: tokenExpiry(m.Token)}, nil
}

// tokenExpiry reads the exp claim of a JWT without verifying it.  Opaque tokens
// get DefaultTokenLifetime.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(DefaultTokenLifetime)
}

// Session hands out valid tokens, refreshing them silently on expiry or when the
// service rejects one.
type Session struct {
	client   *http.Client
	endpoint string
	login    oauth2.TokenSource // nil when using a static token

	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewSession returns a session for the credentials or static token in cfg.  A
// session with neither sends no auth header.
func NewSession(client *http.Client, cfg Config) (*Session, error) {
	s := &Session{client: client, endpoint: cfg.user()}
	switch {
	case cfg.AccessKey != "" || cfg.SecretKey != "":
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("both access key and secret key are required")
		}
		s.login = &credentialSource{
			client:   client,
			endpoint: s.endpoint,
			creds:    Credentials{cfg.AccessKey, cfg.SecretKey},
		}
		s.src = oauth2.ReuseTokenSource(nil, s.login)
	case cfg.Token != "":
		s.src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	}
	return s, nil
}

// HasCredentials is true if tokens are obtained by login.
func (s *Session) HasCredentials() bool {
	return s.login != nil
}

// Token returns the current token, logging in if it is missing or expired.  An
// empty string means requests are sent without authorization.
func (s *Session) Token() (string, error) {
	s.mu.Lock()
	src := s.src
	s.mu.Unlock()
	if src == nil {
		return "", nil
	}
	tok, err := src.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Invalidate forces the next Token call to log in again.
func (s *Session) Invalidate() {
	if s.login == nil {
		return
	}
	s.mu.Lock()
	s.src = oauth2.ReuseTokenSource(nil, s.login)
	s.mu.Unlock()
}

// CheckToken asks the user service whether a token is still accepted.
func (s *Session) CheckToken(ctx context.Context, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/users/credentials", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set(AuthHeader, token)
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// ValidToken returns a token the user service accepts, logging in again once if
// the cached token was rejected.
func (s *Session) ValidToken(ctx context.Context) (string, error) {
	token, err := s.Token()
	if err != nil || token == "" || s.login == nil {
		return token, err
	}
	ok, err := s.CheckToken(ctx, token)
	if err != nil {
		return "", err
	}
	if ok {
		return token, nil
	}
	rda.Infof("Session token rejected, logging in again\n")
	s.Invalidate()
	return s.Token()
}

// Transport returns a RoundTripper adding the session token to each request.  On
// a 401 response the token is invalidated so the next request logs in again.
func (s *Session) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &authTransport{base: base, session: s}
}

type authTransport struct {
	base    http.RoundTripper
	session *Session
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.session.Token()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set(AuthHeader, token)
	}
	resp, err := t.base.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		t.session.Invalidate()
	}
	return resp, err
}
