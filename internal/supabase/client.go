package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"skytrack/internal/util"

	"github.com/rs/zerolog"
)

// Client talks to the GoTrue REST API of a Supabase project. It holds no
// user state; sessions live in cookies and are passed in per call.
type Client struct {
	baseURL   string
	anonKey   string
	jwtSecret string
	http      *http.Client
	logger    zerolog.Logger
}

// NewClient returns ErrNotConfigured when the project URL or anon key is empty.
// jwtSecret is optional; when set, access tokens are verified locally instead
// of with a round trip to /auth/v1/user.
func NewClient(baseURL, anonKey, jwtSecret string, logger zerolog.Logger) (*Client, error) {
	if baseURL == "" || anonKey == "" {
		return nil, ErrNotConfigured
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		anonKey:   anonKey,
		jwtSecret: jwtSecret,
		http:      &http.Client{Timeout: 10 * time.Second},
		logger:    logger.With().Str("service", "SupabaseAuth").Logger(),
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/auth/v1" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends body as JSON and decodes a 2xx response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling supabase auth %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading supabase auth response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		c.logger.Debug().
			Int("status_code", resp.StatusCode).
			Str("path", path).
			Str("error_code", apiErr.Code).
			Msg("Supabase auth returned error")
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding supabase auth response: %w", err)
	}
	return nil
}

func (c *Client) tokenGrant(ctx context.Context, grantType string, body any) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {grantType}}, "", body, &s); err != nil {
		return nil, err
	}
	if s.AccessToken == "" {
		return nil, ErrNoSession
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	return &s, nil
}

// SignInWithPassword runs the password grant.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return c.tokenGrant(ctx, "password", map[string]string{"email": email, "password": password})
}

// ExchangeCodeForSession trades a single-use PKCE auth code for a session.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*Session, error) {
	return c.tokenGrant(ctx, "pkce", map[string]string{"auth_code": code, "code_verifier": codeVerifier})
}

// RefreshSession rotates the refresh token. A used or revoked token yields ErrInvalidGrant.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	return c.tokenGrant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// SignUpParams are the fields of a GoTrue sign-up.
type SignUpParams struct {
	Email               string
	Password            string
	Data                map[string]any
	RedirectTo          string
	CodeChallenge       string
	CodeChallengeMethod string
}

// SignUpResult holds a session when the project auto-confirms emails and only
// the user otherwise.
type SignUpResult struct {
	Session *Session
	User    *User
}

func (c *Client) SignUp(ctx context.Context, p SignUpParams) (*SignUpResult, error) {
	body := map[string]any{"email": p.Email, "password": p.Password}
	if len(p.Data) > 0 {
		body["data"] = p.Data
	}
	if p.CodeChallenge != "" {
		body["code_challenge"] = p.CodeChallenge
		body["code_challenge_method"] = p.CodeChallengeMethod
	}
	var query url.Values
	if p.RedirectTo != "" {
		query = url.Values{"redirect_to": {p.RedirectTo}}
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", query, "", body, &raw); err != nil {
		return nil, err
	}

	// With autoconfirm GoTrue returns a session, otherwise the bare user.
	var s Session
	if err := json.Unmarshal(raw, &s); err == nil && s.AccessToken != "" {
		return &SignUpResult{Session: &s, User: s.User}, nil
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decoding sign-up response: %w", err)
	}
	return &SignUpResult{User: &u}, nil
}

// VerifyOTP verifies an email one-time token hash (signup, magiclink, recovery,
// invite, email_change) and returns the resulting session.
func (c *Client) VerifyOTP(ctx context.Context, tokenHash, otpType string) (*Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, "/verify", nil, "", map[string]string{"token_hash": tokenHash, "type": otpType}, &s)
	if err != nil {
		return nil, err
	}
	if s.AccessToken == "" {
		return nil, ErrNoSession
	}
	return &s, nil
}

// GetUser fetches the user behind an access token from GoTrue.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdatePassword sets a new password for the user behind accessToken.
func (c *Client) UpdatePassword(ctx context.Context, accessToken, password string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodPut, "/user", nil, accessToken, map[string]string{"password": password}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SignOut revokes the refresh tokens of the current session only.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", url.Values{"scope": {"local"}}, accessToken, nil, nil)
}

// AuthorizeURL is where the browser goes to start an OAuth sign-in.
func (c *Client) AuthorizeURL(provider, redirectTo, codeChallenge string) string {
	q := url.Values{
		"provider":              {provider},
		"redirect_to":           {redirectTo},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"s256"},
	}
	return c.endpoint("/authorize", q)
}

// ValidateAccessToken resolves the user of an access token, locally when a
// JWT key is configured and through GET /user otherwise.
func (c *Client) ValidateAccessToken(ctx context.Context, accessToken string) (*User, error) {
	if c.jwtSecret == "" {
		return c.GetUser(ctx, accessToken)
	}
	claims, err := util.ValidateJWT(accessToken, c.jwtSecret)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           claims.Subject,
		Role:         claims.Role,
		Email:        claims.Email,
		Phone:        claims.Phone,
		UserMetadata: claims.UserMetadata,
		AppMetadata:  claims.AppMetadata,
	}, nil
}
