package supabase

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured is returned when SUPABASE_URL or SUPABASE_ANON_KEY is missing.
	ErrNotConfigured = errors.New("supabase auth is not configured")
	// ErrInvalidGrant covers expired, used or unknown codes and refresh tokens.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrNoSession is returned when a call succeeds without issuing a session.
	ErrNoSession = errors.New("no session returned")
)

// User is the GoTrue user object.
type User struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud,omitempty"`
	Role             string         `json:"role,omitempty"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Metadata returns the first non-empty string value among keys in user_metadata.
func (u *User) Metadata(keys ...string) string {
	if u == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := u.UserMetadata[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Session is the token pair issued by GoTrue. It is what the session cookie stores.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

// ExpiresWithin reports whether the access token expires before now+d.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return !now.Add(d).Before(time.Unix(s.ExpiresAt, 0))
}

// APIError is a non-2xx GoTrue response. GoTrue answers in two shapes:
// {"code","error_code","msg"} and the OAuth {"error","error_description"}.
type APIError struct {
	Status      int    `json:"-"`
	Code        string `json:"error_code"`
	Msg         string `json:"msg"`
	OAuthError  string `json:"error"`
	Description string `json:"error_description"`
	Message     string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase auth %d: %s", e.Status, e.Text())
}

// Text is the human readable part of the error, suitable for a redirect query string.
func (e *APIError) Text() string {
	for _, s := range []string{e.Msg, e.Description, e.Message, e.Code, e.OAuthError} {
		if s != "" {
			return s
		}
	}
	return "authentication failed"
}

// Is lets errors.Is(err, ErrInvalidGrant) match the GoTrue codes for bad tokens and codes.
func (e *APIError) Is(target error) bool {
	if target != ErrInvalidGrant {
		return false
	}
	switch e.OAuthError {
	case "invalid_grant":
		return true
	}
	switch e.Code {
	case "refresh_token_not_found", "refresh_token_already_used", "flow_state_not_found",
		"flow_state_expired", "bad_code_verifier", "otp_expired", "session_not_found", "bad_jwt":
		return true
	}
	return false
}

// ErrorMessage extracts a user-facing message from err.
func ErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Text()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
