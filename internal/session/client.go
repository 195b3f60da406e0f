package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"skytrack/internal/supabase"

	"github.com/rs/zerolog"
)

// refreshLeeway refreshes tokens that are about to expire, not only expired ones.
const refreshLeeway = 60 * time.Second

// Backend is the part of the auth backend the session clients need.
type Backend interface {
	RefreshSession(ctx context.Context, refreshToken string) (*supabase.Session, error)
	ValidateAccessToken(ctx context.Context, accessToken string) (*supabase.User, error)
}

// ServerClient is a request-scoped auth client with read/write cookie access.
// Build one per request; it must not outlive the request.
type ServerClient struct {
	backend Backend
	store   *Store
	jar     CookieJar
	logger  zerolog.Logger
	now     func() time.Time
}

func NewServerClient(backend Backend, store *Store, jar CookieJar, logger zerolog.Logger) *ServerClient {
	return &ServerClient{backend: backend, store: store, jar: jar, logger: logger, now: time.Now}
}

// Session returns the current session, refreshing it through the backend when
// the access token is expired or about to expire. The refreshed session is
// written back through the jar. Sessions the backend rejects are cleared and
// reported as absent.
func (c *ServerClient) Session(ctx context.Context) (*supabase.Session, error) {
	sess, err := c.store.Load(c.jar)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Dropping unreadable session cookie")
		c.store.Clear(c.jar)
		return nil, nil
	}
	if sess == nil || !sess.ExpiresWithin(c.now(), refreshLeeway) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		c.store.Clear(c.jar)
		return nil, nil
	}

	next, err := c.backend.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		if errors.Is(err, supabase.ErrInvalidGrant) {
			c.logger.Info().Err(err).Msg("Refresh token rejected, clearing session")
			c.store.Clear(c.jar)
			return nil, nil
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if err := c.store.Save(c.jar, next); err != nil {
		return nil, err
	}
	return next, nil
}

// GetUser returns the authenticated user, refreshing the session first when needed.
func (c *ServerClient) GetUser(ctx context.Context) (*supabase.User, error) {
	sess, err := c.Session(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	return c.backend.ValidateAccessToken(ctx, sess.AccessToken)
}

// SetSession persists a session obtained from sign-in, code exchange or OTP verification.
func (c *ServerClient) SetSession(sess *supabase.Session) error {
	return c.store.Save(c.jar, sess)
}

// Clear removes the session cookies.
func (c *ServerClient) Clear() {
	c.store.Clear(c.jar)
}

// ReadOnlyClient resolves the user from cookies without refreshing or writing.
type ReadOnlyClient struct {
	backend Backend
	store   *Store
	view    CookieView
	logger  zerolog.Logger
}

func NewReadOnlyClient(backend Backend, store *Store, view CookieView, logger zerolog.Logger) *ReadOnlyClient {
	return &ReadOnlyClient{backend: backend, store: store, view: view, logger: logger}
}

// Session returns the stored session as-is.
func (c *ReadOnlyClient) Session() (*supabase.Session, error) {
	return c.store.Load(c.view)
}

// GetUser validates the stored access token. Missing, malformed or rejected
// sessions yield a nil user; only transport failures are returned as errors.
func (c *ReadOnlyClient) GetUser(ctx context.Context) (*supabase.User, error) {
	sess, err := c.store.Load(c.view)
	if err != nil || sess == nil {
		return nil, nil
	}
	u, err := c.backend.ValidateAccessToken(ctx, sess.AccessToken)
	if err != nil {
		if !isTransport(err) {
			c.logger.Debug().Err(err).Msg("Access token rejected")
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// isTransport reports whether err came from reaching the backend rather than
// from the token itself.
func isTransport(err error) bool {
	var apiErr *supabase.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var netErr net.Error
	var urlErr *url.Error
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.As(err, &netErr) || errors.As(err, &urlErr)
}
