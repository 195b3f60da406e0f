package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"skytrack/internal/supabase"
)

const (
	base64Prefix = "base64-"
	// chunkSize keeps each cookie under the 4KB browser limit once attributes are added.
	chunkSize    = 3180
	maxChunks    = 10
	cookieMaxAge = 400 * 24 * time.Hour
	verifierTTL  = 10 * time.Minute
)

var errMalformed = errors.New("malformed session cookie")

// Store encodes sessions into the sb-<ref>-auth-token cookie, split into
// name.0, name.1, ... chunks when the value is too large.
type Store struct {
	Name   string
	Secure bool
}

func NewStore(name string, secure bool) *Store {
	return &Store{Name: name, Secure: secure}
}

func (s *Store) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func chunkName(base string, i int) string {
	return base + "." + strconv.Itoa(i)
}

// raw returns the joined cookie value, or "" when there is no session cookie.
func (s *Store) raw(v CookieView) string {
	if val, ok := v.Get(s.Name); ok {
		return val
	}
	var b strings.Builder
	for i := 0; i < maxChunks; i++ {
		part, ok := v.Get(chunkName(s.Name, i))
		if !ok {
			break
		}
		b.WriteString(part)
	}
	return b.String()
}

// Load decodes the session from the cookies. It returns nil, nil when no
// session cookie is present.
func (s *Store) Load(v CookieView) (*supabase.Session, error) {
	raw := s.raw(v)
	if raw == "" {
		return nil, nil
	}
	payload := []byte(raw)
	if strings.HasPrefix(raw, base64Prefix) {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimPrefix(raw, base64Prefix), "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		payload = decoded
	}
	var sess supabase.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if sess.AccessToken == "" {
		return nil, errMalformed
	}
	return &sess, nil
}

// Save writes sess, replacing any previous single or chunked cookie.
func (s *Store) Save(j CookieJar, sess *supabase.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	value := base64Prefix + base64.RawURLEncoding.EncodeToString(payload)

	if len(value) <= chunkSize {
		s.clearChunks(j, 0)
		j.Set(s.cookie(s.Name, value, cookieMaxAge))
		return nil
	}

	j.Delete(s.Name)
	n := 0
	for ; len(value) > 0; n++ {
		if n == maxChunks {
			return errors.New("session too large for cookie storage")
		}
		end := chunkSize
		if end > len(value) {
			end = len(value)
		}
		j.Set(s.cookie(chunkName(s.Name, n), value[:end], cookieMaxAge))
		value = value[end:]
	}
	s.clearChunks(j, n)
	return nil
}

// Clear removes the session cookie and all chunks.
func (s *Store) Clear(j CookieJar) {
	j.Delete(s.Name)
	s.clearChunks(j, 0)
}

func (s *Store) clearChunks(j CookieJar, from int) {
	for i := from; i < maxChunks; i++ {
		name := chunkName(s.Name, i)
		if _, ok := j.Get(name); !ok {
			return
		}
		j.Delete(name)
	}
}

func (s *Store) verifierName() string {
	return s.Name + "-code-verifier"
}

// SaveVerifier stores the PKCE verifier for the flow about to start.
func (s *Store) SaveVerifier(j CookieJar, verifier string) {
	j.Set(s.cookie(s.verifierName(), verifier, verifierTTL))
}

// TakeVerifier reads and removes the PKCE verifier.
func (s *Store) TakeVerifier(j CookieJar) string {
	v, _ := j.Get(s.verifierName())
	j.Delete(s.verifierName())
	return v
}
