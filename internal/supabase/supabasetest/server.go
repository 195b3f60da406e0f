// Package supabasetest runs an in-memory GoTrue server for tests.
package supabasetest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"skytrack/internal/supabase"
	"skytrack/internal/util"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	AnonKey   = "anon-key"
	JWTSecret = "super-secret-jwt-token-with-at-least-32-characters"
)

type account struct {
	user     supabase.User
	password string
}

type flow struct {
	userID    string
	challenge string
}

// Server is a fake Supabase auth backend. Codes, OTP hashes and refresh
// tokens are single use, like the real service.
type Server struct {
	*httptest.Server

	// AccessTTL is the lifetime of minted access tokens.
	AccessTTL time.Duration
	// AutoConfirm makes sign-up return a session.
	AutoConfirm bool

	mu       sync.Mutex
	accounts map[string]*account // by email
	byID     map[string]*account
	codes    map[string]flow
	otps     map[string]string
	refresh  map[string]string
	revoked  map[string]bool
	calls    map[string]int
}

func NewServer() *Server {
	s := &Server{
		AccessTTL: time.Hour,
		accounts:  map[string]*account{},
		byID:      map[string]*account{},
		codes:     map[string]flow{},
		otps:      map[string]string{},
		refresh:   map[string]string{},
		revoked:   map[string]bool{},
		calls:     map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Calls returns how often a path (e.g. "/auth/v1/token") was hit.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// TotalCalls counts every request the server received.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Server) AddUser(email, password string, metadata map[string]any) supabase.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := supabase.User{
		ID:           uuid.NewString(),
		Aud:          "authenticated",
		Role:         "authenticated",
		Email:        email,
		UserMetadata: metadata,
		CreatedAt:    time.Now().UTC(),
	}
	a := &account{user: u, password: password}
	s.accounts[email] = a
	s.byID[u.ID] = a
	return u
}

// IssueCode creates a PKCE auth code for userID bound to verifier.
func (s *Server) IssueCode(userID, verifier string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := randomToken()
	s.codes[code] = flow{userID: userID, challenge: challenge(verifier)}
	return code
}

// IssueOTP creates an email token hash for userID.
func (s *Server) IssueOTP(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := randomToken()
	s.otps[h] = userID
	return h
}

// IssueSession mints a session without a sign-in request.
func (s *Server) IssueSession(userID string) supabase.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked(userID)
}

// MintAccessToken signs an access token for userID with the given expiry.
func (s *Server) MintAccessToken(userID string, exp time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked(userID, exp)
}

func (s *Server) mintLocked(userID string, exp time.Time) string {
	claims := util.Claims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if a := s.byID[userID]; a != nil {
		claims.Email = a.user.Email
		claims.UserMetadata = a.user.UserMetadata
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
	if err != nil {
		panic(err)
	}
	return tok
}

func (s *Server) sessionLocked(userID string) supabase.Session {
	exp := time.Now().Add(s.AccessTTL)
	rt := randomToken()
	s.refresh[rt] = userID
	u := s.byID[userID].user
	return supabase.Session{
		AccessToken:  s.mintLocked(userID, exp),
		TokenType:    "bearer",
		ExpiresIn:    int(s.AccessTTL.Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: rt,
		User:         &u,
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	s.mu.Unlock()

	if r.Header.Get("apikey") != AnonKey {
		writeErr(w, http.StatusUnauthorized, "", "no_api_key", "Invalid API key")
		return
	}

	var body map[string]any
	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	str := func(k string) string { v, _ := body[k].(string); return v }

	switch {
	case r.URL.Path == "/auth/v1/token":
		s.token(w, r.URL.Query().Get("grant_type"), str)
	case r.URL.Path == "/auth/v1/signup":
		s.signup(w, str, body)
	case r.URL.Path == "/auth/v1/verify":
		s.mu.Lock()
		userID, ok := s.otps[str("token_hash")]
		delete(s.otps, str("token_hash"))
		if !ok {
			s.mu.Unlock()
			writeErr(w, http.StatusForbidden, "", "otp_expired", "Email link is invalid or has expired")
			return
		}
		sess := s.sessionLocked(userID)
		s.mu.Unlock()
		writeJSON(w, sess)
	case r.URL.Path == "/auth/v1/user":
		s.user(w, r, str)
	case r.URL.Path == "/auth/v1/logout":
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		s.revoked[tok] = true
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) token(w http.ResponseWriter, grant string, str func(string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch grant {
	case "password":
		a, ok := s.accounts[str("email")]
		if !ok || a.password != str("password") {
			writeErr(w, http.StatusBadRequest, "invalid_grant", "invalid_credentials", "Invalid login credentials")
			return
		}
		writeJSON(w, s.sessionLocked(a.user.ID))
	case "pkce":
		f, ok := s.codes[str("auth_code")]
		if !ok {
			writeErr(w, http.StatusNotFound, "", "flow_state_not_found", "invalid flow state, no valid flow state found")
			return
		}
		delete(s.codes, str("auth_code"))
		if f.challenge != challenge(str("code_verifier")) {
			writeErr(w, http.StatusBadRequest, "", "bad_code_verifier", "code challenge does not match previously saved code verifier")
			return
		}
		writeJSON(w, s.sessionLocked(f.userID))
	case "refresh_token":
		userID, ok := s.refresh[str("refresh_token")]
		if !ok {
			writeErr(w, http.StatusBadRequest, "invalid_grant", "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(s.refresh, str("refresh_token"))
		writeJSON(w, s.sessionLocked(userID))
	default:
		writeErr(w, http.StatusBadRequest, "unsupported_grant_type", "", "unsupported grant type")
	}
}

func (s *Server) signup(w http.ResponseWriter, str func(string) string, body map[string]any) {
	meta, _ := body["data"].(map[string]any)
	s.mu.Lock()
	_, exists := s.accounts[str("email")]
	s.mu.Unlock()
	if exists {
		writeErr(w, http.StatusUnprocessableEntity, "", "user_already_exists", "User already registered")
		return
	}
	u := s.AddUser(str("email"), str("password"), meta)
	if !s.AutoConfirm {
		writeJSON(w, u)
		return
	}
	writeJSON(w, s.IssueSession(u.ID))
}

func (s *Server) user(w http.ResponseWriter, r *http.Request, str func(string) string) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims, err := util.ValidateJWT(tok, JWTSecret)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || s.revoked[tok] {
		writeErr(w, http.StatusUnauthorized, "", "bad_jwt", "invalid JWT")
		return
	}
	a, ok := s.byID[claims.Subject]
	if !ok {
		writeErr(w, http.StatusNotFound, "", "user_not_found", "User not found")
		return
	}
	if r.Method == http.MethodPut && str("password") != "" {
		a.password = str("password")
	}
	writeJSON(w, a.user)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, oauthErr, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if oauthErr != "" {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": oauthErr, "error_description": msg, "error_code": code})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"code": status, "error_code": code, "msg": msg})
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
