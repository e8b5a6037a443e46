// Package apitest provides an in-process fake of the ALL-IN identity
// endpoints for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"allin/internal/credential"
)

const (
	// Prefix is the API root path served by the fake.
	Prefix = "/api/"

	issuer = "allin-apitest"
)

var signingKey = []byte("apitest-signing-key")

type account struct {
	profile      credential.UserProfile
	passwordHash []byte
	entitlements []string
}

// Server is a fake backend. Use New and Close.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*account // by email
	revoked  map[string]bool     // by token
	nextID   int64
	tokenTTL time.Duration
	failures map[string][]int // path -> queued statuses
	gates    map[string]chan struct{}
	calls    map[string]int
	issued   int
}

// New starts a fake backend.
func New() *Server {
	s := &Server{
		accounts: make(map[string]*account),
		revoked:  make(map[string]bool),
		nextID:   1,
		tokenTTL: time.Hour,
		failures: make(map[string][]int),
		gates:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+Prefix+"auth/login", s.handleLogin)
	mux.HandleFunc("POST "+Prefix+"auth/register", s.handleRegister)
	mux.HandleFunc("GET "+Prefix+"auth/profile", s.authenticated(s.handleProfile))
	mux.HandleFunc("PUT "+Prefix+"auth/profile", s.authenticated(s.handleUpdateProfile))
	mux.HandleFunc("POST "+Prefix+"auth/refresh", s.authenticated(s.handleRefresh))
	mux.HandleFunc("POST "+Prefix+"auth/logout", s.authenticated(s.handleLogout))
	mux.HandleFunc("GET "+Prefix+"auth/permissions", s.authenticated(s.handlePermissions))

	s.Server = httptest.NewServer(s.intercept(mux))
	return s
}

// BaseURL returns the API root for api.ClientConfig.
func (s *Server) BaseURL() string {
	return s.URL + Prefix
}

// SetTokenTTL changes the lifetime of tokens issued from now on.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = ttl
}

// AddUser registers an account directly and returns its profile with an ID.
func (s *Server) AddUser(profile credential.UserProfile, password string, entitlements ...string) credential.UserProfile {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("apitest: hash password: %v", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	profile.ID = s.nextID
	s.nextID++
	s.accounts[strings.ToLower(profile.Email)] = &account{profile: profile, passwordHash: hash, entitlements: entitlements}
	return profile
}

// SetProfile replaces the stored profile of an existing account.
func (s *Server) SetProfile(profile credential.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[strings.ToLower(profile.Email)]; ok {
		acc.profile = profile
	}
}

// IssueToken returns a valid token for the account with the given email.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		panic("apitest: unknown account " + email)
	}
	tok, err := s.issueLocked(acc.profile)
	if err != nil {
		panic(err)
	}
	return tok
}

// Revoke makes the server reject token from now on.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

// FailNext queues an error status for the next calls to path (relative to
// Prefix, for example "auth/profile").
func (s *Server) FailNext(path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], statuses...)
}

// Hold blocks calls to path until the returned release function is called.
func (s *Server) Hold(path string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[path] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.gates, path)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, Prefix)

		s.mu.Lock()
		s.calls[path]++
		gate := s.gates[path]
		status := 0
		if queued := s.failures[path]; len(queued) > 0 {
			status = queued[0]
			s.failures[path] = queued[1:]
		}
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticated(next func(http.ResponseWriter, *http.Request, *account, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		acc, err := s.verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, acc, token)
	}
}

func (s *Server) verify(token string) (*account, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	email, _ := claims["email"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[token] {
		return nil, fmt.Errorf("token revoked")
	}
	acc, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("unknown account")
	}
	return acc, nil
}

// issueLocked signs a token for profile. s.mu must be held.
func (s *Server) issueLocked(profile credential.UserProfile) (string, error) {
	s.issued++
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   issuer,
		"sub":   strconv.FormatInt(profile.ID, 10),
		"email": profile.Email,
		"jti":   strconv.Itoa(s.issued),
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[strings.ToLower(strings.TrimSpace(req.Email))]
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.issueLocked(acc.profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, "login successful", map[string]any{"user": acc.profile, "bearerToken": token})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Email) == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "email and a password of at least 8 characters are required")
		return
	}

	s.mu.Lock()
	_, exists := s.accounts[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if exists {
		writeError(w, http.StatusConflict, "user already exists")
		return
	}

	profile := s.AddUser(credential.UserProfile{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Role:     "player",
	}, req.Password)

	s.mu.Lock()
	token, err := s.issueLocked(profile)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, "User created successfully", map[string]any{"user": profile, "bearerToken": token})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, acc *account, _ string) {
	s.mu.Lock()
	profile := acc.profile
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, "ok", profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, acc *account, _ string) {
	var req map[string]*string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	s.mu.Lock()
	p := &acc.profile
	for field, value := range req {
		if value == nil {
			continue
		}
		switch field {
		case "username":
			p.Username = *value
		case "phone":
			p.Phone = *value
		case "dateOfBirth":
			p.DateOfBirth = *value
		case "region":
			p.Region = *value
		}
	}
	profile := *p
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, "profile updated", profile)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, acc *account, _ string) {
	s.mu.Lock()
	token, err := s.issueLocked(acc.profile)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, "token refreshed", map[string]string{"bearerToken": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ *account, token string) {
	s.Revoke(token)
	writeJSON(w, http.StatusOK, "logged out", nil)
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request, acc *account, _ string) {
	s.mu.Lock()
	ents := append([]string(nil), acc.entitlements...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, "ok", map[string][]string{"entitlements": ents})
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}
