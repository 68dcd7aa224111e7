// Package memstore is an in-memory stand-in for the Supabase backend. It keeps
// the same contract as the HTTP client: bcrypt-checked credentials, signed
// access tokens, rotating refresh tokens and owner-checked rows.
package memstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/auth"
	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// timestampLayout has a fixed width so timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const refreshTTL = 30 * 24 * time.Hour

type user struct {
	id       string
	email    string
	name     string
	password []byte
}

func (u *user) identity() domain.Identity {
	return domain.Identity{ID: u.id, Email: u.email, Name: domain.DisplayName(u.email, u.name)}
}

type refreshEntry struct {
	userID    string
	expiresAt time.Time
}

// Store implements port.AuthBackend and port.RowStore in memory.
type Store struct {
	signer   *auth.Signer
	verifier *auth.Verifier
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.RWMutex
	users   map[string]*user // by lower-cased email
	refresh map[string]refreshEntry
	tables  map[string][]row
	lastTS  time.Time
}

var (
	_ port.AuthBackend = (*Store)(nil)
	_ port.RowStore    = (*Store)(nil)
)

// New creates an empty backend. Tokens are signed by signer and checked by verifier.
func New(signer *auth.Signer, verifier *auth.Verifier, logger *zap.Logger) *Store {
	return &Store{
		signer:   signer,
		verifier: verifier,
		logger:   logger,
		now:      time.Now,
		users:    make(map[string]*user),
		refresh:  make(map[string]refreshEntry),
		tables:   make(map[string][]row),
	}
}

// --- AuthBackend ---

// SignInWithPassword checks credentials. Unknown email and wrong password
// fail the same way.
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	s.mu.RLock()
	u, ok := s.users[strings.ToLower(email)]
	s.mu.RUnlock()

	if !ok {
		// Spend the same bcrypt time as a real check.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, &domain.ErrInvalidCredentials{}
	}
	if err := bcrypt.CompareHashAndPassword(u.password, []byte(password)); err != nil {
		return nil, &domain.ErrInvalidCredentials{}
	}
	return s.issue(u)
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.MinCost)

// SignUp registers an account, creates its empty profile row and signs it in.
func (s *Store) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.SignUpResult, error) {
	if !strings.Contains(email, "@") {
		return nil, &domain.ErrValidation{Field: "email", Message: "must be a valid email address"}
	}
	if len(password) < 6 {
		return nil, &domain.ErrValidation{Field: "password", Message: "must have at least 6 characters"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	name, _ := metadata["name"].(string)

	s.mu.Lock()
	key := strings.ToLower(email)
	if _, exists := s.users[key]; exists {
		s.mu.Unlock()
		return nil, &domain.ErrConflict{Message: "email already registered"}
	}
	u := &user{id: uuid.NewString(), email: email, name: name, password: hash}
	s.users[key] = u
	ts := s.timestamp()
	s.tables["profiles"] = append(s.tables["profiles"], row{
		"id":         u.id,
		"email":      email,
		"name":       nil,
		"created_at": ts,
		"updated_at": ts,
	})
	s.mu.Unlock()

	s.logger.Debug("memstore: user registered", zap.String("user_id", u.id))

	sess, err := s.issue(u)
	if err != nil {
		return nil, err
	}
	return &domain.SignUpResult{User: u.identity(), Session: sess}, nil
}

// SignOut revokes every refresh token of the token's owner. Unknown tokens are ignored.
func (s *Store) SignOut(ctx context.Context, accessToken string) error {
	claims, err := s.verifier.Verify(accessToken)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, e := range s.refresh {
		if e.userID == claims.Subject {
			delete(s.refresh, hash)
		}
	}
	return nil
}

// RefreshSession rotates a refresh token.
func (s *Store) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	hash := hashToken(refreshToken)

	s.mu.Lock()
	e, ok := s.refresh[hash]
	delete(s.refresh, hash)
	var u *user
	if ok {
		u = s.userByID(e.userID)
	}
	s.mu.Unlock()

	if !ok || u == nil || s.now().After(e.expiresAt) {
		return nil, &domain.ErrUnauthenticated{Operation: "refresh session"}
	}
	return s.issue(u)
}

// GetUser resolves the identity behind an access token.
func (s *Store) GetUser(ctx context.Context, accessToken string) (*domain.Identity, error) {
	claims, err := s.verifier.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	u := s.userByID(claims.Subject)
	s.mu.RUnlock()
	if u == nil {
		return nil, &domain.ErrUnauthenticated{Operation: "get user"}
	}
	ident := u.identity()
	return &ident, nil
}

func (s *Store) issue(u *user) (*domain.Session, error) {
	sessionID := uuid.NewString()
	access, expires, err := s.signer.Sign(u.identity(), sessionID)
	if err != nil {
		return nil, err
	}
	refresh, hash, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.refresh[hash] = refreshEntry{userID: u.id, expiresAt: s.now().Add(refreshTTL)}
	s.mu.Unlock()

	return &domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    expires,
		User:         u.identity(),
	}, nil
}

// userByID scans users. Caller holds s.mu.
func (s *Store) userByID(id string) *user {
	for _, u := range s.users {
		if u.id == id {
			return u
		}
	}
	return nil
}

// timestamp returns a strictly increasing creation time. Caller holds s.mu.
func (s *Store) timestamp() string {
	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = now
	return now.Format(timestampLayout)
}

func generateRefreshToken() (raw string, hashed string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	return raw, hashToken(raw), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
