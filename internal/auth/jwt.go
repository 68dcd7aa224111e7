package auth

import (
	"fmt"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// Access tokens in the Supabase shape
// ============================================================

const (
	roleAuthenticated = "authenticated"
	audience          = "authenticated"
)

// Claims are the claims Supabase puts in user access tokens.
type Claims struct {
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the claims into the principal they describe.
func (c *Claims) Identity() domain.Identity {
	name, _ := c.UserMetadata["name"].(string)
	return domain.Identity{
		ID:    c.Subject,
		Email: c.Email,
		Name:  domain.DisplayName(c.Email, name),
	}
}

// Verifier validates HS256 access tokens signed with the project's JWT secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses token and returns its claims. Anything other than a valid,
// unexpired token for an authenticated user yields ErrUnauthenticated.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithAudience(audience),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return nil, &domain.ErrUnauthenticated{Operation: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, &domain.ErrUnauthenticated{Operation: "invalid token"}
	}
	if claims.Role != roleAuthenticated {
		return nil, &domain.ErrUnauthenticated{Operation: "token role is not authenticated"}
	}
	return claims, nil
}

// Signer issues access tokens that Verifier accepts.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer issuing tokens valid for ttl.
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign issues an access token for ident and returns it with its expiry.
func (s *Signer) Sign(ident domain.Identity, sessionID string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		Email:        ident.Email,
		Role:         roleAuthenticated,
		UserMetadata: map[string]any{"name": ident.Name},
		SessionID:    sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ident.ID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "consultant-bfa",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}
