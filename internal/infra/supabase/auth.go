package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/resilience"
)

// ============================================================
// AuthBackend implementation via the GoTrue API
// ============================================================

type gotrueUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u gotrueUser) identity() domain.Identity {
	name, _ := u.UserMetadata["name"].(string)
	return domain.Identity{
		ID:    u.ID,
		Email: u.Email,
		Name:  domain.DisplayName(u.Email, name),
	}
}

type gotrueSession struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	RefreshToken string     `json:"refresh_token"`
	User         gotrueUser `json:"user"`
}

func (s gotrueSession) session(now time.Time) *domain.Session {
	expires := now.Add(time.Duration(s.ExpiresIn) * time.Second)
	if s.ExpiresAt > 0 {
		expires = time.Unix(s.ExpiresAt, 0)
	}
	return &domain.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    expires,
		User:         s.User.identity(),
	}
}

// signUpResponse is a session when the project auto-confirms emails, and a
// bare user otherwise.
type signUpResponse struct {
	gotrueSession
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func signInError(e *apiError) error {
	if e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized {
		return &domain.ErrInvalidCredentials{}
	}
	return e
}

func signUpError(e *apiError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == "user_already_exists", e.Code == "email_exists", strings.Contains(msg, "already registered"):
		return &domain.ErrConflict{Message: "email already registered"}
	case e.Code == "weak_password", strings.Contains(msg, "password"):
		return &domain.ErrValidation{Field: "password", Message: e.Message}
	case e.Code == "validation_failed", e.Code == "email_address_invalid":
		return &domain.ErrValidation{Field: "email", Message: e.Message}
	}
	return e
}

func tokenError(op string) func(*apiError) error {
	return func(e *apiError) error {
		if e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
			return &domain.ErrUnauthenticated{Operation: op}
		}
		return e
	}
}

// SignInWithPassword exchanges email and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	var sess *domain.Session
	err := c.call(ctx, "auth.signin", false, func(ctx context.Context) error {
		u := c.authURL("token", url.Values{"grant_type": {"password"}})
		req, err := c.newRequest(ctx, http.MethodPost, u, map[string]string{
			"email":    email,
			"password": password,
		}, c.anonKey)
		if err != nil {
			return resilience.Permanent(err)
		}
		body, err := c.send(req)
		if err != nil {
			return classify(err, signInError)
		}
		var gs gotrueSession
		if err := json.Unmarshal(body, &gs); err != nil {
			return resilience.Permanent(fmt.Errorf("decode session: %w", err))
		}
		sess = gs.session(time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SignUp creates an account. metadata lands in the user's user_metadata.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.SignUpResult, error) {
	var result *domain.SignUpResult
	err := c.call(ctx, "auth.signup", false, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodPost, c.authURL("signup", nil), map[string]any{
			"email":    email,
			"password": password,
			"data":     metadata,
		}, c.anonKey)
		if err != nil {
			return resilience.Permanent(err)
		}
		body, err := c.send(req)
		if err != nil {
			return classify(err, signUpError)
		}
		var resp signUpResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return resilience.Permanent(fmt.Errorf("decode signup: %w", err))
		}
		if resp.AccessToken != "" {
			sess := resp.gotrueSession.session(time.Now())
			result = &domain.SignUpResult{User: sess.User, Session: sess}
			return nil
		}
		result = &domain.SignUpResult{
			User: gotrueUser{ID: resp.ID, Email: resp.Email, UserMetadata: resp.UserMetadata}.identity(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SignOut revokes the session behind accessToken. A token the backend no
// longer knows counts as already signed out.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.call(ctx, "auth.signout", false, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodPost, c.authURL("logout", nil), nil, accessToken)
		if err != nil {
			return resilience.Permanent(err)
		}
		_, err = c.send(req)
		if apiErr, ok := err.(*apiError); ok {
			switch apiErr.Status {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				return nil
			}
		}
		if err != nil {
			return classify(err, func(e *apiError) error { return e })
		}
		return nil
	})
}

// RefreshSession trades a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	var sess *domain.Session
	err := c.call(ctx, "auth.refresh", false, func(ctx context.Context) error {
		u := c.authURL("token", url.Values{"grant_type": {"refresh_token"}})
		req, err := c.newRequest(ctx, http.MethodPost, u, map[string]string{
			"refresh_token": refreshToken,
		}, c.anonKey)
		if err != nil {
			return resilience.Permanent(err)
		}
		body, err := c.send(req)
		if err != nil {
			return classify(err, tokenError("refresh session"))
		}
		var gs gotrueSession
		if err := json.Unmarshal(body, &gs); err != nil {
			return resilience.Permanent(fmt.Errorf("decode session: %w", err))
		}
		sess = gs.session(time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetUser resolves the identity behind an access token.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*domain.Identity, error) {
	var ident domain.Identity
	err := c.call(ctx, "auth.user", true, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodGet, c.authURL("user", nil), nil, accessToken)
		if err != nil {
			return resilience.Permanent(err)
		}
		body, err := c.send(req)
		if err != nil {
			return classify(err, tokenError("get user"))
		}
		var u gotrueUser
		if err := json.Unmarshal(body, &u); err != nil {
			return resilience.Permanent(fmt.Errorf("decode user: %w", err))
		}
		ident = u.identity()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ident, nil
}
