package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/auth"
	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/guard"
	"github.com/boddenberg/consultant-bfa-go/internal/i18n"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/service"

	"go.uber.org/zap"
)

type contextKey string

const (
	authContextKey    contextKey = "authContext"
	requestSessionKey contextKey = "requestSession"
	preferencesKey    contextKey = "preferences"
)

const (
	sessionCookie  = "sid"
	themeCookie    = "theme"
	languageCookie = "lang"
)

// preferenceMaxAge keeps theme and language choices for a year.
const preferenceMaxAge = 365 * 24 * time.Hour

// CookieConfig controls the cookies the BFA issues.
type CookieConfig struct {
	Secure     bool
	SessionTTL time.Duration
}

// PreferencesMiddleware resolves theme and language for every request.
func PreferencesMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefs := domain.Preferences{
			Theme:    resolveTheme(cookieValue(r, themeCookie), r.URL.Query().Get("theme")),
			Language: i18n.Detect(cookieValue(r, languageCookie), r.URL.Query().Get("lang"), r.Header.Get("Accept-Language")),
		}
		w.Header().Set("Content-Language", prefs.Language)
		ctx := context.WithValue(r.Context(), preferencesKey, prefs)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func resolveTheme(cookie, query string) string {
	for _, t := range []string{cookie, query} {
		if domain.ValidTheme(t) {
			return t
		}
	}
	return domain.DefaultTheme
}

// preferencesFrom returns the resolved preferences, or the defaults.
func preferencesFrom(ctx context.Context) domain.Preferences {
	if p, ok := ctx.Value(preferencesKey).(domain.Preferences); ok {
		return p
	}
	return domain.Preferences{Theme: domain.DefaultTheme, Language: i18n.English}
}

// requestSession records how the caller's Auth Context was resolved.
type requestSession struct {
	id     string // live browser session id, "" when anonymous
	bearer bool
}

// SessionMiddleware attaches the Auth Context of the caller: a request-scoped
// one for a valid Bearer token, the browser session named by the sid cookie,
// or a request-scoped anonymous one. The sid cookie is only issued on sign-in.
func SessionMiddleware(sessions *service.SessionManager, verifier *auth.Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if token, ok := bearerToken(r); ok {
				claims, err := verifier.Verify(token)
				if err != nil {
					logger.Warn("auth: invalid bearer token",
						zap.String("path", r.URL.Path),
						zap.String("remote_addr", r.RemoteAddr),
						zap.Error(err),
					)
					writeError(w, r, http.StatusUnauthorized, i18n.MsgUnauthenticated)
					return
				}
				ac, err := sessions.Bearer(ctx, token, claims)
				if err != nil {
					handleServiceError(w, r, err, logger)
					return
				}
				defer ac.Close()
				next.ServeHTTP(w, r.WithContext(withAuthContext(ctx, ac, requestSession{bearer: true})))
				return
			}

			if sid := cookieValue(r, sessionCookie); sid != "" {
				ac, ok, err := sessions.Lookup(ctx, sid)
				if err != nil {
					handleServiceError(w, r, err, logger)
					return
				}
				if ok {
					next.ServeHTTP(w, r.WithContext(withAuthContext(ctx, ac, requestSession{id: sid})))
					return
				}
			}

			ac, err := sessions.Anonymous(ctx)
			if err != nil {
				handleServiceError(w, r, err, logger)
				return
			}
			defer ac.Close()
			next.ServeHTTP(w, r.WithContext(withAuthContext(ctx, ac, requestSession{})))
		})
	}
}

func withAuthContext(ctx context.Context, ac *auth.Context, rs requestSession) context.Context {
	mode := "anonymous"
	switch {
	case rs.bearer:
		mode = "bearer"
	case rs.id != "":
		mode = "session"
	}
	fields := []zap.Field{zap.String("auth", mode)}
	if ident := ac.CurrentIdentity(); ident != nil {
		fields = append(fields, zap.String("user_id", ident.ID))
	}
	observability.AnnotateRequest(ctx, fields...)

	ctx = context.WithValue(ctx, authContextKey, ac)
	return context.WithValue(ctx, requestSessionKey, rs)
}

func requestSessionFrom(ctx context.Context) requestSession {
	rs, _ := ctx.Value(requestSessionKey).(requestSession)
	return rs
}

// establishSession moves a context that just signed in under a fresh session
// id and issues its cookie, ending any session id the request arrived with.
// Bearer requests and contexts without a session are returned unchanged.
func establishSession(w http.ResponseWriter, r *http.Request, sessions *service.SessionManager, cookies CookieConfig, ac *auth.Context) (*auth.Context, error) {
	rs := requestSessionFrom(r.Context())
	sess := ac.Snapshot().Session
	if rs.bearer || sess == nil {
		return ac, nil
	}

	sid, established, err := sessions.Establish(r.Context(), rs.id, sess)
	if err != nil {
		return nil, err
	}
	observability.AnnotateRequest(r.Context(), zap.String("user_id", sess.User.ID))
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(cookies.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return established, nil
}

func expireSessionCookie(w http.ResponseWriter, cookies CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// authContextFrom extracts the caller's Auth Context, nil outside SessionMiddleware.
func authContextFrom(ctx context.Context) *auth.Context {
	ac, _ := ctx.Value(authContextKey).(*auth.Context)
	return ac
}

// resolveState feeds the guard. It returns an untyped nil when no context is attached.
func resolveState(r *http.Request) guard.State {
	if ac := authContextFrom(r.Context()); ac != nil {
		return ac
	}
	return nil
}

func unauthenticatedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusUnauthorized, i18n.MsgUnauthenticated)
	})
}
