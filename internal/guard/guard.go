// Package guard decides whether a request may reach a protected page.
package guard

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
)

// LoginPath is where unauthenticated visitors are sent.
const LoginPath = "/login"

// DefaultReturnPath is where a sign-in lands when no safe return path exists.
const DefaultReturnPath = "/dashboard"

// Outcome is the result of a guard decision.
type Outcome int

const (
	// Loading means auth state is not known yet; show a placeholder.
	Loading Outcome = iota
	// Redirect sends the visitor to the login page.
	Redirect
	// Allow renders the protected content.
	Allow
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	case Allow:
		return "allow"
	}
	return "unknown"
}

// Decision is the outcome plus, for Redirect, where to go.
type Decision struct {
	Outcome  Outcome
	Location string
}

// Decide applies the guard rule. Loading wins regardless of identity.
func Decide(loading bool, ident *domain.Identity, requested string) Decision {
	switch {
	case loading:
		return Decision{Outcome: Loading}
	case ident == nil:
		return Decision{Outcome: Redirect, Location: LoginRedirect(requested)}
	default:
		return Decision{Outcome: Allow}
	}
}

// LoginRedirect builds the login URL remembering the requested location.
func LoginRedirect(requested string) string {
	if requested == "" {
		return LoginPath
	}
	return LoginPath + "?from=" + url.QueryEscape(requested)
}

// ReturnPath sanitizes a post-login return target. Only same-site relative
// paths survive; everything else falls back to DefaultReturnPath.
func ReturnPath(from string) string {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") {
		return DefaultReturnPath
	}
	u, err := url.Parse(from)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return DefaultReturnPath
	}
	if u.Path == LoginPath || strings.HasPrefix(u.Path, LoginPath+"/") {
		return DefaultReturnPath
	}
	return from
}

// State is the slice of auth state the guard needs.
type State interface {
	Loading() bool
	CurrentIdentity() *domain.Identity
}

// Resolver finds the auth state of a request. It may return nil for a
// visitor without any state.
type Resolver func(r *http.Request) State

func decideRequest(resolve Resolver, r *http.Request) Decision {
	st := resolve(r)
	if st == nil {
		return Decide(false, nil, r.URL.RequestURI())
	}
	return Decide(st.Loading(), st.CurrentIdentity(), r.URL.RequestURI())
}

// Protect guards page routes: loading renders loadingView, missing identity
// redirects to the login page with 303 See Other.
func Protect(resolve Resolver, loadingView http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := decideRequest(resolve, r)
			switch d.Outcome {
			case Loading:
				loadingView.ServeHTTP(w, r)
			case Redirect:
				http.Redirect(w, r, d.Location, http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireIdentity guards API routes. Instead of redirecting it hands the
// request to denied, which answers 401.
func RequireIdentity(resolve Resolver, denied http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if decideRequest(resolve, r).Outcome != Allow {
				denied.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
