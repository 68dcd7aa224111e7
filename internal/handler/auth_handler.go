package handler

import (
	"net/http"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Authentication — /v1/auth
// ============================================================

func signInHandler(sessions *service.SessionManager, cookies CookieConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/signin")
		defer span.End()

		var req domain.SignInRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		ac := authContextFrom(ctx)
		if err := ac.SignIn(ctx, req.Email, req.Password); err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		ac, err := establishSession(w, r, sessions, cookies, ac)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ac.Snapshot())
	}
}

func signUpHandler(sessions *service.SessionManager, cookies CookieConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/signup")
		defer span.End()

		var req domain.SignUpRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			handleServiceError(w, r, err, logger)
			return
		}

		ac := authContextFrom(ctx)
		if err := ac.SignUp(ctx, req.Email, req.Password, req.Name); err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		ac, err := establishSession(w, r, sessions, cookies, ac)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, ac.Snapshot())
	}
}

// signOutHandler always answers 204: local state is cleared even when the
// backend revocation fails. The browser session id is retired with it.
func signOutHandler(sessions *service.SessionManager, cookies CookieConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/signout")
		defer span.End()

		if err := authContextFrom(ctx).SignOut(ctx); err != nil {
			span.SetAttributes(attribute.Bool("auth.backend_signout_failed", true))
			logger.Warn("sign out: backend revocation failed", zap.Error(err))
		}
		if rs := requestSessionFrom(ctx); rs.id != "" {
			sessions.End(rs.id)
			expireSessionCookie(w, cookies)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func refreshHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/refresh")
		defer span.End()

		ac := authContextFrom(ctx)
		if err := ac.Refresh(ctx); err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ac.Snapshot())
	}
}

func sessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, authContextFrom(r.Context()).Snapshot())
	}
}

// ============================================================
// Profile (Settings page) — /v1/profile
// ============================================================

func getProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac := authContextFrom(r.Context())
		profile := ac.Profile()
		if profile == nil {
			// Lookup failed at sign-in; fall back to what the identity carries.
			ident := ac.CurrentIdentity()
			profile = &domain.Profile{ID: ident.ID, Name: &ident.Name, Email: &ident.Email}
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func updateProfileHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/profile")
		defer span.End()

		var req domain.ProfileUpdate
		if !decodeJSON(w, r, &req) {
			return
		}

		profile, err := authContextFrom(ctx).UpdateProfile(ctx, req)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
