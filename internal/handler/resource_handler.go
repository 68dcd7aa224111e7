package handler

import (
	"net/http"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/resource"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Dashboard resources — /v1/{clients|projects|expenses|bookings}
// ============================================================

// mountResource registers the CRUD routes of one resource. Callers must be
// behind guard.RequireIdentity.
func mountResource[R any, I resource.Insertable[I], U resource.Patch](r chi.Router, res *resource.Resource[R, I, U], logger *zap.Logger) {
	name := res.Name()
	r.Route("/"+name, func(r chi.Router) {
		r.Get("/", listResourceHandler(res, logger))
		r.Post("/", createResourceHandler(res, logger))
		r.Get("/{id}", getResourceHandler(res, logger))
		r.Patch("/{id}", updateResourceHandler(res, logger))
		r.Delete("/{id}", deleteResourceHandler(res, logger))
	})
}

func listResourceHandler[R any, I resource.Insertable[I], U resource.Patch](res *resource.Resource[R, I, U], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/"+res.Name())
		defer span.End()

		rows, err := res.As(authContextFrom(ctx)).List(ctx)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		if rows == nil {
			rows = []R{}
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[R]{Data: rows, Total: len(rows)})
	}
}

func getResourceHandler[R any, I resource.Insertable[I], U resource.Patch](res *resource.Resource[R, I, U], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/"+res.Name()+"/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("resource.id", id))

		row, err := res.As(authContextFrom(ctx)).Get(ctx, id)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		if row == nil {
			handleServiceError(w, r, &domain.ErrNotFound{Resource: res.Name(), ID: id}, logger)
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

func createResourceHandler[R any, I resource.Insertable[I], U resource.Patch](res *resource.Resource[R, I, U], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/"+res.Name())
		defer span.End()

		var in I
		if !decodeJSON(w, r, &in) {
			return
		}

		row, err := res.As(authContextFrom(ctx)).Create(ctx, in)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, row)
	}
}

func updateResourceHandler[R any, I resource.Insertable[I], U resource.Patch](res *resource.Resource[R, I, U], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/"+res.Name()+"/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("resource.id", id))

		var patch U
		if !decodeJSON(w, r, &patch) {
			return
		}

		row, err := res.As(authContextFrom(ctx)).Update(ctx, id, patch)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

func deleteResourceHandler[R any, I resource.Insertable[I], U resource.Patch](res *resource.Resource[R, I, U], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/"+res.Name()+"/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("resource.id", id))

		if err := res.As(authContextFrom(ctx)).Delete(ctx, id); err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
