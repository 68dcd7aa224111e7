package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/i18n"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// writeError answers with the message for code in the visitor's language.
func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeJSON(w, status, errorResponse{
		Error: i18n.T(preferencesFrom(r.Context()).Language, code),
		Code:  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads the request body into v, answering 400 when it is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: i18n.T(preferencesFrom(r.Context()).Language, i18n.MsgValidation),
			Code:  i18n.MsgValidation,
			Field: "body",
		})
		return false
	}
	return true
}

// handleServiceError maps domain errors to localized HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var unauthenticated *domain.ErrUnauthenticated
	var invalidCredentials *domain.ErrInvalidCredentials
	var validation *domain.ErrValidation
	var notFound *domain.ErrNotFound
	var multipleRows *domain.ErrMultipleRows
	var conflict *domain.ErrConflict
	var circuitOpen *domain.ErrCircuitOpen
	var unavailable *domain.ErrUnavailable
	var timeout *domain.ErrTimeout

	trace.SpanFromContext(r.Context()).RecordError(err)

	switch {
	case errors.As(err, &invalidCredentials):
		writeError(w, r, http.StatusUnauthorized, i18n.MsgInvalidCredentials)
	case errors.As(err, &unauthenticated):
		logger.Debug("unauthenticated", zap.String("error", err.Error()))
		writeError(w, r, http.StatusUnauthorized, i18n.MsgUnauthenticated)
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: i18n.T(preferencesFrom(r.Context()).Language, i18n.MsgValidation) + " " + validation.Field + ": " + validation.Message,
			Code:  i18n.MsgValidation,
			Field: validation.Field,
		})
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, r, http.StatusNotFound, i18n.MsgNotFound)
	case errors.As(err, &multipleRows):
		logger.Warn("multiple rows", zap.String("error", err.Error()))
		writeError(w, r, http.StatusConflict, i18n.MsgMultipleRows)
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, r, http.StatusConflict, i18n.MsgConflict)
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, i18n.MsgServiceUnavailable)
	case errors.As(err, &unavailable):
		writeError(w, r, http.StatusServiceUnavailable, i18n.MsgServiceUnavailable)
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, r, http.StatusGatewayTimeout, i18n.MsgTimeout)
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, i18n.MsgInternal)
	}
}
