package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-haul/internal/haul"
)

// Error codes carried in the envelope.
const (
	codeInvalidRequest       = "INVALID_REQUEST"
	codeNotFound             = "NOT_FOUND"
	codeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	codeCapacityExceeded     = "CAPACITY_EXCEEDED"
	codeQuotaExceeded        = "QUOTA_EXCEEDED"
	codeTimeout              = "TIMEOUT"
	codeUnavailable          = "UNAVAILABLE"
	codeInternal             = "INTERNAL"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

// classify maps a service error onto its HTTP status and code. Errors outside
// the caller-facing taxonomy are reported as 500 without their message.
func classify(err error) (int, string, bool) {
	switch {
	case errors.Is(err, haul.ErrInvalidRequest):
		return http.StatusBadRequest, codeInvalidRequest, true
	case errors.Is(err, haul.ErrNotFound):
		return http.StatusNotFound, codeNotFound, true
	case errors.Is(err, haul.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, codeUnsupportedMediaType, true
	case errors.Is(err, haul.ErrCapacityExceeded):
		return http.StatusConflict, codeCapacityExceeded, true
	case errors.Is(err, haul.ErrQuotaExceeded):
		return http.StatusTooManyRequests, codeQuotaExceeded, true
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout, false
	default:
		return http.StatusInternalServerError, codeInternal, false
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, public := classify(err)
	msg := err.Error()
	if !public {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		msg = http.StatusText(status)
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	writeError(w, status, code, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: msg}})
}
