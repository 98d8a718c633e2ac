package http

import (
	"encoding/json"
	"net/http"

	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
)

// Result is the response envelope: exactly one of Data or Error is set.
type Result struct {
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Result{Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Result{Error: &ErrorBody{Code: code, Message: message}})
}

// respondDomainError maps an error kind to a status. Internal details of
// unclassified errors are logged, never returned.
func respondDomainError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)

	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("kind", kind.String()), zap.Error(err))
	}
	if kind == domain.KindUnknown {
		respondError(w, status, kind.String(), "internal server error")
		return
	}
	respondError(w, status, kind.String(), err.Error())
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
