package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/securemail/internal/common"
)

// Error codes carried in the error envelope.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeDecryption      = "DECRYPTION_ERROR"
	CodeEncryption      = "ENCRYPTION_ERROR"
	CodeRejected        = "REJECTED"
	CodeSessionRequired = "SESSION_REQUIRED"
	CodeInternal        = "INTERNAL_ERROR"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// WriteError writes {"error":{"code":...,"message":...}} with status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps a service error to its HTTP status, code and public
// message. ok is false for errors that are not part of the API contract.
func errorStatus(err error) (status int, code, message string, ok bool) {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, CodeNotFound, "not found", true
	case errors.Is(err, common.ErrorInvalidInput):
		return http.StatusBadRequest, CodeValidation, err.Error(), true
	case errors.Is(err, common.ErrDecryption):
		return http.StatusBadRequest, CodeDecryption, "decryption failed", true
	case errors.Is(err, common.ErrEncryption):
		return http.StatusBadRequest, CodeEncryption, "encryption failed", true
	case errors.Is(err, common.ErrSessionExpired):
		return http.StatusBadRequest, CodeSessionRequired, "no active decryption session", true
	case errors.Is(err, common.ErrRejected):
		return http.StatusBadRequest, CodeRejected, err.Error(), true
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, CodeUnauthorized, "unauthorized", true
	}
	return http.StatusInternalServerError, CodeInternal, "internal error", false
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, ok := errorStatus(err)
	if !ok {
		s.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	WriteError(w, status, code, message)
}
