// Package httputil maps coded domain errors onto the JSON transport
// envelope. Handlers never inspect error strings; the code decides the
// status and what the caller gets to see.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	dErrors "civica/pkg/domain-errors"
)

// ErrorResponse is the envelope for every failed request.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// WriteJSON writes v with the given status. Encoding failures are ignored:
// the status line is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as the error envelope. Internal-class failures get
// a generic message so store and provider details never leak to callers.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{
		ErrorCode: string(code),
		Message:   messageFor(code, err),
	}

	if wait := dErrors.RetryAfter(err); wait > 0 {
		resp.RetryAfter = wait
		w.Header().Set("Retry-After", strconv.Itoa(wait))
	}

	WriteJSON(w, StatusForCode(code), resp)
}

// Decode parses the JSON body into T, answering the validation envelope on
// malformed input. The second return is false when a response was written.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		if logger != nil {
			logger.Debug("request body rejected", "error", err)
		}
		WriteError(w, dErrors.New(dErrors.CodeValidation, "request body must be valid JSON"))
		return v, false
	}
	return v, true
}

// StatusForCode maps a domain-error code to its HTTP status.
func StatusForCode(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeAlreadyUsed, dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeExpired, dErrors.CodeMaxAttempts:
		// The challenge is dead either way; the caller starts over.
		return http.StatusGone
	case dErrors.CodeTooManyRequests:
		return http.StatusTooManyRequests
	case dErrors.CodeProviderError:
		return http.StatusBadGateway
	case dErrors.CodeSequenceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(code dErrors.Code, err error) string {
	switch code {
	case dErrors.CodeInternal, dErrors.CodeCorruption:
		return "An internal error occurred. Please try again later."
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "Request failed."
}
