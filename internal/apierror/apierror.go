// Package apierror provides a centralized error response format for the
// inference gateway. All components use WriteJSON to produce consistent,
// machine-readable error responses with stable error codes.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Gateway error codes. These form a public API contract, so clients can program
// against these stable codes. Do not rename or remove existing codes.
const (
	InvalidRequest        ErrorCode = "INFERENCE_INVALID_REQUEST"
	PromptTooLong         ErrorCode = "INFERENCE_PROMPT_TOO_LONG"
	MethodNotAllowed      ErrorCode = "INFERENCE_METHOD_NOT_ALLOWED"
	NotFound              ErrorCode = "INFERENCE_NOT_FOUND"
	AuthMissingToken      ErrorCode = "INFERENCE_AUTH_MISSING_TOKEN"
	AuthInvalidToken      ErrorCode = "INFERENCE_AUTH_INVALID_TOKEN"
	AuthInsufficientScope ErrorCode = "INFERENCE_AUTH_INSUFFICIENT_SCOPE"
	RateLimitExceeded     ErrorCode = "INFERENCE_RATE_LIMIT_EXCEEDED"
	BodyTooLarge          ErrorCode = "INFERENCE_BODY_TOO_LARGE"
	InternalError         ErrorCode = "INFERENCE_INTERNAL_ERROR"
)

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Pre-serialized JSON bodies for the most common error responses.
// Avoids json.Encoder allocation on every error in the hot path.
// These do NOT include request_id since it varies per request.
var (
	prePromptRequired    = mustMarshal(http.StatusBadRequest, InvalidRequest, "prompt is required")
	preRateLimitExceeded = mustMarshal(http.StatusTooManyRequests, RateLimitExceeded, "rate limit exceeded, retry later")
	preAuthMissingToken  = mustMarshal(http.StatusUnauthorized, AuthMissingToken, "missing or malformed Authorization header")
	preNotFound          = mustMarshal(http.StatusNotFound, NotFound, "no such endpoint")
)

func mustMarshal(status int, code ErrorCode, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
	})
	return append(b, '\n')
}

// WriteJSON writes a structured JSON error response. For common error
// code+message combinations, pre-serialized bodies are used (no allocation).
// When a request ID is available (X-Request-ID header), it is included in the
// response. The request parameter may be nil when no request is in scope.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body := preSerialized(status, code, message); body != nil {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{ //nolint:errcheck
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID,
	})
}

// preSerialized returns a pre-built response body for common error
// combinations, or nil if no match.
func preSerialized(status int, code ErrorCode, message string) []byte {
	switch {
	case code == InvalidRequest && status == http.StatusBadRequest && message == "prompt is required":
		return prePromptRequired
	case code == RateLimitExceeded && status == http.StatusTooManyRequests && message == "rate limit exceeded, retry later":
		return preRateLimitExceeded
	case code == AuthMissingToken && status == http.StatusUnauthorized && message == "missing or malformed Authorization header":
		return preAuthMissingToken
	case code == NotFound && status == http.StatusNotFound && message == "no such endpoint":
		return preNotFound
	}
	return nil
}
