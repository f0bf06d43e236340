package handlers

import (
	"encoding/json"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/api"
	"github.com/cfxrouter/gateway/types"
)

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes the OpenAI-compatible error body for a *types.Error,
// logging the underlying cause if present.
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	if logger != nil {
		logger.Error("api error",
			zap.String("code", string(err.Code)),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, api.ErrorResponse{
		Error: api.ErrorDetail{
			Message: err.Message,
			Type:    errTypeForCode(err.Code),
			Code:    string(err.Code),
		},
	})
}

// WriteErrorMessage is a convenience wrapper for constructing and writing
// a *types.Error in one call.
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// mapErrorCodeToHTTPStatus is the fallback used when a *types.Error
// carries no explicit HTTPStatus. Mirrors spec.md §7.
func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrModelNotFound, types.ErrContentFiltered:
		return http.StatusBadRequest
	case types.ErrAuthentication, types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrRateLimited, types.ErrQuotaExceeded, types.ErrConcurrencyLimit:
		return http.StatusTooManyRequests
	case types.ErrContextTooLong:
		return http.StatusRequestEntityTooLarge
	case types.ErrBreakerOpen, types.ErrServiceUnavailable, types.ErrRoutingUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errTypeForCode maps a types.ErrorCode to the OpenAI-compatible error
// "type" string spec.md §6 defines.
func errTypeForCode(code types.ErrorCode) string {
	switch code {
	case types.ErrAuthentication, types.ErrUnauthorized, types.ErrForbidden:
		return api.ErrTypeAuthentication
	case types.ErrRateLimited, types.ErrQuotaExceeded, types.ErrConcurrencyLimit:
		return api.ErrTypeRateLimit
	case types.ErrInvalidRequest, types.ErrModelNotFound, types.ErrContextTooLong, types.ErrContentFiltered:
		return api.ErrTypeInvalidRequest
	case types.ErrBreakerOpen, types.ErrUpstreamTimeout, types.ErrUpstreamError, types.ErrServiceUnavailable, types.ErrRoutingUnavailable:
		return api.ErrTypeUpstream
	default:
		return api.ErrTypeServer
	}
}

// DecodeJSONBody decodes a JSON request body into dst, writing an error
// response and returning a non-nil error on failure. The body is capped
// at 1 MiB. Unlike the teacher's strict decoder, unknown top-level fields
// are accepted (spec.md §6: "unknown fields pass through") — callers that
// need them use ChatRequest.Extra rather than a rejecting decoder.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty").WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, err, logger)
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, apiErr, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType requires Content-Type: application/json, tolerating
// charset parameters and case variants via mime.ParseMediaType.
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").WithHTTPStatus(http.StatusBadRequest), logger)
		return false
	}
	return true
}

// responseWriter wraps http.ResponseWriter to capture the status code
// actually written, for access logging.
type responseWriter struct {
	http.ResponseWriter
	StatusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.StatusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
