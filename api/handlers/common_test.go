package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/api"
	"github.com/cfxrouter/gateway/types"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "invalid request falls back to mapped status",
			err:            types.NewError(types.ErrInvalidRequest, "model is required"),
			expectedStatus: http.StatusBadRequest,
			expectedType:   api.ErrTypeInvalidRequest,
		},
		{
			name:           "authentication error",
			err:            types.NewError(types.ErrAuthentication, "invalid credentials"),
			expectedStatus: http.StatusUnauthorized,
			expectedType:   api.ErrTypeAuthentication,
		},
		{
			name:           "quota exceeded maps to rate limit type",
			err:            types.NewError(types.ErrQuotaExceeded, "daily quota exceeded"),
			expectedStatus: http.StatusTooManyRequests,
			expectedType:   api.ErrTypeRateLimit,
		},
		{
			name:           "breaker open maps to upstream type",
			err:            types.NewError(types.ErrBreakerOpen, "upstream unavailable"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedType:   api.ErrTypeUpstream,
		},
		{
			name:           "explicit HTTPStatus overrides the fallback mapping",
			err:            types.NewError(types.ErrInvalidRequest, "bad").WithHTTPStatus(http.StatusTeapot),
			expectedStatus: http.StatusTeapot,
			expectedType:   api.ErrTypeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedType, resp.Error.Type)
			assert.NotEmpty(t, resp.Error.Message)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
		})
	}
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "missing field", zap.NewNop())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "missing field", resp.Error.Message)
}

func TestDecodeJSONBody_ValidAndUnknownFieldsPassThrough(t *testing.T) {
	logger := zap.NewNop()

	type testStruct struct {
		Name string `json:"name"`
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name":"test","unknown":"field"}`))

	var result testStruct
	err := DecodeJSONBody(w, r, &result, logger)

	require.NoError(t, err, "unlike a strict decoder, an unrecognized top-level key must not be rejected")
	assert.Equal(t, "test", result.Name)
}

func TestDecodeJSONBody_InvalidJSON(t *testing.T) {
	logger := zap.NewNop()

	type testStruct struct {
		Name string `json:"name"`
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name":"test",}`))

	var result testStruct
	err := DecodeJSONBody(w, r, &result, logger)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	logger := zap.NewNop()

	type testStruct struct {
		Name string `json:"name"`
	}

	oversized := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result testStruct
	err := DecodeJSONBody(w, r, &result, logger)
	assert.Error(t, err, "body exceeding 1 MiB should be rejected")
}

func TestDecodeJSONBody_EmptyBody(t *testing.T) {
	logger := zap.NewNop()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", nil)
	r.Body = nil

	var result map[string]any
	err := DecodeJSONBody(w, r, &result, logger)
	assert.Error(t, err)
}

func TestValidateContentType(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"valid application/json", "application/json", true},
		{"valid with charset", "application/json; charset=utf-8", true},
		{"valid with uppercase charset", "application/json; charset=UTF-8", true},
		{"invalid text/plain", "text/plain", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			result := ValidateContentType(w, r, logger)
			assert.Equal(t, tt.want, result)
			if !tt.want {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.written)

	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.written)

	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode, "a second WriteHeader call must be ignored")

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestResponseWriter_WriteWithoutExplicitHeaderDefaultsTo200(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	_, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrAuthentication, http.StatusUnauthorized},
		{types.ErrForbidden, http.StatusForbidden},
		{types.ErrModelNotFound, http.StatusBadRequest},
		{types.ErrQuotaExceeded, http.StatusTooManyRequests},
		{types.ErrConcurrencyLimit, http.StatusTooManyRequests},
		{types.ErrContextTooLong, http.StatusRequestEntityTooLarge},
		{types.ErrBreakerOpen, http.StatusServiceUnavailable},
		{types.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{types.ErrUpstreamError, http.StatusBadGateway},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, mapErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestErrTypeForCode(t *testing.T) {
	tests := []struct {
		code     types.ErrorCode
		wantType string
	}{
		{types.ErrAuthentication, api.ErrTypeAuthentication},
		{types.ErrForbidden, api.ErrTypeAuthentication},
		{types.ErrQuotaExceeded, api.ErrTypeRateLimit},
		{types.ErrInvalidRequest, api.ErrTypeInvalidRequest},
		{types.ErrBreakerOpen, api.ErrTypeUpstream},
		{types.ErrInternalError, api.ErrTypeServer},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.wantType, errTypeForCode(tt.code))
		})
	}
}
