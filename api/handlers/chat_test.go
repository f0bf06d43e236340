package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/api"
	"github.com/cfxrouter/gateway/auth"
	"github.com/cfxrouter/gateway/circuitbreaker"
	"github.com/cfxrouter/gateway/concurrency"
	"github.com/cfxrouter/gateway/logpipeline"
	"github.com/cfxrouter/gateway/orchestrator"
	"github.com/cfxrouter/gateway/quota"
	"github.com/cfxrouter/gateway/stagerouter"
	"github.com/cfxrouter/gateway/types"
	"github.com/cfxrouter/gateway/upstream"
)

const chatTestToken = "cfx_abcdefghijklmnopqrst"

func hashForChatTest(token string) string {
	sum := sha256.Sum256([]byte("test-salt" + ":" + token))
	return hex.EncodeToString(sum[:])
}

type discardWriter struct{}

func (discardWriter) WriteBatch(_ context.Context, _ []types.LogEntry) error { return nil }

func newTestChatHandler(t *testing.T, upstreamURL string) *ChatHandler {
	t.Helper()

	store := auth.NewMemoryKeyStore()
	store.Put(auth.APIKey{ID: 1, KeyHash: hashForChatTest(chatTestToken), UserID: "alice", Status: auth.StatusActive})
	authenticator := auth.New(store, "test-salt", zap.NewNop())

	logs := logpipeline.New(logpipeline.Config{QueueCapacity: 100, FlushInterval: time.Hour, BatchSize: 50}, discardWriter{}, zap.NewNop())

	o := orchestrator.New(
		authenticator,
		quota.NewMemoryCounter(),
		1000,
		stagerouter.New(stagerouter.Config{
			Stages: map[types.Stage]types.StageBinding{
				types.StageCode: {Model: "gpt-4", MaxTokens: 4096, Temperature: 0.2},
			},
			Direct: types.DirectBinding{AllowedModels: []string{"gpt-4"}, MaxTokensCap: 2048},
		}),
		concurrency.New(2, zap.NewNop()),
		circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, HalfOpenMaxProbes: 1}, zap.NewNop()),
		upstream.New(upstream.Config{BaseURL: upstreamURL, Retry: upstream.RetryPolicy{MaxRetries: 0, Delay: time.Millisecond}}, zap.NewNop()),
		logs,
		logpipeline.NewCostTable(nil),
		logpipeline.NewRequestIDGenerator(),
		zap.NewNop(),
	)

	return NewChatHandler(o, zap.NewNop())
}

func chatReqBody(extra string) []byte {
	body := `{"model":"gpt-4","messages":[{"role":"user","content":"implement a function"}]` + extra + `}`
	return []byte(body)
}

func TestHandleCompletion_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"cmpl-1","usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`))
	}))
	defer srv.Close()

	h := newTestChatHandler(t, srv.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatReqBody("")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+chatTestToken)
	rec := httptest.NewRecorder()

	h.HandleCompletion(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-CFX-Request-Id"))
	assert.Equal(t, "code", rec.Header().Get("X-CFX-Stage"))
	assert.Equal(t, "gpt-4", rec.Header().Get("X-CFX-Model-Used"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cmpl-1", body["id"])
}

func TestHandleCompletion_MissingAuthReturns401(t *testing.T) {
	h := newTestChatHandler(t, "http://unused")
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatReqBody("")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.HandleCompletion(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, api.ErrTypeAuthentication, body.Error.Type)
}

func TestHandleCompletion_WrongContentTypeRejected(t *testing.T) {
	h := newTestChatHandler(t, "http://unused")
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatReqBody("")))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	h.HandleCompletion(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCompletion_EmptyMessagesRejected(t *testing.T) {
	h := newTestChatHandler(t, "http://unused")
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{"model":"gpt-4","messages":[]}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+chatTestToken)
	rec := httptest.NewRecorder()

	h.HandleCompletion(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "messages", body.Error.Param)
}

func TestHandleCompletion_OutOfRangeTemperatureRejected(t *testing.T) {
	h := newTestChatHandler(t, "http://unused")
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatReqBody(`,"temperature":5`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+chatTestToken)
	rec := httptest.NewRecorder()

	h.HandleCompletion(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCompletion_UnknownFieldsPassThrough(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"id":"cmpl-2","usage":{}}`))
	}))
	defer srv.Close()

	h := newTestChatHandler(t, srv.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatReqBody(`,"some_future_field":"keepme"`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+chatTestToken)
	rec := httptest.NewRecorder()

	h.HandleCompletion(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "keepme", received["some_future_field"])
}

func TestHandleCompletion_StopStringNormalizedToList(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"id":"cmpl-3","usage":{}}`))
	}))
	defer srv.Close()

	h := newTestChatHandler(t, srv.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatReqBody(`,"stop":"\n"`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+chatTestToken)
	rec := httptest.NewRecorder()

	h.HandleCompletion(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	stop, ok := received["stop"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"\n"}, stop)
}
