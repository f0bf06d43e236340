package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/api"
	"github.com/cfxrouter/gateway/internal/metrics"
	"github.com/cfxrouter/gateway/orchestrator"
	"github.com/cfxrouter/gateway/types"
	"github.com/cfxrouter/gateway/upstream"
)

// ChatHandler serves POST /v1/chat/completions: decode, hand off to the
// orchestrator, then either write the completion or pipe the SSE stream.
type ChatHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
	metrics      *metrics.Collector
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(o *orchestrator.Orchestrator, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{orchestrator: o, logger: logger}
}

// WithMetrics attaches a metrics.Collector that records one
// stage_executions_total/stage_execution_duration_seconds observation per
// completion. Optional: a ChatHandler with no collector attached just skips
// recording.
func (h *ChatHandler) WithMetrics(c *metrics.Collector) *ChatHandler {
	h.metrics = c
	return h
}

// HandleCompletion serves POST /v1/chat/completions.
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if param, verr := req.Validate(); verr != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, verr.Error()).WithHTTPStatus(http.StatusBadRequest)
		writeValidationError(w, apiErr, param, h.logger)
		return
	}

	messages, err := json.Marshal(req.Messages)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to encode messages").WithCause(err).WithHTTPStatus(http.StatusInternalServerError), h.logger)
		return
	}

	upReq := upstream.CompletionRequest{
		Model:            req.Model,
		Messages:         messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      float32(req.Temperature),
		TopP:             float32(req.TopP),
		N:                req.N,
		Stop:             []string(req.Stop),
		PresencePenalty:  float32(req.PresencePenalty),
		FrequencyPenalty: float32(req.FrequencyPenalty),
		LogitBias:        req.LogitBias,
		User:             req.User,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
		ResponseFormat:   req.ResponseFormat,
		Seed:             req.Seed,
		Stream:           req.Stream,
		Extra:            req.Extra,
	}

	start := time.Now()
	result := h.orchestrator.Handle(r.Context(), orchestrator.Request{
		AuthorizationHeader: r.Header.Get("Authorization"),
		StageHint:           r.Header.Get("X-CFX-Stage"),
		Messages:            req.Messages,
		Upstream:            upReq,
	})

	setRoutingHeaders(w, result, h.orchestrator.DailyLimit)

	if result.Err != nil {
		h.recordStageExecution(result, "error", start)
		WriteError(w, result.Err, h.logger)
		return
	}

	if result.Streaming {
		h.streamResponse(w, r, result)
		h.recordStageExecution(result, "ok", start)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	_ = json.NewEncoder(w).Encode(result.Completion.Raw)
	result.Finalize(nil)
	h.recordStageExecution(result, "ok", start)
}

func (h *ChatHandler) recordStageExecution(result *orchestrator.Result, status string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordStageExecution(string(result.Stage), result.Model, status, time.Since(start))
}

func (h *ChatHandler) streamResponse(w http.ResponseWriter, r *http.Request, result *orchestrator.Result) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		result.Finalize(nil)
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported by this transport").WithHTTPStatus(http.StatusInternalServerError), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var streamErr error
	for chunk := range result.Stream {
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		if _, err := w.Write(chunk.Line); err != nil {
			streamErr = err
			break
		}
		flusher.Flush()
	}

	result.Finalize(streamErr)
}

// writeValidationError attaches the offending field name to the error
// body's "param", per spec.md §6's error shape.
func writeValidationError(w http.ResponseWriter, err *types.Error, param string, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = http.StatusBadRequest
	}
	if logger != nil {
		logger.Warn("invalid chat request", zap.String("param", param), zap.String("message", err.Message))
	}
	WriteJSON(w, status, api.ErrorResponse{
		Error: api.ErrorDetail{
			Message: err.Message,
			Type:    api.ErrTypeInvalidRequest,
			Param:   param,
			Code:    string(err.Code),
		},
	})
}

// setRoutingHeaders attaches the response headers spec.md §6 mandates on
// every chat-completion call.
func setRoutingHeaders(w http.ResponseWriter, result *orchestrator.Result, dailyLimit int) {
	h := w.Header()
	h.Set("X-CFX-Request-Id", result.RequestID)
	if result.Stage != "" {
		h.Set("X-CFX-Stage", string(result.Stage))
	}
	if result.Model != "" {
		h.Set("X-CFX-Model-Used", result.Model)
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(dailyLimit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.QuotaStatus.Remaining))
	if !result.QuotaStatus.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", result.QuotaStatus.ResetAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	}
}
