// Package orchestrator composes the authenticate -> quota -> route ->
// breaker -> concurrency -> upstream -> log pipeline so the HTTP handler
// for /v1/chat/completions is a thin adapter over a single call.
package orchestrator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/auth"
	"github.com/cfxrouter/gateway/circuitbreaker"
	"github.com/cfxrouter/gateway/concurrency"
	"github.com/cfxrouter/gateway/logpipeline"
	"github.com/cfxrouter/gateway/quota"
	"github.com/cfxrouter/gateway/stagerouter"
	"github.com/cfxrouter/gateway/types"
	"github.com/cfxrouter/gateway/upstream"
)

// Request is what the HTTP handler hands the orchestrator after decoding
// the client's chat-completion body.
type Request struct {
	AuthorizationHeader string
	StageHint           string
	Messages            []types.Message
	Upstream            upstream.CompletionRequest
}

// Result is what Handle returns. For a non-streaming or early-rejected
// request, every field is already final and Finalize is a no-op. For an
// admitted streaming request, Stream carries the live chunk channel and the
// caller MUST invoke Finalize exactly once after fully draining it (or on
// client disconnect), passing the terminal stream error if any, so the
// concurrency slot, breaker outcome, and log entry are correctly recorded.
type Result struct {
	RequestID   string
	Stage       types.Stage
	Model       string
	Inferred    bool
	Streaming   bool
	StatusCode  int
	Completion  *upstream.CompletionResponse
	Stream      <-chan upstream.Chunk
	QuotaStatus quota.Decision
	Err         *types.Error

	Finalize func(streamErr error)
}

// Orchestrator holds the process-lifetime singletons every request flows
// through. All fields are read-mostly after construction.
type Orchestrator struct {
	Authenticator *auth.Authenticator
	Quota         quota.Counter
	DailyLimit    int
	Router        *stagerouter.Router
	Concurrency   *concurrency.Limiter
	Breakers      *circuitbreaker.Registry
	Upstream      *upstream.Client
	Logs          *logpipeline.Pipeline
	Costs         *logpipeline.CostTable
	RequestIDs    *logpipeline.RequestIDGenerator
	Logger        *zap.Logger

	// now is overridden in tests to make latency measurement deterministic.
	now func() time.Time
}

// New builds an Orchestrator from its component singletons.
func New(
	authenticator *auth.Authenticator,
	quotaCounter quota.Counter,
	dailyLimit int,
	router *stagerouter.Router,
	concurrencyLimiter *concurrency.Limiter,
	breakers *circuitbreaker.Registry,
	upstreamClient *upstream.Client,
	logs *logpipeline.Pipeline,
	costs *logpipeline.CostTable,
	requestIDs *logpipeline.RequestIDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		Authenticator: authenticator,
		Quota:         quotaCounter,
		DailyLimit:    dailyLimit,
		Router:        router,
		Concurrency:   concurrencyLimiter,
		Breakers:      breakers,
		Upstream:      upstreamClient,
		Logs:          logs,
		Costs:         costs,
		RequestIDs:    requestIDs,
		Logger:        logger,
		now:           time.Now,
	}
}

// Handle runs one chat-completion request through A->B->C->D->E->F(->G).
func (o *Orchestrator) Handle(ctx context.Context, req Request) *Result {
	start := o.now()
	requestID := o.RequestIDs.New()
	result := &Result{RequestID: requestID, Finalize: func(error) {}}

	principal, authErr := o.Authenticator.Authenticate(ctx, req.AuthorizationHeader)
	if authErr != nil {
		return o.reject(result, start, types.Principal{}, http.StatusUnauthorized,
			types.NewError(types.ErrAuthentication, "invalid or missing credentials"))
	}

	qd, err := o.Quota.CheckAndIncrement(ctx, principal.UserID, o.DailyLimit)
	if err != nil {
		o.Logger.Error("quota backend error", zap.Error(err))
	}
	result.QuotaStatus = qd
	if !qd.Allowed {
		return o.reject(result, start, principal, http.StatusTooManyRequests,
			types.NewError(types.ErrQuotaExceeded, "daily quota exceeded"))
	}

	decision, routeErr := o.Router.Route(req.StageHint, req.Upstream.Model, req.Messages, req.Upstream.MaxTokens)
	if routeErr != nil {
		return o.reject(result, start, principal, http.StatusBadRequest,
			types.NewError(types.ErrInvalidRequest, routeErr.Error()))
	}
	result.Stage = decision.Stage
	result.Model = decision.Model
	result.Inferred = decision.Inferred

	breaker := o.Breakers.Get(decision.Model)
	breakerRelease, breakerErr := breaker.CanExecute()
	if breakerErr != nil {
		return o.reject(result, start, principal, http.StatusServiceUnavailable,
			types.NewError(types.ErrBreakerOpen, "upstream temporarily unavailable"))
	}

	var concRelease func()
	if req.Upstream.Stream {
		result.Streaming = true
		rel, ok := o.Concurrency.Scope(principal.UserID, true)
		if !ok {
			// The breaker admitted a probe that is never attempted; treat it
			// as a neutral outcome rather than a fabricated upstream
			// success or failure signal.
			breakerRelease(true)
			return o.reject(result, start, principal, http.StatusTooManyRequests,
				types.NewError(types.ErrConcurrencyLimit, "too many concurrent streaming requests"))
		}
		concRelease = rel
	}

	upReq := req.Upstream
	upReq.Model = decision.Model
	upReq.MaxTokens = decision.EffectiveMaxTokens
	upReq.Temperature = decision.Temperature

	finalize := o.makeFinalizer(result, start, principal, decision, breakerRelease, concRelease)

	if req.Upstream.Stream {
		stream, err := o.Upstream.Stream(ctx, upReq)
		if err != nil {
			finalize(err, nil)
			return result
		}
		result.StatusCode = http.StatusOK
		result.Stream = stream
		result.Finalize = func(streamErr error) { finalize(streamErr, nil) }
		return result
	}

	completion, err := o.Upstream.Complete(ctx, upReq)
	finalize(err, completion)
	return result
}

// reject finalizes an early-exit (pre-upstream) rejection: no breaker or
// concurrency state to release, but still a best-effort log entry.
func (o *Orchestrator) reject(result *Result, start time.Time, principal types.Principal, status int, reason *types.Error) *Result {
	result.StatusCode = status
	result.Err = reason.WithHTTPStatus(status)

	o.enqueueLog(result, start, principal, status, reason.Message, 0, 0)
	return result
}

// makeFinalizer returns a function that releases the breaker and
// concurrency slot (if any) and enqueues the final log entry exactly once,
// regardless of which of its two call sites (synchronous completion or a
// caller-driven stream finalize) invokes it.
func (o *Orchestrator) makeFinalizer(
	result *Result,
	start time.Time,
	principal types.Principal,
	decision types.RoutingDecision,
	breakerRelease func(success bool),
	concRelease func(),
) func(err error, completion *upstream.CompletionResponse) {
	var once sync.Once
	return func(err error, completion *upstream.CompletionResponse) {
		once.Do(func() {
			if concRelease != nil {
				concRelease()
			}
			breakerRelease(err == nil)

			if err != nil {
				status, code, msg := classifyUpstreamError(err)
				result.StatusCode = status
				result.Err = types.NewError(code, msg).WithCause(err).WithHTTPStatus(status)
				o.enqueueLog(result, start, principal, status, msg, 0, 0)
				return
			}

			result.StatusCode = http.StatusOK
			result.Completion = completion
			promptTokens, completionTokens := 0, 0
			if completion != nil {
				promptTokens = completion.Usage.PromptTokens
				completionTokens = completion.Usage.CompletionTokens
			}
			o.enqueueLog(result, start, principal, http.StatusOK, "", promptTokens, completionTokens)
		})
	}
}

func classifyUpstreamError(err error) (status int, code types.ErrorCode, message string) {
	switch err.(type) {
	case *upstream.HTTPError:
		return http.StatusBadGateway, types.ErrUpstreamError, "upstream returned an error"
	case *upstream.UnavailableError:
		return http.StatusServiceUnavailable, types.ErrServiceUnavailable, "upstream unavailable"
	default:
		return http.StatusBadGateway, types.ErrUpstreamError, "upstream request failed"
	}
}

func (o *Orchestrator) enqueueLog(result *Result, start time.Time, principal types.Principal, statusCode int, errMessage string, promptTokens, completionTokens int) {
	costPicos := int64(0)
	if o.Costs != nil && result.Model != "" {
		costPicos = o.Costs.CostPicos(result.Model, promptTokens, completionTokens)
	}

	entry := types.LogEntry{
		RequestID:        result.RequestID,
		UserID:           principal.UserID,
		APIKeyID:         principal.APIKeyID,
		Stage:            result.Stage,
		Model:            result.Model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		CostPicos:        costPicos,
		LatencyMS:        o.now().Sub(start).Milliseconds(),
		StatusCode:       statusCode,
		ErrorMessage:     errMessage,
		CreatedAt:        o.now().UTC(),
	}

	if o.Logs != nil {
		o.Logs.Enqueue(entry)
	}
}
