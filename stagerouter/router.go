// Package stagerouter decides which upstream model, token budget, and
// temperature a chat-completion request resolves to: either an explicit
// stage hint, an explicit direct-mode model, or a stage inferred from the
// content of the last user message.
package stagerouter

import (
	"fmt"
	"strings"

	"github.com/cfxrouter/gateway/types"
)

// RouteError signals a routing failure (mapped to HTTP 400 by the
// orchestrator). It is returned for client-caused failures and also when
// the resolved stage has no configured binding.
type RouteError struct {
	Message string
}

func (e *RouteError) Error() string { return e.Message }

// Config is the immutable configuration the router resolves against: one
// binding per plan/code/review stage plus the direct-mode allowlist. It is
// built once at startup and never mutated, so Route needs no locking.
type Config struct {
	Stages map[types.Stage]types.StageBinding
	Direct types.DirectBinding

	// Keywords overrides the built-in English keyword sets, keyed by
	// stage. A nil or missing entry falls back to defaultKeywords[stage].
	Keywords map[types.Stage][]string
}

// directTemperature is the fixed temperature used for direct-mode requests;
// direct mode has no configured binding to draw a temperature from.
const directTemperature = 0.3

// Router routes requests to a concrete model, token budget, and temperature
// given a Config built once at startup.
type Router struct {
	cfg Config
}

// New builds a Router over cfg. cfg is not copied defensively; callers must
// not mutate it after constructing the Router.
func New(cfg Config) *Router {
	return &Router{cfg: cfg}
}

// Route implements the decision procedure of the stage router: an explicit
// "direct" hint with an allowed model, an explicit plan/code/review hint, or
// inference from the last user message. For fixed configuration and inputs
// this is a pure function.
func (r *Router) Route(stageHint string, requestedModel string, messages []types.Message, clientMaxTokens int) (types.RoutingDecision, error) {
	hint := parseStageHint(stageHint)

	if hint == types.StageDirect {
		return r.routeDirect(requestedModel, clientMaxTokens)
	}

	stage := hint
	inferred := false
	if !stage.Valid() {
		stage = r.infer(messages)
		inferred = true
	}

	binding, ok := r.cfg.Stages[stage]
	if !ok {
		return types.RoutingDecision{}, &RouteError{Message: fmt.Sprintf("no configuration found for stage: %s", stage)}
	}

	effectiveMaxTokens := binding.MaxTokens
	if clientMaxTokens > 0 && clientMaxTokens < effectiveMaxTokens {
		effectiveMaxTokens = clientMaxTokens
	}

	return types.RoutingDecision{
		Stage:              stage,
		Model:              binding.Model,
		EffectiveMaxTokens: effectiveMaxTokens,
		Temperature:        binding.Temperature,
		Inferred:           inferred,
	}, nil
}

func (r *Router) routeDirect(requestedModel string, clientMaxTokens int) (types.RoutingDecision, error) {
	if requestedModel == "" {
		return types.RoutingDecision{}, &RouteError{Message: "direct mode requires a model to be specified"}
	}
	if !r.isDirectModelAllowed(requestedModel) {
		return types.RoutingDecision{}, &RouteError{
			Message: fmt.Sprintf("model '%s' is not allowed in direct mode. allowed models: %s",
				requestedModel, strings.Join(r.cfg.Direct.AllowedModels, ", ")),
		}
	}

	cap := r.cfg.Direct.MaxTokensCap
	effectiveMaxTokens := cap
	if clientMaxTokens > 0 && clientMaxTokens < cap {
		effectiveMaxTokens = clientMaxTokens
	}

	return types.RoutingDecision{
		Stage:              types.StageDirect,
		Model:              requestedModel,
		EffectiveMaxTokens: effectiveMaxTokens,
		Temperature:        directTemperature,
		Inferred:           false,
	}, nil
}

func (r *Router) isDirectModelAllowed(model string) bool {
	for _, allowed := range r.cfg.Direct.AllowedModels {
		if allowed == model {
			return true
		}
	}
	return false
}

// parseStageHint parses the X-CFX-Stage header value. An empty, unknown, or
// unparseable value returns the zero Stage ("") rather than an error: an
// absent or invalid hint simply falls through to inference, it is never a
// client error by itself.
func parseStageHint(header string) types.Stage {
	value := types.Stage(strings.ToLower(strings.TrimSpace(header)))
	if !value.Valid() {
		return ""
	}
	return value
}

// infer selects a stage from the last user message's content. Matching
// order is review -> code -> plan; when no keyword set matches, a fenced
// code block or a "def " substring selects code, a leading interrogative
// word selects plan, and plan is the final default.
func (r *Router) infer(messages []types.Message) types.Stage {
	content := lastUserMessage(messages)
	if content == "" {
		return types.StagePlan
	}
	lower := strings.ToLower(content)

	for _, stage := range []types.Stage{types.StageReview, types.StageCode, types.StagePlan} {
		for _, kw := range r.keywordsFor(stage) {
			if strings.Contains(lower, kw) {
				return stage
			}
		}
	}

	if strings.Contains(content, "```") || strings.Contains(lower, "def ") {
		return types.StageCode
	}

	for _, word := range interrogativeWords {
		if strings.HasPrefix(lower, word) {
			return types.StagePlan
		}
	}

	return types.StagePlan
}

func (r *Router) keywordsFor(stage types.Stage) []string {
	if kws, ok := r.cfg.Keywords[stage]; ok && len(kws) > 0 {
		return kws
	}
	return defaultKeywords[stage]
}

// lastUserMessage returns the content of the most recent message with role
// "user", or "" if there is none.
func lastUserMessage(messages []types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
