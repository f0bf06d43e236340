// Package api holds the OpenAI-compatible wire types for the gateway's
// HTTP surface.
package api

import (
	"encoding/json"
	"fmt"

	"github.com/cfxrouter/gateway/types"
)

// knownChatFields lists the JSON keys ChatRequest.UnmarshalJSON consumes
// itself; everything else is preserved verbatim in Extra.
var knownChatFields = map[string]struct{}{
	"messages": {}, "model": {}, "max_tokens": {}, "temperature": {},
	"top_p": {}, "n": {}, "stream": {}, "stop": {},
	"presence_penalty": {}, "frequency_penalty": {}, "logit_bias": {},
	"user": {}, "tools": {}, "tool_choice": {}, "response_format": {}, "seed": {},
}

// ChatRequest is the OpenAI-compatible `/v1/chat/completions` request
// body. Fields the gateway inspects for routing/validation are typed;
// everything else is captured in Extra and passed through unmodified.
type ChatRequest struct {
	Messages         []types.Message `json:"messages"`
	Model            string          `json:"model,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Temperature      float64         `json:"temperature,omitempty"`
	TopP             float64         `json:"top_p,omitempty"`
	N                int             `json:"n,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Stop             StopSequence    `json:"stop,omitempty"`
	PresencePenalty  float64         `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64         `json:"frequency_penalty,omitempty"`
	LogitBias        json.RawMessage `json:"logit_bias,omitempty"`
	User             string          `json:"user,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat   json.RawMessage `json:"response_format,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`

	// Extra holds any top-level field not named above, preserved so it
	// can be forwarded upstream untouched.
	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields via the struct's own json tags,
// then collects every other top-level key into Extra.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias ChatRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = ChatRequest(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		if _, known := knownChatFields[k]; !known {
			r.Extra[k] = v
		}
	}
	return nil
}

// Validate checks the bounds spec.md §6 requires of a chat-completion
// request. param identifies the offending field for the error body.
func (r *ChatRequest) Validate() (param string, err error) {
	if len(r.Messages) == 0 {
		return "messages", fmt.Errorf("messages must not be empty")
	}
	if r.MaxTokens != 0 && (r.MaxTokens < 1 || r.MaxTokens > 128000) {
		return "max_tokens", fmt.Errorf("max_tokens must be between 1 and 128000")
	}
	if r.Temperature != 0 && (r.Temperature < 0 || r.Temperature > 2) {
		return "temperature", fmt.Errorf("temperature must be between 0 and 2")
	}
	if r.TopP != 0 && (r.TopP < 0 || r.TopP > 1) {
		return "top_p", fmt.Errorf("top_p must be between 0 and 1")
	}
	if r.N != 0 && (r.N < 1 || r.N > 10) {
		return "n", fmt.Errorf("n must be between 1 and 10")
	}
	if r.PresencePenalty != 0 && (r.PresencePenalty < -2 || r.PresencePenalty > 2) {
		return "presence_penalty", fmt.Errorf("presence_penalty must be between -2 and 2")
	}
	if r.FrequencyPenalty != 0 && (r.FrequencyPenalty < -2 || r.FrequencyPenalty > 2) {
		return "frequency_penalty", fmt.Errorf("frequency_penalty must be between -2 and 2")
	}
	return "", nil
}

// StopSequence normalizes the `stop` field: the wire format accepts
// either a single string or a list of strings; both decode to the same
// []string representation (spec.md §6: "stop as a string is normalized
// to a one-element list").
type StopSequence []string

// UnmarshalJSON accepts a JSON string, a JSON array of strings, or null.
func (s *StopSequence) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*s = StopSequence{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = StopSequence(list)
	return nil
}

// MarshalJSON always emits a list, the canonical normalized form.
func (s StopSequence) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(s))
}

// ErrorResponse is the OpenAI-compatible error body shape from spec.md §6.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the structured fields of ErrorResponse.Error.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Error type values, per spec.md §6.
const (
	ErrTypeAuthentication = "authentication_error"
	ErrTypeRateLimit      = "rate_limit_error"
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeServer         = "server_error"
	ErrTypeUpstream       = "upstream_error"
)

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health status values, per spec.md §6.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)
