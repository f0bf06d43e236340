package types

import "encoding/json"

// ToolSchema describes a tool definition passed through to the upstream
// provider for function calling. The gateway never inspects or executes
// tools itself; it forwards the schema and any resulting ToolCalls opaquely.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}
