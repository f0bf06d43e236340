package types

import "time"

// LogEntry is an immutable record of one completed request, queued by the
// orchestrator and flushed to durable storage by the async log pipeline.
// CostPicos is the cost in USD scaled by 1e12 so it can be accumulated with
// integer arithmetic, no floating-point drift, and no truncation of the
// per-token rate multiplication itself.
type LogEntry struct {
	RequestID        string
	UserID           string
	APIKeyID         *int64
	Stage            Stage
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostPicos        int64
	LatencyMS        int64
	StatusCode       int
	ErrorMessage     string
	CreatedAt        time.Time
}
