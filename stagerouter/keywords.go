package stagerouter

import "github.com/cfxrouter/gateway/types"

// defaultKeywords are the built-in English keyword sets used for stage
// inference when no locale override is configured. Matching order is
// review -> code -> plan, so a message containing both a review word and a
// code word ("review this function") resolves to review.
var defaultKeywords = map[types.Stage][]string{
	types.StageReview: {
		"review", "check", "analyze", "audit", "security",
		"vulnerability", "bug", "issue", "problem",
	},
	types.StageCode: {
		"implement", "code", "write", "create", "build",
		"fix", "refactor", "add", "update", "modify",
		"function", "class", "method", "api",
	},
	types.StagePlan: {
		"plan", "design", "architect", "spec", "specification",
		"how should", "what's the best way", "structure",
		"approach", "strategy", "outline", "requirements",
	},
}

// interrogativeWords select Stage plan when no keyword set matched and the
// message opens with a question.
var interrogativeWords = []string{"how", "what", "why", "when", "where", "which", "who"}
