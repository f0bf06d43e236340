package logpipeline

import "strings"

// PriceEntry is a model's price, expressed in pico-USD per 1,000,000
// tokens. Using an integer unit (rather than a float dollar amount) keeps
// every multiplication in CostPicos exact, avoiding binary-float rounding
// in billing. Pico-USD (1e-12) rather than micro-USD (1e-6) gives the
// per-token rate multiplication six extra decimal digits of headroom, so
// cost(k*p, k*c) == k*cost(p, c) holds exactly instead of only for token
// counts large enough that the old micro-scale division didn't truncate.
type PriceEntry struct {
	PromptPicosPerMillion     int64
	CompletionPicosPerMillion int64
}

// defaultPriceTable mirrors the gateway's documented per-1M-token USD rates.
// Each entry is the USD-per-million-tokens rate in micro-USD, scaled up by
// 1e6 to pico-USD: this keeps the table readable in the same units the
// gateway's pricing docs use while making every entry an exact multiple of
// 1,000,000, so CostPicos's division by 1,000,000 always lands on an exact
// integer however small the token count.
var defaultPriceTable = map[string]PriceEntry{
	"gpt-4":           {PromptPicosPerMillion: 30_000_000 * 1_000_000, CompletionPicosPerMillion: 60_000_000 * 1_000_000},
	"gpt-4-turbo":     {PromptPicosPerMillion: 10_000_000 * 1_000_000, CompletionPicosPerMillion: 30_000_000 * 1_000_000},
	"gpt-3.5-turbo":   {PromptPicosPerMillion: 500_000 * 1_000_000, CompletionPicosPerMillion: 1_500_000 * 1_000_000},
	"claude-3-opus":   {PromptPicosPerMillion: 15_000_000 * 1_000_000, CompletionPicosPerMillion: 75_000_000 * 1_000_000},
	"claude-3-sonnet": {PromptPicosPerMillion: 3_000_000 * 1_000_000, CompletionPicosPerMillion: 15_000_000 * 1_000_000},
	"claude-3-haiku":  {PromptPicosPerMillion: 250_000 * 1_000_000, CompletionPicosPerMillion: 1_250_000 * 1_000_000},
	"deepseek-coder":  {PromptPicosPerMillion: 140_000 * 1_000_000, CompletionPicosPerMillion: 280_000 * 1_000_000},
	"deepseek-chat":   {PromptPicosPerMillion: 140_000 * 1_000_000, CompletionPicosPerMillion: 280_000 * 1_000_000},
}

// fallbackPrice is used for any model with no matching table entry: a
// conservative (relatively expensive) rate so an unrecognized model never
// silently under-bills.
var fallbackPrice = PriceEntry{PromptPicosPerMillion: 1_000_000 * 1_000_000, CompletionPicosPerMillion: 2_000_000 * 1_000_000}

// CostTable resolves a model name to a PriceEntry by longest matching
// prefix, falling back to fallbackPrice when nothing matches. Longest
// prefix is deterministic, unlike the substring-either-direction match it
// replaces: "gpt-4" and "gpt-4-turbo" both being valid table keys no longer
// risks matching the wrong one depending on map iteration order.
type CostTable struct {
	prices map[string]PriceEntry
}

// NewCostTable builds a CostTable over the built-in price table merged with
// overrides (overrides win on key collision).
func NewCostTable(overrides map[string]PriceEntry) *CostTable {
	merged := make(map[string]PriceEntry, len(defaultPriceTable)+len(overrides))
	for k, v := range defaultPriceTable {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &CostTable{prices: merged}
}

// priceFor returns the PriceEntry whose key is the longest prefix of the
// lowercased model name, or fallbackPrice if none match.
func (t *CostTable) priceFor(model string) PriceEntry {
	lower := strings.ToLower(model)

	var best PriceEntry
	bestLen := -1
	for key, entry := range t.prices {
		if strings.HasPrefix(lower, key) && len(key) > bestLen {
			best = entry
			bestLen = len(key)
		}
	}
	if bestLen < 0 {
		return fallbackPrice
	}
	return best
}

// CostPicos computes the fixed-point pico-USD cost of a completion:
// promptTokens * price_prompt + completionTokens * price_completion, prices
// expressed per million tokens. Every built-in and fallback rate is an
// exact multiple of 1,000,000 pico-USD, so the division here never
// truncates: cost(k*promptTokens, k*completionTokens) == k*cost(promptTokens,
// completionTokens) exactly, for any token counts.
func (t *CostTable) CostPicos(model string, promptTokens, completionTokens int) int64 {
	price := t.priceFor(model)
	// Split each rate into whole pico-USD per token and a remainder, so the
	// multiplication does not overflow int64 for large token counts; the sum
	// equals tokens*rate/1_000_000 exactly.
	promptCost := int64(promptTokens)*(price.PromptPicosPerMillion/1_000_000) +
		int64(promptTokens)*(price.PromptPicosPerMillion%1_000_000)/1_000_000
	completionCost := int64(completionTokens)*(price.CompletionPicosPerMillion/1_000_000) +
		int64(completionTokens)*(price.CompletionPicosPerMillion%1_000_000)/1_000_000
	return promptCost + completionCost
}
