package logpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostTable_KnownModelExactMatch(t *testing.T) {
	ct := NewCostTable(nil)
	// gpt-4: 30_000_000 pico-usd/token prompt, 60_000_000 pico-usd/token completion.
	got := ct.CostPicos("gpt-4", 1000, 500)
	assert.Equal(t, int64(1000*30_000_000+500*60_000_000), got)
}

func TestCostTable_LongestPrefixWins(t *testing.T) {
	ct := NewCostTable(nil)
	// "gpt-4-turbo-preview" should match "gpt-4-turbo", not the shorter "gpt-4".
	turbo := ct.CostPicos("gpt-4-turbo-preview", 1_000_000, 0)
	gpt4 := ct.CostPicos("gpt-4", 1_000_000, 0)
	assert.Equal(t, int64(10_000_000_000_000), turbo)
	assert.Equal(t, int64(30_000_000_000_000), gpt4)
	assert.NotEqual(t, turbo, gpt4)
}

func TestCostTable_UnknownModelUsesFallback(t *testing.T) {
	ct := NewCostTable(nil)
	got := ct.CostPicos("some-future-model-x", 1_000_000, 1_000_000)
	assert.Equal(t, int64(1_000_000_000_000+2_000_000_000_000), got)
}

func TestCostTable_CaseInsensitiveMatch(t *testing.T) {
	ct := NewCostTable(nil)
	got := ct.CostPicos("GPT-4-Turbo", 1_000_000, 0)
	assert.Equal(t, int64(10_000_000_000_000), got)
}

func TestCostTable_OverridesWinOverBuiltins(t *testing.T) {
	ct := NewCostTable(map[string]PriceEntry{
		"gpt-4": {PromptPicosPerMillion: 1_000_000, CompletionPicosPerMillion: 1_000_000},
	})
	got := ct.CostPicos("gpt-4", 1_000_000, 0)
	assert.Equal(t, int64(1_000_000), got)
}

func TestCostTable_ZeroTokensIsZeroCost(t *testing.T) {
	ct := NewCostTable(nil)
	assert.Equal(t, int64(0), ct.CostPicos("gpt-4", 0, 0))
}

// TestCostTable_ExactLinearScaling guards the invariant a truncating
// micro-USD scale violated: cost(k*p, k*c) must equal k*cost(p, c) exactly,
// even for small token counts far below one million.
func TestCostTable_ExactLinearScaling(t *testing.T) {
	ct := NewCostTable(nil)
	for _, model := range []string{"deepseek-coder", "claude-3-haiku", "gpt-3.5-turbo"} {
		base := ct.CostPicos(model, 5, 0)
		scaled := ct.CostPicos(model, 10, 0)
		assert.Equal(t, 2*base, scaled, "model %s: cost(10,0) should be exactly 2*cost(5,0)", model)
		assert.NotZero(t, base, "model %s: cost(5,0) should not truncate to zero", model)
	}
}
