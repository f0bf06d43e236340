package logpipeline

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var requestIDPattern = regexp.MustCompile(`^cfx-[0-9a-f]{32}$`)

func TestRequestIDGenerator_FormatIsCfxPrefixPlus32Hex(t *testing.T) {
	g := NewRequestIDGenerator()
	id := g.New()
	assert.Regexp(t, requestIDPattern, id)
}

func TestRequestIDGenerator_IDsAreDistinct(t *testing.T) {
	g := NewRequestIDGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		assert.False(t, seen[id], "duplicate id generated: %s", id)
		seen[id] = true
	}
}

func TestRequestIDGenerator_MemoTruncatesAndKeepsGeneratingValidIDs(t *testing.T) {
	g := NewRequestIDGenerator()
	g.seen = make(map[string]struct{}, memoTruncateAt)
	for i := 0; i < memoTruncateAt; i++ {
		g.seen[randomHex32()] = struct{}{}
	}

	id := g.New()
	assert.Regexp(t, requestIDPattern, id)
	assert.LessOrEqual(t, len(g.seen), memoTruncateAt+1)
}
