package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWildcardPatternMatches(t *testing.T) {
	p := NewWildcardPattern("cpu_usage_", "_pct")
	assert.True(t, p.Matches("cpu_usage_memfaultd_pct"))
	assert.False(t, p.Matches("cpu_usage_memfaultd"))
	assert.False(t, p.Matches("memory_memfaultd_pct"))
}

func TestWildcardPatternEmptySuffixMatchesAnySuffix(t *testing.T) {
	p := NewWildcardPattern("thermal/", "")
	assert.True(t, p.Matches("thermal/soc"))
	assert.True(t, p.Matches("thermal/"))
	assert.False(t, p.Matches("therma"))
}
