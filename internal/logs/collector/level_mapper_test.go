package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelMapperDetectsEachDefaultSeverity(t *testing.T) {
	m := NewLevelMapper()

	cases := []struct {
		message string
		level   Level
	}{
		{"[emerg] disk on fire", LevelEmerg},
		{"<alert> pager going off", LevelAlert},
		{"kernel crit: fuel low", LevelCrit},
		{"kernel error: could not open file", LevelError},
		{"kernel warning: deprecated flag used", LevelWarn},
		{"kernel notice: config reloaded", LevelNotice},
		{"kernel info: startup complete", LevelInfo},
		{"kernel debug: entering loop", LevelDebug},
	}

	for _, c := range cases {
		level, _ := m.Map(c.message)
		assert.Equal(t, c.level, level, "message: %s", c.message)
	}
}

func TestLevelMapperStripsMatchedToken(t *testing.T) {
	m := NewLevelMapper()
	level, stripped := m.Map("kernel error: could not open file")
	assert.Equal(t, LevelError, level)
	assert.NotContains(t, stripped, "error:")
}

func TestLevelMapperDefaultsToInfoWhenNoRuleMatches(t *testing.T) {
	m := NewLevelMapper()
	level, stripped := m.Map("just a plain line with no marker")
	assert.Equal(t, LevelInfo, level)
	assert.Equal(t, "just a plain line with no marker", stripped)
}

func TestLevelMapperPicksMostSevereWhenMultipleTokensAppear(t *testing.T) {
	m := NewLevelMapper()
	level, _ := m.Map("kernel crit: followed by a warning: token")
	assert.Equal(t, LevelCrit, level)
}
