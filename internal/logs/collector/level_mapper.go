package collector

import "regexp"

// Level is a syslog-style severity, ordered from most to least severe.
type Level int

const (
	LevelEmerg Level = iota
	LevelAlert
	LevelCrit
	LevelError
	LevelWarn
	LevelNotice
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelEmerg:
		return "EMERG"
	case LevelAlert:
		return "ALERT"
	case LevelCrit:
		return "CRIT"
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelNotice:
		return "NOTICE"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

// levelRule pairs a Level with the regex whose match, anywhere in a
// message, marks it at that severity. Rules are tried most-severe first.
type levelRule struct {
	level   Level
	pattern *regexp.Regexp
}

var defaultLevelRules = []levelRule{
	{LevelEmerg, regexp.MustCompile(`(?i)[\[<:{ ]emerg(ency)?[]>:} ]`)},
	{LevelAlert, regexp.MustCompile(`(?i)[\[<:{ ]alert[]>:} ]`)},
	{LevelCrit, regexp.MustCompile(`(?i)[\[<:{ ]crit(ical)?[]>:} ]`)},
	{LevelError, regexp.MustCompile(`(?i)[\[<:{ ]err(or)?[]>:} ]`)},
	{LevelWarn, regexp.MustCompile(`(?i)[\[<:{ ]warn(ing)?[]>:} ]`)},
	{LevelNotice, regexp.MustCompile(`(?i)[\[<:{ ]notice[]>:} ]`)},
	{LevelInfo, regexp.MustCompile(`(?i)[\[<:{ ]info(rmation(al)?)?[]>:} ]`)},
	{LevelDebug, regexp.MustCompile(`(?i)[\[<:{ ]debug[]>:} ]`)},
}

// LevelMapper tags a raw log message with a severity by matching it
// against an ordered list of level regexes, first match wins. The matched
// token is stripped from the returned message.
type LevelMapper struct {
	rules []levelRule
}

// NewLevelMapper returns a LevelMapper using the default severity regexes.
func NewLevelMapper() *LevelMapper {
	return &LevelMapper{rules: defaultLevelRules}
}

// Map tags message with a level, stripping the matched level token.
// Messages matching no rule are returned unchanged at LevelInfo.
func (m *LevelMapper) Map(message string) (Level, string) {
	for _, rule := range m.rules {
		loc := rule.pattern.FindStringIndex(message)
		if loc == nil {
			continue
		}
		stripped := message[:loc[0]] + message[loc[1]:]
		return rule.level, stripped
	}
	return LevelInfo, message
}
