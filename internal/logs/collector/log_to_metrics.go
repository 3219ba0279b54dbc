package collector

import (
	"regexp"

	"github.com/memfault/memfaultd-go/internal/config"
	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

// metricRule is a compiled config.LogToMetricRule: a regex matched against
// the MESSAGE field, a counter name template that may reference capture
// groups ($1, $2, ...), and an optional quick-reject filter checked against
// an auxiliary field before the (more expensive) regex is even tried.
type metricRule struct {
	pattern          *regexp.Regexp
	counterTemplate  string
	quickRejectField string
	quickRejectValue string
}

// LogToMetrics turns matching log lines into counter increments.
type LogToMetrics struct {
	rules     []metricRule
	increment func(name string, value float64) error
}

// NewLogToMetrics compiles the configured rules. increment is called once
// per match with the interpolated counter name.
func NewLogToMetrics(rules []config.LogToMetricRule, increment func(name string, value float64) error) (*LogToMetrics, error) {
	compiled := make([]metricRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, agenterrors.New(agenterrors.CodeInvalidState, "invalid log-to-metric pattern").
				WithComponent("logs").WithOperation("NewLogToMetrics").WithCause(err).WithContext("pattern", r.Pattern)
		}
		compiled = append(compiled, metricRule{
			pattern:          re,
			counterTemplate:  r.CounterName,
			quickRejectField: r.QuickRejectField,
			quickRejectValue: r.QuickRejectValue,
		})
	}
	return &LogToMetrics{rules: compiled, increment: increment}, nil
}

// Process inspects one structured log record's MESSAGE field against every
// rule, incrementing the matching counters. A rule whose regex fails to
// match, or whose quick-reject filter excludes this record, is skipped.
// The first error incrementing a counter is returned; no error stops
// evaluation of the remaining rules.
func (m *LogToMetrics) Process(data map[string]interface{}) error {
	if m == nil || len(m.rules) == 0 {
		return nil
	}
	message, _ := data["MESSAGE"].(string)

	var firstErr error
	for _, rule := range m.rules {
		if rule.quickRejectField != "" {
			fieldValue, _ := data[rule.quickRejectField].(string)
			if fieldValue != rule.quickRejectValue {
				continue
			}
		}

		loc := rule.pattern.FindStringSubmatchIndex(message)
		if loc == nil {
			continue
		}

		name := string(rule.pattern.ExpandString(nil, rule.counterTemplate, message, loc))
		if err := m.increment(name, 1); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
