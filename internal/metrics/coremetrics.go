package metrics

// Core metric names and namespaces. These are referenced both by the
// system metric collectors (internal/sysmetrics) that produce readings
// under these keys and by the histogram min/max expansion and session
// core-metric sets below, which recognize them by name.
const (
	MetricCPUUsagePct              = "cpu_usage_pct"
	MetricCPUUsageProcessPctPrefix = "cpu_usage_"
	MetricCPUUsageProcessPctSuffix = "_pct"

	MetricMemoryPct              = "memory_pct"
	MetricMemoryProcessPctPrefix = "memory_"
	MetricMemoryProcessPctSuffix = "_pct"

	NetworkInterfaceMetricNamespace          = "interface/"
	MetricInterfaceBytesPerSecondRxSuffix    = "/bytes_per_second/rx"
	MetricInterfaceBytesPerSecondTxSuffix    = "/bytes_per_second/tx"

	ThermalMetricNamespace = "thermal/"

	MetricOperationalCrashes        = "operational_crashes"
	MetricOperationalCrashfreeHours = "operational_crashfree_hours"
	MetricOperationalHours          = "operational_hours"

	MetricConnectedTime         = "connected_time_ms"
	MetricExpectedConnectedTime = "expected_connected_time_ms"
)

// histoMinMaxKeys returns the set of metric names that should be expanded
// into "_min"/"_max" companions (alongside the plain averaged value) when a
// report snapshot is taken, matching the families a backend dashboards on:
// overall and per-process CPU/memory percentage, per-interface throughput,
// and per-thermal-zone temperature. extraKeys are config-supplied additions
// to the hardcoded set.
func histoMinMaxKeys(extraKeys ...string) MetricsSet {
	set := MetricsSet{
		metricKeys: map[MetricStringKey]struct{}{
			MetricStringKey(MetricCPUUsagePct): {},
			MetricStringKey(MetricMemoryPct):   {},
		},
		wildcardKeys: []WildcardPattern{
			NewWildcardPattern(MetricCPUUsageProcessPctPrefix, MetricCPUUsageProcessPctSuffix),
			NewWildcardPattern(MetricMemoryProcessPctPrefix, MetricMemoryProcessPctSuffix),
			NewWildcardPattern(NetworkInterfaceMetricNamespace, MetricInterfaceBytesPerSecondRxSuffix),
			NewWildcardPattern(NetworkInterfaceMetricNamespace, MetricInterfaceBytesPerSecondTxSuffix),
			NewWildcardPattern(ThermalMetricNamespace, ""),
		},
	}
	for _, k := range extraKeys {
		set.metricKeys[MetricStringKey(k)] = struct{}{}
	}
	return set
}

// sessionCoreMetrics returns the metric keys that every session report
// captures regardless of its own configuration: the operational crash
// counters plus the same CPU/memory/network/thermal families the heartbeat
// expands min/max for, so a session's view of device health is never
// missing these even if its author forgot to list them. extraKeys are
// config-supplied additions to the hardcoded set.
func sessionCoreMetrics(extraKeys ...string) MetricsSet {
	core := histoMinMaxKeys(extraKeys...)
	core.metricKeys[MetricStringKey(MetricOperationalCrashes)] = struct{}{}
	core.metricKeys[MetricStringKey(MetricOperationalCrashfreeHours)] = struct{}{}
	core.metricKeys[MetricStringKey(MetricOperationalHours)] = struct{}{}
	return core
}
