package alerting

import (
	"fmt"

	"seopulse/internal/types"
)

// criticalFactor marks an alert critical once the value exceeds the
// threshold by half again.
const criticalFactor = 1.5

// FormatValue renders v with the unit of metric.
func FormatValue(metric types.AlertMetric, v float64) string {
	switch metric {
	case types.MetricLCP, types.MetricINP:
		return fmt.Sprintf("%.0f ms", v)
	case types.MetricCLS:
		return fmt.Sprintf("%.2f", v)
	case types.MetricScoreDrop:
		return fmt.Sprintf("%.0f points", v)
	default:
		return fmt.Sprintf("%g", v)
	}
}

func metricName(m types.AlertMetric) string {
	if m == types.MetricScoreDrop {
		return "Performance score drop"
	}
	return string(m)
}

func message(metric types.AlertMetric, value, threshold, date string) string {
	if metric == types.MetricScoreDrop {
		return fmt.Sprintf("The performance score fell by %s on %s, more than the allowed %s.", value, date, threshold)
	}
	return fmt.Sprintf("%s p75 was %s on %s, above the %s threshold.", metric, value, date, threshold)
}

func severity(value, threshold float64) types.Severity {
	if threshold > 0 && value >= threshold*criticalFactor {
		return types.SeverityCritical
	}
	return types.SeverityWarning
}
