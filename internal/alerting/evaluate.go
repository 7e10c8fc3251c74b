// Package alerting evaluates alert rules against daily metric series and
// drives the OPEN/RESOLVED lifecycle of alert events.
package alerting

import (
	"slices"
	"time"

	"seopulse/internal/types"
)

// Verdict reasons for a rule that is not violated.
const (
	ReasonNoData     = "no data"
	ReasonNoBaseline = "no baseline"
	ReasonWithin     = "within threshold"
)

// Verdict is the outcome of evaluating one rule. Date is the date of the
// latest point for the device; it is zero when the device has no points.
type Verdict struct {
	Violated bool
	Value    *float64
	Reason   string
	Date     time.Time
}

// Evaluate checks the latest point of series for device against threshold.
//
// LCP, INP and CLS are violated when the latest value is present and strictly
// above threshold. SCORE_DROP is violated when the performance score fell by
// more than threshold between the previous point and the latest one. Missing
// values never count as a violation.
func Evaluate(metric types.AlertMetric, threshold float64, device types.Device, series []types.MetricSeriesPoint) Verdict {
	points := forDevice(series, device)
	if len(points) == 0 {
		return Verdict{Reason: ReasonNoData}
	}
	latest := points[0]
	v := Verdict{Date: latest.Date}

	if metric == types.MetricScoreDrop {
		if len(points) < 2 {
			v.Reason = ReasonNoBaseline
			return v
		}
		prev := points[1]
		if latest.PerfScoreAvg == nil || prev.PerfScoreAvg == nil {
			v.Reason = ReasonNoData
			return v
		}
		drop := *prev.PerfScoreAvg - *latest.PerfScoreAvg
		v.Value = &drop
		v.Violated = drop > threshold
	} else {
		value := field(latest, metric)
		if value == nil {
			v.Reason = ReasonNoData
			return v
		}
		val := *value
		v.Value = &val
		v.Violated = val > threshold
	}
	if !v.Violated {
		v.Reason = ReasonWithin
	}
	return v
}

// forDevice returns the points for device, newest first.
func forDevice(series []types.MetricSeriesPoint, device types.Device) []types.MetricSeriesPoint {
	var out []types.MetricSeriesPoint
	for _, p := range series {
		if p.Device == device {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b types.MetricSeriesPoint) int {
		return b.Date.Compare(a.Date)
	})
	return out
}

func field(p types.MetricSeriesPoint, metric types.AlertMetric) *float64 {
	switch metric {
	case types.MetricLCP:
		return p.LCP
	case types.MetricINP:
		return p.INP
	case types.MetricCLS:
		return p.CLS
	default:
		return nil
	}
}

// windowStart is the earliest date a rule with windowDays looks at. Windows
// shorter than two days are widened so SCORE_DROP always has a baseline.
func windowStart(now time.Time, windowDays int) time.Time {
	return types.DayStart(now).AddDate(0, 0, -max(windowDays, 2))
}

func since(series []types.MetricSeriesPoint, from time.Time) []types.MetricSeriesPoint {
	return slices.DeleteFunc(slices.Clone(series), func(p types.MetricSeriesPoint) bool {
		return p.Date.Before(from)
	})
}
