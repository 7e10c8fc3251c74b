package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seopulse/internal/types"
)

var dayD = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func point(day time.Time, device types.Device, mut func(*types.MetricSeriesPoint)) types.MetricSeriesPoint {
	p := types.MetricSeriesPoint{SiteID: "site-1", Date: day, Device: device}
	if mut != nil {
		mut(&p)
	}
	return p
}

func lcp(v float64) func(*types.MetricSeriesPoint) {
	return func(p *types.MetricSeriesPoint) { p.LCP = f(v) }
}

func perf(v float64) func(*types.MetricSeriesPoint) {
	return func(p *types.MetricSeriesPoint) { p.PerfScoreAvg = f(v) }
}

func TestEvaluate(t *testing.T) {
	prev := dayD.AddDate(0, 0, -1)
	tests := []struct {
		name      string
		metric    types.AlertMetric
		threshold float64
		device    types.Device
		series    []types.MetricSeriesPoint
		violated  bool
		value     *float64
		reason    string
	}{
		{
			name:   "lcp above threshold",
			metric: types.MetricLCP, threshold: 2500, device: types.DeviceMobile,
			series: []types.MetricSeriesPoint{
				point(prev, types.DeviceMobile, lcp(2400)),
				point(dayD, types.DeviceMobile, lcp(2700)),
			},
			violated: true, value: f(2700),
		},
		{
			name:   "unsorted series uses newest point",
			metric: types.MetricLCP, threshold: 2500, device: types.DeviceMobile,
			series: []types.MetricSeriesPoint{
				point(dayD, types.DeviceMobile, lcp(2400)),
				point(prev, types.DeviceMobile, lcp(2700)),
			},
			value: f(2400), reason: ReasonWithin,
		},
		{
			name:   "equal to threshold is not a violation",
			metric: types.MetricLCP, threshold: 2500, device: types.DeviceMobile,
			series: []types.MetricSeriesPoint{point(dayD, types.DeviceMobile, lcp(2500))},
			value:  f(2500), reason: ReasonWithin,
		},
		{
			name:   "null field is no data",
			metric: types.MetricINP, threshold: 200, device: types.DeviceMobile,
			series: []types.MetricSeriesPoint{point(dayD, types.DeviceMobile, lcp(9000))},
			reason: ReasonNoData,
		},
		{
			name:   "other devices ignored",
			metric: types.MetricLCP, threshold: 2500, device: types.DeviceDesktop,
			series: []types.MetricSeriesPoint{point(dayD, types.DeviceMobile, lcp(9000))},
			reason: ReasonNoData,
		},
		{
			name:   "cls",
			metric: types.MetricCLS, threshold: 0.1, device: types.DeviceAll,
			series:   []types.MetricSeriesPoint{point(dayD, types.DeviceAll, func(p *types.MetricSeriesPoint) { p.CLS = f(0.25) })},
			violated: true, value: f(0.25),
		},
		{
			name:   "score drop",
			metric: types.MetricScoreDrop, threshold: 10, device: types.DeviceMobile,
			series: []types.MetricSeriesPoint{
				point(prev, types.DeviceMobile, perf(85)),
				point(dayD, types.DeviceMobile, perf(70)),
			},
			violated: true, value: f(15),
		},
		{
			name:   "score drop within threshold",
			metric: types.MetricScoreDrop, threshold: 20, device: types.DeviceMobile,
			series: []types.MetricSeriesPoint{
				point(prev, types.DeviceMobile, perf(85)),
				point(dayD, types.DeviceMobile, perf(70)),
			},
			value: f(15), reason: ReasonWithin,
		},
		{
			name:   "score drop without baseline",
			metric: types.MetricScoreDrop, threshold: 10, device: types.DeviceMobile,
			series: []types.MetricSeriesPoint{point(dayD, types.DeviceMobile, perf(10))},
			reason: ReasonNoBaseline,
		},
		{
			name:   "score drop with missing baseline score",
			metric: types.MetricScoreDrop, threshold: 10, device: types.DeviceMobile,
			series: []types.MetricSeriesPoint{
				point(prev, types.DeviceMobile, nil),
				point(dayD, types.DeviceMobile, perf(10)),
			},
			reason: ReasonNoData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.metric, tt.threshold, tt.device, tt.series)
			assert.Equal(t, tt.violated, v.Violated)
			assert.Equal(t, tt.reason, v.Reason)
			if tt.value == nil {
				assert.Nil(t, v.Value)
			} else {
				require.NotNil(t, v.Value)
				assert.InDelta(t, *tt.value, *v.Value, 1e-9)
			}
		})
	}
}

func TestEvaluate_LCPThresholdProperty(t *testing.T) {
	for _, value := range []float64{0, 1200, 2499.9, 2500, 2500.1, 4000, 12000} {
		series := []types.MetricSeriesPoint{point(dayD, types.DeviceMobile, lcp(value))}
		v := Evaluate(types.MetricLCP, 2500, types.DeviceMobile, series)
		assert.Equal(t, value > 2500, v.Violated, "lcp=%v", value)
	}
}

func TestEvaluate_ReportsLatestDate(t *testing.T) {
	series := []types.MetricSeriesPoint{
		point(dayD.AddDate(0, 0, -3), types.DeviceMobile, lcp(1000)),
		point(dayD, types.DeviceMobile, nil),
	}
	v := Evaluate(types.MetricLCP, 2500, types.DeviceMobile, series)
	assert.Equal(t, dayD, v.Date)
	assert.Equal(t, ReasonNoData, v.Reason)

	assert.True(t, Evaluate(types.MetricLCP, 2500, types.DeviceMobile, nil).Date.IsZero())
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "2700 ms", FormatValue(types.MetricLCP, 2700))
	assert.Equal(t, "180 ms", FormatValue(types.MetricINP, 180.4))
	assert.Equal(t, "0.25", FormatValue(types.MetricCLS, 0.25))
	assert.Equal(t, "15 points", FormatValue(types.MetricScoreDrop, 15))
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, types.SeverityWarning, severity(2700, 2500))
	assert.Equal(t, types.SeverityCritical, severity(3750, 2500))
	assert.Equal(t, types.SeverityWarning, severity(1, 0))
}
