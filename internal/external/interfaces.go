package external

import (
	"context"
	"time"

	"seopulse/internal/types"
)

// DateRange is an inclusive range of UTC calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns each day in the range in ascending order.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := types.DayStart(r.Start); !d.After(types.DayStart(r.End)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Standard search-analytics dimensions. Rows are keyed in this order.
var DefaultSearchDimensions = []string{"date", "page", "query", "device", "country"}

// SearchAnalyticsRow is one provider row before it is bound to a site.
type SearchAnalyticsRow struct {
	Date        time.Time
	Page        string
	Query       string
	Device      string
	Country     string
	Clicks      int
	Impressions int
	CTR         float64
	Position    float64
}

// SearchAnalyticsProvider returns performance rows for a property.
type SearchAnalyticsProvider interface {
	Query(ctx context.Context, propertyURL string, r DateRange, dimensions []string) ([]SearchAnalyticsRow, error)
}

// LabResult is one lab performance test. Nil fields were not reported.
// Score is 0..100; LCP, INP, TTFB, FCP and SpeedIndex are milliseconds.
type LabResult struct {
	Score      *float64 `json:"score,omitempty"`
	LCP        *float64 `json:"lcp,omitempty"`
	INP        *float64 `json:"inp,omitempty"`
	CLS        *float64 `json:"cls,omitempty"`
	TTFB       *float64 `json:"ttfb,omitempty"`
	FCP        *float64 `json:"fcp,omitempty"`
	SpeedIndex *float64 `json:"speed_index,omitempty"`
}

// PageSpeedProvider runs a lab test for one URL and device strategy.
type PageSpeedProvider interface {
	Run(ctx context.Context, url string, device types.Device) (*LabResult, error)
}

// SenderIdentity is the From header of an outbound email.
type SenderIdentity struct {
	Name    string
	Address string
}

// SendInput is a pre-rendered email.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}

// EmailProvider transmits pre-rendered email and returns the provider's
// message ID.
type EmailProvider interface {
	Send(ctx context.Context, input SendInput) (providerMsgID string, err error)
}
