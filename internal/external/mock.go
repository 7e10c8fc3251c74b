package external

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"

	"seopulse/internal/types"
)

// Mock generators stand in for the real providers when credentials are
// absent. Output is a pure function of the inputs so re-runs upsert the same
// rows.

func seeded(parts ...string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(strings.Join(parts, "|")))
	sum := h.Sum64()
	return rand.New(rand.NewPCG(sum, sum>>1|1))
}

// MockSearchProvider generates search rows for a fixed set of pages and
// queries derived from the property URL.
type MockSearchProvider struct {
	logger *slog.Logger
}

// NewMockSearchProvider creates a MockSearchProvider.
func NewMockSearchProvider(logger *slog.Logger) *MockSearchProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSearchProvider{logger: logger}
}

var (
	mockPaths     = []string{"/", "/pricing", "/blog", "/docs", "/about"}
	mockQueries   = []string{"brand", "brand pricing", "how to audit seo", "core web vitals", "site speed test"}
	mockDevices   = []string{"MOBILE", "DESKTOP"}
	mockCountries = []string{"usa", "gbr", "deu"}
)

func (m *MockSearchProvider) Query(ctx context.Context, propertyURL string, r DateRange, _ []string) ([]SearchAnalyticsRow, error) {
	host := mockHost(propertyURL)
	var rows []SearchAnalyticsRow
	for _, day := range r.Days() {
		date := day.Format("2006-01-02")
		for i, path := range mockPaths {
			query := mockQueries[i]
			for _, device := range mockDevices {
				for _, country := range mockCountries {
					rng := seeded(host, date, path, device, country)
					impressions := 20 + rng.IntN(400)
					clicks := rng.IntN(impressions/5 + 1)
					rows = append(rows, SearchAnalyticsRow{
						Date:        day,
						Page:        "https://" + host + path,
						Query:       query,
						Device:      device,
						Country:     country,
						Clicks:      clicks,
						Impressions: impressions,
						CTR:         round(float64(clicks)/float64(impressions), 4),
						Position:    round(1+rng.Float64()*19, 1),
					})
				}
			}
		}
	}
	m.logger.InfoContext(ctx, "mock search provider generated rows",
		"property", propertyURL,
		"rows", len(rows),
	)
	return rows, nil
}

func mockHost(propertyURL string) string {
	h := strings.TrimPrefix(propertyURL, "sc-domain:")
	h = strings.TrimPrefix(h, "https://")
	h = strings.TrimPrefix(h, "http://")
	return strings.TrimSuffix(h, "/")
}

// MockPageSpeedProvider simulates lab results. Mobile runs are slower than
// desktop runs for the same URL.
type MockPageSpeedProvider struct{}

func (MockPageSpeedProvider) Run(_ context.Context, url string, device types.Device) (*LabResult, error) {
	rng := seeded(url, string(device))
	slow := 1.0
	if device != types.DeviceDesktop {
		slow = 1.6
	}
	lcp := round((1200+rng.Float64()*2000)*slow, 0)
	inp := round((80+rng.Float64()*250)*slow, 0)
	cls := round(rng.Float64()*0.3, 3)
	ttfb := round((100+rng.Float64()*600)*slow, 0)
	fcp := round((700+rng.Float64()*1500)*slow, 0)
	si := round((1500+rng.Float64()*3000)*slow, 0)
	score := round(math.Max(0, math.Min(100, 100-(lcp-1200)/60-cls*100)), 0)
	return &LabResult{Score: &score, LCP: &lcp, INP: &inp, CLS: &cls, TTFB: &ttfb, FCP: &fcp, SpeedIndex: &si}, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
