package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"seopulse/internal/types"
)

// searchRowLimit is the provider's maximum page size.
const searchRowLimit = 25000

// SearchAnalyticsClient queries the Search Console searchAnalytics API.
type SearchAnalyticsClient struct {
	base    *BaseClient
	baseURL string
	token   types.SecretString
	// maxRows caps one query across pages.
	maxRows int
}

// SearchAnalyticsClientConfig configures SearchAnalyticsClient.
type SearchAnalyticsClientConfig struct {
	BaseURL     string
	AccessToken types.SecretString
	Timeout     time.Duration
	UserAgent   string
	MaxRows     int
}

// NewSearchAnalyticsClient creates a client with the standard retry policy.
func NewSearchAnalyticsClient(cfg SearchAnalyticsClientConfig, opts ...BaseClientOption) *SearchAnalyticsClient {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 100000
	}
	return &SearchAnalyticsClient{
		base: NewBaseClient(&http.Client{Timeout: cfg.Timeout}, "search-analytics", DefaultRetryPolicy(),
			cfg.UserAgent, types.ErrCodeUpstreamSearch, opts...),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessToken,
		maxRows: cfg.MaxRows,
	}
}

type searchQueryRequest struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions"`
	RowLimit   int      `json:"rowLimit"`
	StartRow   int      `json:"startRow"`
	DataState  string   `json:"dataState,omitempty"`
}

type searchQueryResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		CTR         float64  `json:"ctr"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

// Query pages through every row for the range. Row keys follow the order of
// dimensions; unknown dimensions are ignored.
func (c *SearchAnalyticsClient) Query(ctx context.Context, propertyURL string, r DateRange, dimensions []string) ([]SearchAnalyticsRow, error) {
	if len(dimensions) == 0 {
		dimensions = DefaultSearchDimensions
	}
	endpoint := fmt.Sprintf("%s/webmasters/v3/sites/%s/searchAnalytics/query", c.baseURL, url.PathEscape(propertyURL))

	var out []SearchAnalyticsRow
	for start := 0; start < c.maxRows; start += searchRowLimit {
		body, err := json.Marshal(searchQueryRequest{
			StartDate:  r.Start.Format(time.DateOnly),
			EndDate:    r.End.Format(time.DateOnly),
			Dimensions: dimensions,
			RowLimit:   searchRowLimit,
			StartRow:   start,
		})
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode search query", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build search request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token.Reveal())

		page, err := c.fetch(req)
		if err != nil {
			return nil, err
		}
		for _, row := range page.Rows {
			out = append(out, bindRow(dimensions, row.Keys, row.Clicks, row.Impressions, row.CTR, row.Position))
		}
		if len(page.Rows) < searchRowLimit {
			break
		}
	}
	return out, nil
}

func (c *SearchAnalyticsClient) fetch(req *http.Request) (*searchQueryResponse, error) {
	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, types.ErrCodeUpstreamSearch, "search analytics")
	}
	var page searchQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamSearch, "failed to decode search analytics response", err)
	}
	return &page, nil
}

func bindRow(dimensions, keys []string, clicks, impressions, ctr, position float64) SearchAnalyticsRow {
	row := SearchAnalyticsRow{
		Clicks:      int(clicks),
		Impressions: int(impressions),
		CTR:         ctr,
		Position:    position,
	}
	for i, dim := range dimensions {
		if i >= len(keys) {
			break
		}
		switch dim {
		case "date":
			row.Date, _ = time.Parse(time.DateOnly, keys[i])
		case "page":
			row.Page = keys[i]
		case "query":
			row.Query = keys[i]
		case "device":
			row.Device = strings.ToUpper(keys[i])
		case "country":
			row.Country = strings.ToLower(keys[i])
		}
	}
	return row
}
