package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"seopulse/internal/types"
)

// PageSpeedClient calls the PageSpeed Insights v5 runPagespeed endpoint.
type PageSpeedClient struct {
	base    *BaseClient
	baseURL string
	apiKey  types.SecretString
}

// PageSpeedClientConfig configures PageSpeedClient.
type PageSpeedClientConfig struct {
	BaseURL   string
	APIKey    types.SecretString
	Timeout   time.Duration
	UserAgent string
}

// NewPageSpeedClient creates a PageSpeedClient. Lab runs are slow and
// expensive, so only one retry is attempted.
func NewPageSpeedClient(cfg PageSpeedClientConfig, opts ...BaseClientOption) *PageSpeedClient {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = 1
	return &PageSpeedClient{
		base: NewBaseClient(&http.Client{Timeout: cfg.Timeout}, "pagespeed", policy,
			cfg.UserAgent, types.ErrCodeUpstreamPageSpeed, opts...),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

type psiAudit struct {
	NumericValue *float64 `json:"numericValue"`
}

type psiResponse struct {
	LoadingExperience struct {
		Metrics map[string]struct {
			Percentile *float64 `json:"percentile"`
		} `json:"metrics"`
	} `json:"loadingExperience"`
	LighthouseResult struct {
		Categories struct {
			Performance struct {
				Score *float64 `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
		Audits map[string]psiAudit `json:"audits"`
	} `json:"lighthouseResult"`
}

// Run executes a lab test for target with the device's strategy.
func (c *PageSpeedClient) Run(ctx context.Context, target string, device types.Device) (*LabResult, error) {
	q := url.Values{}
	q.Set("url", target)
	q.Set("strategy", device.Strategy())
	q.Set("category", "performance")
	if c.apiKey.IsSet() {
		q.Set("key", c.apiKey.Reveal())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pagespeedonline/v5/runPagespeed?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build pagespeed request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, types.ErrCodeUpstreamPageSpeed, "pagespeed")
	}

	var body psiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPageSpeed, "failed to decode pagespeed response", err)
	}
	return body.toLabResult(), nil
}

func (r *psiResponse) toLabResult() *LabResult {
	audit := func(name string) *float64 {
		a, ok := r.LighthouseResult.Audits[name]
		if !ok {
			return nil
		}
		return a.NumericValue
	}
	res := &LabResult{
		LCP:        audit("largest-contentful-paint"),
		CLS:        audit("cumulative-layout-shift"),
		TTFB:       audit("server-response-time"),
		FCP:        audit("first-contentful-paint"),
		SpeedIndex: audit("speed-index"),
	}
	if s := r.LighthouseResult.Categories.Performance.Score; s != nil {
		score := *s * 100
		res.Score = &score
	}
	// Lab runs cannot measure INP; the field value comes from real-user data
	// when the page has enough traffic.
	if m, ok := r.LoadingExperience.Metrics["INTERACTION_TO_NEXT_PAINT"]; ok {
		res.INP = m.Percentile
	}
	return res
}
