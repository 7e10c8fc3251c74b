package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"seopulse/internal/notifications/core"
	"seopulse/internal/notifications/email"
	"seopulse/internal/types"
)

// Outcome of one rule in a cycle.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeResolved Outcome = "resolved"
	OutcomeNone     Outcome = "none"
)

// Skip and failure reasons recorded on outcomes.
const (
	ReasonOpenRecent    = "open-recent"
	ReasonDuplicateRule = "tuple-already-evaluated"
	ReasonStoreError    = "store-error"
)

// RuleStore lists enabled rules on active sites.
type RuleStore interface {
	ListEnabled(ctx context.Context) ([]types.AlertRule, error)
}

// EventStore persists alert events. Create reports false when an OPEN event
// already exists for the tuple and day.
type EventStore interface {
	FindOpenOnDay(ctx context.Context, siteID string, metric types.AlertMetric, device types.Device, day time.Time) (*types.AlertEvent, error)
	ListOpen(ctx context.Context, siteID string, metric types.AlertMetric, device types.Device) ([]types.AlertEvent, error)
	Create(ctx context.Context, ev *types.AlertEvent) (bool, error)
	Resolve(ctx context.Context, eventID string, at time.Time) error
}

// SeriesReader reads a site's daily metric points on or after since.
type SeriesReader interface {
	SeriesSince(ctx context.Context, siteID string, since time.Time) ([]types.MetricSeriesPoint, error)
}

// SiteReader resolves a site for message text.
type SiteReader interface {
	GetActiveSite(ctx context.Context, siteID, orgID string) (*types.Site, error)
}

// Notifier fans an alert out to the organization's channels.
type Notifier interface {
	Dispatch(ctx context.Context, orgID string, p core.Payload) core.Tally
}

// Mailer emails an alert to a rule's recipients.
type Mailer interface {
	SendAlert(ctx context.Context, recipients []string, a email.Alert, referenceID string) email.Result
}

// RuleOutcome records what a cycle did for one rule.
type RuleOutcome struct {
	RuleID   string            `json:"rule_id"`
	SiteID   string            `json:"site_id"`
	Metric   types.AlertMetric `json:"metric"`
	Device   types.Device      `json:"device"`
	Outcome  Outcome           `json:"outcome"`
	Reason   string            `json:"reason,omitempty"`
	Value    *float64          `json:"value,omitempty"`
	EventID  string            `json:"event_id,omitempty"`
	Resolved int               `json:"resolved,omitempty"`
	Tally    *core.Tally       `json:"notifications,omitempty"`
}

// CycleReport summarizes one evaluation pass.
type CycleReport struct {
	Outcomes []RuleOutcome `json:"outcomes"`
}

// Count returns how many rules ended with o.
func (r CycleReport) Count(o Outcome) int {
	n := 0
	for _, x := range r.Outcomes {
		if x.Outcome == o {
			n++
		}
	}
	return n
}

// Config wires an Engine. Sites and Mailer are optional.
type Config struct {
	Rules        RuleStore
	Events       EventStore
	Series       SeriesReader
	Sites        SiteReader
	Notifier     Notifier
	Mailer       Mailer
	DashboardURL string
	Logger       *slog.Logger
}

// Engine runs evaluation cycles. Rules are evaluated sequentially; only
// notification fan-out is concurrent.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger.With("component", "alert_engine")}
}

type tuple struct {
	siteID string
	metric types.AlertMetric
	device types.Device
}

// RunCycle evaluates every enabled rule once. Only a failure to list rules
// is returned; per-rule store errors are logged and reported as outcomes.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) (CycleReport, error) {
	rules, err := e.cfg.Rules.ListEnabled(ctx)
	if err != nil {
		return CycleReport{}, err
	}

	report := CycleReport{Outcomes: make([]RuleOutcome, 0, len(rules))}
	seen := make(map[tuple]bool, len(rules))
	for _, group := range groupBySite(rules) {
		siteID, siteRules := group.siteID, group.rules
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		series, err := e.cfg.Series.SeriesSince(ctx, siteID, earliest(now, siteRules))
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to read metric series", "site_id", siteID, "error", err)
			for _, r := range siteRules {
				report.Outcomes = append(report.Outcomes, outcomeFor(r, OutcomeNone, ReasonStoreError))
			}
			continue
		}

		var site *types.Site
		for _, r := range siteRules {
			key := tuple{r.SiteID, r.Metric, r.Device}
			if seen[key] {
				report.Outcomes = append(report.Outcomes, outcomeFor(r, OutcomeSkipped, ReasonDuplicateRule))
				continue
			}
			seen[key] = true
			if site == nil {
				site = e.site(ctx, r)
			}
			report.Outcomes = append(report.Outcomes, e.evaluateRule(ctx, now, r, site, series))
		}
	}

	e.logger.InfoContext(ctx, "alert cycle complete",
		"rules", len(rules),
		"created", report.Count(OutcomeCreated),
		"resolved", report.Count(OutcomeResolved),
		"skipped", report.Count(OutcomeSkipped),
	)
	return report, nil
}

func (e *Engine) evaluateRule(ctx context.Context, now time.Time, r types.AlertRule, site *types.Site, series []types.MetricSeriesPoint) RuleOutcome {
	log := e.logger.With("rule_id", r.ID, "site_id", r.SiteID, "metric", string(r.Metric), "device", string(r.Device))
	v := Evaluate(r.Metric, r.Threshold, r.Device, since(series, windowStart(now, r.WindowDays)))
	out := outcomeFor(r, OutcomeNone, v.Reason)
	out.Value = v.Value

	if !v.Violated {
		if v.Date.IsZero() {
			return out
		}
		n, err := e.resolveBefore(ctx, r, v.Date, now)
		out.Resolved = n
		if err != nil {
			log.ErrorContext(ctx, "failed to resolve alert events", "error", err)
			out.Reason = ReasonStoreError
			return out
		}
		if n > 0 {
			out.Outcome = OutcomeResolved
			log.InfoContext(ctx, "alert events resolved", "count", n)
		}
		return out
	}

	open, err := e.cfg.Events.FindOpenOnDay(ctx, r.SiteID, r.Metric, r.Device, v.Date)
	if err != nil {
		log.ErrorContext(ctx, "failed to look up open alert event", "error", err)
		out.Reason = ReasonStoreError
		return out
	}
	if open != nil {
		out.Outcome, out.Reason, out.EventID = OutcomeSkipped, ReasonOpenRecent, open.ID
		return out
	}

	ev := &types.AlertEvent{
		RuleID:    r.ID,
		SiteID:    r.SiteID,
		Metric:    r.Metric,
		Device:    r.Device,
		Date:      types.DayStart(v.Date),
		Value:     *v.Value,
		Status:    types.EventOpen,
		CreatedAt: now,
	}
	created, err := e.cfg.Events.Create(ctx, ev)
	if err != nil {
		log.ErrorContext(ctx, "failed to create alert event", "error", err)
		out.Reason = ReasonStoreError
		return out
	}
	if !created {
		out.Outcome, out.Reason = OutcomeSkipped, ReasonOpenRecent
		return out
	}
	out.Outcome, out.Reason, out.EventID = OutcomeCreated, "", ev.ID
	log.InfoContext(ctx, "alert event opened", "event_id", ev.ID, "value", ev.Value)

	tally := e.notify(ctx, r, site, ev)
	out.Tally = &tally
	return out
}

// resolveBefore resolves OPEN events dated strictly before latest. An event
// opened on latest's own day stays open.
func (e *Engine) resolveBefore(ctx context.Context, r types.AlertRule, latest, now time.Time) (int, error) {
	open, err := e.cfg.Events.ListOpen(ctx, r.SiteID, r.Metric, r.Device)
	if err != nil {
		return 0, err
	}
	cutoff := types.DayStart(latest)
	n := 0
	for _, ev := range open {
		if !ev.Date.Before(cutoff) {
			continue
		}
		if err := e.cfg.Events.Resolve(ctx, ev.ID, now); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (e *Engine) notify(ctx context.Context, r types.AlertRule, site *types.Site, ev *types.AlertEvent) core.Tally {
	domain := r.SiteID
	if site != nil {
		domain = site.Domain
	}
	value, threshold := FormatValue(r.Metric, ev.Value), FormatValue(r.Metric, r.Threshold)
	date := ev.Date.Format(time.DateOnly)
	link := e.siteURL(r.SiteID)

	var tally core.Tally
	if e.cfg.Notifier != nil {
		tally = e.cfg.Notifier.Dispatch(ctx, r.OrganizationID, core.Payload{
			Event:    types.NotifyAlert,
			Title:    fmt.Sprintf("%s alert on %s (%s)", metricName(r.Metric), domain, r.Device),
			Message:  message(r.Metric, value, threshold, date),
			Severity: severity(ev.Value, r.Threshold),
			URL:      link,
			Fields: []core.Field{
				{Title: "Device", Value: string(r.Device), Short: true},
				{Title: "Date", Value: date, Short: true},
				{Title: "Value", Value: value, Short: true},
				{Title: "Threshold", Value: threshold, Short: true},
			},
		})
	}
	if e.cfg.Mailer != nil && len(r.Recipients) > 0 {
		res := e.cfg.Mailer.SendAlert(ctx, r.Recipients, email.Alert{
			Domain:       domain,
			MetricName:   metricName(r.Metric),
			Device:       string(r.Device),
			Date:         date,
			Value:        value,
			Threshold:    threshold,
			DashboardURL: link,
		}, ev.ID)
		if res.Failed > 0 {
			e.logger.WarnContext(ctx, "some alert emails failed", "event_id", ev.ID, "failed", res.Failed, "sent", res.Sent)
		}
	}
	return tally
}

func (e *Engine) site(ctx context.Context, r types.AlertRule) *types.Site {
	if e.cfg.Sites == nil {
		return nil
	}
	site, err := e.cfg.Sites.GetActiveSite(ctx, r.SiteID, r.OrganizationID)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to load site for alert text", "site_id", r.SiteID, "error", err)
		return nil
	}
	return site
}

func (e *Engine) siteURL(siteID string) string {
	if e.cfg.DashboardURL == "" {
		return ""
	}
	return strings.TrimRight(e.cfg.DashboardURL, "/") + "/sites/" + siteID
}

type siteGroup struct {
	siteID string
	rules  []types.AlertRule
}

// groupBySite buckets rules per site in order of first appearance.
func groupBySite(rules []types.AlertRule) []siteGroup {
	var out []siteGroup
	index := make(map[string]int)
	for _, r := range rules {
		i, ok := index[r.SiteID]
		if !ok {
			i = len(out)
			index[r.SiteID] = i
			out = append(out, siteGroup{siteID: r.SiteID})
		}
		out[i].rules = append(out[i].rules, r)
	}
	return out
}

// earliest is the oldest window start across a site's rules, so one read
// serves them all.
func earliest(now time.Time, rules []types.AlertRule) time.Time {
	from := windowStart(now, 0)
	for _, r := range rules {
		if w := windowStart(now, r.WindowDays); w.Before(from) {
			from = w
		}
	}
	return from
}

func outcomeFor(r types.AlertRule, o Outcome, reason string) RuleOutcome {
	return RuleOutcome{RuleID: r.ID, SiteID: r.SiteID, Metric: r.Metric, Device: r.Device, Outcome: o, Reason: reason}
}
