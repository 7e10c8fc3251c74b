package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"seopulse/internal/types"
)

// AlertRuleRepository reads alert rules. Rules are managed by the dashboard;
// the evaluation engine never writes them.
type AlertRuleRepository struct {
	db DBTX
}

// NewAlertRuleRepository creates an AlertRuleRepository.
func NewAlertRuleRepository(db DBTX) *AlertRuleRepository {
	return &AlertRuleRepository{db: db}
}

// ListEnabled returns enabled rules on active sites, ordered so rules for the
// same site are adjacent.
func (r *AlertRuleRepository) ListEnabled(ctx context.Context) ([]types.AlertRule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT ar.id, ar.site_id, s.organization_id, ar.metric, ar.device,
		        ar.threshold, ar.window_days, ar.enabled, ar.recipients
		 FROM alert_rules ar
		 JOIN sites s ON s.id = ar.site_id
		 WHERE ar.enabled AND s.is_active
		 ORDER BY ar.site_id, ar.id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list alert rules", err)
	}
	defer rows.Close()

	var rules []types.AlertRule
	for rows.Next() {
		var (
			rule           types.AlertRule
			metric, device string
		)
		if err := rows.Scan(&rule.ID, &rule.SiteID, &rule.OrganizationID, &metric, &device,
			&rule.Threshold, &rule.WindowDays, &rule.Enabled, &rule.Recipients); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert rule", err)
		}
		rule.Metric = types.AlertMetric(metric)
		rule.Device = types.Device(device)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate alert rules", err)
	}
	return rules, nil
}

const eventColumns = `id, rule_id, site_id, metric, device, date, value, status, resolved_at, created_at`

// AlertEventRepository stores the OPEN/RESOLVED event lifecycle.
type AlertEventRepository struct {
	db DBTX
}

// NewAlertEventRepository creates an AlertEventRepository.
func NewAlertEventRepository(db DBTX) *AlertEventRepository {
	return &AlertEventRepository{db: db}
}

// FindOpenOnDay returns the OPEN event for the tuple dated on day's UTC
// calendar day, or nil.
func (r *AlertEventRepository) FindOpenOnDay(ctx context.Context, siteID string, metric types.AlertMetric, device types.Device, day time.Time) (*types.AlertEvent, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM alert_events
		 WHERE site_id = $1 AND metric = $2 AND device = $3 AND date = $4 AND status = 'OPEN'
		 LIMIT 1`,
		siteID, string(metric), string(device), types.DayStart(day),
	)
	ev, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find open alert event", err)
	}
	return ev, nil
}

// ListOpen returns every OPEN event for the tuple, oldest first.
func (r *AlertEventRepository) ListOpen(ctx context.Context, siteID string, metric types.AlertMetric, device types.Device) ([]types.AlertEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM alert_events
		 WHERE site_id = $1 AND metric = $2 AND device = $3 AND status = 'OPEN'
		 ORDER BY date`,
		siteID, string(metric), string(device),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list open alert events", err)
	}
	defer rows.Close()

	var events []types.AlertEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert event", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate alert events", err)
	}
	return events, nil
}

// Create inserts an OPEN event. If the partial unique index reports an OPEN
// event already exists for the tuple and day, created is false and nothing
// is written.
func (r *AlertEventRepository) Create(ctx context.Context, ev *types.AlertEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = "evt_" + uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = nowFunc()
	}
	ev.Status = types.EventOpen
	ev.Date = types.DayStart(ev.Date)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO alert_events (id, rule_id, site_id, metric, device, date, value, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'OPEN', $8)
		 ON CONFLICT (site_id, metric, device, date) WHERE status = 'OPEN' DO NOTHING`,
		ev.ID, ev.RuleID, ev.SiteID, string(ev.Metric), string(ev.Device), ev.Date, ev.Value, ev.CreatedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to create alert event", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Resolve marks an OPEN event resolved at the given evaluation time.
func (r *AlertEventRepository) Resolve(ctx context.Context, eventID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE alert_events SET status = 'RESOLVED', resolved_at = $2
		 WHERE id = $1 AND status = 'OPEN'`,
		eventID, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to resolve alert event", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundEvent, fmt.Sprintf("open alert event %s not found", eventID), nil)
	}
	return nil
}

func scanEvent(row pgx.Row) (*types.AlertEvent, error) {
	var (
		ev                     types.AlertEvent
		metric, device, status string
	)
	if err := row.Scan(&ev.ID, &ev.RuleID, &ev.SiteID, &metric, &device, &ev.Date,
		&ev.Value, &status, &ev.ResolvedAt, &ev.CreatedAt); err != nil {
		return nil, err
	}
	ev.Metric = types.AlertMetric(metric)
	ev.Device = types.Device(device)
	ev.Status = types.EventStatus(status)
	return &ev, nil
}
