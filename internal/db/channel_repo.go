package db

import (
	"context"

	"seopulse/internal/types"
)

// ChannelRepository reads notification channels.
type ChannelRepository struct {
	db DBTX
}

// NewChannelRepository creates a ChannelRepository.
func NewChannelRepository(db DBTX) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// ListSubscribed returns the organization's enabled channels that subscribe
// to ev.
func (r *ChannelRepository) ListSubscribed(ctx context.Context, orgID string, ev types.NotificationEvent) ([]types.NotificationChannel, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, organization_id, type, config, events, enabled
		 FROM notification_channels
		 WHERE organization_id = $1 AND enabled AND $2 = ANY(events)
		 ORDER BY id`,
		orgID, string(ev),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notification channels", err)
	}
	defer rows.Close()

	var channels []types.NotificationChannel
	for rows.Next() {
		var (
			ch     types.NotificationChannel
			typ    string
			events []string
		)
		if err := rows.Scan(&ch.ID, &ch.OrganizationID, &typ, &ch.Config, &events, &ch.Enabled); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification channel", err)
		}
		ch.Type = types.ChannelType(typ)
		for _, e := range events {
			ch.Events = append(ch.Events, types.NotificationEvent(e))
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate notification channels", err)
	}
	return channels, nil
}
