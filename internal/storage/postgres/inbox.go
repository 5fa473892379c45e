package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Inbox records processed event IDs so redelivered messages can be
// recognized and skipped. A row insert that hits the primary key is a
// duplicate, which makes the check atomic under concurrent consumers.
type Inbox struct {
	pool *pgxpool.Pool
}

func NewInbox(pool *pgxpool.Pool) *Inbox {
	return &Inbox{pool: pool}
}

// Seen reports whether the event ID was already processed to
// completion.
func (i *Inbox) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := i.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM event_inbox WHERE event_id = $1)`,
		eventID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check event seen: %w", err)
	}
	return seen, nil
}

// MarkSeen returns true exactly once per event ID.
func (i *Inbox) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	tag, err := i.pool.Exec(ctx,
		`INSERT INTO event_inbox (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`,
		eventID,
	)
	if err != nil {
		return false, fmt.Errorf("mark event seen: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveNotification records a downstream notification keyed by event ID;
// replays are absorbed by the unique constraint.
func (i *Inbox) SaveNotification(ctx context.Context, eventID, orderID, kind string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification payload: %w", err)
	}
	_, err = i.pool.Exec(ctx,
		`INSERT INTO notifications (event_id, order_id, kind, payload)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (event_id) DO NOTHING`,
		eventID, orderID, kind, data,
	)
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}
