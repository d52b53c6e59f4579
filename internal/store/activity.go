package store

import (
	"context"
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// RecordActivity marks agentID as active on the UTC calendar date of at.
func (db *DB) RecordActivity(ctx context.Context, agentID string, at time.Time) error {
	ms := at.UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO activity (agent_id, day, events, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(agent_id, day) DO UPDATE SET
			events = events + 1,
			last_seen = MAX(last_seen, excluded.last_seen)
	`, agentID, at.UTC().Format(dayLayout), ms, ms)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// ActiveDates returns the distinct dates on or after since's date on which
// agentID was active, oldest first.
func (db *DB) ActiveDates(ctx context.Context, agentID string, since time.Time) ([]time.Time, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT day FROM activity WHERE agent_id = ? AND day >= ? ORDER BY day
	`, agentID, since.UTC().Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("active dates: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		d, err := time.Parse(dayLayout, day)
		if err != nil {
			return nil, fmt.Errorf("parse day %q: %w", day, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
