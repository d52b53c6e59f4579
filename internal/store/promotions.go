package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/tiermem/internal/promotion"
	"github.com/lazypower/tiermem/internal/tier"
)

// LogPromotion appends an accepted promotion to the audit log.
func (db *DB) LogPromotion(ctx context.Context, ev promotion.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO promotions (memory_key, agent_id, old_tier, new_tier, access_count, initiator, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.Key, ev.AgentID, int(ev.OldTier), int(ev.NewTier), ev.AccessCount, ev.Initiator, ev.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("log promotion %s: %w", ev.Key, err)
	}
	return nil
}

// Promotions returns the promotion history of a record, oldest first.
func (db *DB) Promotions(ctx context.Context, key string) ([]promotion.Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT memory_key, agent_id, old_tier, new_tier, access_count, initiator, created_at
		FROM promotions WHERE memory_key = ? ORDER BY id
	`, key)
	if err != nil {
		return nil, fmt.Errorf("promotions: %w", err)
	}
	defer rows.Close()

	var out []promotion.Event
	for rows.Next() {
		var ev promotion.Event
		var oldTier, newTier int
		var at int64
		if err := rows.Scan(&ev.Key, &ev.AgentID, &oldTier, &newTier, &ev.AccessCount, &ev.Initiator, &at); err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		ev.OldTier = tier.Tier(oldTier)
		ev.NewTier = tier.Tier(newTier)
		ev.At = time.UnixMilli(at).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
