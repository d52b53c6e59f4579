package store

import (
	"context"
	"testing"
	"time"

	"github.com/lazypower/tiermem/internal/promotion"
	"github.com/lazypower/tiermem/internal/tier"
)

func TestActiveDatesDistinct(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	events := []time.Time{
		base.AddDate(0, 0, -3),
		base,
		base.Add(2 * time.Hour),
		base.Add(5 * time.Hour),
		base.AddDate(0, 0, 2),
		base.AddDate(0, 0, 9),
	}
	for _, at := range events {
		if err := db.RecordActivity(ctx, "agent-a", at); err != nil {
			t.Fatalf("RecordActivity: %v", err)
		}
	}
	db.RecordActivity(ctx, "agent-b", base.AddDate(0, 0, 1))

	dates, err := db.ActiveDates(ctx, "agent-a", base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("ActiveDates: %v", err)
	}
	want := []time.Time{
		time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 19, 0, 0, 0, 0, time.UTC),
	}
	if len(dates) != len(want) {
		t.Fatalf("dates = %v, want %v", dates, want)
	}
	for i := range want {
		if !dates[i].Equal(want[i]) {
			t.Errorf("dates[%d] = %v, want %v", i, dates[i], want[i])
		}
	}

	var events10 int
	db.QueryRow("SELECT events FROM activity WHERE agent_id = 'agent-a' AND day = '2026-04-10'").Scan(&events10)
	if events10 != 3 {
		t.Errorf("events on 2026-04-10 = %d, want 3", events10)
	}
}

func TestLogPromotion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	ev := promotion.Event{
		Key: "k1", AgentID: "agent-a",
		OldTier: tier.Context, NewTier: tier.Solution,
		AccessCount: 7, Initiator: promotion.ByUser, At: base,
	}
	if err := db.LogPromotion(ctx, ev); err != nil {
		t.Fatalf("LogPromotion: %v", err)
	}

	demote := ev
	demote.OldTier, demote.NewTier = tier.Solution, tier.Context
	if err := db.LogPromotion(ctx, demote); err == nil {
		t.Error("expected demotion to be rejected")
	}

	got, err := db.Promotions(ctx, "k1")
	if err != nil {
		t.Fatalf("Promotions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Promotions = %+v, want one event", got)
	}
	g := got[0]
	if g.Key != ev.Key || g.OldTier != ev.OldTier || g.NewTier != ev.NewTier ||
		g.AccessCount != 7 || g.Initiator != promotion.ByUser || !g.At.Equal(base) {
		t.Errorf("Promotions[0] = %+v, want %+v", g, ev)
	}
}
