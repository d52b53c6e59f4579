package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/tier"
)

var base = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

func newRecord(key, agent, content string, t tier.Tier, route model.Route, created time.Time) *model.Record {
	r := &model.Record{
		Key:        key,
		AgentID:    agent,
		Content:    content,
		Tier:       t,
		Importance: 0.45,
		CreatedAt:  created,
		Route:      route,
		Priority:   model.PriorityFor(route, t),
	}
	r.Recompute()
	return r
}

func TestSaveAndGetRecord(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rec := newRecord("k1", "agent-a", "redis runs on 6380", tier.Solution, model.RouteBatch, base)
	rec.Directive = "save"
	if err := db.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	got, err := db.GetRecord(ctx, "k1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Content != rec.Content || got.Tier != tier.Solution || got.Directive != "save" {
		t.Errorf("got %+v", got)
	}
	if got.DecayPolicy != tier.ActiveAgeWindow || got.Category != "progress" {
		t.Errorf("policy/category = %s/%s", got.DecayPolicy, got.Category)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(base.AddDate(0, 0, 30)) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, base.AddDate(0, 0, 30))
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if got.LastAccessed != nil {
		t.Errorf("LastAccessed = %v, want nil", got.LastAccessed)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.GetRecord(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound = false")
	}
}

func TestSaveRecordKeepsImmutableFields(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rec := newRecord("k1", "agent-a", "original", tier.Context, model.RouteBatch, base)
	db.SaveRecord(ctx, rec)

	rec.Content = "rewritten"
	rec.Indexed = true
	if err := db.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	got, _ := db.GetRecord(ctx, "k1")
	if got.Content != "original" {
		t.Errorf("Content = %q, want original", got.Content)
	}
	if !got.Indexed {
		t.Error("Indexed = false, want true")
	}
}

func TestUpdateAccess(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rec := newRecord("k1", "agent-a", "x", tier.Context, model.RouteImmediate, base)
	db.SaveRecord(ctx, rec)

	now := base.Add(time.Hour)
	rec.AccessCount = 3
	rec.LastAccessed = &now
	rec.Recompute()
	if err := db.UpdateAccess(ctx, rec); err != nil {
		t.Fatalf("UpdateAccess: %v", err)
	}

	got, _ := db.GetRecord(ctx, "k1")
	if got.AccessCount != 3 {
		t.Errorf("AccessCount = %d, want 3", got.AccessCount)
	}
	if got.LastAccessed == nil || !got.LastAccessed.Equal(now) {
		t.Errorf("LastAccessed = %v, want %v", got.LastAccessed, now)
	}
	if !got.ExpiresAt.Equal(base.AddDate(0, 0, 44)) {
		t.Errorf("ExpiresAt = %v, want +44d", got.ExpiresAt)
	}

	missing := newRecord("nope", "agent-a", "x", tier.Context, model.RouteImmediate, base)
	if err := db.UpdateAccess(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAccess missing = %v, want ErrNotFound", err)
	}
}

func TestUpdateTier(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rec := newRecord("k1", "agent-a", "x", tier.Solution, model.RouteBatch, base)
	rec.AccessCount = 7
	db.SaveRecord(ctx, rec)

	rec.Tier = tier.Anchor
	rec.AccessCount = 0
	rec.Recompute()
	if err := db.UpdateTier(ctx, rec); err != nil {
		t.Fatalf("UpdateTier: %v", err)
	}

	got, _ := db.GetRecord(ctx, "k1")
	if got.Tier != tier.Anchor || got.AccessCount != 0 || got.ExpiresAt != nil {
		t.Errorf("got tier=%s count=%d expires=%v", got.Tier, got.AccessCount, got.ExpiresAt)
	}
	if got.DecayPolicy != tier.Never || got.Category != "note" {
		t.Errorf("policy/category = %s/%s", got.DecayPolicy, got.Category)
	}
}

func TestDeleteRecord(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rec := newRecord("k1", "agent-a", "x", tier.Context, model.RouteImmediate, base)
	db.SaveRecord(ctx, rec)
	db.UpsertEntity(ctx, model.Entity{Name: "k1", Type: "memory"})

	if err := db.DeleteRecord(ctx, "k1"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, err := db.GetRecord(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record still present: %v", err)
	}
	if e, _ := db.GetEntity(ctx, "k1"); e != nil {
		t.Error("entity still present")
	}
	if err := db.DeleteRecord(ctx, "k1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestRecentAndLatest(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i, c := range []string{"first", "second", "third"} {
		key := model.NewKey(base.Add(time.Duration(i) * time.Minute))
		db.SaveRecord(ctx, newRecord(key, "agent-a", c, tier.Context, model.RouteBatch, base.Add(time.Duration(i)*time.Minute)))
	}
	db.SaveRecord(ctx, newRecord("other", "agent-b", "elsewhere", tier.Context, model.RouteBatch, base.Add(time.Hour)))

	got, err := db.RecentContents(ctx, "agent-a", 2)
	if err != nil {
		t.Fatalf("RecentContents: %v", err)
	}
	if len(got) != 2 || got[0] != "third" || got[1] != "second" {
		t.Errorf("RecentContents = %v", got)
	}

	latest, err := db.LatestRecord(ctx, "agent-a")
	if err != nil {
		t.Fatalf("LatestRecord: %v", err)
	}
	if latest.Content != "third" {
		t.Errorf("LatestRecord = %q, want third", latest.Content)
	}

	if _, err := db.LatestRecord(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestRecord(nobody) = %v, want ErrNotFound", err)
	}
}

func TestSearch(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	db.SaveRecord(ctx, newRecord("a1", "agent-a", "fixed the 100% cpu bug", tier.Solution, model.RouteBatch, base))
	db.SaveRecord(ctx, newRecord("a2", "agent-a", "always run tests", tier.Principle, model.RouteImmediate, base.Add(24*time.Hour)))
	db.SaveRecord(ctx, newRecord("b1", "agent-b", "fixed login", tier.Solution, model.RouteBatch, base.Add(48*time.Hour)))

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"agent", Query{AgentID: "agent-a"}, []string{"a2", "a1"}},
		{"keyword", Query{Keyword: "fixed"}, []string{"b1", "a1"}},
		{"literal percent", Query{Keyword: "100%"}, []string{"a1"}},
		{"category", Query{Category: "decision"}, []string{"a2"}},
		{"since", Query{Since: base.Add(time.Hour)}, []string{"b1", "a2"}},
		{"until", Query{Until: base.Add(time.Hour)}, []string{"a1"}},
		{"limit", Query{Limit: 1}, []string{"b1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := db.Search(ctx, tt.q)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			var keys []string
			for _, r := range recs {
				keys = append(keys, r.Key)
			}
			if len(keys) != len(tt.want) {
				t.Fatalf("keys = %v, want %v", keys, tt.want)
			}
			for i := range keys {
				if keys[i] != tt.want[i] {
					t.Errorf("keys = %v, want %v", keys, tt.want)
					break
				}
			}
		})
	}
}

func TestPendingBatchAndMarkIndexed(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	db.SaveRecord(ctx, newRecord("b1", "agent-a", "x", tier.Context, model.RouteBatch, base))
	db.SaveRecord(ctx, newRecord("b2", "agent-a", "y", tier.Context, model.RouteBatch, base.Add(time.Minute)))
	db.SaveRecord(ctx, newRecord("i1", "agent-a", "z", tier.Anchor, model.RouteImmediate, base))

	pending, err := db.PendingBatch(ctx, "agent-a")
	if err != nil {
		t.Fatalf("PendingBatch: %v", err)
	}
	if len(pending) != 2 || pending[0].Key != "b1" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := db.MarkIndexed(ctx, []string{"b1"}); err != nil {
		t.Fatalf("MarkIndexed: %v", err)
	}
	pending, _ = db.PendingBatch(ctx, "agent-a")
	if len(pending) != 1 || pending[0].Key != "b2" {
		t.Errorf("pending after mark = %+v", pending)
	}
}

func TestByTierAndCounts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	db.SaveRecord(ctx, newRecord("a", "agent-a", "who we are", tier.Anchor, model.RouteImmediate, base))
	db.SaveRecord(ctx, newRecord("p", "agent-a", "always test", tier.Principle, model.RouteImmediate, base))
	db.SaveRecord(ctx, newRecord("c", "agent-a", "wip", tier.Context, model.RouteBatch, base))

	recs, err := db.ByTier(ctx, "agent-a", tier.Anchor, tier.Principle)
	if err != nil {
		t.Fatalf("ByTier: %v", err)
	}
	if len(recs) != 2 || recs[0].Key != "a" || recs[1].Key != "p" {
		t.Errorf("ByTier = %+v", recs)
	}

	counts, err := db.TierCounts(ctx, "agent-a")
	if err != nil {
		t.Fatalf("TierCounts: %v", err)
	}
	if counts[tier.Anchor] != 1 || counts[tier.Context] != 1 || counts[tier.Solution] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestAgents(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	db.SaveRecord(ctx, newRecord("k", "agent-b", "x", tier.Context, model.RouteBatch, base))
	db.RecordActivity(ctx, "agent-a", base)
	db.RecordActivity(ctx, "agent-b", base)

	agents, err := db.Agents(ctx)
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(agents) != 2 || agents[0] != "agent-a" || agents[1] != "agent-b" {
		t.Errorf("Agents = %v", agents)
	}
}
