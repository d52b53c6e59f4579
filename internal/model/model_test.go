package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/tiermem/internal/tier"
)

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		route Route
		tier  tier.Tier
		want  Priority
	}{
		{RouteImmediate, tier.Anchor, PriorityCritical},
		{RouteImmediate, tier.Principle, PriorityHigh},
		{RouteBatch, tier.Solution, PriorityMedium},
		{RouteWorking, tier.Context, PriorityLow},
	}
	for _, tt := range tests {
		if got := PriorityFor(tt.route, tt.tier); got != tt.want {
			t.Errorf("PriorityFor(%s, %s) = %s, want %s", tt.route, tt.tier, got, tt.want)
		}
	}
}

func TestRecordRecompute(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &Record{Tier: tier.Solution, CreatedAt: created, AccessCount: 3}
	r.Recompute()

	if r.ExpiresAt == nil || !r.ExpiresAt.Equal(created.AddDate(0, 0, 60)) {
		t.Errorf("expires_at = %v, want +60d", r.ExpiresAt)
	}
	if r.Category != "progress" || r.DecayPolicy != tier.ActiveAgeWindow {
		t.Errorf("category = %q policy = %s", r.Category, r.DecayPolicy)
	}

	r.Tier = tier.Anchor
	r.Recompute()
	if r.ExpiresAt != nil {
		t.Errorf("anchor expires_at = %v", r.ExpiresAt)
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	now := time.Now()
	r := &Record{Key: "k", LastAccessed: &now, ExpiresAt: &now}
	c := r.Clone()
	*c.LastAccessed = now.Add(time.Hour)
	if !r.LastAccessed.Equal(now) {
		t.Error("clone shares last_accessed")
	}
	if (*Record)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestRecordJSON(t *testing.T) {
	r := Record{Key: "01H", Tier: tier.Principle, DecayPolicy: tier.SupersededOnly, Route: RouteImmediate}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"tier":"principle"`) || !strings.Contains(s, `"decay_policy":"superseded_only"`) {
		t.Errorf("json = %s", s)
	}
	if strings.Contains(s, "expires_at") {
		t.Errorf("nil expires_at serialized: %s", s)
	}
}

func TestNewKeySortable(t *testing.T) {
	a := NewKey(time.Unix(1000, 0))
	b := NewKey(time.Unix(2000, 0))
	if len(a) != 26 {
		t.Errorf("key length = %d, want 26", len(a))
	}
	if a >= b {
		t.Errorf("%s should sort before %s", a, b)
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("short", 10); got != "short" {
		t.Errorf("Preview = %q", got)
	}
	if got := Preview("hello big world", 12); got != "hello big..." {
		t.Errorf("Preview = %q", got)
	}
}

func TestPolicyEntityName(t *testing.T) {
	if got := PolicyEntityName(tier.Anchor); got != "Tier_Anchor_Policy" {
		t.Errorf("anchor = %q", got)
	}
	if got := PolicyEntityName(tier.Context); got != "Tier_Context_Policy" {
		t.Errorf("context = %q", got)
	}
}
