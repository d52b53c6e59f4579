package promotion

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/tier"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newRecord(t tier.Tier, count int) *model.Record {
	r := &model.Record{
		Key:         "01HX",
		AgentID:     "agent-a",
		Content:     strings.Repeat("word ", 80),
		Tier:        t,
		CreatedAt:   now.Add(-72 * time.Hour),
		AccessCount: count,
	}
	r.Recompute()
	return r
}

func TestShouldPrompt(t *testing.T) {
	var hits []int
	for n := 0; n <= 30; n++ {
		if ShouldPrompt(n) {
			hits = append(hits, n)
		}
	}
	if !reflect.DeepEqual(hits, []int{7, 14, 21, 28}) {
		t.Errorf("prompt counts = %v", hits)
	}
	if ShouldPrompt(-7) {
		t.Error("negative count prompted")
	}
}

func TestValidateMatrix(t *testing.T) {
	for _, from := range tier.All {
		for _, to := range tier.All {
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				err := Validate(from, to)
				if to < from {
					if err != nil {
						t.Errorf("Validate: %v", err)
					}
					return
				}
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("err = %v, want ErrInvalidTransition", err)
				}
				want := "cannot demote"
				if to == from {
					want = "already at tier"
				}
				if !strings.Contains(err.Error(), want) {
					t.Errorf("err = %q, want it to mention %q", err, want)
				}
			})
		}
	}
	if err := Validate(tier.Context, tier.Tier(-1)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("invalid target: %v", err)
	}
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]string{"0": "0", " 1 ": "1", "2": "2", "n": "N", "N": "N"} {
		d, err := ParseDecision(in)
		if err != nil {
			t.Fatalf("ParseDecision(%q): %v", in, err)
		}
		if d.String() != want {
			t.Errorf("ParseDecision(%q) = %s, want %s", in, d, want)
		}
	}
	for _, bad := range []string{"3", "", "yes", "anchor"} {
		if _, err := ParseDecision(bad); !errors.Is(err, ErrBadResponse) {
			t.Errorf("ParseDecision(%q) err = %v", bad, err)
		}
	}
}

func TestObserveIssuesPromptOnMultiplesOfSeven(t *testing.T) {
	m := NewMachine()
	rec := newRecord(tier.Context, 0)

	for n := 1; n <= 21; n++ {
		rec.AccessCount = n
		p, ok := m.Observe(rec, now)
		if ok != (n%7 == 0) {
			t.Fatalf("count %d: prompted = %v", n, ok)
		}
		if !ok {
			continue
		}
		if p.Key != rec.Key || p.AccessCount != n || p.BonusDays != 70 || p.ID == "" {
			t.Errorf("prompt = %+v", p)
		}
		if len(p.Preview) > 203 {
			t.Errorf("preview length = %d", len(p.Preview))
		}
	}
	if got := m.State(rec.Key); got != StatePromptPending {
		t.Errorf("state = %s", got)
	}
	if got := len(m.Pending()); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
}

func TestObserveSkipsAnchor(t *testing.T) {
	m := NewMachine()
	if _, ok := m.Observe(newRecord(tier.Anchor, 7), now); ok {
		t.Error("anchor prompted")
	}
}

func TestResolveAccept(t *testing.T) {
	m := NewMachine()
	rec := newRecord(tier.Context, 7)
	if _, ok := m.Observe(rec, now); !ok {
		t.Fatal("no prompt at 7")
	}

	ev, err := m.Resolve(rec, PromoteTo(tier.Solution), ByUser, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ev == nil {
		t.Fatal("no promotion event")
	}
	if ev.OldTier != tier.Context || ev.NewTier != tier.Solution || ev.AccessCount != 7 || ev.Initiator != ByUser {
		t.Errorf("event = %+v", ev)
	}

	if rec.Tier != tier.Solution || rec.AccessCount != 0 {
		t.Errorf("record tier = %s access = %d", rec.Tier, rec.AccessCount)
	}
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(rec.CreatedAt.Add(30*24*time.Hour)) {
		t.Errorf("expires_at = %v, want created +30d", rec.ExpiresAt)
	}
	if got := m.State(rec.Key); got != StateActive {
		t.Errorf("state = %s", got)
	}
}

func TestResolveToAnchorClearsExpiry(t *testing.T) {
	m := NewMachine()
	rec := newRecord(tier.Solution, 14)
	m.Observe(rec, now)

	if _, err := m.Resolve(rec, PromoteTo(tier.Anchor), ByAgent, now); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.ExpiresAt != nil || rec.DecayPolicy != tier.Never {
		t.Errorf("expires_at = %v policy = %s", rec.ExpiresAt, rec.DecayPolicy)
	}
}

func TestResolveDecline(t *testing.T) {
	m := NewMachine()
	rec := newRecord(tier.Context, 7)
	m.Observe(rec, now)
	before := *rec.Clone()

	ev, err := m.Resolve(rec, Decline, ByUser, now)
	if err != nil || ev != nil {
		t.Fatalf("Resolve = %+v, %v", ev, err)
	}
	if !reflect.DeepEqual(before, *rec) {
		t.Errorf("decline changed record: %+v", rec)
	}
	if got := m.State(rec.Key); got != StateActive {
		t.Errorf("state = %s", got)
	}

	// Re-triggers at the next multiple.
	rec.AccessCount = 13
	if _, ok := m.Observe(rec, now); ok {
		t.Error("prompted at 13")
	}
	rec.AccessCount = 14
	if _, ok := m.Observe(rec, now); !ok {
		t.Error("no prompt at 14")
	}
}

func TestResolveInvalidLeavesStateUnchanged(t *testing.T) {
	m := NewMachine()
	rec := newRecord(tier.Solution, 7)
	m.Observe(rec, now)
	before := *rec.Clone()

	if _, err := m.Resolve(rec, PromoteTo(tier.Solution), ByUser, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("same tier err = %v", err)
	}

	_, err := m.Resolve(rec, PromoteTo(tier.Context), ByUser, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("demote err = %v", err)
	}
	if !strings.Contains(err.Error(), "cannot demote from solution to context") {
		t.Errorf("err = %q", err)
	}

	if !reflect.DeepEqual(before, *rec) {
		t.Errorf("rejected resolve changed record: %+v", rec)
	}
	if got := m.State(rec.Key); got != StatePromptPending {
		t.Errorf("state = %s", got)
	}
}

func TestResolveWithoutPrompt(t *testing.T) {
	m := NewMachine()
	rec := newRecord(tier.Context, 3)
	_, err := m.Resolve(rec, PromoteTo(tier.Anchor), ByUser, now)
	if !errors.Is(err, ErrNoPendingPrompt) {
		t.Errorf("err = %v, want ErrNoPendingPrompt", err)
	}
	if rec.Tier != tier.Context {
		t.Errorf("tier = %s", rec.Tier)
	}
}

func TestForget(t *testing.T) {
	m := NewMachine()
	rec := newRecord(tier.Context, 7)
	m.Observe(rec, now)
	m.Forget(rec.Key)
	if got := m.State(rec.Key); got != StateActive {
		t.Errorf("state = %s", got)
	}
}

func TestPromptText(t *testing.T) {
	m := NewMachine()
	rec := newRecord(tier.Solution, 7)
	p, ok := m.Observe(rec, now)
	if !ok {
		t.Fatal("no prompt")
	}

	text := p.Text()
	for _, want := range []string{"accessed 7 times", "30 days base + 70 day extension", "0=anchor 1=principle N=keep"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt text missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "2=solution") {
		t.Errorf("prompt offers the current tier:\n%s", text)
	}
}
