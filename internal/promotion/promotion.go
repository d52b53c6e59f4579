// Package promotion implements the tier-promotion state machine.
//
// A record sits in StateActive until its access count reaches a positive
// multiple of seven, at which point a Prompt is issued and the record moves
// to StatePromptPending. Resolving the prompt either promotes the record to
// a strictly more durable tier (resetting its access count) or declines,
// which returns it to StateActive untouched.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/tiermem/internal/decay"
	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/tier"
)

// PromptInterval is the access count period between prompts.
const PromptInterval = 7

const previewLen = 200

var (
	// ErrInvalidTransition is returned for demotions and same-tier moves.
	ErrInvalidTransition = errors.New("invalid tier transition")
	// ErrNoPendingPrompt is returned when resolving a record with no prompt.
	ErrNoPendingPrompt = errors.New("no pending promotion prompt")
	// ErrBadResponse is returned by ParseDecision.
	ErrBadResponse = errors.New("unrecognized promotion response")
)

// State of a record in the machine.
type State string

const (
	StateActive        State = "active"
	StatePromptPending State = "prompt_pending"
)

// Initiators.
const (
	ByUser  = "user"
	ByAgent = "agent"
)

// ShouldPrompt reports whether count triggers a prompt.
func ShouldPrompt(count int) bool {
	return count > 0 && count%PromptInterval == 0
}

// Decision is a resolution. A nil Target declines.
type Decision struct {
	Target *tier.Tier `json:"target,omitempty"`
}

// Decline is the decision to keep the current tier.
var Decline = Decision{}

// PromoteTo returns a decision to move to t.
func PromoteTo(t tier.Tier) Decision {
	return Decision{Target: &t}
}

// Declined reports whether d keeps the current tier.
func (d Decision) Declined() bool { return d.Target == nil }

func (d Decision) String() string {
	if d.Declined() {
		return "N"
	}
	return fmt.Sprint(int(*d.Target))
}

// ParseDecision reads "0", "1", "2" or "N" (case and space insensitive).
func ParseDecision(s string) (Decision, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "0":
		return PromoteTo(tier.Anchor), nil
	case "1":
		return PromoteTo(tier.Principle), nil
	case "2":
		return PromoteTo(tier.Solution), nil
	case "N", "NO":
		return Decline, nil
	}
	return Decline, fmt.Errorf("%w: %q", ErrBadResponse, s)
}

// Validate accepts only moves to a numerically lower tier.
func Validate(current, target tier.Tier) error {
	switch {
	case !target.Valid():
		return fmt.Errorf("%w: unknown tier %d", ErrInvalidTransition, int(target))
	case target == current:
		return fmt.Errorf("%w: already at tier %s", ErrInvalidTransition, current)
	case !target.MoreDurableThan(current):
		return fmt.Errorf("%w: cannot demote from %s to %s", ErrInvalidTransition, current, target)
	}
	return nil
}

// Prompt is the data contract of a promotion offer.
type Prompt struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	AgentID      string    `json:"agent_id"`
	Tier         tier.Tier `json:"tier"`
	AccessCount  int       `json:"access_count"`
	BonusDays    int       `json:"bonus_days"`
	Preview      string    `json:"preview"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Text renders a human readable prompt.
func (p Prompt) Text() string {
	var b strings.Builder
	base, bounded := p.Tier.RetentionDays()
	life := "forever"
	if bounded {
		life = fmt.Sprintf("%d days base + %d day extension", base, p.BonusDays)
	}
	fmt.Fprintf(&b, "Memory %s has been accessed %d times.\n", p.Key, p.AccessCount)
	fmt.Fprintf(&b, "Current tier: %d (%s), %s\n", int(p.Tier), p.Tier, life)
	fmt.Fprintf(&b, "Created %s, last accessed %s\n\n", p.CreatedAt.Format("2006-01-02"), p.LastAccessed.Format("2006-01-02"))
	fmt.Fprintf(&b, "%q\n\n", p.Preview)
	b.WriteString("Promote? ")
	for _, t := range tier.All {
		if t.MoreDurableThan(p.Tier) {
			fmt.Fprintf(&b, "%d=%s ", int(t), t)
		}
	}
	b.WriteString("N=keep")
	return b.String()
}

// Event records an accepted promotion.
type Event struct {
	Key         string    `json:"key"`
	AgentID     string    `json:"agent_id"`
	OldTier     tier.Tier `json:"old_tier"`
	NewTier     tier.Tier `json:"new_tier"`
	AccessCount int       `json:"access_count"`
	Initiator   string    `json:"initiator"`
	At          time.Time `json:"at"`
}

// Sink delivers prompts to an audience. Delivery failures never affect the
// record.
type Sink interface {
	Notify(ctx context.Context, p Prompt) error
}

// Machine tracks pending prompts for one agent partition.
type Machine struct {
	mu      sync.Mutex
	pending map[string]Prompt
}

// NewMachine returns an empty machine.
func NewMachine() *Machine {
	return &Machine{pending: make(map[string]Prompt)}
}

// State returns the state of the record with key.
func (m *Machine) State(key string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[key]; ok {
		return StatePromptPending
	}
	return StateActive
}

// Observe is called after every access count change. It issues a prompt
// when the new count is a positive multiple of seven. A newer prompt for
// the same record replaces an unanswered one.
func (m *Machine) Observe(rec *model.Record, now time.Time) (Prompt, bool) {
	if !ShouldPrompt(rec.AccessCount) || rec.Tier == tier.Anchor {
		return Prompt{}, false
	}
	last := now
	if rec.LastAccessed != nil {
		last = *rec.LastAccessed
	}
	p := Prompt{
		ID:           uuid.NewString(),
		Key:          rec.Key,
		AgentID:      rec.AgentID,
		Tier:         rec.Tier,
		AccessCount:  rec.AccessCount,
		BonusDays:    decay.BonusDays(rec.AccessCount),
		Preview:      model.Preview(rec.Content, previewLen),
		CreatedAt:    rec.CreatedAt,
		LastAccessed: last,
		IssuedAt:     now,
	}
	m.mu.Lock()
	m.pending[rec.Key] = p
	m.mu.Unlock()
	return p, true
}

// Pending returns all unanswered prompts.
func (m *Machine) Pending() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Prompt, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p)
	}
	return out
}

// Forget drops any pending prompt for key, e.g. when the record is deleted.
func (m *Machine) Forget(key string) {
	m.mu.Lock()
	delete(m.pending, key)
	m.mu.Unlock()
}

// Resolve applies d to rec. On acceptance rec is mutated in place and the
// returned event is non-nil. On decline rec is untouched and the event is
// nil. On error neither rec nor the pending prompt changes.
func (m *Machine) Resolve(rec *model.Record, d Decision, initiator string, now time.Time) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[rec.Key]; !ok {
		return nil, fmt.Errorf("%s: %w", rec.Key, ErrNoPendingPrompt)
	}
	if d.Declined() {
		delete(m.pending, rec.Key)
		return nil, nil
	}
	if err := Validate(rec.Tier, *d.Target); err != nil {
		return nil, err
	}

	ev := &Event{
		Key:         rec.Key,
		AgentID:     rec.AgentID,
		OldTier:     rec.Tier,
		NewTier:     *d.Target,
		AccessCount: rec.AccessCount,
		Initiator:   initiator,
		At:          now,
	}
	rec.Tier = *d.Target
	rec.AccessCount = 0
	rec.Recompute()
	delete(m.pending, rec.Key)
	return ev, nil
}
