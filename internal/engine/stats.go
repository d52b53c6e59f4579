package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/tiermem/internal/index"
	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
)

// Stats is a snapshot of one agent's partition.
type Stats struct {
	AgentID        string         `json:"agent_id" yaml:"agent_id"`
	Tiers          map[string]int `json:"tiers" yaml:"tiers"`
	Persisted      int            `json:"persisted" yaml:"persisted"`
	BatchQueue     int            `json:"batch_queue" yaml:"batch_queue"`
	WorkingMemory  int            `json:"working_memory" yaml:"working_memory"`
	PendingPrompts int            `json:"pending_prompts" yaml:"pending_prompts"`
	ActiveDays     int            `json:"active_days" yaml:"active_days"`
	LastActive     *time.Time     `json:"last_active,omitempty" yaml:"last_active,omitempty"`
}

// Stats reports the agent's record counts and queue sizes.
func (o *Orchestrator) Stats(ctx context.Context, agentID string) (*Stats, error) {
	if agentID == "" {
		return nil, ErrUnknownAgent
	}
	p := o.partition(agentID)

	counts, err := o.db.TierCounts(ctx, agentID)
	if err != nil {
		return nil, err
	}
	days, err := o.db.ActiveDates(ctx, agentID, time.Time{})
	if err != nil {
		return nil, err
	}

	st := &Stats{
		AgentID:        agentID,
		Tiers:          make(map[string]int, len(tier.All)),
		BatchQueue:     p.queue.Len(),
		WorkingMemory:  p.working.Len(),
		PendingPrompts: len(p.machine.Pending()),
		ActiveDays:     len(days),
	}
	for _, t := range tier.All {
		st.Tiers[t.String()] = counts[t]
		st.Persisted += counts[t]
	}
	for _, rec := range p.working.List() {
		st.Tiers[rec.Tier.String()]++
	}
	if len(days) > 0 {
		last := days[len(days)-1]
		st.LastActive = &last
	}
	return st, nil
}

// Working returns the agent's working-memory entries, oldest first.
func (o *Orchestrator) Working(agentID string) ([]model.Record, error) {
	if agentID == "" {
		return nil, ErrUnknownAgent
	}
	return o.partition(agentID).working.List(), nil
}

// RecordActivity marks the agent active now. Activity drives the active-age
// decay window.
func (o *Orchestrator) RecordActivity(ctx context.Context, agentID string) error {
	if agentID == "" {
		return ErrUnknownAgent
	}
	o.partition(agentID)
	return o.db.RecordActivity(ctx, agentID, o.now())
}

// Search filters persisted records.
func (o *Orchestrator) Search(ctx context.Context, q store.Query) ([]model.Record, error) {
	return o.db.Search(ctx, q)
}

// Recall runs a similarity query over the agent's indexed records.
func (o *Orchestrator) Recall(ctx context.Context, agentID, text string, k int) ([]index.Hit, error) {
	if agentID == "" {
		return nil, ErrUnknownAgent
	}
	if o.index == nil {
		return nil, nil
	}
	return o.index.Query(ctx, agentID, text, k)
}

const maxContextItems = 15

// Context renders the agent's identity anchors and principles as a
// markdown block for session injection. Empty when the agent has neither.
func (o *Orchestrator) Context(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", ErrUnknownAgent
	}
	recs, err := o.db.ByTier(ctx, agentID, tier.Anchor, tier.Principle)
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", nil
	}
	if len(recs) > maxContextItems {
		recs = recs[:maxContextItems]
	}

	var b strings.Builder
	b.WriteString("<context>\n## tiermem: Identity\n")
	current := tier.Tier(-1)
	for _, rec := range recs {
		if rec.Tier != current {
			current = rec.Tier
			heading := "Anchors"
			if current == tier.Principle {
				heading = "Principles"
			}
			fmt.Fprintf(&b, "\n### %s\n", heading)
		}
		fmt.Fprintf(&b, "- %s\n", model.Preview(rec.Content, 300))
	}
	b.WriteString("</context>")
	return b.String(), nil
}
