// Package model defines the core memory data types shared across the
// lifecycle engine, storage and transport layers.
package model

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lazypower/tiermem/internal/decay"
	"github.com/lazypower/tiermem/internal/tier"
)

// Route is the storage path chosen for a candidate.
type Route string

const (
	RouteImmediate Route = "immediate"
	RouteBatch     Route = "batch"
	RouteWorking   Route = "working_memory"
	// RouteNone is used by directives that act on existing state and store
	// nothing themselves.
	RouteNone Route = "none"
)

// Priority labels a record for downstream storage.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// PriorityFor maps a routing decision to a priority.
func PriorityFor(r Route, t tier.Tier) Priority {
	switch r {
	case RouteImmediate:
		if t == tier.Anchor {
			return PriorityCritical
		}
		return PriorityHigh
	case RouteBatch:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Candidate is raw text submitted for memory formation.
type Candidate struct {
	AgentID  string         `json:"agent_id"`
	Text     string         `json:"text"`
	Flags    map[string]any `json:"context,omitempty"`
	Override *tier.Tier     `json:"tier,omitempty"`
}

// Record is a formed memory.
type Record struct {
	Key          string           `json:"key"`
	AgentID      string           `json:"agent_id"`
	Content      string           `json:"content"`
	Tier         tier.Tier        `json:"tier"`
	Importance   float64          `json:"importance"`
	CreatedAt    time.Time        `json:"created_at"`
	LastAccessed *time.Time       `json:"last_accessed,omitempty"`
	AccessCount  int              `json:"access_count"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	DecayPolicy  tier.DecayPolicy `json:"decay_policy"`
	Priority     Priority         `json:"priority"`
	Category     string           `json:"category"`
	Route        Route            `json:"route"`
	Directive    string           `json:"directive,omitempty"`
	Reasoning    string           `json:"reasoning,omitempty"`
	Indexed      bool             `json:"indexed"`
}

// NewKey returns a lexically sortable record key.
func NewKey(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

// Working reports whether the record lives only in working memory.
func (r *Record) Working() bool {
	return r.Route == RouteWorking
}

// Subject returns the decay view of the record.
func (r *Record) Subject() decay.Subject {
	return decay.Subject{
		Tier:      r.Tier,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		Working:   r.Working(),
	}
}

// Recompute refreshes the derived fields that depend on tier and access
// count.
func (r *Record) Recompute() {
	r.DecayPolicy = r.Tier.Policy()
	r.Category = r.Tier.Category()
	r.ExpiresAt = decay.ExpiresAt(r.Tier, r.CreatedAt, r.AccessCount)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastAccessed != nil {
		t := *r.LastAccessed
		c.LastAccessed = &t
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// Preview truncates content to n bytes on a word boundary.
func Preview(content string, n int) string {
	if len(content) <= n {
		return content
	}
	cut := content[:n]
	for i := len(cut) - 1; i > n/2; i-- {
		if cut[i] == ' ' {
			return cut[:i] + "..."
		}
	}
	return cut + "..."
}

// Entity is a node in the knowledge graph.
type Entity struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Observations []string          `json:"observations,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Relation is a directed edge between two entities.
type Relation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// PolicyEntityName is the graph node every record of t links to.
func PolicyEntityName(t tier.Tier) string {
	name := t.String()
	return "Tier_" + strings.ToUpper(name[:1]) + name[1:] + "_Policy"
}

// RelationFollowsPolicy links a memory entity to its tier policy entity.
const RelationFollowsPolicy = "follows_decay_policy"
