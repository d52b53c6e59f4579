// Package tier defines the four memory durability tiers and the decay
// policy each one is bound to.
package tier

import (
	"fmt"
	"strings"
)

// Tier is a durability class. Lower numbers are more durable.
type Tier int

const (
	Anchor    Tier = 0 // identity, never decays
	Principle Tier = 1 // methodology, superseded only
	Solution  Tier = 2 // proven solutions
	Context   Tier = 3 // work in progress
)

// All lists every tier from most to least durable.
var All = []Tier{Anchor, Principle, Solution, Context}

var names = map[Tier]string{
	Anchor:    "anchor",
	Principle: "principle",
	Solution:  "solution",
	Context:   "context",
}

// categories maps a tier to the storage category label it is filed under.
var categories = map[Tier]string{
	Anchor:    "note",
	Principle: "decision",
	Solution:  "progress",
	Context:   "task",
}

func (t Tier) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	return t >= Anchor && t <= Context
}

// MoreDurableThan reports whether t sits strictly below o in the tier order.
func (t Tier) MoreDurableThan(o Tier) bool {
	return t < o
}

// Policy returns the decay policy bound to the tier.
func (t Tier) Policy() DecayPolicy {
	switch t {
	case Anchor:
		return Never
	case Principle:
		return SupersededOnly
	default:
		return ActiveAgeWindow
	}
}

// RetentionDays returns the tier's base retention in days. Anchor has no
// bound and reports false.
func (t Tier) RetentionDays() (int, bool) {
	switch t {
	case Principle:
		return 180, true
	case Solution:
		return 30, true
	case Context:
		return 14, true
	default:
		return 0, false
	}
}

// Category returns the storage category for records of this tier.
func (t Tier) Category() string {
	return categories[t]
}

// Parse accepts a tier name ("anchor"), its number ("0") or a "tierN" form.
func Parse(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "tier")
	s = strings.TrimSpace(s)
	for t, n := range names {
		if s == n || s == fmt.Sprint(int(t)) {
			return t, nil
		}
	}
	return Context, fmt.Errorf("unknown tier %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DecayPolicy describes how a record ages out.
type DecayPolicy int

const (
	Never DecayPolicy = iota
	SupersededOnly
	ActiveAgeWindow
)

func (p DecayPolicy) String() string {
	switch p {
	case Never:
		return "never"
	case SupersededOnly:
		return "superseded_only"
	case ActiveAgeWindow:
		return "active_age_window"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// TimeBound reports whether records under this policy can expire by age.
func (p DecayPolicy) TimeBound() bool {
	return p == ActiveAgeWindow
}

// ParsePolicy is the inverse of DecayPolicy.String.
func ParsePolicy(s string) (DecayPolicy, error) {
	for _, p := range []DecayPolicy{Never, SupersededOnly, ActiveAgeWindow} {
		if p.String() == s {
			return p, nil
		}
	}
	return ActiveAgeWindow, fmt.Errorf("unknown decay policy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p DecayPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *DecayPolicy) UnmarshalText(b []byte) error {
	parsed, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
