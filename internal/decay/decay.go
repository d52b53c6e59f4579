// Package decay computes memory expiration from tier, access count and the
// owning agent's activity calendar.
//
// Two clocks gate deletion. The access clock is calendar based:
// expires_at = created_at + base retention + access bonus. The activity
// clock counts only the days on which the agent actually did something, so
// an agent that goes idle for a month does not lose its working context.
// When a record carries expires_at it is authoritative; records without one
// (and working-memory entries) fall back to the activity clock.
package decay

import (
	"context"
	"sort"
	"time"

	"github.com/lazypower/tiermem/internal/tier"
)

const (
	// BonusPerAccessDays is added to a record's life on each access.
	BonusPerAccessDays = 10
	// MaxBonusDays caps the access bonus.
	MaxBonusDays = 70
)

const day = 24 * time.Hour

// ActivitySource answers "on which distinct days was agent X active since
// date Y".
type ActivitySource interface {
	ActiveDates(ctx context.Context, agentID string, since time.Time) ([]time.Time, error)
}

// BonusDays returns the access bonus for count accesses.
func BonusDays(count int) int {
	if count <= 0 {
		return 0
	}
	return min(count*BonusPerAccessDays, MaxBonusDays)
}

// ExpiresAt returns the calendar expiry for a record, or nil when the tier
// never decays by time.
func ExpiresAt(t tier.Tier, created time.Time, accessCount int) *time.Time {
	if !t.Policy().TimeBound() {
		return nil
	}
	base, _ := t.RetentionDays()
	at := created.Add(time.Duration(base+BonusDays(accessCount)) * day)
	return &at
}

// Date truncates t to its calendar date in UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ActiveAge counts the distinct calendar dates in activity that fall on or
// after the date of created.
func ActiveAge(created time.Time, activity []time.Time) int {
	start := Date(created)
	seen := make(map[time.Time]struct{}, len(activity))
	for _, a := range activity {
		d := Date(a)
		if d.Before(start) {
			continue
		}
		seen[d] = struct{}{}
	}
	return len(seen)
}

// CalendarAge is the number of whole days between created and now.
func CalendarAge(created, now time.Time) int {
	if now.Before(created) {
		return 0
	}
	return int(now.Sub(created) / day)
}

// Subject is the minimal view of a record the evaluator needs.
type Subject struct {
	Tier      tier.Tier
	CreatedAt time.Time
	ExpiresAt *time.Time
	// Working marks ephemeral working-memory entries, which age only by
	// activity.
	Working bool
}

// Reason explains a verdict.
type Reason string

const (
	ReasonRetained    Reason = "retained"
	ReasonNeverDecays Reason = "never_decays"
	ReasonSuperseded  Reason = "superseded_only"
	ReasonExpired     Reason = "expires_at_passed"
	ReasonActiveAge   Reason = "active_age_exceeded"
)

// Verdict is the outcome of Evaluate.
type Verdict struct {
	Expired       bool   `json:"expired"`
	Reason        Reason `json:"reason"`
	ActiveAge     int    `json:"active_age"`
	CalendarAge   int    `json:"calendar_age"`
	RetentionDays int    `json:"retention_days"`
}

// Evaluate decides whether s is eligible for deletion at now given the
// owning agent's activity dates.
func Evaluate(s Subject, activity []time.Time, now time.Time) Verdict {
	v := Verdict{CalendarAge: CalendarAge(s.CreatedAt, now)}

	switch s.Tier.Policy() {
	case tier.Never:
		v.Reason = ReasonNeverDecays
		return v
	case tier.SupersededOnly:
		v.Reason = ReasonSuperseded
		return v
	}

	v.RetentionDays, _ = s.Tier.RetentionDays()
	v.ActiveAge = ActiveAge(s.CreatedAt, activity)
	v.Reason = ReasonRetained

	if !s.Working && s.ExpiresAt != nil {
		if now.After(*s.ExpiresAt) {
			v.Expired = true
			v.Reason = ReasonExpired
		}
		return v
	}
	if v.ActiveAge > v.RetentionDays {
		v.Expired = true
		v.Reason = ReasonActiveAge
	}
	return v
}

// Dates returns the sorted, de-duplicated calendar dates of activity.
func Dates(activity []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(activity))
	out := make([]time.Time, 0, len(activity))
	for _, a := range activity {
		d := Date(a)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
