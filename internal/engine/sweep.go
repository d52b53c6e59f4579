package engine

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/tiermem/internal/decay"
	"github.com/lazypower/tiermem/internal/model"
)

// SweepOptions scopes a decay sweep.
type SweepOptions struct {
	// AgentID limits the sweep to one agent. Empty sweeps every agent.
	AgentID string
	// DryRun reports what would be deleted without deleting it.
	DryRun bool
}

// AuditEntry describes one expired record.
type AuditEntry struct {
	Key           string       `json:"key" yaml:"key"`
	Tier          int          `json:"tier" yaml:"tier"`
	Working       bool         `json:"working_memory" yaml:"working_memory"`
	Reason        decay.Reason `json:"reason" yaml:"reason"`
	ActiveAge     int          `json:"active_age" yaml:"active_age"`
	CalendarAge   int          `json:"calendar_age" yaml:"calendar_age"`
	RetentionDays int          `json:"retention_days" yaml:"retention_days"`
	Preview       string       `json:"preview" yaml:"preview"`
}

// AgentSweep is the per-agent part of a sweep report.
type AgentSweep struct {
	AgentID    string         `json:"agent_id" yaml:"agent_id"`
	ActiveDays int            `json:"active_days" yaml:"active_days"`
	LastActive *time.Time     `json:"last_active,omitempty" yaml:"last_active,omitempty"`
	Examined   int            `json:"examined" yaml:"examined"`
	Deleted    int            `json:"deleted" yaml:"deleted"`
	ByTier     map[string]int `json:"deleted_by_tier,omitempty" yaml:"deleted_by_tier,omitempty"`
	Audit      []AuditEntry   `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// SweepReport summarizes a sweep.
type SweepReport struct {
	At      time.Time    `json:"at" yaml:"at"`
	DryRun  bool         `json:"dry_run" yaml:"dry_run"`
	Deleted int          `json:"deleted" yaml:"deleted"`
	Agents  []AgentSweep `json:"agents" yaml:"agents"`
}

// Sweep deletes expired records. Agents are swept in parallel; each agent's
// deletions hold only that agent's partition lock.
func (o *Orchestrator) Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	start := time.Now()
	now := o.now()

	agents := []string{opts.AgentID}
	if opts.AgentID == "" {
		stored, err := o.db.Agents(ctx)
		if err != nil {
			return nil, err
		}
		agents = mergeAgents(stored, o.knownAgents())
	}

	rep := &SweepReport{At: now, DryRun: opts.DryRun, Agents: make([]AgentSweep, len(agents))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.sweepWorkers)
	for i, agent := range agents {
		g.Go(func() error {
			as, err := o.sweepAgent(gctx, agent, now, opts.DryRun)
			if err != nil {
				return err
			}
			rep.Agents[i] = as
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, as := range rep.Agents {
		rep.Deleted += as.Deleted
	}
	o.metrics.SweepDuration(time.Since(start))
	return rep, nil
}

func (o *Orchestrator) sweepAgent(ctx context.Context, agent string, now time.Time, dryRun bool) (AgentSweep, error) {
	as := AgentSweep{AgentID: agent}
	p := o.partition(agent)

	p.mu.Lock()
	defer p.mu.Unlock()

	stored, err := o.db.ListRecords(ctx, agent)
	if err != nil {
		return as, err
	}
	working := p.working.List()

	earliest := now
	for _, recs := range [][]model.Record{stored, working} {
		for i := range recs {
			if recs[i].CreatedAt.Before(earliest) {
				earliest = recs[i].CreatedAt
			}
		}
	}
	activity, err := o.activity.ActiveDates(ctx, agent, earliest)
	if err != nil {
		return as, err
	}
	activity = decay.Dates(activity)
	as.ActiveDays = len(activity)
	if n := len(activity); n > 0 {
		as.LastActive = &activity[n-1]
	}

	var expired []string
	for _, recs := range [][]model.Record{stored, working} {
		for i := range recs {
			rec := &recs[i]
			as.Examined++
			v := decay.Evaluate(rec.Subject(), activity, now)
			if !v.Expired {
				continue
			}
			as.Audit = append(as.Audit, AuditEntry{
				Key:           rec.Key,
				Tier:          int(rec.Tier),
				Working:       rec.Working(),
				Reason:        v.Reason,
				ActiveAge:     v.ActiveAge,
				CalendarAge:   v.CalendarAge,
				RetentionDays: v.RetentionDays,
				Preview:       model.Preview(rec.Content, 80),
			})
			if as.ByTier == nil {
				as.ByTier = make(map[string]int)
			}
			as.ByTier[rec.Tier.String()]++
			as.Deleted++
			if dryRun {
				continue
			}

			if rec.Working() {
				p.working.Remove(rec.Key)
			} else {
				if err := o.db.DeleteRecord(ctx, rec.Key); err != nil {
					return as, err
				}
				p.queue.Remove(rec.Key)
				if rec.Indexed {
					expired = append(expired, rec.Key)
				}
			}
			p.machine.Forget(rec.Key)
			o.metrics.SweepDeletion(int(rec.Tier), string(v.Reason))
			o.logger.Info("memory expired",
				zap.String("agent_id", agent),
				zap.String("key", rec.Key),
				zap.Int("tier", int(rec.Tier)),
				zap.String("reason", string(v.Reason)),
				zap.Int("active_age", v.ActiveAge),
			)
		}
	}
	o.unindex(ctx, agent, expired...)
	o.metrics.QueueDepth(agent, p.queue.Len())
	return as, nil
}

func mergeAgents(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, a := range l {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	sort.Strings(out)
	return out
}
