package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/promotion"
)

// Resolve answers the pending promotion prompt of key. On acceptance the
// record's tier changes, its access count resets and the event is logged.
// A declined prompt leaves the record untouched and returns a nil event.
// Invalid targets return promotion.ErrInvalidTransition with nothing
// changed.
//
// Promoting a working-memory record persists and indexes it.
func (o *Orchestrator) Resolve(ctx context.Context, key string, d promotion.Decision, initiator string) (*model.Record, *promotion.Event, error) {
	found, err := o.lookup(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if initiator == "" {
		initiator = promotion.ByUser
	}
	p := o.partition(found.AgentID)
	now := o.now()

	p.mu.Lock()
	rec, working, err := o.load(ctx, p, key)
	if err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	ev, err := p.machine.Resolve(rec, d, initiator, now)
	if err != nil || ev == nil {
		p.mu.Unlock()
		if err == nil {
			o.logger.Info("promotion declined", zap.String("agent_id", rec.AgentID), zap.String("key", key), zap.String("initiator", initiator))
		}
		return rec, nil, err
	}

	if working {
		rec.Route = model.RouteImmediate
	}
	if rec.Directive == "" {
		rec.Priority = model.PriorityFor(rec.Route, rec.Tier)
	}
	if working {
		if err = o.db.SaveRecord(ctx, rec); err == nil {
			p.working.Remove(key)
		}
	} else {
		err = o.db.UpdateTier(ctx, rec)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	if err := o.db.LogPromotion(ctx, *ev); err != nil {
		o.logger.Warn("log promotion", zap.String("key", key), zap.Error(err))
	}
	switch {
	case working:
		rec.Indexed = o.indexRecords(ctx, rec.AgentID, []model.Record{*rec})
	case rec.Indexed:
		o.reindex(ctx, rec)
	}

	o.metrics.Promotion(int(ev.OldTier), int(ev.NewTier), initiator)
	o.logger.Info("memory promoted",
		zap.String("agent_id", ev.AgentID),
		zap.String("key", ev.Key),
		zap.Int("old_tier", int(ev.OldTier)),
		zap.Int("new_tier", int(ev.NewTier)),
		zap.Int("access_count", ev.AccessCount),
		zap.String("initiator", ev.Initiator),
	)
	return rec, ev, nil
}

// reindex refreshes an indexed record's tier metadata in the index and graph.
func (o *Orchestrator) reindex(ctx context.Context, rec *model.Record) {
	if o.index != nil {
		if err := o.index.Add(ctx, []model.Record{*rec}); err != nil {
			o.logger.Warn("reindex", zap.String("key", rec.Key), zap.Error(err))
		}
	}
	o.link(ctx, []model.Record{*rec})
}

func sortPrompts(ps []promotion.Prompt) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].IssuedAt.Equal(ps[j].IssuedAt) {
			return ps[i].Key < ps[j].Key
		}
		return ps[i].IssuedAt.Before(ps[j].IssuedAt)
	})
}
