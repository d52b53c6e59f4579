package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/promotion"
	"github.com/lazypower/tiermem/internal/store"
)

// Get returns the record with key and schedules its access tracking in the
// background. The returned record reflects the state before this access.
func (o *Orchestrator) Get(ctx context.Context, key string) (*model.Record, error) {
	rec, err := o.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	o.track(rec.AgentID, key)
	return rec, nil
}

// lookup finds key in storage or in any partition's working memory.
func (o *Orchestrator) lookup(ctx context.Context, key string) (*model.Record, error) {
	rec, err := o.db.GetRecord(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	for _, agent := range o.knownAgents() {
		if rec, ok := o.partition(agent).working.Get(key); ok {
			return rec, nil
		}
	}
	return nil, err
}

// load reads key within a locked partition. working reports whether the
// record lives in working memory.
func (o *Orchestrator) load(ctx context.Context, p *partition, key string) (rec *model.Record, working bool, err error) {
	if rec, ok := p.working.Get(key); ok {
		return rec, true, nil
	}
	rec, err = o.db.GetRecord(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if rec.AgentID != p.agentID {
		return nil, false, fmt.Errorf("record %s belongs to %s: %w", key, rec.AgentID, store.ErrNotFound)
	}
	return rec, false, nil
}

// track applies one access asynchronously. It is retried on failure and
// only abandoned when the record no longer exists.
func (o *Orchestrator) track(agentID, key string) {
	o.tracking.Add(1)
	go func() {
		defer o.tracking.Done()
		ctx := context.Background()

		var err error
		for attempt := 0; attempt <= o.trackerRetries; attempt++ {
			if attempt > 0 {
				o.metrics.TrackerError()
				time.Sleep(o.trackerBackoff * time.Duration(attempt))
			}
			_, err = o.access(ctx, agentID, key)
			if err == nil || store.IsNotFound(err) {
				return
			}
		}
		o.logger.Error("access tracking failed",
			zap.String("agent_id", agentID),
			zap.String("key", key),
			zap.Int("attempts", o.trackerRetries+1),
			zap.Error(err),
		)
	}()
}

// Access applies one access to key synchronously and returns the updated
// record.
func (o *Orchestrator) Access(ctx context.Context, key string) (*model.Record, error) {
	rec, err := o.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return o.access(ctx, rec.AgentID, key)
}

// access increments the access count under the partition lock, refreshes
// expiry and issues a promotion prompt on every seventh access.
func (o *Orchestrator) access(ctx context.Context, agentID, key string) (*model.Record, error) {
	p := o.partition(agentID)
	now := o.now()

	p.mu.Lock()
	rec, working, err := o.load(ctx, p, key)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	rec.AccessCount++
	rec.LastAccessed = &now
	rec.Recompute()
	if working {
		p.working.Put(rec)
	} else if err := o.db.UpdateAccess(ctx, rec); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	prompt, prompted := p.machine.Observe(rec, now)
	p.mu.Unlock()

	o.metrics.Access()
	if prompted {
		o.metrics.Prompt(int(prompt.Tier))
		o.notify(ctx, prompt)
	}
	return rec, nil
}

// notify delivers a prompt to the configured sinks. Failures are logged and
// never affect the record.
func (o *Orchestrator) notify(ctx context.Context, p promotion.Prompt) {
	o.logger.Info("promotion prompt issued",
		zap.String("agent_id", p.AgentID),
		zap.String("key", p.Key),
		zap.Int("tier", int(p.Tier)),
		zap.Int("access_count", p.AccessCount),
	)
	if o.sink == nil {
		return
	}
	if err := o.sink.Notify(ctx, p); err != nil {
		o.logger.Warn("promotion prompt delivery", zap.String("key", p.Key), zap.Error(err))
	}
}

// Prompts returns the agent's unanswered promotion prompts, oldest first.
func (o *Orchestrator) Prompts(agentID string) ([]promotion.Prompt, error) {
	if agentID == "" {
		return nil, ErrUnknownAgent
	}
	out := o.partition(agentID).machine.Pending()
	sortPrompts(out)
	return out, nil
}
