package engine

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/command"
	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/store"
)

// Flush triggers.
const (
	TriggerSize     = "size"
	TriggerSnapshot = "snapshot"
	TriggerManual   = "manual"
)

// Decision is the outcome of processing one candidate.
type Decision struct {
	Plan
	AgentID string        `json:"agent_id"`
	Record  *model.Record `json:"record,omitempty"`
	// Flushed counts batch records indexed as a side effect.
	Flushed   int    `json:"flushed,omitempty"`
	Retracted string `json:"retracted,omitempty"`
	Stats     *Stats `json:"stats,omitempty"`
	Context   string `json:"context,omitempty"`
}

// Process forms a memory from cand, routes it and performs the storage side
// effects of the route. Malformed input degrades to defaults; only storage
// failures are returned.
func (o *Orchestrator) Process(ctx context.Context, cand model.Candidate) (*Decision, error) {
	agent := cand.AgentID
	if agent == "" {
		agent = DefaultAgent
	}
	now := o.now()
	p := o.partition(agent)

	if err := o.db.RecordActivity(ctx, agent, now); err != nil {
		o.logger.Warn("record activity", zap.String("agent_id", agent), zap.Error(err))
	}

	history, err := o.history.RecentContents(ctx, agent, o.historyLimit)
	if err != nil {
		o.logger.Warn("load history", zap.String("agent_id", agent), zap.Error(err))
		history = nil
	}

	dec := &Decision{
		Plan:    o.planner.Plan(cand.Text, cand.Flags, cand.Override, history),
		AgentID: agent,
	}
	if dec.Commanded() {
		o.metrics.Directive(string(dec.Directive.Action))
	}

	if dec.Route == model.RouteNone {
		return dec, o.act(ctx, p, dec)
	}

	rec := &model.Record{
		Key:        model.NewKey(now),
		AgentID:    agent,
		Content:    cand.Text,
		Tier:       dec.Class.Tier,
		Importance: dec.Score.Total,
		CreatedAt:  now,
		Priority:   dec.Priority,
		Route:      dec.Route,
		Reasoning:  dec.Class.Reason + " | " + dec.Score.Reasoning(),
	}
	if dec.Commanded() {
		rec.Directive = string(dec.Directive.Action)
	}
	rec.Recompute()
	dec.Record = rec
	o.metrics.Decision(string(rec.Route), int(rec.Tier))

	switch rec.Route {
	case model.RouteImmediate:
		if err := o.db.SaveRecord(ctx, rec); err != nil {
			return dec, err
		}
		rec.Indexed = o.indexRecords(ctx, agent, []model.Record{*rec})
	case model.RouteBatch:
		if err := o.db.SaveRecord(ctx, rec); err != nil {
			return dec, err
		}
		batch := p.queue.Enqueue(*rec)
		o.metrics.QueueDepth(agent, p.queue.Len())
		if batch != nil {
			// The record is stored either way; a failed batch stays queued.
			n, err := o.flushBatch(ctx, p, batch, TriggerSize)
			dec.Flushed = n
			if err != nil {
				o.logger.Warn("size flush failed",
					zap.String("agent_id", agent),
					zap.Int("queued", p.queue.Len()),
					zap.Error(err),
				)
			}
		}
	case model.RouteWorking:
		if evicted := p.working.Put(rec); evicted != "" {
			p.machine.Forget(evicted)
			o.logger.Debug("working memory evicted", zap.String("agent_id", agent), zap.String("key", evicted))
		}
	}

	if dec.Commanded() && dec.Directive.Action == command.Snapshot {
		n, err := o.Flush(ctx, agent, TriggerSnapshot)
		dec.Flushed += n
		if err != nil {
			return dec, err
		}
	}

	o.logger.Debug("memory routed",
		zap.String("agent_id", agent),
		zap.String("key", rec.Key),
		zap.String("route", string(rec.Route)),
		zap.Int("tier", int(rec.Tier)),
		zap.Float64("importance", rec.Importance),
	)
	return dec, nil
}

// act handles directives that operate on existing state.
func (o *Orchestrator) act(ctx context.Context, p *partition, dec *Decision) error {
	switch dec.Directive.Action {
	case command.RetractLast:
		key, err := o.retractLast(ctx, p)
		dec.Retracted = key
		return err
	case command.StatusQuery:
		st, err := o.Stats(ctx, p.agentID)
		if err != nil {
			return err
		}
		dec.Stats = st
	case command.IdentityRecall:
		block, err := o.Context(ctx, p.agentID)
		if err != nil {
			return err
		}
		dec.Context = block
	}
	return nil
}

// retractLast deletes the agent's most recently persisted record.
func (o *Orchestrator) retractLast(ctx context.Context, p *partition) (string, error) {
	p.mu.Lock()
	latest, err := o.db.LatestRecord(ctx, p.agentID)
	if store.IsNotFound(err) {
		p.mu.Unlock()
		return "", nil
	}
	if err != nil {
		p.mu.Unlock()
		return "", err
	}
	if err := o.db.DeleteRecord(ctx, latest.Key); err != nil {
		p.mu.Unlock()
		return "", err
	}
	p.queue.Remove(latest.Key)
	p.machine.Forget(latest.Key)
	p.mu.Unlock()

	o.metrics.QueueDepth(p.agentID, p.queue.Len())
	o.unindex(ctx, p.agentID, latest.Key)
	o.logger.Info("memory retracted", zap.String("agent_id", p.agentID), zap.String("key", latest.Key))
	return latest.Key, nil
}

// Flush indexes everything in the agent's batch queue.
func (o *Orchestrator) Flush(ctx context.Context, agentID, trigger string) (int, error) {
	if agentID == "" {
		return 0, ErrUnknownAgent
	}
	p := o.partition(agentID)
	return o.flushBatch(ctx, p, p.queue.Drain(), trigger)
}

// flushBatch indexes a drained batch in chunks of the batch size. On failure
// the failed chunk and everything after it go back to the front of the queue.
func (o *Orchestrator) flushBatch(ctx context.Context, p *partition, batch []model.Record, trigger string) (int, error) {
	total := 0
	for start := 0; start < len(batch); start += o.batchSize {
		end := min(start+o.batchSize, len(batch))
		n, err := o.flushChunk(ctx, p, batch[start:end], trigger)
		if err != nil {
			p.queue.Requeue(batch[start:])
			o.metrics.FlushFailure(trigger)
			o.metrics.QueueDepth(p.agentID, p.queue.Len())
			return total, fmt.Errorf("flush %s: %w", p.agentID, err)
		}
		total += n
	}
	return total, nil
}

// flushChunk indexes at most one batch. Records are reloaded so promotions
// and access made while queued are reflected; deleted ones are skipped.
func (o *Orchestrator) flushChunk(ctx context.Context, p *partition, chunk []model.Record, trigger string) (int, error) {
	current := make([]model.Record, 0, len(chunk))
	for _, queued := range chunk {
		rec, err := o.db.GetRecord(ctx, queued.Key)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		current = append(current, *rec)
	}
	if len(current) == 0 {
		return 0, nil
	}

	if o.index != nil {
		if err := o.index.Add(ctx, current); err != nil {
			return 0, err
		}
	}
	keys := make([]string, len(current))
	for i := range current {
		keys[i] = current[i].Key
	}
	if err := o.db.MarkIndexed(ctx, keys); err != nil {
		return 0, err
	}
	o.link(ctx, current)

	o.metrics.Flush(trigger, len(current))
	o.metrics.QueueDepth(p.agentID, p.queue.Len())
	o.logger.Info("batch flushed",
		zap.String("agent_id", p.agentID),
		zap.String("trigger", trigger),
		zap.Int("records", len(current)),
	)
	return len(current), nil
}

// indexRecords indexes records that are already persisted and links them
// into the graph. Index failures leave the records unindexed and are logged.
func (o *Orchestrator) indexRecords(ctx context.Context, agentID string, recs []model.Record) bool {
	if o.index != nil {
		if err := o.index.Add(ctx, recs); err != nil {
			o.logger.Error("index records", zap.String("agent_id", agentID), zap.Error(err))
			return false
		}
	}
	keys := make([]string, len(recs))
	for i := range recs {
		keys[i] = recs[i].Key
	}
	if err := o.db.MarkIndexed(ctx, keys); err != nil {
		o.logger.Error("mark indexed", zap.String("agent_id", agentID), zap.Error(err))
		return false
	}
	o.link(ctx, recs)
	return true
}

// link creates a graph entity per record and ties it to its tier policy.
func (o *Orchestrator) link(ctx context.Context, recs []model.Record) {
	for i := range recs {
		rec := &recs[i]
		err := o.db.UpsertEntity(ctx, model.Entity{
			Name:         rec.Key,
			Type:         "memory",
			Observations: []string{model.Preview(rec.Content, 200)},
			Attributes: map[string]string{
				"agent_id":   rec.AgentID,
				"tier":       rec.Tier.String(),
				"category":   rec.Category,
				"priority":   string(rec.Priority),
				"importance": strconv.FormatFloat(rec.Importance, 'f', 2, 64),
			},
			CreatedAt: rec.CreatedAt,
		})
		if err == nil {
			err = o.relink(ctx, rec)
		}
		if err != nil {
			o.logger.Warn("graph link", zap.String("key", rec.Key), zap.Error(err))
		}
	}
}

// relink points rec's entity at its current tier policy.
func (o *Orchestrator) relink(ctx context.Context, rec *model.Record) error {
	if err := o.db.DeleteRelations(ctx, rec.Key, model.RelationFollowsPolicy); err != nil {
		return err
	}
	return o.db.AddRelation(ctx, model.Relation{
		From: rec.Key,
		To:   model.PolicyEntityName(rec.Tier),
		Type: model.RelationFollowsPolicy,
	})
}

func (o *Orchestrator) unindex(ctx context.Context, agentID string, keys ...string) {
	if o.index == nil || len(keys) == 0 {
		return
	}
	if err := o.index.Delete(ctx, agentID, keys...); err != nil {
		o.logger.Warn("unindex", zap.String("agent_id", agentID), zap.Strings("keys", keys), zap.Error(err))
	}
}
