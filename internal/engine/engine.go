// Package engine composes detection, scoring, classification, decay and
// promotion into per-agent memory lifecycle decisions.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/decay"
	"github.com/lazypower/tiermem/internal/importance"
	"github.com/lazypower/tiermem/internal/index"
	"github.com/lazypower/tiermem/internal/metrics"
	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/promotion"
	"github.com/lazypower/tiermem/internal/store"
)

// DefaultAgent owns candidates submitted without an agent id.
const DefaultAgent = "default"

// ErrUnknownAgent is returned by per-agent operations given an empty id.
var ErrUnknownAgent = errors.New("unknown agent")

// Index is the full-text/vector index that receives immediate and flushed
// records.
type Index interface {
	Add(ctx context.Context, recs []model.Record) error
	Query(ctx context.Context, agentID, text string, k int) ([]index.Hit, error)
	Delete(ctx context.Context, agentID string, keys ...string) error
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	BatchSize      int
	WorkingCap     int
	HistoryLimit   int
	TrackerRetries int
	TrackerBackoff time.Duration
	SweepWorkers   int

	Index   Index
	Sink    promotion.Sink
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time

	// History and Activity default to the store.
	History  importance.HistoryProvider
	Activity decay.ActivitySource
}

// Orchestrator owns the per-agent partitions and their collaborators.
type Orchestrator struct {
	db       *store.DB
	planner  *Planner
	history  importance.HistoryProvider
	activity decay.ActivitySource
	index    Index
	sink     promotion.Sink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	clock    func() time.Time

	batchSize      int
	workingCap     int
	historyLimit   int
	trackerRetries int
	trackerBackoff time.Duration
	sweepWorkers   int

	mu         sync.RWMutex
	partitions map[string]*partition

	tracking sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// partition is one agent's independent state. mu serializes record
// mutations (access tracking, promotion, deletion) within the agent.
type partition struct {
	agentID string
	mu      sync.Mutex
	queue   *BatchQueue
	working *WorkingMemory
	machine *promotion.Machine
}

// New creates an Orchestrator over db.
func New(db *store.DB, opts Options) *Orchestrator {
	o := &Orchestrator{
		db:             db,
		planner:        NewPlanner(),
		history:        opts.History,
		activity:       opts.Activity,
		index:          opts.Index,
		sink:           opts.Sink,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		clock:          opts.Clock,
		batchSize:      opts.BatchSize,
		workingCap:     opts.WorkingCap,
		historyLimit:   opts.HistoryLimit,
		trackerRetries: opts.TrackerRetries,
		trackerBackoff: opts.TrackerBackoff,
		sweepWorkers:   opts.SweepWorkers,
		partitions:     make(map[string]*partition),
		stopCh:         make(chan struct{}),
	}
	if o.history == nil {
		o.history = db
	}
	if o.activity == nil {
		o.activity = db
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.batchSize <= 0 {
		o.batchSize = 50
	}
	if o.historyLimit <= 0 {
		o.historyLimit = 10
	}
	if o.trackerRetries < 0 {
		o.trackerRetries = 0
	}
	if o.trackerBackoff <= 0 {
		o.trackerBackoff = 50 * time.Millisecond
	}
	if o.sweepWorkers <= 0 {
		o.sweepWorkers = 4
	}
	return o
}

// Planner exposes the pure decision pipeline.
func (o *Orchestrator) Planner() *Planner { return o.planner }

// now is the engine clock, truncated to what storage round-trips.
func (o *Orchestrator) now() time.Time {
	return o.clock().UTC().Truncate(time.Millisecond)
}

func (o *Orchestrator) partition(agentID string) *partition {
	o.mu.RLock()
	p, ok := o.partitions[agentID]
	o.mu.RUnlock()
	if ok {
		return p
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.partitions[agentID]; ok {
		return p
	}
	p = &partition{
		agentID: agentID,
		queue:   NewBatchQueue(o.batchSize),
		working: NewWorkingMemory(o.workingCap),
		machine: promotion.NewMachine(),
	}
	o.partitions[agentID] = p
	return p
}

// knownAgents returns the ids of all in-memory partitions, sorted.
func (o *Orchestrator) knownAgents() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.partitions))
	for id := range o.partitions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Init creates the tier policy graph entities and reloads every agent's
// unflushed batch records, flushing any full batches among them. It returns
// the number of records restored.
func (o *Orchestrator) Init(ctx context.Context) (int, error) {
	if err := o.db.EnsureTierPolicies(ctx); err != nil {
		return 0, err
	}
	agents, err := o.db.Agents(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, agent := range agents {
		pending, err := o.db.PendingBatch(ctx, agent)
		if err != nil {
			return restored, err
		}
		if len(pending) == 0 {
			continue
		}
		p := o.partition(agent)
		p.queue.Requeue(pending)
		restored += len(pending)
		for batch := p.queue.TakeFull(); batch != nil; batch = p.queue.TakeFull() {
			if _, err := o.flushBatch(ctx, p, batch, TriggerSize); err != nil {
				o.logger.Warn("restored batch flush failed", zap.String("agent_id", agent), zap.Error(err))
				break
			}
		}
		o.metrics.QueueDepth(agent, p.queue.Len())
	}
	if restored > 0 {
		o.logger.Info("restored batch queues", zap.Int("records", restored))
	}
	return restored, nil
}

// StartDecayTimer runs a sweep now and then every interval until Stop.
func (o *Orchestrator) StartDecayTimer(interval time.Duration) {
	sweep := func() {
		rep, err := o.Sweep(context.Background(), SweepOptions{})
		if err != nil {
			o.logger.Error("decay sweep failed", zap.Error(err))
			return
		}
		if rep.Deleted > 0 {
			o.logger.Info("decay sweep", zap.Int("deleted", rep.Deleted), zap.Int("agents", len(rep.Agents)))
		}
	}

	sweep()
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sweep()
			case <-o.stopCh:
				return
			}
		}
	}()
}

// Wait blocks until all scheduled access tracking has been applied.
func (o *Orchestrator) Wait() {
	o.tracking.Wait()
}

// Stop shuts down background goroutines and drains pending access tracking.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.tracking.Wait()
}
