package engine

import (
	"sync"

	"github.com/lazypower/tiermem/internal/model"
)

// BatchQueue is a FIFO of records awaiting full indexing. Enqueue and Drain
// are exclusive, so every record lands in exactly one flush.
type BatchQueue struct {
	mu    sync.Mutex
	size  int
	items []model.Record
}

// NewBatchQueue returns a queue that fills up at size items.
func NewBatchQueue(size int) *BatchQueue {
	if size <= 0 {
		size = 50
	}
	return &BatchQueue{size: size}
}

// Enqueue appends rec. When the queue already holds a full batch, the oldest
// size records are taken and returned for flushing. Anything queued past
// them stays ahead of rec.
func (q *BatchQueue) Enqueue(rec model.Record) []model.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	var batch []model.Record
	if len(q.items) >= q.size {
		batch = q.take()
	}
	q.items = append(q.items, rec)
	return batch
}

// TakeFull removes and returns the oldest size records, or nil when fewer
// than size are queued.
func (q *BatchQueue) TakeFull() []model.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) < q.size {
		return nil
	}
	return q.take()
}

func (q *BatchQueue) take() []model.Record {
	batch := make([]model.Record, q.size)
	copy(batch, q.items)
	q.items = append([]model.Record(nil), q.items[q.size:]...)
	return batch
}

// Drain takes everything currently queued.
func (q *BatchQueue) Drain() []model.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.items
	q.items = nil
	return batch
}

// Requeue puts a failed batch back in front of anything enqueued since.
func (q *BatchQueue) Requeue(batch []model.Record) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append(make([]model.Record, 0, len(batch)+len(q.items)), batch...), q.items...)
}

// Remove drops key from the queue and reports whether it was present.
func (q *BatchQueue) Remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].Key == key {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of queued records.
func (q *BatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WorkingMemory holds ephemeral records that are never fully indexed. When
// limit is positive the oldest entry is evicted to make room.
type WorkingMemory struct {
	mu    sync.Mutex
	limit int
	order []string
	byKey map[string]*model.Record
}

// NewWorkingMemory returns an empty working memory. limit <= 0 means unbounded.
func NewWorkingMemory(limit int) *WorkingMemory {
	return &WorkingMemory{limit: limit, byKey: make(map[string]*model.Record)}
}

// Put inserts or replaces rec. It returns the key evicted to make room, if
// any.
func (w *WorkingMemory) Put(rec *model.Record) (evicted string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.byKey[rec.Key]; ok {
		w.byKey[rec.Key] = rec.Clone()
		return ""
	}
	if w.limit > 0 && len(w.order) >= w.limit {
		evicted = w.order[0]
		w.order = w.order[1:]
		delete(w.byKey, evicted)
	}
	w.order = append(w.order, rec.Key)
	w.byKey[rec.Key] = rec.Clone()
	return evicted
}

// Get returns a copy of the record with key.
func (w *WorkingMemory) Get(key string) (*model.Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.byKey[key]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Remove deletes key and reports whether it was present.
func (w *WorkingMemory) Remove(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.byKey[key]; !ok {
		return false
	}
	delete(w.byKey, key)
	for i, k := range w.order {
		if k == key {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns copies of all entries, oldest first.
func (w *WorkingMemory) List() []model.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.Record, 0, len(w.order))
	for _, k := range w.order {
		out = append(out, *w.byKey[k].Clone())
	}
	return out
}

func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}
