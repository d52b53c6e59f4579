package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/lazypower/tiermem/internal/model"
)

func TestBatchQueueConcurrentEnqueue(t *testing.T) {
	q := NewBatchQueue(50)

	var mu sync.Mutex
	seen := make(map[string]int)
	collect := func(batch []model.Record) {
		mu.Lock()
		for _, r := range batch {
			seen[r.Key]++
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if batch := q.Enqueue(model.Record{Key: fmt.Sprint(i)}); batch != nil {
				if len(batch) != 50 {
					t.Errorf("batch size = %d", len(batch))
				}
				collect(batch)
			}
		}(i)
	}
	wg.Wait()
	collect(q.Drain())

	if len(seen) != 1000 {
		t.Fatalf("distinct records = %d, want 1000", len(seen))
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("record %s flushed %d times", k, n)
		}
	}
}

func TestBatchQueueRequeueKeepsOrder(t *testing.T) {
	q := NewBatchQueue(10)
	q.Enqueue(model.Record{Key: "a"})
	q.Enqueue(model.Record{Key: "b"})
	batch := q.Drain()
	q.Enqueue(model.Record{Key: "c"})
	q.Requeue(batch)

	got := q.Drain()
	if len(got) != 3 || got[0].Key != "a" || got[1].Key != "b" || got[2].Key != "c" {
		t.Errorf("order = %+v", got)
	}
	if q.Remove("a") {
		t.Error("Remove on drained queue")
	}
}

func TestBatchQueueOverfullTakesOneBatch(t *testing.T) {
	q := NewBatchQueue(3)
	for _, k := range []string{"a", "b", "c"} {
		q.Enqueue(model.Record{Key: k})
	}
	failed := q.Enqueue(model.Record{Key: "d"})
	q.Requeue(failed)
	if q.Len() != 4 {
		t.Fatalf("len = %d, want 4", q.Len())
	}

	batch := q.Enqueue(model.Record{Key: "e"})
	if len(batch) != 3 || batch[0].Key != "a" || batch[2].Key != "c" {
		t.Fatalf("batch = %+v", batch)
	}
	rest := q.Drain()
	if len(rest) != 2 || rest[0].Key != "d" || rest[1].Key != "e" {
		t.Errorf("remaining = %+v", rest)
	}
}

func TestBatchQueueTakeFull(t *testing.T) {
	q := NewBatchQueue(2)
	q.Requeue([]model.Record{{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "d"}, {Key: "e"}})

	var sizes []int
	for batch := q.TakeFull(); batch != nil; batch = q.TakeFull() {
		sizes = append(sizes, len(batch))
	}
	if len(sizes) != 2 || sizes[0] != 2 || sizes[1] != 2 {
		t.Errorf("sizes = %v", sizes)
	}
	if left := q.Drain(); len(left) != 1 || left[0].Key != "e" {
		t.Errorf("left = %+v", left)
	}
}

func TestWorkingMemoryEvictsOldest(t *testing.T) {
	w := NewWorkingMemory(2)
	w.Put(&model.Record{Key: "a"})
	w.Put(&model.Record{Key: "b"})
	if ev := w.Put(&model.Record{Key: "a", AccessCount: 3}); ev != "" {
		t.Errorf("update evicted %q", ev)
	}
	if ev := w.Put(&model.Record{Key: "c"}); ev != "a" {
		t.Errorf("evicted %q, want a", ev)
	}
	if _, ok := w.Get("a"); ok {
		t.Error("a still present")
	}
	if !w.Remove("b") || w.Len() != 1 {
		t.Errorf("len = %d", w.Len())
	}
}
