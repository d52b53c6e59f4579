package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lazypower/tiermem/internal/index"
	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/promotion"
	"github.com/lazypower/tiermem/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeIndex struct {
	mu   sync.Mutex
	docs map[string]model.Record
	fail error
	adds []int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]model.Record)}
}

func (f *fakeIndex) Add(_ context.Context, recs []model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, len(recs))
	if f.fail != nil {
		return f.fail
	}
	for _, r := range recs {
		f.docs[r.Key] = r
	}
	return nil
}

func (f *fakeIndex) Query(_ context.Context, agentID, _ string, k int) ([]index.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []index.Hit
	for key, r := range f.docs {
		if r.AgentID == agentID && len(out) < k {
			out = append(out, index.Hit{Key: key, Content: r.Content})
		}
	}
	return out, nil
}

func (f *fakeIndex) Delete(_ context.Context, _ string, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.docs, k)
	}
	return nil
}

func (f *fakeIndex) has(key string) (model.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.docs[key]
	return r, ok
}

// largestAdd returns the biggest batch passed to Add, failed calls included.
func (f *fakeIndex) largestAdd() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	largest := 0
	for _, n := range f.adds {
		largest = max(largest, n)
	}
	return largest
}

func (f *fakeIndex) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

var errIndexDown = errors.New("index down")

type staticHistory []string

func (h staticHistory) RecentContents(context.Context, string, int) ([]string, error) {
	return h, nil
}

// noisyActivity reports every day twice, newest first.
type noisyActivity []time.Time

func (a noisyActivity) ActiveDates(_ context.Context, _ string, since time.Time) ([]time.Time, error) {
	var out []time.Time
	for i := len(a) - 1; i >= 0; i-- {
		if !a[i].Before(since) {
			out = append(out, a[i].Add(time.Hour), a[i])
		}
	}
	return out, nil
}

type recordingSink struct {
	mu      sync.Mutex
	prompts []promotion.Prompt
}

func (s *recordingSink) Notify(_ context.Context, p promotion.Prompt) error {
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type fixture struct {
	o     *Orchestrator
	db    *store.DB
	index *fakeIndex
	sink  *recordingSink
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:    testDB(t),
		index: newFakeIndex(),
		sink:  &recordingSink{},
		clock: newTestClock(),
	}
	f.o = New(f.db, Options{
		Index:          f.index,
		Sink:           f.sink,
		Clock:          f.clock.Now,
		TrackerBackoff: time.Millisecond,
	})
	if _, err := f.o.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(f.o.Stop)
	return f
}

func (f *fixture) process(t *testing.T, agent, text string, flags map[string]any) *Decision {
	t.Helper()
	dec, err := f.o.Process(context.Background(), model.Candidate{AgentID: agent, Text: text, Flags: flags})
	if err != nil {
		t.Fatalf("Process(%q): %v", text, err)
	}
	return dec
}

func (f *fixture) accessN(t *testing.T, key string, n int) *model.Record {
	t.Helper()
	var rec *model.Record
	for i := 0; i < n; i++ {
		var err error
		rec, err = f.o.Access(context.Background(), key)
		if err != nil {
			t.Fatalf("Access #%d: %v", i+1, err)
		}
	}
	return rec
}
