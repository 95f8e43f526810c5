package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/crm"
	"github.com/matheus3301/crmsync/internal/device"
	"github.com/matheus3301/crmsync/internal/status"
	"github.com/matheus3301/crmsync/internal/store"
	crmsync "github.com/matheus3301/crmsync/internal/sync"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeSyncer returns canned outcomes per stream.
type fakeSyncer struct {
	mu      sync.Mutex
	counts  map[store.Stream]int
	errs    map[store.Stream]error
	calls   map[store.Stream]int
	started chan struct{}
	release chan struct{}
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		counts: make(map[store.Stream]int),
		errs:   make(map[store.Stream]error),
		calls:  make(map[store.Stream]int),
	}
}

func (f *fakeSyncer) SyncStream(_ context.Context, stream store.Stream) (crmsync.Outcome, error) {
	f.mu.Lock()
	f.calls[stream]++
	count, err := f.counts[stream], f.errs[stream]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	out := crmsync.Outcome{Stream: stream, Count: count, Success: err == nil}
	return out, err
}

func (f *fakeSyncer) callCount(stream store.Stream) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stream]
}

func TestRunOnceAllStreamsSucceed(t *testing.T) {
	db := testDB(t)
	syncer := newFakeSyncer()
	syncer.counts[store.StreamContacts] = 3
	syncer.counts[store.StreamCalls] = 5
	c := NewCoordinator(syncer, nil, db, nil, bus.New(), nil)

	res := c.RunOnce(context.Background(), RunOptions{Trigger: TriggerPeriodic, IncludeCalls: true})
	if !res.Success || res.Retry {
		t.Errorf("result = %+v, want success without retry", res)
	}
	if res.Message != "Sync successful." {
		t.Errorf("message = %q", res.Message)
	}
	if res.Count(store.StreamContacts) != 3 || res.Count(store.StreamCalls) != 5 {
		t.Errorf("counts = %d/%d, want 3/5", res.Count(store.StreamContacts), res.Count(store.StreamCalls))
	}
	if c.State() != status.Succeeded {
		t.Errorf("state = %s, want SUCCEEDED", c.State())
	}

	runs, err := db.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("recorded %d stream runs, want 2", len(runs))
	}
	for _, r := range runs {
		if r.RunID != res.RunID || r.Trigger != TriggerPeriodic || !r.Success {
			t.Errorf("run = %+v", r)
		}
	}
}

func TestRunOnceFailureIsolatedPerStream(t *testing.T) {
	syncer := newFakeSyncer()
	syncer.counts[store.StreamContacts] = 2
	syncer.counts[store.StreamCalls] = 4
	syncer.errs[store.StreamCalls] = &crm.TransportError{Stream: "calls", StatusCode: 500}
	c := NewCoordinator(syncer, nil, nil, nil, nil, nil)

	res := c.RunOnce(context.Background(), RunOptions{IncludeCalls: true})
	if res.Success || !res.Retry {
		t.Errorf("result = %+v, want failure with retry", res)
	}
	if res.Message != "Sync completed with errors. Check CRM endpoint or permissions." {
		t.Errorf("message = %q", res.Message)
	}
	var contacts, calls StreamResult
	for _, s := range res.Streams {
		switch s.Stream {
		case store.StreamContacts:
			contacts = s
		case store.StreamCalls:
			calls = s
		}
	}
	if !contacts.Success || contacts.Count != 2 {
		t.Errorf("contacts = %+v, want success unaffected by calls", contacts)
	}
	if calls.Success || calls.Error == "" {
		t.Errorf("calls = %+v, want failure with error", calls)
	}
	if c.State() != status.Failed {
		t.Errorf("state = %s, want FAILED", c.State())
	}
}

func TestRunOnceSkipsStreamWithoutPermission(t *testing.T) {
	syncer := newFakeSyncer()
	c := NewCoordinator(syncer, device.StaticPermissions{Contacts: true}, nil, nil, nil, nil)

	res := c.RunOnce(context.Background(), RunOptions{IncludeCalls: true})
	if !res.Success {
		t.Errorf("result = %+v, want vacuous success", res)
	}
	if syncer.callCount(store.StreamCalls) != 0 {
		t.Error("calls stream ran without permission")
	}
	if len(res.Streams) != 2 || !res.Streams[1].Skipped {
		t.Errorf("streams = %+v, want calls skipped", res.Streams)
	}
}

func TestRunOnceWithoutCalls(t *testing.T) {
	syncer := newFakeSyncer()
	c := NewCoordinator(syncer, nil, nil, nil, nil, nil)

	res := c.RunOnce(context.Background(), RunOptions{})
	if len(res.Streams) != 1 || res.Streams[0].Stream != store.StreamContacts {
		t.Errorf("streams = %+v, want contacts only", res.Streams)
	}
	if res.Trigger != TriggerManual || res.Job != DefaultJob {
		t.Errorf("defaults = %s/%s", res.Trigger, res.Job)
	}
}

func TestRunOnceDataSourceSkipStillSucceeds(t *testing.T) {
	syncer := &skippingSyncer{}
	c := NewCoordinator(syncer, nil, nil, nil, nil, nil)

	res := c.RunOnce(context.Background(), RunOptions{})
	if !res.Success || !res.Streams[0].Skipped || res.Streams[0].Error == "" {
		t.Errorf("result = %+v, want skipped success carrying the error", res)
	}
}

type skippingSyncer struct{}

func (skippingSyncer) SyncStream(_ context.Context, stream store.Stream) (crmsync.Outcome, error) {
	return crmsync.Outcome{Stream: stream, Success: true, Skipped: true},
		&device.DataSourceError{Op: "read contacts", Err: device.ErrUnavailable}
}

func TestRunOnceJoinsInFlightRun(t *testing.T) {
	syncer := newFakeSyncer()
	syncer.started = make(chan struct{}, 4)
	syncer.release = make(chan struct{})
	c := NewCoordinator(syncer, nil, nil, nil, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = c.RunOnce(ctx, RunOptions{Trigger: TriggerPeriodic})
	}()
	<-syncer.started

	var joined atomic.Bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		joined.Store(true)
		results[1] = c.RunOnce(ctx, RunOptions{Trigger: TriggerManual})
	}()
	// Give the second caller time to reach the in-flight run.
	for !joined.Load() {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(syncer.release)
	wg.Wait()

	if n := syncer.callCount(store.StreamContacts); n != 1 {
		t.Errorf("contacts synced %d times, want 1", n)
	}
	if results[0].RunID != results[1].RunID {
		t.Errorf("run ids differ: %s vs %s", results[0].RunID, results[1].RunID)
	}
	if !results[1].Shared {
		t.Error("second result should be marked shared")
	}
}

func TestRunOnceEmitsLifecycleEvents(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("sync.run", 10)
	defer unsub()
	c := NewCoordinator(newFakeSyncer(), nil, nil, nil, b, nil)

	res := c.RunOnce(context.Background(), RunOptions{})

	var kinds []string
	for len(kinds) < 2 {
		select {
		case evt := <-events:
			kinds = append(kinds, evt.Kind)
		case <-time.After(time.Second):
			t.Fatalf("got events %v, want started and finished", kinds)
		}
	}
	if kinds[0] != bus.KindRunStarted || kinds[1] != bus.KindRunFinished {
		t.Errorf("events = %v", kinds)
	}
	last := c.Last()
	if last == nil || last.RunID != res.RunID {
		t.Errorf("Last() = %+v, want run %s", last, res.RunID)
	}
}

func TestRunOnceRecordFailureDoesNotFailRun(t *testing.T) {
	db := testDB(t)
	_ = db.Close()
	c := NewCoordinator(newFakeSyncer(), nil, db, nil, nil, nil)

	res := c.RunOnce(context.Background(), RunOptions{})
	if !res.Success {
		t.Errorf("result = %+v, want success despite history write failure", res)
	}
}

func TestCoordinatorCancelledContext(t *testing.T) {
	syncer := newFakeSyncer()
	syncer.errs[store.StreamContacts] = context.Canceled
	c := NewCoordinator(syncer, nil, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.RunOnce(ctx, RunOptions{})
	if res.Success || !res.Retry {
		t.Errorf("result = %+v, want failure with retry", res)
	}
}

func TestRunOncePersistenceErrorFailsOnlyItsStream(t *testing.T) {
	syncer := newFakeSyncer()
	syncer.counts[store.StreamContacts] = 2
	syncer.counts[store.StreamCalls] = 1
	syncer.errs[store.StreamContacts] = &store.PersistenceError{Op: "commit contacts", Err: context.DeadlineExceeded}
	c := NewCoordinator(syncer, nil, nil, nil, nil, nil)

	res := c.RunOnce(context.Background(), RunOptions{IncludeCalls: true})
	if res.Success || !res.Retry {
		t.Errorf("result = %+v, want failure with retry", res)
	}
	if syncer.callCount(store.StreamCalls) != 1 {
		t.Errorf("calls synced %d times, want 1 despite the contacts store failure", syncer.callCount(store.StreamCalls))
	}
	for _, s := range res.Streams {
		if s.Stream == store.StreamCalls && (!s.Success || s.Count != 1) {
			t.Errorf("calls = %+v, want success", s)
		}
		if s.Stream == store.StreamContacts && s.Success {
			t.Errorf("contacts = %+v, want failure", s)
		}
	}
}
